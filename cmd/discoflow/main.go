// Package main is the discoflow command. It executes single remote
// calls, prints schema reflections of interface documents, runs workflow
// files, and optionally serves as an hourly workflow scheduler.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/discoflow/discoflow/internal/auth"
	"github.com/discoflow/discoflow/internal/config"
	"github.com/discoflow/discoflow/internal/discovery"
	"github.com/discoflow/discoflow/internal/engine"
	"github.com/discoflow/discoflow/internal/observability"
	"github.com/discoflow/discoflow/internal/schema"
	"github.com/discoflow/discoflow/internal/workflow"
	"github.com/discoflow/discoflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

type flags struct {
	configPath string

	api      string
	version  string
	function string
	kwargs   string
	authCtx  string
	iterate  bool
	limit    int

	resource     string
	printSchema  bool
	printObject  bool
	printStruct  bool
	printFlatten bool

	workflowFile string
	serve        bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "path to configuration file")
	flag.StringVar(&f.api, "api", "", "service to call")
	flag.StringVar(&f.version, "version", "", "service version")
	flag.StringVar(&f.function, "function", "", "dot-path of the method to call")
	flag.StringVar(&f.kwargs, "kwargs", "{}", "call arguments as a JSON object")
	flag.StringVar(&f.authCtx, "auth", "user", "auth context for the call")
	flag.BoolVar(&f.iterate, "iterate", false, "iterate a paginated response")
	flag.IntVar(&f.limit, "limit", 0, "stop after this many items (0 = all)")
	flag.StringVar(&f.resource, "resource", "", "type name for schema output (default: the method's response)")
	flag.BoolVar(&f.printSchema, "schema", false, "print the tabular schema instead of calling")
	flag.BoolVar(&f.printObject, "object", false, "print the expanded object tree instead of calling")
	flag.BoolVar(&f.printStruct, "struct", false, "print the struct literal instead of calling")
	flag.BoolVar(&f.printFlatten, "flatten", false, "print flattened dotted field paths instead of calling")
	flag.StringVar(&f.workflowFile, "workflow", "", "run the tasks in this workflow file")
	flag.BoolVar(&f.serve, "serve", false, "run the hourly workflow scheduler with health and metrics endpoints")
	flag.Parse()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "discoflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}
	defer tracingShutdown(context.Background())

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	provider, err := buildProvider(cfg.Auth)
	if err != nil {
		logger.Error("credential provider initialization failed", zap.Error(err))
		return 1
	}

	eng := buildEngine(cfg, provider, logger, metrics)

	switch {
	case f.serve:
		return serve(ctx, cfg, eng, provider, logger, metrics)
	case f.workflowFile != "":
		return runWorkflowFile(ctx, f.workflowFile, eng, logger, metrics)
	case f.printSchema || f.printObject || f.printStruct || f.printFlatten:
		return printReflection(ctx, f, cfg, eng, logger)
	case f.api != "" && f.function != "":
		return runCall(ctx, f, logger, eng)
	default:
		fmt.Fprintln(os.Stderr, "nothing to do: need -api/-function, -workflow, -serve, or a schema flag")
		return 2
	}
}

// buildProvider creates the credential provider for the configured
// strategy.
func buildProvider(cfg config.AuthConfig) (auth.Provider, error) {
	switch cfg.Strategy {
	case "static", "":
		token := cfg.Token
		if token == "" && cfg.TokenEnv != "" {
			token = os.Getenv(cfg.TokenEnv)
		}
		return &auth.StaticProvider{Token: token}, nil
	case "service_account":
		keyPEM, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		return auth.NewServiceAccountProvider(cfg.Email, keyPEM, cfg.Scopes, cfg.TokenEndpoint)
	default:
		return nil, fmt.Errorf("unsupported auth strategy: %q", cfg.Strategy)
	}
}

func buildEngine(cfg *config.Config, provider auth.Provider, logger *zap.Logger, metrics *observability.Metrics) *engine.Engine {
	sources := make([]discovery.Source, len(cfg.Discovery.Sources))
	for i, s := range cfg.Discovery.Sources {
		sources[i] = discovery.Source{Service: s.Service, Version: s.Version, File: s.File}
	}
	fetcher := discovery.NewFetcher(cfg.Discovery.Endpoint, cfg.Discovery.Timeout, sources)

	return engine.New(engine.Options{
		Fetcher:     fetcher,
		Cache:       discovery.NewCache(),
		Credentials: provider,
		Policy: engine.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseWait:    cfg.Retry.BaseWait,
		},
		FatalForbiddenStatuses: cfg.Classify.FatalForbiddenStatuses,
		FatalForbiddenReasons:  cfg.Classify.FatalForbiddenReasons,
		Logger:                 logger,
		Metrics:                metrics,
	})
}

// runCall executes one ad-hoc call and streams the result to stdout as
// line-delimited JSON.
func runCall(ctx context.Context, f flags, logger *zap.Logger, eng *engine.Engine) int {
	var args map[string]any
	if err := json.Unmarshal([]byte(f.kwargs), &args); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -kwargs: %v\n", err)
		return 2
	}

	descriptor := model.CallDescriptor{
		Auth:     f.authCtx,
		Service:  f.api,
		Version:  f.version,
		Function: f.function,
		Args:     args,
		Iterate:  f.iterate,
		Limit:    f.limit,
	}

	result, err := eng.Execute(ctx, descriptor)
	if err != nil {
		logger.Error("call failed", zap.String("call", descriptor.String()), zap.Error(err))
		return 1
	}
	if result == nil {
		logger.Info("call was a duplicate creation, nothing to print")
		return 0
	}

	sink := workflow.NewJSONLinesSink(os.Stdout)
	if iterator, ok := result.(*engine.Iterator); ok {
		for {
			row, err := iterator.Next(ctx)
			if errors.Is(err, engine.Done) {
				return 0
			}
			if err != nil {
				logger.Error("iteration failed", zap.Error(err))
				return 1
			}
			if err := sink.WriteRow(ctx, row); err != nil {
				logger.Error("writing row failed", zap.Error(err))
				return 1
			}
		}
	}
	if err := sink.WriteRow(ctx, result); err != nil {
		logger.Error("writing result failed", zap.Error(err))
		return 1
	}
	return 0
}

// printReflection walks the service's type graph and prints the
// requested form to stdout.
func printReflection(ctx context.Context, f flags, cfg *config.Config, eng *engine.Engine, logger *zap.Logger) int {
	if f.api == "" {
		fmt.Fprintln(os.Stderr, "schema output needs -api and -version")
		return 2
	}
	doc, err := eng.Document(ctx, f.api, f.version, f.authCtx)
	if err != nil {
		logger.Error("fetching interface document failed", zap.Error(err))
		return 1
	}

	walker := schema.NewWalker(doc)
	walker.MaxDepth = cfg.Schema.RecursionDepth
	walker.DescriptionLimit = cfg.Schema.DescriptionLimit

	switch {
	case f.printSchema:
		fields, err := walkerSchema(walker, f)
		if err != nil {
			logger.Error("schema walk failed", zap.Error(err))
			return 1
		}
		return printJSON(fields)

	case f.printStruct:
		literal, err := walkerStruct(walker, f)
		if err != nil {
			logger.Error("schema walk failed", zap.Error(err))
			return 1
		}
		fmt.Println(literal)
		return 0

	default:
		tree, err := walkerTree(walker, f)
		if err != nil {
			logger.Error("schema walk failed", zap.Error(err))
			return 1
		}
		if !f.printFlatten {
			return printJSON(tree)
		}
		flat := schema.Flatten(tree)
		paths := make([]string, 0, len(flat))
		for path := range flat {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			fmt.Printf("%s\t%s\n", path, flat[path])
		}
		return 0
	}
}

func walkerSchema(walker *schema.Walker, f flags) ([]*model.Field, error) {
	if f.resource != "" {
		return walker.TypeSchema(f.resource)
	}
	return walker.MethodSchema(f.function)
}

func walkerTree(walker *schema.Walker, f flags) (map[string]any, error) {
	if f.resource != "" {
		return walker.ObjectTree(f.resource)
	}
	return walker.MethodObjectTree(f.function)
}

func walkerStruct(walker *schema.Walker, f flags) (string, error) {
	if f.resource != "" {
		return walker.TypeStructLiteral(f.resource)
	}
	return walker.MethodStructLiteral(f.function)
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		return 1
	}
	return 0
}

// runWorkflowFile runs one workflow file to completion.
func runWorkflowFile(ctx context.Context, path string, eng *engine.Engine, logger *zap.Logger, metrics *observability.Metrics) int {
	wf, err := workflow.NewLoader().LoadFile(path)
	if err != nil {
		logger.Error("workflow loading failed", zap.Error(err))
		return 1
	}

	runner := workflow.NewRunner(logger, metrics)
	sink := workflow.NewJSONLinesSink(os.Stdout)
	runner.Register(workflow.APITaskName, workflow.NewAPITask(eng, sink, metrics))

	if err := runner.Run(ctx, wf); err != nil {
		return 1
	}
	return 0
}
