package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/discoflow/discoflow/internal/auth"
	"github.com/discoflow/discoflow/internal/discovery"
	"github.com/discoflow/discoflow/internal/observability"
	"github.com/discoflow/discoflow/model"
)

const maxResponseBytes = 64 << 20 // 64MB

// Options configures an Engine.
type Options struct {
	Fetcher     *discovery.Fetcher
	Cache       *discovery.Cache
	Credentials auth.Provider
	HTTPClient  *http.Client
	Policy      Policy

	// Overrides for the fatal 403 categories; nil keeps the defaults.
	FatalForbiddenStatuses []string
	FatalForbiddenReasons  []string

	// Sleep overrides how the retrier waits between attempts. Nil uses a
	// real timer.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Engine resolves dot-path method names against interface documents,
// binds arguments, and executes calls with retry and pagination. It is
// synchronous and blocking per call and holds no cross-call mutable
// state beyond the shared document cache, so independent invocations may
// run in parallel from separate goroutines.
type Engine struct {
	fetcher *discovery.Fetcher
	cache   *discovery.Cache
	creds   auth.Provider
	client  *http.Client
	policy  Policy

	fatalStatuses []string
	fatalReasons  []string

	logger  *zap.Logger
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Engine.
func New(opts Options) *Engine {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := opts.Cache
	if cache == nil {
		cache = discovery.NewCache()
	}
	e := &Engine{
		fetcher:       opts.Fetcher,
		cache:         cache,
		creds:         opts.Credentials,
		client:        client,
		policy:        opts.Policy,
		fatalStatuses: opts.FatalForbiddenStatuses,
		fatalReasons:  opts.FatalForbiddenReasons,
		logger:        logger,
		metrics:       opts.Metrics,
		sleep:         sleepContext,
	}
	if opts.Sleep != nil {
		e.sleep = opts.Sleep
	}
	if e.metrics != nil {
		cache.OnHit = func(key discovery.Key) {
			e.metrics.DocumentCacheHitsTotal.WithLabelValues(key.Service, key.Version).Inc()
		}
	}
	return e
}

// Callable is a resolved method along with the document it came from.
type Callable struct {
	Doc    *discovery.Document
	Method *discovery.Method
}

// BoundCall is a Callable with sanitized arguments attached, ready to run.
type BoundCall struct {
	Doc     *discovery.Document
	Method  *discovery.Method
	Auth    string
	Args    map[string]any
	Headers map[string]string
}

// Document returns the interface document for the service, fetching it at
// most once per (service, version, auth context, credential) key.
func (e *Engine) Document(ctx context.Context, service, version, authContext string) (*discovery.Document, error) {
	fingerprint := ""
	if e.creds != nil {
		fingerprint = e.creds.Fingerprint()
	}
	key := discovery.Key{
		Service:     service,
		Version:     version,
		Auth:        authContext,
		Fingerprint: fingerprint,
	}
	doc, err := e.cache.Get(ctx, key, func(ctx context.Context) (*discovery.Document, error) {
		if e.metrics != nil {
			e.metrics.DocumentFetchesTotal.WithLabelValues(service, version).Inc()
		}
		e.logger.Info("fetching interface document",
			zap.String("service", service),
			zap.String("version", version),
		)
		return e.fetcher.Fetch(ctx, service, version)
	})
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.DocumentCacheSize.Set(float64(e.cache.Len()))
	}
	return doc, nil
}

// Resolve walks the dot-separated method path against the service's
// method tree.
func (e *Engine) Resolve(ctx context.Context, service, version, authContext, dotPath string) (Callable, error) {
	ctx, span := observability.StartSpan(ctx, "engine.Resolve",
		observability.AttrService.String(service),
		observability.AttrVersion.String(version),
		observability.AttrFunction.String(dotPath),
	)
	doc, err := e.Document(ctx, service, version, authContext)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return Callable{}, err
	}
	method, err := doc.ResolveMethod(dotPath)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return Callable{}, err
	}
	return Callable{Doc: doc, Method: method}, nil
}

// Bind sanitizes and validates arguments against the method's declared
// parameters, producing an executable call. The "body" argument carries
// the request payload; every other argument must match a declared path or
// query parameter.
func (e *Engine) Bind(call Callable, authContext string, args map[string]any, headers map[string]string) (*BoundCall, error) {
	cleaned := make(map[string]any, len(args))
	for name, value := range args {
		cleaned[name] = cleanValue(value)
	}

	for name, value := range cleaned {
		if name == "body" {
			switch value.(type) {
			case map[string]any, []any, nil:
			default:
				return nil, model.NewBadArgumentError("body",
					fmt.Sprintf("request body must be an object or array, got %T", value))
			}
			continue
		}
		param, ok := call.Method.Parameters[name]
		if !ok {
			return nil, model.NewBadArgumentError(name, fmt.Sprintf(
				"not a declared parameter of %s; payload fields belong under \"body\"",
				call.Method.ID,
			))
		}
		if err := checkParamType(name, param, value); err != nil {
			return nil, err
		}
	}

	for name, param := range call.Method.Parameters {
		if param.Required {
			if _, ok := cleaned[name]; !ok {
				return nil, model.NewBadArgumentError(name,
					"required parameter is missing")
			}
		}
	}

	return &BoundCall{
		Doc:     call.Doc,
		Method:  call.Method,
		Auth:    authContext,
		Args:    cleaned,
		Headers: headers,
	}, nil
}

// Run executes the bound call through the retry executor. When iterate is
// true the result is wrapped in a pagination Iterator; otherwise the raw
// decoded result is returned. A benign duplicate creation yields
// (nil, nil).
func (e *Engine) Run(ctx context.Context, bound *BoundCall, iterate bool, limit int) (any, error) {
	ctx, span := observability.StartSpan(ctx, "engine.Run",
		observability.AttrService.String(bound.Doc.Name),
		observability.AttrFunction.String(bound.Method.ID),
	)

	classifier := e.classifierFor(bound)
	attempt := func(ctx context.Context) (any, error) {
		return e.do(ctx, bound)
	}

	start := time.Now()
	result, err := e.retrier(bound).Do(ctx, classifier, e.policy, attempt)
	e.observeCall(bound, start, err, result == nil && err == nil)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// No-op success from a duplicate creation.
		return nil, nil
	}

	if !iterate {
		return result, nil
	}

	page, ok := result.(map[string]any)
	if !ok {
		// The method returned something that cannot paginate; hand the
		// caller a single-element sequence for a uniform consumption path.
		single := map[string]any{"items": []any{result}}
		return NewIterator(nil, bound.Args, single, limit), nil
	}

	fetch := func(ctx context.Context) (map[string]any, error) {
		next, err := e.retrier(bound).Do(ctx, classifier, e.policy, attempt)
		if err != nil {
			return nil, err
		}
		nextPage, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("engine: continuation page is %T, want object", next)
		}
		if e.metrics != nil {
			e.metrics.PagesFetched.WithLabelValues(bound.Doc.Name).Inc()
		}
		return nextPage, nil
	}
	return NewIterator(fetch, bound.Args, page, limit), nil
}

// Execute resolves, binds, and runs a call descriptor in one step.
func (e *Engine) Execute(ctx context.Context, d model.CallDescriptor) (any, error) {
	call, err := e.Resolve(ctx, d.Service, d.Version, d.Auth, d.Function)
	if err != nil {
		return nil, err
	}
	bound, err := e.Bind(call, d.Auth, d.Args, d.Headers)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, bound, d.Iterate, d.Limit)
}

func (e *Engine) classifierFor(bound *BoundCall) *Classifier {
	c := NewClassifier(bound.Method.Creation())
	if e.fatalStatuses != nil {
		c.FatalForbiddenStatuses = e.fatalStatuses
	}
	if e.fatalReasons != nil {
		c.FatalForbiddenReasons = e.fatalReasons
	}
	return c
}

func (e *Engine) retrier(bound *BoundCall) *Retrier {
	r := NewRetrier(e.logger.With(
		zap.String("service", bound.Doc.Name),
		zap.String("function", bound.Method.ID),
	))
	r.sleep = e.sleep
	if e.metrics != nil {
		r.OnRetry = func() {
			e.metrics.RetriesTotal.WithLabelValues(bound.Doc.Name).Inc()
		}
	}
	return r
}

func (e *Engine) observeCall(bound *BoundCall, start time.Time, err error, duplicate bool) {
	if e.metrics == nil {
		return
	}
	outcome := observability.OutcomeOK
	switch {
	case err != nil:
		outcome = observability.OutcomeError
	case duplicate:
		outcome = observability.OutcomeDuplicate
	}
	e.metrics.CallsTotal.WithLabelValues(bound.Doc.Name, bound.Method.ID, outcome).Inc()
	e.metrics.CallDuration.WithLabelValues(bound.Doc.Name, bound.Method.ID).
		Observe(time.Since(start).Seconds())
}

// do performs one HTTP attempt of the bound call.
func (e *Engine) do(ctx context.Context, bound *BoundCall) (any, error) {
	reqURL, err := buildRequestURL(bound)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	var bodyBytes []byte
	if payload, ok := bound.Args["body"]; ok && payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("engine: marshal body: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, bound.Method.HTTPMethod, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.creds != nil {
		cred, err := e.creds.Credential(ctx, bound.Auth)
		if err != nil {
			return nil, fmt.Errorf("engine: obtaining credential: %w", err)
		}
		if cred.Token != "" {
			req.Header.Set("Authorization", "Bearer "+sanitizeHeader(cred.Token))
		}
	}
	for k, v := range bound.Headers {
		req.Header.Set(sanitizeHeader(k), sanitizeHeader(v))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remoteError(resp.StatusCode, respBody)
	}

	if len(respBody) == 0 {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		// Some methods return non-JSON payloads (media downloads).
		return string(respBody), nil
	}
	return decoded, nil
}

// remoteError builds a RemoteError carrying the raw body verbatim plus
// the parsed status and reason when the body follows the structured
// error envelope.
func remoteError(statusCode int, body []byte) *model.RemoteError {
	remote := &model.RemoteError{
		StatusCode: statusCode,
		Body:       string(body),
	}
	var envelope struct {
		Error struct {
			Status string `json:"status"`
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		remote.Status = envelope.Error.Status
		if len(envelope.Error.Errors) > 0 {
			remote.Reason = envelope.Error.Errors[0].Reason
		}
	}
	return remote
}

// buildRequestURL substitutes path parameters into the method's path
// template and appends the remaining arguments as query parameters.
func buildRequestURL(bound *BoundCall) (string, error) {
	path := bound.Method.Path
	consumed := map[string]bool{}

	for name, param := range bound.Method.Parameters {
		if param.Location != "path" {
			continue
		}
		value, ok := bound.Args[name]
		if !ok {
			continue
		}
		rendered := url.PathEscape(fmt.Sprint(value))
		path = strings.ReplaceAll(path, "{"+name+"}", rendered)
		path = strings.ReplaceAll(path, "{+"+name+"}", rendered)
		consumed[name] = true
	}

	result := bound.Doc.BaseURL() + path

	query := url.Values{}
	for name, value := range bound.Args {
		if name == "body" || consumed[name] {
			continue
		}
		if param, ok := bound.Method.Parameters[name]; ok && param.Location == "path" {
			continue
		}
		if list, ok := value.([]any); ok {
			for _, item := range list {
				query.Add(name, fmt.Sprint(item))
			}
			continue
		}
		query.Set(name, fmt.Sprint(value))
	}
	if len(query) > 0 {
		result += "?" + query.Encode()
	}
	return result, nil
}

// checkParamType rejects arguments whose Go type cannot serve the
// declared wire type. The common trap is an identifier passed as a
// number where the service expects a string.
func checkParamType(name string, param *discovery.Parameter, value any) error {
	if value == nil {
		return nil
	}
	if param.Repeated {
		if list, ok := value.([]any); ok {
			for _, item := range list {
				if err := checkScalarType(name, param.Type, item); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return checkScalarType(name, param.Type, value)
}

func checkScalarType(name, declared string, value any) error {
	switch declared {
	case "string", "":
		switch value.(type) {
		case string:
			return nil
		case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
			return model.NewBadArgumentError(name,
				"an identifier passed as a number where the service expects a string; quote the value")
		default:
			return model.NewBadArgumentError(name,
				fmt.Sprintf("expected string, got %T", value))
		}
	case "integer", "number":
		switch value.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
			return nil
		default:
			return model.NewBadArgumentError(name,
				fmt.Sprintf("expected %s, got %T", declared, value))
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
		return model.NewBadArgumentError(name,
			fmt.Sprintf("expected boolean, got %T", value))
	default:
		return nil
	}
}

// cleanValue recursively prepares an argument for the wire: binary
// payloads become base64, timestamps and dates their text form. Maps and
// slices are copied, leaving the caller's descriptor untouched.
func cleanValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	case time.Time:
		return formatTime(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cleanValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cleanValue(item)
		}
		return out
	default:
		return value
	}
}

// formatTime renders midnight-exact values as bare dates, everything
// else as RFC 3339.
func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.UTC().Format(time.RFC3339)
}

// sanitizeHeader strips newlines and carriage returns to prevent header
// injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
