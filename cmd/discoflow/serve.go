package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/discoflow/discoflow/internal/auth"
	"github.com/discoflow/discoflow/internal/config"
	"github.com/discoflow/discoflow/internal/engine"
	"github.com/discoflow/discoflow/internal/observability"
	"github.com/discoflow/discoflow/internal/workflow"
	"github.com/discoflow/discoflow/model"
)

// serve runs the scheduler mode: workflows from the configured
// directories run every hour when their schedule admits it, and a small
// HTTP server exposes liveness, readiness, and metrics.
func serve(
	ctx context.Context,
	cfg *config.Config,
	eng *engine.Engine,
	provider auth.Provider,
	logger *zap.Logger,
	metrics *observability.Metrics,
) int {
	workflows, err := workflow.NewLoader().LoadAll(cfg.Workflows.Directories)
	if err != nil {
		logger.Error("workflow loading failed", zap.Error(err))
		return 1
	}

	store, closeStore, err := buildRunStore(ctx, cfg)
	if err != nil {
		logger.Error("run history store unavailable", zap.Error(err))
		return 1
	}
	defer closeStore()

	runner := workflow.NewRunner(logger, metrics)
	runner.UseStore(store)
	sink := workflow.NewJSONLinesSink(os.Stdout)
	runner.Register(workflow.APITaskName, workflow.NewAPITask(eng, sink, metrics))

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", observability.HandleHealth())
	router.Get("/readyz", observability.HandleReady(observability.ReadinessChecks{
		WorkflowsLoaded:   func() bool { return len(workflows) > 0 },
		CredentialsLoaded: func() bool { return provider != nil },
	}))
	router.Get("/runs", handleRunList(store))
	router.Get("/runs/{runID}", handleRunGet(store))
	metricsPath := cfg.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.Handle(metricsPath, observability.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go runScheduler(bgCtx, runner, workflows, cfg.Location(), logger)
	go runHistoryJanitor(bgCtx, store, cfg.Workflows.HistoryKeep, logger)

	logger.Info("scheduler started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", len(workflows)),
		zap.String("timezone", cfg.Workflows.Timezone),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	logger.Info("shutdown complete")
	return 0
}

// buildRunStore selects the run history backend. A configured
// history_url gets PostgreSQL; everything else keeps runs in memory for
// the life of the process.
func buildRunStore(ctx context.Context, cfg *config.Config) (workflow.RunStore, func(), error) {
	if cfg.Workflows.HistoryURL == "" {
		return workflow.NewMemoryRunStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.Workflows.HistoryURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect run history database: %w", err)
	}
	return workflow.NewPgRunStore(pool), pool.Close, nil
}

func handleRunList(store workflow.RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := store.Recent(r.Context(), r.URL.Query().Get("workflow"), limit)
		if err != nil {
			http.Error(w, "run history unavailable", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []model.RunRecord{}
		}
		writeJSON(w, map[string]any{"runs": runs})
	}
}

func handleRunGet(store workflow.RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := store.Get(r.Context(), chi.URLParam(r, "runID"))
		if errors.Is(err, workflow.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "run history unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rec)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// runHistoryJanitor purges finished runs older than the retention window
// once a day. A zero window disables purging.
func runHistoryJanitor(ctx context.Context, store workflow.RunStore, keep time.Duration, logger *zap.Logger) {
	if keep <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now.Add(-keep))
			if err != nil {
				logger.Warn("run history purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("run history purged", zap.Int("removed", removed))
			}
		}
	}
}

// runScheduler fires every workflow whose schedule admits the top of the
// current hour, once per hour. Runs are sequential; an hour's sweep that
// overruns delays the next sweep rather than overlapping it.
func runScheduler(
	ctx context.Context,
	runner *workflow.Runner,
	workflows []workflow.Workflow,
	loc *time.Location,
	logger *zap.Logger,
) {
	sweep := func(now time.Time) {
		local := now.In(loc)
		for _, wf := range workflows {
			if ctx.Err() != nil {
				return
			}
			ran, err := runner.RunDue(ctx, wf, local)
			if err != nil {
				logger.Error("scheduled workflow failed",
					zap.String("workflow", wf.Name),
					zap.Error(err),
				)
			}
			if ran {
				logger.Info("scheduled workflow finished",
					zap.String("workflow", wf.Name),
				)
			}
		}
	}

	sweep(time.Now())

	for {
		// Align to the next top of the hour so hour-gated schedules see
		// every hour exactly once.
		now := time.Now()
		next := now.Truncate(time.Hour).Add(time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fired := <-timer.C:
			sweep(fired)
		}
	}
}
