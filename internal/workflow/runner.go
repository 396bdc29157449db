package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discoflow/discoflow/internal/observability"
	"github.com/discoflow/discoflow/model"
)

// Handler executes one task type. Handlers receive the task verbatim and
// report failure through the returned error; the runner stops the
// workflow on the first failed task.
type Handler func(ctx context.Context, task Task) error

// Runner dispatches workflow tasks to registered handlers, one task at a
// time in file order.
type Runner struct {
	handlers map[string]Handler
	logger   *zap.Logger
	metrics  *observability.Metrics
	store    RunStore
}

// NewRunner creates a Runner with no handlers registered.
func NewRunner(logger *zap.Logger, metrics *observability.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		handlers: map[string]Handler{},
		logger:   logger,
		metrics:  metrics,
	}
}

// Register installs a handler for the named task type, replacing any
// previous registration.
func (r *Runner) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// UseStore attaches a run history store. Store failures are logged and
// never abort a run.
func (r *Runner) UseStore(store RunStore) {
	r.store = store
}

// Run executes every task of the workflow in order. Each run gets a
// fresh run ID carried through the context for log and trace
// correlation. The first task failure aborts the run.
func (r *Runner) Run(ctx context.Context, wf Workflow) error {
	rctx := &model.RunContext{
		RunID:    uuid.New().String(),
		Workflow: wf.Name,
		Auth:     wf.Auth,
		TraceID:  observability.TraceIDFromContext(ctx),
	}
	ctx = model.WithRunContext(ctx, rctx)

	logger := r.logger.With(
		zap.String("workflow", wf.Name),
		zap.String("run_id", rctx.RunID),
		zap.String("checksum", wf.Checksum),
	)
	ctx = observability.WithLogger(ctx, logger)

	ctx, span := observability.StartSpan(ctx, "workflow.Run",
		observability.AttrWorkflow.String(wf.Name),
	)

	logger.Info("workflow run starting", zap.Int("tasks", len(wf.Tasks)))
	r.recordBegin(ctx, logger, wf, rctx.RunID)
	err := r.runTasks(ctx, wf)
	r.recordFinish(ctx, logger, rctx.RunID, err)
	observability.EndSpanWithError(span, err)

	if r.metrics != nil {
		outcome := observability.OutcomeOK
		if err != nil {
			outcome = observability.OutcomeError
		}
		r.metrics.WorkflowRunsTotal.WithLabelValues(wf.Name, outcome).Inc()
	}
	if err != nil {
		logger.Error("workflow run failed", zap.Error(err))
		return err
	}
	logger.Info("workflow run complete")
	return nil
}

// RunDue executes the workflow only when its schedule admits the given
// local time. It reports whether the workflow ran.
func (r *Runner) RunDue(ctx context.Context, wf Workflow, now time.Time) (bool, error) {
	if !wf.Schedule.Due(now) {
		r.logger.Debug("workflow not due",
			zap.String("workflow", wf.Name),
			zap.Time("now", now),
		)
		return false, nil
	}
	return true, r.Run(ctx, wf)
}

func (r *Runner) runTasks(ctx context.Context, wf Workflow) error {
	logger := observability.LoggerFrom(ctx, r.logger)

	for i, task := range wf.Tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler, ok := r.handlers[task.Handler]
		if !ok {
			return fmt.Errorf("workflow %s task %d: no handler registered for %q",
				wf.Name, i, task.Handler)
		}

		// The workflow-level auth context is the task default.
		if task.Auth == "" {
			task.Auth = wf.Auth
		}

		taskLogger := logger.With(zap.Int("task", i), zap.String("handler", task.Handler))
		taskLogger.Info("task starting")

		start := time.Now()
		ctxTask, span := observability.StartSpan(ctx, "workflow.Task",
			observability.AttrTask.String(task.Handler),
		)
		err := handler(observability.WithLogger(ctxTask, taskLogger), task)
		observability.EndSpanWithError(span, err)
		r.observeTask(task.Handler, start, err)

		if err != nil {
			return fmt.Errorf("workflow %s task %d (%s): %w", wf.Name, i, task.Handler, err)
		}
		taskLogger.Info("task complete", zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}

func (r *Runner) observeTask(handler string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	outcome := observability.OutcomeOK
	if err != nil {
		outcome = observability.OutcomeError
	}
	r.metrics.TasksTotal.WithLabelValues(handler, outcome).Inc()
	r.metrics.TaskDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}

func (r *Runner) recordBegin(ctx context.Context, logger *zap.Logger, wf Workflow, runID string) {
	if r.store == nil {
		return
	}
	rec := model.RunRecord{
		ID:        runID,
		Workflow:  wf.Name,
		Checksum:  wf.Checksum,
		Status:    model.RunStatusRunning,
		Tasks:     len(wf.Tasks),
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.Begin(ctx, rec); err != nil {
		logger.Warn("run history write failed", zap.Error(err))
	}
}

func (r *Runner) recordFinish(ctx context.Context, logger *zap.Logger, runID string, runErr error) {
	if r.store == nil {
		return
	}
	status, errMsg := model.RunStatusSucceeded, ""
	if runErr != nil {
		status, errMsg = model.RunStatusFailed, runErr.Error()
	}
	if err := r.store.Finish(ctx, runID, status, errMsg, time.Now().UTC()); err != nil {
		logger.Warn("run history write failed", zap.Error(err))
	}
}
