package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/discoflow/discoflow/internal/engine"
	"github.com/discoflow/discoflow/internal/observability"
	"github.com/discoflow/discoflow/model"
)

// APITaskName is the handler name for the built-in remote-call task.
const APITaskName = "api"

// NewAPITask builds the built-in task handler that executes a remote
// call described by the task parameters and streams the result rows into
// the sink. Paginated results are drained to completion.
func NewAPITask(eng *engine.Engine, sink RowSink, metrics *observability.Metrics) Handler {
	return func(ctx context.Context, task Task) error {
		descriptor, err := callDescriptor(task)
		if err != nil {
			return err
		}

		logger := observability.RunLogger(ctx, zap.NewNop()).With(
			zap.String("call", descriptor.String()),
		)

		result, err := eng.Execute(ctx, descriptor)
		if err != nil {
			return err
		}
		if result == nil {
			logger.Info("call was a duplicate creation, nothing to write")
			return nil
		}

		rows := 0
		defer func() {
			if metrics != nil {
				workflow := ""
				if rctx := model.RunContextFrom(ctx); rctx != nil {
					workflow = rctx.Workflow
				}
				metrics.RowsWrittenTotal.WithLabelValues(workflow).Add(float64(rows))
			}
		}()

		iterator, ok := result.(*engine.Iterator)
		if !ok {
			if err := sink.WriteRow(ctx, result); err != nil {
				return fmt.Errorf("writing row: %w", err)
			}
			rows = 1
			logger.Info("call complete", zap.Int("rows", rows))
			return nil
		}

		for {
			row, err := iterator.Next(ctx)
			if errors.Is(err, engine.Done) {
				break
			}
			if err != nil {
				return err
			}
			if err := sink.WriteRow(ctx, row); err != nil {
				return fmt.Errorf("writing row: %w", err)
			}
			rows++
		}
		logger.Info("call complete", zap.Int("rows", rows))
		return nil
	}
}

// callDescriptor converts the task's free-form parameters into a call
// descriptor. The parameters mirror the descriptor's wire names, so a
// JSON round trip is the conversion.
func callDescriptor(task Task) (model.CallDescriptor, error) {
	raw, err := json.Marshal(task.Params)
	if err != nil {
		return model.CallDescriptor{}, fmt.Errorf("encoding task params: %w", err)
	}
	var descriptor model.CallDescriptor
	if err := json.Unmarshal(raw, &descriptor); err != nil {
		return model.CallDescriptor{}, fmt.Errorf("decoding task params: %w", err)
	}
	if descriptor.Auth == "" {
		descriptor.Auth = task.Auth
	}
	if descriptor.Service == "" || descriptor.Function == "" {
		return model.CallDescriptor{}, fmt.Errorf("api task needs api and function, got %q / %q",
			descriptor.Service, descriptor.Function)
	}
	return descriptor, nil
}
