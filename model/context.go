package model

import (
	"context"
	"errors"
	"fmt"
)

// RunContext carries identity and correlation information for the lifetime
// of one workflow run or ad-hoc call. It is immutable after construction
// and safe for concurrent reads.
type RunContext struct {
	RunID    string
	Workflow string
	Auth     string
	TraceID  string
}

// Validate checks that all mandatory fields are present.
func (rc *RunContext) Validate() error {
	var errs []error
	if rc.RunID == "" {
		errs = append(errs, fmt.Errorf("RunID is required"))
	}
	if rc.Auth == "" {
		errs = append(errs, fmt.Errorf("Auth is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithRunContext attaches a RunContext to the given context.
func WithRunContext(ctx context.Context, rctx *RunContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RunContextFrom extracts the RunContext from the context, or returns nil
// if not present.
func RunContextFrom(ctx context.Context) *RunContext {
	rctx, _ := ctx.Value(contextKey{}).(*RunContext)
	return rctx
}
