// Package integration provides a reusable test harness for end-to-end
// testing of the remote-call engine and workflow runner. It starts a
// mock remote service with a discovery endpoint and scriptable
// operations, plus an optional test OAuth token issuer.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/discoflow/discoflow/internal/auth"
	"github.com/discoflow/discoflow/internal/discovery"
	"github.com/discoflow/discoflow/internal/engine"
	"github.com/discoflow/discoflow/internal/workflow"
)

// Harness encapsulates a fully wired engine and runner talking to a mock
// remote service.
type Harness struct {
	t *testing.T

	// Components exposed for direct test scenarios.
	Service  *MockService
	Engine   *engine.Engine
	Runner   *workflow.Runner
	RunStore *workflow.MemoryRunStore
	Rows     *RowRecorder

	issuer *tokenIssuer
}

// Option configures the harness.
type Option func(*harnessConfig)

type harnessConfig struct {
	token          string
	serviceAccount bool
	maxAttempts    int
}

// WithToken sets the static bearer token the engine presents and the
// mock service expects.
func WithToken(token string) Option {
	return func(c *harnessConfig) {
		c.token = token
	}
}

// WithServiceAccount swaps the static token for a JWT-assertion exchange
// against a test token issuer.
func WithServiceAccount() Option {
	return func(c *harnessConfig) {
		c.serviceAccount = true
	}
}

// WithMaxAttempts sets the retry budget per call.
func WithMaxAttempts(n int) Option {
	return func(c *harnessConfig) {
		c.maxAttempts = n
	}
}

// NewHarness starts the mock service and wires an engine, a runner with
// the api task handler, an in-memory run store, and a row recorder.
// Everything shuts down via t.Cleanup.
func NewHarness(t *testing.T, opts ...Option) *Harness {
	t.Helper()

	cfg := harnessConfig{
		token:       "integration-token",
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Harness{t: t}

	var provider auth.Provider
	expectToken := cfg.token
	if cfg.serviceAccount {
		h.issuer = newTokenIssuer(t)
		sa, err := auth.NewServiceAccountProvider(
			"robot@example.test",
			h.issuer.KeyPEM(),
			[]string{"https://example.test/auth/orders"},
			h.issuer.TokenEndpoint(),
		)
		if err != nil {
			t.Fatalf("NewServiceAccountProvider() error = %v", err)
		}
		provider = sa
		expectToken = h.issuer.AccessToken()
	} else {
		provider = &auth.StaticProvider{Token: cfg.token}
	}

	h.Service = newMockService(t, expectToken)

	fetcher := discovery.NewFetcher(h.Service.URL()+"/discovery/%s/%s", 5*time.Second, nil)
	h.Engine = engine.New(engine.Options{
		Fetcher:     fetcher,
		Credentials: provider,
		Policy:      engine.Policy{MaxAttempts: cfg.maxAttempts, BaseWait: 31 * time.Second},
		// No real waiting between attempts.
		Sleep: func(context.Context, time.Duration) error { return nil },
	})

	h.Rows = &RowRecorder{}
	h.RunStore = workflow.NewMemoryRunStore()
	h.Runner = workflow.NewRunner(zap.NewNop(), nil)
	h.Runner.UseStore(h.RunStore)
	h.Runner.Register(workflow.APITaskName, workflow.NewAPITask(h.Engine, h.Rows, nil))

	return h
}

// TokenIssuer returns the test issuer; nil unless WithServiceAccount was
// used.
func (h *Harness) TokenIssuer() *tokenIssuer {
	return h.issuer
}

// RowRecorder is a RowSink that keeps every written row in memory.
type RowRecorder struct {
	mu   sync.Mutex
	rows []any
}

// WriteRow implements workflow.RowSink.
func (r *RowRecorder) WriteRow(_ context.Context, row any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

// Rows returns a copy of everything written so far.
func (r *RowRecorder) Rows() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.rows))
	copy(out, r.rows)
	return out
}

// Reset discards recorded rows.
func (r *RowRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = nil
}
