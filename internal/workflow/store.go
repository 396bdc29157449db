package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/discoflow/discoflow/model"
)

// ErrRunNotFound is returned by RunStore lookups for unknown run IDs.
var ErrRunNotFound = errors.New("workflow: run not found")

// RunStore keeps a history of workflow runs. The runner writes a record
// at the start of every run and finalizes it when the run ends; a record
// left in the running state marks a run that never finished.
type RunStore interface {
	// Begin persists a new run record in the running state.
	Begin(ctx context.Context, rec model.RunRecord) error

	// Finish finalizes a run with its terminal status. The error message
	// is empty for successful runs. Returns ErrRunNotFound for unknown
	// run IDs.
	Finish(ctx context.Context, runID, status, errMsg string, finishedAt time.Time) error

	// Get retrieves a single run record by ID. Returns ErrRunNotFound if
	// no such run exists.
	Get(ctx context.Context, runID string) (model.RunRecord, error)

	// Recent returns run records ordered newest first, optionally
	// filtered by workflow name. A non-positive limit returns all
	// records.
	Recent(ctx context.Context, workflow string, limit int) ([]model.RunRecord, error)

	// Purge removes finished runs that started before the cutoff and
	// reports how many were removed. Running records are kept regardless
	// of age.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}
