package repository

import (
	"context"
	"time"

	"github.com/barrageproject/barrage/internal/barrage/model"
)

// StatusUpdate is a command object describing a conditional lifecycle
// transition. The update is applied only if the test's current status is one
// of Expected, which is what serializes concurrent start/stop calls: of two
// racing commands at most one matches the expected status.
type StatusUpdate struct {
	TestID   string
	Expected []model.TestStatus
	Target   model.TestStatus
	// If set, started_at is overwritten (set exactly once per run, at the
	// queued transition).
	SetStartedAt *time.Time
	// Clears started_at, used by the compensating rollback when a dispatch
	// publish fails after the queued transition was persisted.
	ClearStartedAt bool
	// If set, completed_at is overwritten (set at terminal transitions).
	SetCompletedAt *time.Time
	// Clears completed_at, used when re-queueing a previously finished test.
	ClearCompletedAt bool
}

// LoadTestRepository persists load test records. Owner-scoped lookups report
// records belonging to other owners as not found.
type LoadTestRepository interface {
	Create(ctx context.Context, test *model.LoadTest) error
	// Get looks a test up by id only. For internal use by the ingestion
	// pipeline; client-facing code must use GetForOwner.
	Get(ctx context.Context, id string) (*model.LoadTest, error)
	GetForOwner(ctx context.Context, id string, ownerID string) (*model.LoadTest, error)
	ListForOwner(ctx context.Context, ownerID string) ([]*model.LoadTest, error)
	// UpdateSpec overwrites the configuration fields of a test, conditional
	// on the current status still permitting mutation (pending or queued).
	UpdateSpec(ctx context.Context, test *model.LoadTest) (*model.LoadTest, error)
	// ApplyStatusUpdate performs the conditional transition described by the
	// command and returns the updated record. Returns ErrConflict if the
	// record exists but its status is not in Expected.
	ApplyStatusUpdate(ctx context.Context, update StatusUpdate) (*model.LoadTest, error)
	// Delete removes a test and cascades to its metrics and result.
	// Conditional on the test not being running.
	Delete(ctx context.Context, id string, ownerID string) error
}

// MetricRepository persists streamed metric observations.
type MetricRepository interface {
	Create(ctx context.Context, metric *model.Metric) error
	FindByLoadTest(ctx context.Context, loadTestID string) ([]*model.Metric, error)
	FindByTimeRange(ctx context.Context, loadTestID string, start time.Time, end time.Time) ([]*model.Metric, error)
	DeleteByLoadTest(ctx context.Context, loadTestID string) (int64, error)
}

// TestResultRepository persists final test results. Create enforces the
// at-most-one-result-per-test invariant and returns ErrConflict on duplicates.
type TestResultRepository interface {
	Create(ctx context.Context, result *model.TestResult) error
	FindByLoadTest(ctx context.Context, loadTestID string) (*model.TestResult, error)
}
