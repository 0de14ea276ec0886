package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/common/barrageerrors"
	"github.com/barrageproject/barrage/internal/common/util"
)

// InMemoryStore backs the repositories with maps. Used for tests and for
// deployments with databaseType 'memory'; it mirrors the conditional-update
// semantics of the Postgres implementation, including serialization of
// concurrent status transitions.
type InMemoryStore struct {
	mutex   sync.RWMutex
	clock   util.Clock
	tests   map[string]*model.LoadTest
	metrics map[string][]*model.Metric
	results map[string]*model.TestResult
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		clock:   &util.DefaultClock{},
		tests:   map[string]*model.LoadTest{},
		metrics: map[string][]*model.Metric{},
		results: map[string]*model.TestResult{},
	}
}

func (s *InMemoryStore) WithClock(clock util.Clock) *InMemoryStore {
	s.clock = clock
	return s
}

func (s *InMemoryStore) LoadTests() LoadTestRepository     { return &inMemoryLoadTests{s} }
func (s *InMemoryStore) Metrics() MetricRepository         { return &inMemoryMetrics{s} }
func (s *InMemoryStore) TestResults() TestResultRepository { return &inMemoryResults{s} }

type inMemoryLoadTests struct{ store *InMemoryStore }

func (r *inMemoryLoadTests) Create(ctx context.Context, test *model.LoadTest) error {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	copied := *test
	r.store.tests[test.ID] = &copied
	return nil
}

func (r *inMemoryLoadTests) Get(ctx context.Context, id string) (*model.LoadTest, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	test, ok := r.store.tests[id]
	if !ok {
		return nil, &barrageerrors.ErrNotFound{Type: "load test", Value: id}
	}
	copied := *test
	return &copied, nil
}

func (r *inMemoryLoadTests) GetForOwner(ctx context.Context, id string, ownerID string) (*model.LoadTest, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	test, ok := r.store.tests[id]
	if !ok || test.OwnerID != ownerID {
		return nil, &barrageerrors.ErrNotFound{Type: "load test", Value: id}
	}
	copied := *test
	return &copied, nil
}

func (r *inMemoryLoadTests) ListForOwner(ctx context.Context, ownerID string) ([]*model.LoadTest, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	tests := []*model.LoadTest{}
	for _, test := range r.store.tests {
		if test.OwnerID == ownerID {
			copied := *test
			tests = append(tests, &copied)
		}
	}
	sort.Slice(tests, func(i, j int) bool {
		return tests[i].CreatedAt.After(tests[j].CreatedAt)
	})
	return tests, nil
}

func (r *inMemoryLoadTests) UpdateSpec(ctx context.Context, test *model.LoadTest) (*model.LoadTest, error) {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	current, ok := r.store.tests[test.ID]
	if !ok || current.OwnerID != test.OwnerID {
		return nil, &barrageerrors.ErrNotFound{Type: "load test", Value: test.ID}
	}
	if current.Status != model.TestPending && current.Status != model.TestQueued {
		return nil, &barrageerrors.ErrConflict{
			Type:    "load test",
			Value:   test.ID,
			Status:  string(current.Status),
			Message: "cannot update test",
		}
	}
	current.Name = test.Name
	current.Description = test.Description
	current.TargetURL = test.TargetURL
	current.Method = test.Method
	current.ConcurrentUsers = test.ConcurrentUsers
	current.TotalRequests = test.TotalRequests
	current.DurationSeconds = test.DurationSeconds
	current.RequestsPerSecond = test.RequestsPerSecond
	current.Headers = test.Headers
	current.Body = test.Body
	current.UpdatedAt = r.store.clock.Now().UTC()

	copied := *current
	return &copied, nil
}

func (r *inMemoryLoadTests) ApplyStatusUpdate(ctx context.Context, update StatusUpdate) (*model.LoadTest, error) {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	current, ok := r.store.tests[update.TestID]
	if !ok {
		return nil, &barrageerrors.ErrNotFound{Type: "load test", Value: update.TestID}
	}
	matched := false
	for _, expected := range update.Expected {
		if current.Status == expected {
			matched = true
			break
		}
	}
	if !matched {
		return nil, &barrageerrors.ErrConflict{
			Type:    "load test",
			Value:   update.TestID,
			Status:  string(current.Status),
			Message: fmt.Sprintf("cannot transition to %s", update.Target),
		}
	}
	current.Status = update.Target
	current.UpdatedAt = r.store.clock.Now().UTC()
	if update.SetStartedAt != nil {
		startedAt := *update.SetStartedAt
		current.StartedAt = &startedAt
	} else if update.ClearStartedAt {
		current.StartedAt = nil
	}
	if update.SetCompletedAt != nil {
		completedAt := *update.SetCompletedAt
		current.CompletedAt = &completedAt
	} else if update.ClearCompletedAt {
		current.CompletedAt = nil
	}

	copied := *current
	return &copied, nil
}

func (r *inMemoryLoadTests) Delete(ctx context.Context, id string, ownerID string) error {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	current, ok := r.store.tests[id]
	if !ok || current.OwnerID != ownerID {
		return &barrageerrors.ErrNotFound{Type: "load test", Value: id}
	}
	if current.Status == model.TestRunning {
		return &barrageerrors.ErrConflict{
			Type:    "load test",
			Value:   id,
			Status:  string(current.Status),
			Message: "cannot delete test",
		}
	}
	delete(r.store.tests, id)
	// cascade
	delete(r.store.metrics, id)
	delete(r.store.results, id)
	return nil
}

type inMemoryMetrics struct{ store *InMemoryStore }

func (r *inMemoryMetrics) Create(ctx context.Context, metric *model.Metric) error {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	copied := *metric
	r.store.metrics[metric.LoadTestID] = append(r.store.metrics[metric.LoadTestID], &copied)
	return nil
}

func (r *inMemoryMetrics) FindByLoadTest(ctx context.Context, loadTestID string) ([]*model.Metric, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	return sortedCopy(r.store.metrics[loadTestID], func(m *model.Metric) bool { return true }), nil
}

func (r *inMemoryMetrics) FindByTimeRange(ctx context.Context, loadTestID string, start time.Time, end time.Time) ([]*model.Metric, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	return sortedCopy(r.store.metrics[loadTestID], func(m *model.Metric) bool {
		return !m.Timestamp.Before(start) && !m.Timestamp.After(end)
	}), nil
}

func (r *inMemoryMetrics) DeleteByLoadTest(ctx context.Context, loadTestID string) (int64, error) {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	deleted := int64(len(r.store.metrics[loadTestID]))
	delete(r.store.metrics, loadTestID)
	return deleted, nil
}

func sortedCopy(metrics []*model.Metric, include func(*model.Metric) bool) []*model.Metric {
	out := []*model.Metric{}
	for _, m := range metrics {
		if include(m) {
			copied := *m
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

type inMemoryResults struct{ store *InMemoryStore }

func (r *inMemoryResults) Create(ctx context.Context, result *model.TestResult) error {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	if _, ok := r.store.results[result.LoadTestID]; ok {
		return &barrageerrors.ErrConflict{
			Type:    "test result",
			Value:   result.LoadTestID,
			Message: "a result already exists for this test",
		}
	}
	copied := *result
	r.store.results[result.LoadTestID] = &copied
	return nil
}

func (r *inMemoryResults) FindByLoadTest(ctx context.Context, loadTestID string) (*model.TestResult, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	result, ok := r.store.results[loadTestID]
	if !ok {
		return nil, &barrageerrors.ErrNotFound{Type: "test result", Value: loadTestID}
	}
	copied := *result
	return &copied, nil
}
