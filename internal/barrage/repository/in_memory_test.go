package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/common/barrageerrors"
	"github.com/barrageproject/barrage/internal/common/util"
)

var repoClock = &util.DummyClock{T: time.Date(2023, 4, 5, 12, 0, 0, 0, time.UTC)}

func storedTest(t *testing.T, store *InMemoryStore, status model.TestStatus) *model.LoadTest {
	t.Helper()
	test := &model.LoadTest{
		ID:        util.NewUUID(),
		OwnerID:   "user-1",
		Name:      "homepage",
		TargetURL: "https://example.com/",
		Method:    "GET",
		Status:    status,
		CreatedAt: repoClock.Now(),
		UpdatedAt: repoClock.Now(),
	}
	require.NoError(t, store.LoadTests().Create(context.Background(), test))
	return test
}

func TestApplyStatusUpdateIsConditional(t *testing.T) {
	store := NewInMemoryStore().WithClock(repoClock)
	ctx := context.Background()
	test := storedTest(t, store, model.TestPending)

	startedAt := repoClock.Now()
	updated, err := store.LoadTests().ApplyStatusUpdate(ctx, StatusUpdate{
		TestID:       test.ID,
		Expected:     []model.TestStatus{model.TestPending},
		Target:       model.TestQueued,
		SetStartedAt: &startedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TestQueued, updated.Status)
	require.NotNil(t, updated.StartedAt)

	// the same update applied again must miss its expected status
	_, err = store.LoadTests().ApplyStatusUpdate(ctx, StatusUpdate{
		TestID:   test.ID,
		Expected: []model.TestStatus{model.TestPending},
		Target:   model.TestQueued,
	})
	require.True(t, barrageerrors.IsConflict(err))
	var conflict *barrageerrors.ErrConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, string(model.TestQueued), conflict.Status)

	_, err = store.LoadTests().ApplyStatusUpdate(ctx, StatusUpdate{
		TestID:   util.NewUUID(),
		Expected: []model.TestStatus{model.TestPending},
		Target:   model.TestQueued,
	})
	assert.True(t, barrageerrors.IsNotFound(err))
}

func TestApplyStatusUpdateClearsTimestamps(t *testing.T) {
	store := NewInMemoryStore().WithClock(repoClock)
	ctx := context.Background()
	test := storedTest(t, store, model.TestCompleted)
	completedAt := repoClock.Now()
	_, err := store.LoadTests().ApplyStatusUpdate(ctx, StatusUpdate{
		TestID:         test.ID,
		Expected:       []model.TestStatus{model.TestCompleted},
		Target:         model.TestCompleted,
		SetCompletedAt: &completedAt,
	})
	require.NoError(t, err)

	startedAt := repoClock.Now().Add(time.Minute)
	updated, err := store.LoadTests().ApplyStatusUpdate(ctx, StatusUpdate{
		TestID:           test.ID,
		Expected:         []model.TestStatus{model.TestCompleted},
		Target:           model.TestQueued,
		SetStartedAt:     &startedAt,
		ClearCompletedAt: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TestQueued, updated.Status)
	require.NotNil(t, updated.StartedAt)
	assert.Nil(t, updated.CompletedAt)
}

func TestDeleteCascades(t *testing.T) {
	store := NewInMemoryStore().WithClock(repoClock)
	ctx := context.Background()
	test := storedTest(t, store, model.TestCompleted)

	require.NoError(t, store.Metrics().Create(ctx, &model.Metric{
		ID:         util.NewUUID(),
		LoadTestID: test.ID,
		Timestamp:  repoClock.Now(),
	}))
	require.NoError(t, store.TestResults().Create(ctx, &model.TestResult{
		ID:         util.NewUUID(),
		LoadTestID: test.ID,
	}))

	require.NoError(t, store.LoadTests().Delete(ctx, test.ID, test.OwnerID))

	_, err := store.LoadTests().Get(ctx, test.ID)
	assert.True(t, barrageerrors.IsNotFound(err))
	metrics, err := store.Metrics().FindByLoadTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Empty(t, metrics)
	_, err = store.TestResults().FindByLoadTest(ctx, test.ID)
	assert.True(t, barrageerrors.IsNotFound(err))
}

func TestDeleteRunningTestRefused(t *testing.T) {
	store := NewInMemoryStore().WithClock(repoClock)
	ctx := context.Background()
	test := storedTest(t, store, model.TestRunning)

	err := store.LoadTests().Delete(ctx, test.ID, test.OwnerID)
	assert.True(t, barrageerrors.IsConflict(err))
}

func TestResultCreateIsUniquePerTest(t *testing.T) {
	store := NewInMemoryStore().WithClock(repoClock)
	ctx := context.Background()
	test := storedTest(t, store, model.TestCompleted)

	require.NoError(t, store.TestResults().Create(ctx, &model.TestResult{
		ID:            util.NewUUID(),
		LoadTestID:    test.ID,
		TotalRequests: 100,
	}))
	err := store.TestResults().Create(ctx, &model.TestResult{
		ID:         util.NewUUID(),
		LoadTestID: test.ID,
	})
	assert.True(t, barrageerrors.IsConflict(err))

	// the first write wins
	result, err := store.TestResults().FindByLoadTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.TotalRequests)
}

func TestListForOwnerNewestFirst(t *testing.T) {
	store := NewInMemoryStore().WithClock(repoClock)
	ctx := context.Background()

	older := storedTest(t, store, model.TestPending)
	newer := &model.LoadTest{
		ID:        util.NewUUID(),
		OwnerID:   "user-1",
		Name:      "checkout",
		TargetURL: "https://example.com/checkout",
		Method:    "POST",
		Status:    model.TestPending,
		CreatedAt: repoClock.Now().Add(time.Minute),
		UpdatedAt: repoClock.Now().Add(time.Minute),
	}
	require.NoError(t, store.LoadTests().Create(ctx, newer))
	storedTestForOwner(t, store, "user-2")

	tests, err := store.LoadTests().ListForOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, newer.ID, tests[0].ID)
	assert.Equal(t, older.ID, tests[1].ID)
}

func storedTestForOwner(t *testing.T, store *InMemoryStore, ownerID string) *model.LoadTest {
	t.Helper()
	test := &model.LoadTest{
		ID:        util.NewUUID(),
		OwnerID:   ownerID,
		Name:      "homepage",
		TargetURL: "https://example.com/",
		Method:    "GET",
		Status:    model.TestPending,
		CreatedAt: repoClock.Now(),
		UpdatedAt: repoClock.Now(),
	}
	require.NoError(t, store.LoadTests().Create(context.Background(), test))
	return test
}
