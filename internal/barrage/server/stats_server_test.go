package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/barrage/repository"
	"github.com/barrageproject/barrage/internal/common/util"
)

func newStatsServer(t *testing.T) (*StatsServer, *repository.InMemoryStore) {
	t.Helper()
	store := repository.NewInMemoryStore().WithClock(testClock)
	return NewStatsServer(store.LoadTests(), store.Metrics()), store
}

func addMetric(t *testing.T, store *repository.InMemoryStore, testID string, at time.Time, requests int64, successes int64, failures int64, avg float64) {
	t.Helper()
	require.NoError(t, store.Metrics().Create(context.Background(), &model.Metric{
		ID:              util.NewUUID(),
		LoadTestID:      testID,
		Timestamp:       at,
		RequestCount:    requests,
		SuccessCount:    successes,
		ErrorCount:      failures,
		AvgResponseTime: avg,
	}))
}

func addTest(t *testing.T, store *repository.InMemoryStore, ownerID string, status model.TestStatus) string {
	t.Helper()
	id := util.NewUUID()
	require.NoError(t, store.LoadTests().Create(context.Background(), &model.LoadTest{
		ID:        id,
		OwnerID:   ownerID,
		Name:      "homepage",
		TargetURL: "https://example.com/",
		Method:    "GET",
		Status:    status,
		CreatedAt: testClock.Now(),
		UpdatedAt: testClock.Now(),
	}))
	return id
}

func TestAggregateMetrics(t *testing.T) {
	s, store := newStatsServer(t)
	ctx := context.Background()
	testID := addTest(t, store, owner, model.TestRunning)

	aggregated, err := s.AggregateMetrics(ctx, testID)
	require.NoError(t, err)
	assert.Nil(t, aggregated)

	now := testClock.Now()
	addMetric(t, store, testID, now, 10, 8, 2, 120)
	addMetric(t, store, testID, now.Add(time.Second), 5, 5, 0, 80)

	aggregated, err = s.AggregateMetrics(ctx, testID)
	require.NoError(t, err)
	require.NotNil(t, aggregated)
	assert.Equal(t, int64(15), aggregated.TotalRequests)
	assert.Equal(t, int64(13), aggregated.TotalSuccess)
	assert.Equal(t, int64(2), aggregated.TotalErrors)
	assert.Equal(t, 2, aggregated.DataPoints)
	assert.Equal(t, 100.0, aggregated.AvgResponseTime)
	assert.InDelta(t, 13.33, aggregated.ErrorRate, 0.01)
}

func TestAggregateMetricsZeroRequests(t *testing.T) {
	s, store := newStatsServer(t)
	ctx := context.Background()
	testID := addTest(t, store, owner, model.TestRunning)

	addMetric(t, store, testID, testClock.Now(), 0, 0, 0, 0)

	aggregated, err := s.AggregateMetrics(ctx, testID)
	require.NoError(t, err)
	require.NotNil(t, aggregated)
	assert.Equal(t, 0.0, aggregated.ErrorRate)
}

func TestStatistics(t *testing.T) {
	s, store := newStatsServer(t)
	ctx := context.Background()

	stats, err := s.Statistics(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalTests)
	assert.Equal(t, 0.0, stats.SuccessRate)

	addTest(t, store, owner, model.TestCompleted)
	addTest(t, store, owner, model.TestCompleted)
	addTest(t, store, owner, model.TestRunning)
	addTest(t, store, owner, model.TestFailed)
	addTest(t, store, otherOwner, model.TestCompleted)

	stats, err = s.Statistics(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalTests)
	assert.Equal(t, 2, stats.CompletedTests)
	assert.Equal(t, 1, stats.RunningTests)
	assert.Equal(t, 1, stats.FailedTests)
	assert.Equal(t, 50.0, stats.SuccessRate)
}

func TestMetricsByTimeRange(t *testing.T) {
	s, store := newStatsServer(t)
	ctx := context.Background()
	testID := addTest(t, store, owner, model.TestRunning)

	now := testClock.Now()
	// inserted out of order; queries come back ordered by timestamp
	addMetric(t, store, testID, now.Add(2*time.Second), 3, 3, 0, 90)
	addMetric(t, store, testID, now, 1, 1, 0, 100)
	addMetric(t, store, testID, now.Add(10*time.Second), 5, 5, 0, 110)

	metrics, err := s.MetricsByTimeRange(ctx, testID, now, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, now, metrics[0].Timestamp)
	assert.Equal(t, now.Add(2*time.Second), metrics[1].Timestamp)

	all, err := s.MetricsForTest(ctx, testID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(5), all[2].RequestCount)
}
