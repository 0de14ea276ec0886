package server

import (
	"context"
	"time"

	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/barrage/repository"
)

// StatsServer answers read queries over persisted metrics and tests.
type StatsServer struct {
	tests   repository.LoadTestRepository
	metrics repository.MetricRepository
}

func NewStatsServer(tests repository.LoadTestRepository, metrics repository.MetricRepository) *StatsServer {
	return &StatsServer{tests: tests, metrics: metrics}
}

// AggregateMetrics sums a test's metric series. Returns nil if no metrics
// exist. The average response time is the mean of the per-sample averages,
// not a request-weighted mean; a coarse approximation kept for parity with
// what clients already expect.
func (s *StatsServer) AggregateMetrics(ctx context.Context, testID string) (*model.AggregatedMetrics, error) {
	metrics, err := s.metrics.FindByLoadTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, nil
	}

	aggregated := &model.AggregatedMetrics{DataPoints: len(metrics)}
	sumAvg := 0.0
	for _, m := range metrics {
		aggregated.TotalRequests += m.RequestCount
		aggregated.TotalSuccess += m.SuccessCount
		aggregated.TotalErrors += m.ErrorCount
		sumAvg += m.AvgResponseTime
	}
	aggregated.AvgResponseTime = sumAvg / float64(len(metrics))
	if aggregated.TotalRequests > 0 {
		aggregated.ErrorRate = float64(aggregated.TotalErrors) / float64(aggregated.TotalRequests) * 100
	}
	return aggregated, nil
}

// Statistics counts an owner's tests by status.
func (s *StatsServer) Statistics(ctx context.Context, ownerID string) (*model.OwnerStatistics, error) {
	tests, err := s.tests.ListForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &model.OwnerStatistics{TotalTests: len(tests)}
	for _, test := range tests {
		switch test.Status {
		case model.TestCompleted:
			stats.CompletedTests++
		case model.TestRunning:
			stats.RunningTests++
		case model.TestFailed:
			stats.FailedTests++
		}
	}
	if stats.TotalTests > 0 {
		stats.SuccessRate = float64(stats.CompletedTests) / float64(stats.TotalTests) * 100
	}
	return stats, nil
}

// MetricsForTest returns a test's full metric series ordered by timestamp.
func (s *StatsServer) MetricsForTest(ctx context.Context, testID string) ([]*model.Metric, error) {
	return s.metrics.FindByLoadTest(ctx, testID)
}

// MetricsByTimeRange returns the metrics with timestamps in [start, end],
// ordered ascending.
func (s *StatsServer) MetricsByTimeRange(ctx context.Context, testID string, start time.Time, end time.Time) ([]*model.Metric, error) {
	return s.metrics.FindByTimeRange(ctx, testID, start, end)
}
