package model

import (
	"encoding/json"
	"time"
)

// TestStatus is the lifecycle state of a load test. Transitions are monotonic
// through the graph below; the only way back from a terminal state is a
// re-start, which moves the test to queued again.
type TestStatus string

const (
	TestPending   TestStatus = "pending"
	TestQueued    TestStatus = "queued"
	TestRunning   TestStatus = "running"
	TestCompleted TestStatus = "completed"
	TestFailed    TestStatus = "failed"
	TestCancelled TestStatus = "cancelled"
)

func (s TestStatus) IsTerminal() bool {
	switch s {
	case TestCompleted, TestFailed, TestCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is legal.
// Nothing ever transitions back to pending.
func (s TestStatus) CanTransitionTo(next TestStatus) bool {
	switch s {
	case TestPending:
		return next == TestQueued
	case TestQueued:
		return next == TestRunning || next.IsTerminal()
	case TestRunning:
		return next.IsTerminal()
	case TestCompleted, TestFailed, TestCancelled:
		// re-run
		return next == TestQueued
	}
	return false
}

// LoadTest is the aggregate root: a test definition plus its current execution
// state. Metrics and results are owned by and cascade-deleted with it.
type LoadTest struct {
	ID                string
	OwnerID           string
	Name              string
	Description       string
	TargetURL         string
	Method            string
	ConcurrentUsers   int
	TotalRequests     int
	DurationSeconds   int
	RequestsPerSecond int
	Headers           map[string]string
	Body              map[string]interface{}
	Status            TestStatus
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Metric is one time-sampled observation reported by a worker while a test is
// running. Never mutated once written.
type Metric struct {
	ID              string
	LoadTestID      string
	Timestamp       time.Time
	RequestCount    int64
	SuccessCount    int64
	ErrorCount      int64
	AvgResponseTime float64
	StatusCode      *int32
	ErrorMessage    string
	ActiveUsers     int32
}

// TestResult is the single final summary of a completed test. At most one
// exists per test.
type TestResult struct {
	ID                     string
	LoadTestID             string
	TotalRequests          int64
	SuccessfulRequests     int64
	FailedRequests         int64
	AverageResponseTime    float64
	MinResponseTime        float64
	MaxResponseTime        float64
	P50ResponseTime        float64
	P95ResponseTime        float64
	P99ResponseTime        float64
	RequestsPerSecond      float64
	ErrorRate              float64
	StatusCodeDistribution map[string]int64
	ErrorDistribution      map[string]int64
	TimeSeriesData         json.RawMessage
	CreatedAt              time.Time
}

// AggregatedMetrics summarises a test's metric series.
type AggregatedMetrics struct {
	TotalRequests   int64
	TotalSuccess    int64
	TotalErrors     int64
	AvgResponseTime float64
	ErrorRate       float64
	DataPoints      int
}

// OwnerStatistics summarises all tests belonging to one owner.
type OwnerStatistics struct {
	TotalTests     int
	CompletedTests int
	RunningTests   int
	FailedTests    int
	SuccessRate    float64
}
