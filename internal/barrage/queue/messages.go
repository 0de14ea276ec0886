package queue

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Wire contracts shared with the worker processes. Payloads are durable JSON;
// field names are part of the contract and must not change.

// DispatchMessage is published by the control plane, one per started test.
type DispatchMessage struct {
	TestID            string                 `json:"testId"`
	TargetURL         string                 `json:"targetUrl"`
	Method            string                 `json:"method"`
	ConcurrentUsers   int                    `json:"concurrentUsers"`
	TotalRequests     int                    `json:"totalRequests"`
	DurationSeconds   int                    `json:"durationSeconds"`
	RequestsPerSecond int                    `json:"requestsPerSecond"`
	Headers           map[string]string      `json:"headers,omitempty"`
	Body              map[string]interface{} `json:"body,omitempty"`
}

// MetricMessage is published by workers, zero or more per running test.
type MetricMessage struct {
	TestID          string    `json:"testId"`
	Timestamp       time.Time `json:"timestamp"`
	RequestCount    int64     `json:"requestCount"`
	SuccessCount    int64     `json:"successCount"`
	ErrorCount      int64     `json:"errorCount"`
	AvgResponseTime float64   `json:"avgResponseTime"`
	StatusCode      *int32    `json:"statusCode,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	ActiveUsers     int32     `json:"activeUsers"`
}

// ResultMessage is published by workers, exactly one terminal message per test.
type ResultMessage struct {
	TestID                 string           `json:"testId"`
	Failed                 bool             `json:"failed,omitempty"`
	TotalRequests          int64            `json:"totalRequests"`
	SuccessfulRequests     int64            `json:"successfulRequests"`
	FailedRequests         int64            `json:"failedRequests"`
	AverageResponseTime    float64          `json:"averageResponseTime"`
	MinResponseTime        float64          `json:"minResponseTime"`
	MaxResponseTime        float64          `json:"maxResponseTime"`
	P50ResponseTime        float64          `json:"p50ResponseTime"`
	P95ResponseTime        float64          `json:"p95ResponseTime"`
	P99ResponseTime        float64          `json:"p99ResponseTime"`
	RequestsPerSecond      float64          `json:"requestsPerSecond"`
	ErrorRate              float64          `json:"errorRate"`
	StatusCodeDistribution map[string]int64 `json:"statusCodeDistribution,omitempty"`
	ErrorDistribution      map[string]int64 `json:"errorDistribution,omitempty"`
	TimeSeriesData         json.RawMessage  `json:"timeSeriesData,omitempty"`
}

func UnmarshalMetricMessage(data []byte) (*MetricMessage, error) {
	msg := &MetricMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.WithMessage(err, "could not unmarshal metric message")
	}
	if msg.TestID == "" {
		return nil, errors.New("metric message has no testId")
	}
	return msg, nil
}

func UnmarshalResultMessage(data []byte) (*ResultMessage, error) {
	msg := &ResultMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.WithMessage(err, "could not unmarshal result message")
	}
	if msg.TestID == "" {
		return nil, errors.New("result message has no testId")
	}
	return msg, nil
}
