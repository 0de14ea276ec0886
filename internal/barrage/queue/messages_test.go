package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalMetricMessage(t *testing.T) {
	msg, err := UnmarshalMetricMessage([]byte(
		`{"testId":"abc","timestamp":"2023-04-05T12:00:00Z","requestCount":10,"successCount":8,"errorCount":2,"activeUsers":5}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", msg.TestID)
	assert.Equal(t, int64(10), msg.RequestCount)
	assert.Equal(t, int32(5), msg.ActiveUsers)
	assert.Nil(t, msg.StatusCode)

	_, err = UnmarshalMetricMessage([]byte(`{"requestCount":10}`))
	assert.Error(t, err)

	_, err = UnmarshalMetricMessage([]byte(`{invalid`))
	assert.Error(t, err)
}

func TestUnmarshalResultMessage(t *testing.T) {
	msg, err := UnmarshalResultMessage([]byte(
		`{"testId":"abc","totalRequests":100,"successfulRequests":95,"failedRequests":5,"errorRate":5,"statusCodeDistribution":{"200":95,"500":5}}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", msg.TestID)
	assert.False(t, msg.Failed)
	assert.Equal(t, int64(100), msg.TotalRequests)
	assert.Equal(t, int64(95), msg.StatusCodeDistribution["200"])

	_, err = UnmarshalResultMessage([]byte(`{"totalRequests":100}`))
	assert.Error(t, err)

	_, err = UnmarshalResultMessage([]byte(`not json`))
	assert.Error(t, err)
}
