package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MessageError string

const (
	MessageErrorDeserialization MessageError = "deserialization"
	MessageErrorUnknownTest     MessageError = "unknown_test"
	MessageErrorInconsistent    MessageError = "inconsistent_counts"
	MessageErrorDuplicateResult MessageError = "duplicate_result"
)

const metricsPrefix = "barrage_ingester_"

type Metrics struct {
	messagesProcessed *prometheus.CounterVec
	messageErrors     *prometheus.CounterVec
	storeErrors       *prometheus.CounterVec
}

func newMetrics(prefix string) *Metrics {
	return &Metrics{
		messagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "messages_processed",
			Help: "Number of messages processed grouped by channel",
		}, []string{"channel"}),
		messageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "message_errors",
			Help: "Number of message anomalies grouped by channel and error type",
		}, []string{"channel", "error"}),
		storeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "store_errors",
			Help: "Number of store errors grouped by channel",
		}, []string{"channel"}),
	}
}

var m = newMetrics(metricsPrefix)

func GetMetrics() *Metrics {
	return m
}

func (m *Metrics) RecordProcessed(channel string) {
	m.messagesProcessed.WithLabelValues(channel).Inc()
}

func (m *Metrics) RecordMessageError(channel string, reason MessageError) {
	m.messageErrors.WithLabelValues(channel, string(reason)).Inc()
}

func (m *Metrics) RecordStoreError(channel string) {
	m.storeErrors.WithLabelValues(channel).Inc()
}
