// Package ingest consumes the result and metric channels, persists what the
// workers report and drives tests to their terminal states.
//
// The ordering per message is persist, then transition, then ack: a crash
// before the ack causes a broker redelivery, and the duplicate checks make
// reprocessing safe. Malformed or unroutable messages are acked and counted
// as data anomalies so that poison messages never loop forever.
package ingest

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/barrage/queue"
	"github.com/barrageproject/barrage/internal/barrage/repository"
	"github.com/barrageproject/barrage/internal/common/barrageerrors"
	"github.com/barrageproject/barrage/internal/common/util"
)

// TerminalMarker applies the idempotent terminal transition. Implemented by
// the lifecycle server.
type TerminalMarker interface {
	MarkTestTerminal(ctx context.Context, id string, status model.TestStatus, completedAt time.Time) error
}

type Ingester struct {
	tests          repository.LoadTestRepository
	metrics        repository.MetricRepository
	results        repository.TestResultRepository
	marker         TerminalMarker
	resultsChannel string
	metricsChannel string
	clock          util.Clock
	m              *Metrics
}

func NewIngester(
	tests repository.LoadTestRepository,
	metrics repository.MetricRepository,
	results repository.TestResultRepository,
	marker TerminalMarker,
	resultsChannel string,
	metricsChannel string,
) *Ingester {
	return &Ingester{
		tests:          tests,
		metrics:        metrics,
		results:        results,
		marker:         marker,
		resultsChannel: resultsChannel,
		metricsChannel: metricsChannel,
		clock:          &util.DefaultClock{},
		m:              GetMetrics(),
	}
}

func (i *Ingester) WithClock(clock util.Clock) *Ingester {
	i.clock = clock
	return i
}

// Run subscribes to both worker-facing channels and blocks until ctx is done.
// Consumption is a long-lived background task; it talks to the rest of the
// system only through the store.
func (i *Ingester) Run(ctx context.Context, subscriber queue.Subscriber) error {
	err := subscriber.Subscribe(i.resultsChannel, func(payload []byte) queue.Ack {
		return i.HandleResultMessage(ctx, payload)
	})
	if err != nil {
		return err
	}
	err = subscriber.Subscribe(i.metricsChannel, func(payload []byte) queue.Ack {
		return i.HandleMetricMessage(ctx, payload)
	})
	if err != nil {
		return err
	}

	log.Info("ingestion pipeline set up, running until shutdown")
	<-ctx.Done()
	return nil
}

// HandleResultMessage processes one final-result message and returns the ack
// decision for the transport.
func (i *Ingester) HandleResultMessage(ctx context.Context, payload []byte) queue.Ack {
	msg, err := queue.UnmarshalResultMessage(payload)
	if err != nil {
		i.m.RecordMessageError(i.resultsChannel, MessageErrorDeserialization)
		log.WithError(err).Warn("dropping malformed result message")
		return queue.AckDiscard
	}
	logger := log.WithField("testId", msg.TestID)

	test, err := i.tests.Get(ctx, msg.TestID)
	if barrageerrors.IsNotFound(err) {
		// the test may have been deleted while the worker was running
		i.m.RecordMessageError(i.resultsChannel, MessageErrorUnknownTest)
		logger.Warn("dropping result for unknown test")
		return queue.AckDiscard
	}
	if err != nil {
		i.m.RecordStoreError(i.resultsChannel)
		logger.WithError(err).Warn("error looking up test for result, will retry")
		return queue.AckRetry
	}

	if test.Status.IsTerminal() {
		if _, err := i.results.FindByLoadTest(ctx, msg.TestID); err == nil {
			i.m.RecordMessageError(i.resultsChannel, MessageErrorDuplicateResult)
			logger.Info("duplicate result message, already recorded")
			return queue.AckOk
		}
	}

	err = i.results.Create(ctx, i.resultFromMessage(msg))
	if barrageerrors.IsConflict(err) {
		// redelivery raced us; fall through so the terminal transition
		// still happens before we ack
		i.m.RecordMessageError(i.resultsChannel, MessageErrorDuplicateResult)
	} else if err != nil {
		i.m.RecordStoreError(i.resultsChannel)
		logger.WithError(err).Warn("error persisting result, will retry")
		return queue.AckRetry
	}

	status := model.TestCompleted
	if msg.Failed {
		status = model.TestFailed
	}
	err = i.marker.MarkTestTerminal(ctx, msg.TestID, status, i.clock.Now().UTC())
	if barrageerrors.IsNotFound(err) {
		i.m.RecordMessageError(i.resultsChannel, MessageErrorUnknownTest)
		logger.Warn("test deleted while recording its result")
		return queue.AckDiscard
	}
	if err != nil {
		i.m.RecordStoreError(i.resultsChannel)
		logger.WithError(err).Warn("error marking test terminal, will retry")
		return queue.AckRetry
	}

	i.m.RecordProcessed(i.resultsChannel)
	logger.WithField("status", status).Info("test result recorded")
	return queue.AckOk
}

// HandleMetricMessage processes one streamed metric sample and returns the
// ack decision for the transport.
func (i *Ingester) HandleMetricMessage(ctx context.Context, payload []byte) queue.Ack {
	msg, err := queue.UnmarshalMetricMessage(payload)
	if err != nil {
		i.m.RecordMessageError(i.metricsChannel, MessageErrorDeserialization)
		log.WithError(err).Warn("dropping malformed metric message")
		return queue.AckDiscard
	}
	logger := log.WithField("testId", msg.TestID)

	test, err := i.tests.Get(ctx, msg.TestID)
	if barrageerrors.IsNotFound(err) {
		i.m.RecordMessageError(i.metricsChannel, MessageErrorUnknownTest)
		logger.Warn("dropping metric for unknown test")
		return queue.AckDiscard
	}
	if err != nil {
		i.m.RecordStoreError(i.metricsChannel)
		logger.WithError(err).Warn("error looking up test for metric, will retry")
		return queue.AckRetry
	}

	if msg.RequestCount != msg.SuccessCount+msg.ErrorCount {
		// tolerated but worth surfacing; the sample is persisted as-is
		i.m.RecordMessageError(i.metricsChannel, MessageErrorInconsistent)
		logger.WithFields(log.Fields{
			"requestCount": msg.RequestCount,
			"successCount": msg.SuccessCount,
			"errorCount":   msg.ErrorCount,
		}).Warn("metric counts do not add up")
	}

	err = i.metrics.Create(ctx, &model.Metric{
		ID:              util.NewUUID(),
		LoadTestID:      msg.TestID,
		Timestamp:       msg.Timestamp,
		RequestCount:    msg.RequestCount,
		SuccessCount:    msg.SuccessCount,
		ErrorCount:      msg.ErrorCount,
		AvgResponseTime: msg.AvgResponseTime,
		StatusCode:      msg.StatusCode,
		ErrorMessage:    msg.ErrorMessage,
		ActiveUsers:     msg.ActiveUsers,
	})
	if err != nil {
		i.m.RecordStoreError(i.metricsChannel)
		logger.WithError(err).Warn("error persisting metric, will retry")
		return queue.AckRetry
	}

	// the first metric is the evidence that a worker picked the test up
	if test.Status == model.TestQueued {
		_, err := i.tests.ApplyStatusUpdate(ctx, repository.StatusUpdate{
			TestID:   msg.TestID,
			Expected: []model.TestStatus{model.TestQueued},
			Target:   model.TestRunning,
		})
		if err != nil && !barrageerrors.IsConflict(err) && !barrageerrors.IsNotFound(err) {
			logger.WithError(err).Warn("could not promote test to running")
		}
	}

	i.m.RecordProcessed(i.metricsChannel)
	return queue.AckOk
}

func (i *Ingester) resultFromMessage(msg *queue.ResultMessage) *model.TestResult {
	return &model.TestResult{
		ID:                     util.NewUUID(),
		LoadTestID:             msg.TestID,
		TotalRequests:          msg.TotalRequests,
		SuccessfulRequests:     msg.SuccessfulRequests,
		FailedRequests:         msg.FailedRequests,
		AverageResponseTime:    msg.AverageResponseTime,
		MinResponseTime:        msg.MinResponseTime,
		MaxResponseTime:        msg.MaxResponseTime,
		P50ResponseTime:        msg.P50ResponseTime,
		P95ResponseTime:        msg.P95ResponseTime,
		P99ResponseTime:        msg.P99ResponseTime,
		RequestsPerSecond:      msg.RequestsPerSecond,
		ErrorRate:              msg.ErrorRate,
		StatusCodeDistribution: msg.StatusCodeDistribution,
		ErrorDistribution:      msg.ErrorDistribution,
		TimeSeriesData:         msg.TimeSeriesData,
		CreatedAt:              i.clock.Now().UTC(),
	}
}
