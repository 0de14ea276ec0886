package barrage

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/barrageproject/barrage/internal/barrage/configuration"
	"github.com/barrageproject/barrage/internal/barrage/ingest"
	"github.com/barrageproject/barrage/internal/barrage/queue"
	"github.com/barrageproject/barrage/internal/barrage/repository"
	"github.com/barrageproject/barrage/internal/barrage/server"
	"github.com/barrageproject/barrage/internal/common"
	"github.com/barrageproject/barrage/internal/common/database"
)

const brokerConnectAttempts = 5

// App holds the wired control plane. The LoadTests and Stats servers are the
// in-process API a transport layer would expose to clients.
type App struct {
	Config    *configuration.BarrageConfiguration
	LoadTests *server.LoadTestServer
	Stats     *server.StatsServer

	queue    queue.Queue
	pool     *pgxpool.Pool
	ingester *ingest.Ingester
}

func New(ctx context.Context, config *configuration.BarrageConfiguration) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}

	var tests repository.LoadTestRepository
	var metrics repository.MetricRepository
	var results repository.TestResultRepository
	var pool *pgxpool.Pool

	switch config.DatabaseType {
	case "postgres":
		var err error
		pool, err = database.OpenPgxPool(config.Postgres)
		if err != nil {
			return nil, errors.WithMessage(err, "error connecting to postgres")
		}
		if err := repository.Setup(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.WithMessage(err, "error creating schema")
		}
		tests = repository.NewPostgresLoadTestRepository(pool)
		metrics = repository.NewPostgresMetricRepository(pool)
		results = repository.NewPostgresTestResultRepository(pool)
	case "memory":
		store := repository.NewInMemoryStore()
		tests = store.LoadTests()
		metrics = store.Metrics()
		results = store.TestResults()
	default:
		return nil, errors.Errorf("unknown database type %q", config.DatabaseType)
	}

	q := connectQueue(config.Nats)
	if q == nil {
		if config.Nats.Required {
			if pool != nil {
				pool.Close()
			}
			return nil, errors.New("could not connect to the message broker and the deployment requires it")
		}
		log.Warn("could not connect to the message broker, dispatch publishes will be dropped")
		q = queue.NoopQueue{}
	}

	loadTests := server.NewLoadTestServer(
		tests, results, q, config.Nats.DispatchChannel,
		config.Limits, server.NewStaticPlanResolver(config.Limits.OwnerPlans))

	return &App{
		Config:    config,
		LoadTests: loadTests,
		Stats:     server.NewStatsServer(tests, metrics),
		queue:     q,
		pool:      pool,
		ingester:  ingest.NewIngester(tests, metrics, results, loadTests, config.Nats.ResultsChannel, config.Nats.MetricsChannel),
	}, nil
}

// Run serves metrics and consumes the worker-facing channels until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	shutdownMetricServer := common.ServeMetrics(a.Config.MetricsPort, a.queue.Check)
	defer shutdownMetricServer()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.ingester.Run(ctx, a.queue)
		if err != nil && !a.Config.Nats.Required {
			// degraded mode: serve the read/write API without consumers
			log.WithError(err).Warn("ingestion pipeline disabled")
			<-ctx.Done()
			return nil
		}
		return err
	})
	return g.Wait()
}

func (a *App) Close() {
	if err := a.queue.Close(); err != nil {
		log.WithError(err).Warn("error closing queue connection")
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func connectQueue(config configuration.NatsConfig) queue.Queue {
	var q *queue.DurableStanQueue
	err := retry.Do(
		func() error {
			var err error
			q, err = queue.ConnectDurableStanQueue(config)
			return err
		},
		retry.Attempts(brokerConnectAttempts),
		retry.Delay(config.ConnectionBackoff),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.WithError(err).Error("error connecting to NATS Streaming")
		return nil
	}
	return q
}
