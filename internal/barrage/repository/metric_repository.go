package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/barrageproject/barrage/internal/barrage/model"
)

const metricColumns = `id, load_test_id, timestamp, request_count, success_count, error_count,
avg_response_time, status_code, error_message, active_users`

type PostgresMetricRepository struct {
	db *pgxpool.Pool
}

func NewPostgresMetricRepository(db *pgxpool.Pool) *PostgresMetricRepository {
	return &PostgresMetricRepository{db: db}
}

func (r *PostgresMetricRepository) Create(ctx context.Context, metric *model.Metric) error {
	_, err := r.db.Exec(ctx, `INSERT INTO metrics (`+metricColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		metric.ID, metric.LoadTestID, metric.Timestamp, metric.RequestCount, metric.SuccessCount,
		metric.ErrorCount, metric.AvgResponseTime, metric.StatusCode, metric.ErrorMessage, metric.ActiveUsers)
	return errors.WithMessage(err, "error inserting metric")
}

func (r *PostgresMetricRepository) FindByLoadTest(ctx context.Context, loadTestID string) ([]*model.Metric, error) {
	query, args, err := psql.From("metrics").
		Select(goqu.L(metricColumns)).
		Where(goqu.C("load_test_id").Eq(loadTestID)).
		Order(goqu.C("timestamp").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	return r.queryMetrics(ctx, query, args...)
}

func (r *PostgresMetricRepository) FindByTimeRange(ctx context.Context, loadTestID string, start time.Time, end time.Time) ([]*model.Metric, error) {
	query, args, err := psql.From("metrics").
		Select(goqu.L(metricColumns)).
		Where(
			goqu.C("load_test_id").Eq(loadTestID),
			goqu.C("timestamp").Between(goqu.Range(start, end)),
		).
		Order(goqu.C("timestamp").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	return r.queryMetrics(ctx, query, args...)
}

func (r *PostgresMetricRepository) DeleteByLoadTest(ctx context.Context, loadTestID string) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM metrics WHERE load_test_id = $1", loadTestID)
	if err != nil {
		return 0, errors.WithMessage(err, "error deleting metrics")
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresMetricRepository) queryMetrics(ctx context.Context, query string, args ...interface{}) ([]*model.Metric, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithMessage(err, "error querying metrics")
	}
	defer rows.Close()

	metrics := []*model.Metric{}
	for rows.Next() {
		metric := &model.Metric{}
		err := rows.Scan(
			&metric.ID, &metric.LoadTestID, &metric.Timestamp, &metric.RequestCount,
			&metric.SuccessCount, &metric.ErrorCount, &metric.AvgResponseTime,
			&metric.StatusCode, &metric.ErrorMessage, &metric.ActiveUsers)
		if err != nil {
			return nil, errors.WithMessage(err, "error scanning metric")
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}
