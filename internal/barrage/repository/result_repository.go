package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/common/barrageerrors"
)

const resultColumns = `id, load_test_id, total_requests, successful_requests, failed_requests,
average_response_time, min_response_time, max_response_time, p50_response_time,
p95_response_time, p99_response_time, requests_per_second, error_rate,
status_code_distribution, error_distribution, time_series_data, created_at`

type PostgresTestResultRepository struct {
	db *pgxpool.Pool
}

func NewPostgresTestResultRepository(db *pgxpool.Pool) *PostgresTestResultRepository {
	return &PostgresTestResultRepository{db: db}
}

func (r *PostgresTestResultRepository) Create(ctx context.Context, result *model.TestResult) error {
	statusCodes, err := marshalNullable(result.StatusCodeDistribution)
	if err != nil {
		return err
	}
	errorDist, err := marshalNullable(result.ErrorDistribution)
	if err != nil {
		return err
	}
	var timeSeries []byte
	if len(result.TimeSeriesData) > 0 {
		timeSeries = result.TimeSeriesData
	}

	_, err = r.db.Exec(ctx, `INSERT INTO test_results (`+resultColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		result.ID, result.LoadTestID, result.TotalRequests, result.SuccessfulRequests, result.FailedRequests,
		result.AverageResponseTime, result.MinResponseTime, result.MaxResponseTime, result.P50ResponseTime,
		result.P95ResponseTime, result.P99ResponseTime, result.RequestsPerSecond, result.ErrorRate,
		statusCodes, errorDist, timeSeries, result.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return &barrageerrors.ErrConflict{
				Type:    "test result",
				Value:   result.LoadTestID,
				Message: "a result already exists for this test",
			}
		}
		return errors.WithMessage(err, "error inserting test result")
	}
	return nil
}

func (r *PostgresTestResultRepository) FindByLoadTest(ctx context.Context, loadTestID string) (*model.TestResult, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+resultColumns+" FROM test_results WHERE load_test_id = $1", loadTestID)

	result := &model.TestResult{}
	var statusCodes, errorDist, timeSeries []byte
	err := row.Scan(
		&result.ID, &result.LoadTestID, &result.TotalRequests, &result.SuccessfulRequests, &result.FailedRequests,
		&result.AverageResponseTime, &result.MinResponseTime, &result.MaxResponseTime, &result.P50ResponseTime,
		&result.P95ResponseTime, &result.P99ResponseTime, &result.RequestsPerSecond, &result.ErrorRate,
		&statusCodes, &errorDist, &timeSeries, &result.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, &barrageerrors.ErrNotFound{Type: "test result", Value: loadTestID}
	}
	if err != nil {
		return nil, errors.WithMessage(err, "error scanning test result")
	}
	if statusCodes != nil {
		if err := json.Unmarshal(statusCodes, &result.StatusCodeDistribution); err != nil {
			return nil, errors.WithMessage(err, "error unmarshalling status code distribution")
		}
	}
	if errorDist != nil {
		if err := json.Unmarshal(errorDist, &result.ErrorDistribution); err != nil {
			return nil, errors.WithMessage(err, "error unmarshalling error distribution")
		}
	}
	result.TimeSeriesData = timeSeries
	return result, nil
}
