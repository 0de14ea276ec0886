package repository

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS load_tests (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	target_url          TEXT NOT NULL,
	method              TEXT NOT NULL,
	concurrent_users    INT NOT NULL,
	total_requests      INT NOT NULL,
	duration_seconds    INT NOT NULL,
	requests_per_second INT NOT NULL,
	headers             JSONB,
	body                JSONB,
	status              TEXT NOT NULL,
	started_at          TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_load_tests_owner ON load_tests (owner_id, created_at);

CREATE TABLE IF NOT EXISTS metrics (
	id                TEXT PRIMARY KEY,
	load_test_id      TEXT NOT NULL REFERENCES load_tests (id) ON DELETE CASCADE,
	timestamp         TIMESTAMPTZ NOT NULL,
	request_count     BIGINT NOT NULL,
	success_count     BIGINT NOT NULL,
	error_count       BIGINT NOT NULL,
	avg_response_time DOUBLE PRECISION NOT NULL,
	status_code       INT,
	error_message     TEXT NOT NULL DEFAULT '',
	active_users      INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_test_timestamp ON metrics (load_test_id, timestamp);

CREATE TABLE IF NOT EXISTS test_results (
	id                       TEXT PRIMARY KEY,
	load_test_id             TEXT NOT NULL UNIQUE REFERENCES load_tests (id) ON DELETE CASCADE,
	total_requests           BIGINT NOT NULL,
	successful_requests      BIGINT NOT NULL,
	failed_requests          BIGINT NOT NULL,
	average_response_time    DOUBLE PRECISION NOT NULL,
	min_response_time        DOUBLE PRECISION NOT NULL,
	max_response_time        DOUBLE PRECISION NOT NULL,
	p50_response_time        DOUBLE PRECISION NOT NULL,
	p95_response_time        DOUBLE PRECISION NOT NULL,
	p99_response_time        DOUBLE PRECISION NOT NULL,
	requests_per_second      DOUBLE PRECISION NOT NULL,
	error_rate               DOUBLE PRECISION NOT NULL,
	status_code_distribution JSONB,
	error_distribution       JSONB,
	time_series_data         JSONB,
	created_at               TIMESTAMPTZ NOT NULL
);
`

// Setup creates the schema on a newly opened pool.
func Setup(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}
