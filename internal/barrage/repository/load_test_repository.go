package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/common/barrageerrors"
	"github.com/barrageproject/barrage/internal/common/util"
)

var psql = goqu.Dialect("postgres")

const loadTestColumns = `id, owner_id, name, description, target_url, method, concurrent_users,
total_requests, duration_seconds, requests_per_second, headers, body, status,
started_at, completed_at, created_at, updated_at`

// Statuses in which the configuration of a test may still be mutated.
var mutableStatuses = []string{string(model.TestPending), string(model.TestQueued)}

type PostgresLoadTestRepository struct {
	db    *pgxpool.Pool
	clock util.Clock
}

func NewPostgresLoadTestRepository(db *pgxpool.Pool) *PostgresLoadTestRepository {
	return &PostgresLoadTestRepository{db: db, clock: &util.DefaultClock{}}
}

func (r *PostgresLoadTestRepository) Create(ctx context.Context, test *model.LoadTest) error {
	headers, err := marshalNullable(test.Headers)
	if err != nil {
		return err
	}
	body, err := marshalNullable(test.Body)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, fmt.Sprintf(`INSERT INTO load_tests (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`, loadTestColumns),
		test.ID, test.OwnerID, test.Name, test.Description, test.TargetURL, test.Method,
		test.ConcurrentUsers, test.TotalRequests, test.DurationSeconds, test.RequestsPerSecond,
		headers, body, string(test.Status), test.StartedAt, test.CompletedAt, test.CreatedAt, test.UpdatedAt)
	return errors.WithMessage(err, "error inserting load test")
}

func (r *PostgresLoadTestRepository) Get(ctx context.Context, id string) (*model.LoadTest, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM load_tests WHERE id = $1", loadTestColumns), id)
	return scanLoadTest(row, id)
}

func (r *PostgresLoadTestRepository) GetForOwner(ctx context.Context, id string, ownerID string) (*model.LoadTest, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM load_tests WHERE id = $1 AND owner_id = $2", loadTestColumns), id, ownerID)
	return scanLoadTest(row, id)
}

func (r *PostgresLoadTestRepository) ListForOwner(ctx context.Context, ownerID string) ([]*model.LoadTest, error) {
	query, args, err := psql.From("load_tests").
		Select(goqu.L(loadTestColumns)).
		Where(goqu.C("owner_id").Eq(ownerID)).
		Order(goqu.C("created_at").Desc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithMessage(err, "error listing load tests")
	}
	defer rows.Close()

	tests := []*model.LoadTest{}
	for rows.Next() {
		test, err := scanLoadTest(rows, "")
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}
	return tests, rows.Err()
}

func (r *PostgresLoadTestRepository) UpdateSpec(ctx context.Context, test *model.LoadTest) (*model.LoadTest, error) {
	headers, err := marshalNullable(test.Headers)
	if err != nil {
		return nil, err
	}
	body, err := marshalNullable(test.Body)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRow(ctx, fmt.Sprintf(`UPDATE load_tests
SET name = $3, description = $4, target_url = $5, method = $6, concurrent_users = $7,
    total_requests = $8, duration_seconds = $9, requests_per_second = $10,
    headers = $11, body = $12, updated_at = $13
WHERE id = $1 AND owner_id = $2 AND status = ANY($14)
RETURNING %s`, loadTestColumns),
		test.ID, test.OwnerID, test.Name, test.Description, test.TargetURL, test.Method,
		test.ConcurrentUsers, test.TotalRequests, test.DurationSeconds, test.RequestsPerSecond,
		headers, body, r.clock.Now().UTC(), mutableStatuses)

	updated, err := scanLoadTest(row, test.ID)
	if barrageerrors.IsNotFound(err) {
		return nil, r.conflictOrNotFound(ctx, test.ID, test.OwnerID, "cannot update test")
	}
	return updated, err
}

func (r *PostgresLoadTestRepository) ApplyStatusUpdate(ctx context.Context, update StatusUpdate) (*model.LoadTest, error) {
	set := "status = $1, updated_at = $2"
	args := []interface{}{string(update.Target), r.clock.Now().UTC()}
	if update.SetStartedAt != nil {
		args = append(args, *update.SetStartedAt)
		set += fmt.Sprintf(", started_at = $%d", len(args))
	} else if update.ClearStartedAt {
		set += ", started_at = NULL"
	}
	if update.SetCompletedAt != nil {
		args = append(args, *update.SetCompletedAt)
		set += fmt.Sprintf(", completed_at = $%d", len(args))
	} else if update.ClearCompletedAt {
		set += ", completed_at = NULL"
	}

	expected := make([]string, len(update.Expected))
	for i, s := range update.Expected {
		expected[i] = string(s)
	}
	args = append(args, update.TestID, expected)

	row := r.db.QueryRow(ctx, fmt.Sprintf(
		"UPDATE load_tests SET %s WHERE id = $%d AND status = ANY($%d) RETURNING %s",
		set, len(args)-1, len(args), loadTestColumns), args...)

	updated, err := scanLoadTest(row, update.TestID)
	if barrageerrors.IsNotFound(err) {
		// The conditional update matched nothing: either the record is gone
		// or a concurrent transition got there first.
		current, getErr := r.Get(ctx, update.TestID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &barrageerrors.ErrConflict{
			Type:    "load test",
			Value:   update.TestID,
			Status:  string(current.Status),
			Message: fmt.Sprintf("cannot transition to %s", update.Target),
		}
	}
	return updated, err
}

func (r *PostgresLoadTestRepository) Delete(ctx context.Context, id string, ownerID string) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM load_tests WHERE id = $1 AND owner_id = $2 AND status <> $3",
		id, ownerID, string(model.TestRunning))
	if err != nil {
		return errors.WithMessage(err, "error deleting load test")
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id, ownerID, "cannot delete test")
	}
	return nil
}

func (r *PostgresLoadTestRepository) conflictOrNotFound(ctx context.Context, id string, ownerID string, message string) error {
	current, err := r.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return err
	}
	return &barrageerrors.ErrConflict{
		Type:    "load test",
		Value:   id,
		Status:  string(current.Status),
		Message: message,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoadTest(row rowScanner, id string) (*model.LoadTest, error) {
	test := &model.LoadTest{}
	var headers, body []byte
	var status string
	err := row.Scan(
		&test.ID, &test.OwnerID, &test.Name, &test.Description, &test.TargetURL, &test.Method,
		&test.ConcurrentUsers, &test.TotalRequests, &test.DurationSeconds, &test.RequestsPerSecond,
		&headers, &body, &status, &test.StartedAt, &test.CompletedAt, &test.CreatedAt, &test.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, &barrageerrors.ErrNotFound{Type: "load test", Value: id}
	}
	if err != nil {
		return nil, errors.WithMessage(err, "error scanning load test")
	}
	test.Status = model.TestStatus(status)
	if headers != nil {
		if err := json.Unmarshal(headers, &test.Headers); err != nil {
			return nil, errors.WithMessage(err, "error unmarshalling headers")
		}
	}
	if body != nil {
		if err := json.Unmarshal(body, &test.Body); err != nil {
			return nil, errors.WithMessage(err, "error unmarshalling body")
		}
	}
	return test, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithMessage(err, "error marshalling json column")
	}
	// store SQL NULL rather than a json null
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}
