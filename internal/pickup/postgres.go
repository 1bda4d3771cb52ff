package pickup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"schoolops/internal/apperr"
)

// PostgresStore persists pickup requests in Postgres. The check-and-set in
// Transition relies on a conditional UPDATE, so two racing transitions on
// the same request cannot both succeed. Every write bumps the row's version
// from a shared sequence, which drives the snapshot pull interface.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, req Request) (Request, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pickup_requests (id, student_id, status, request_time)
		VALUES ($1, $2, $3, $4)
		RETURNING version
	`, req.ID, req.StudentID, string(req.Status), req.RequestTime)
	if err := row.Scan(&req.Version); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Request{}, apperr.Duplicate("request %s already exists", req.ID)
		}
		return Request{}, err
	}
	return req, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, status, request_time, confirmation_time, completion_time, version
		FROM pickup_requests WHERE id = $1
	`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, apperr.NotFound("pickup request %s not found", id)
		}
		return Request{}, err
	}
	return req, nil
}

func (s *PostgresStore) ActiveByStudent(ctx context.Context, studentID string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, status, request_time, confirmation_time, completion_time, version
		FROM pickup_requests
		WHERE student_id = $1 AND status IN ('pending', 'confirmed')
		LIMIT 1
	`, studentID)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to Status, at time.Time) (Request, error) {
	var column string
	switch to {
	case StatusConfirmed:
		column = "confirmation_time"
	case StatusCompleted:
		column = "completion_time"
	}

	query := `
		UPDATE pickup_requests
		SET status = $1, version = nextval('pickup_version_seq')
		WHERE id = $2 AND status = $3
		RETURNING id, student_id, status, request_time, confirmation_time, completion_time, version
	`
	args := []any{string(to), id, string(from)}
	if column != "" {
		query = `
			UPDATE pickup_requests
			SET status = $1, ` + column + ` = $4, version = nextval('pickup_version_seq')
			WHERE id = $2 AND status = $3
			RETURNING id, student_id, status, request_time, confirmation_time, completion_time, version
		`
		args = append(args, at)
	}

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Request{}, err
	}

	// No row matched: distinguish a missing request from a state mismatch.
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return Request{}, getErr
	}
	return Request{}, apperr.InvalidState("request %s is %s, not %s", id, current.Status, from)
}

func (s *PostgresStore) Complete(ctx context.Context, id string, at time.Time, day string) (Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Request{}, err
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx, `
		UPDATE pickup_requests
		SET status = 'completed', completion_time = $2, version = nextval('pickup_version_seq')
		WHERE id = $1 AND status = 'confirmed'
		RETURNING id, student_id, status, request_time, confirmation_time, completion_time, version
	`, id, at))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Request{}, err
		}
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return Request{}, getErr
		}
		return Request{}, apperr.InvalidState("request %s is %s, not %s", id, current.Status, StatusConfirmed)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pickup_quota (student_id, quota_day, completed_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (student_id, quota_day)
		DO UPDATE SET completed_count = pickup_quota.completed_count + 1
	`, req.StudentID, day); err != nil {
		return Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (s *PostgresStore) CompletedCount(ctx context.Context, studentID, day string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT completed_count FROM pickup_quota
		WHERE student_id = $1 AND quota_day = $2
	`, studentID, day)
	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) Since(ctx context.Context, version uint64) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, status, request_time, confirmation_time, completion_time, version
		FROM pickup_requests
		WHERE version > $1
		ORDER BY version
	`, version)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	snap := Snapshot{Version: version}
	for rows.Next() {
		var req Request
		var status string
		if err := rows.Scan(&req.ID, &req.StudentID, &status, &req.RequestTime,
			&req.ConfirmationTime, &req.CompletionTime, &req.Version); err != nil {
			return Snapshot{}, err
		}
		req.Status = Status(status)
		snap.Requests = append(snap.Requests, req)
		if req.Version > snap.Version {
			snap.Version = req.Version
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	// When nothing changed, still report the latest version so pollers
	// advance their cursor.
	if len(snap.Requests) == 0 {
		row := s.db.QueryRowContext(ctx, `SELECT last_value FROM pickup_version_seq`)
		var last uint64
		if err := row.Scan(&last); err == nil && last > snap.Version {
			snap.Version = last
		}
	}
	return snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var req Request
	var status string
	if err := row.Scan(&req.ID, &req.StudentID, &status, &req.RequestTime,
		&req.ConfirmationTime, &req.CompletionTime, &req.Version); err != nil {
		return Request{}, err
	}
	req.Status = Status(status)
	return req, nil
}
