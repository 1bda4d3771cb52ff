package scan

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"schoolops/internal/apperr"
)

// PostgresLedger persists scan events in Postgres. Uniqueness of both the
// event id and the (student, bus, type, timestamp) identity is enforced by
// the schema, so concurrent duplicate submissions collapse to one row.
type PostgresLedger struct {
	db  *sql.DB
	loc *time.Location
}

// NewPostgresLedger creates a ledger over an open connection.
func NewPostgresLedger(db *sql.DB, loc *time.Location) *PostgresLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresLedger{db: db, loc: loc}
}

func (l *PostgresLedger) Record(ctx context.Context, evt Event) (Event, error) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO scan_events (id, student_id, bus_id, scan_type, scan_time, location)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.ID, evt.StudentID, evt.BusID, string(evt.Type), evt.ScanTime, evt.Location)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, lookupErr := l.findExisting(ctx, evt)
			if lookupErr == nil && existing != nil {
				return *existing, apperr.Duplicate("scan already recorded for %s on %s at %s", evt.StudentID, evt.BusID, evt.ScanTime)
			}
			return evt, apperr.Duplicate("scan already recorded for %s on %s at %s", evt.StudentID, evt.BusID, evt.ScanTime)
		}
		return Event{}, err
	}
	return evt, nil
}

func (l *PostgresLedger) findExisting(ctx context.Context, evt Event) (*Event, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, student_id, bus_id, scan_type, scan_time, location
		FROM scan_events
		WHERE id = $1
		   OR (student_id = $2 AND bus_id = $3 AND scan_type = $4 AND scan_time = $5)
		LIMIT 1
	`, evt.ID, evt.StudentID, evt.BusID, string(evt.Type), evt.ScanTime)
	var out Event
	var scanType string
	if err := row.Scan(&out.ID, &out.StudentID, &out.BusID, &scanType, &out.ScanTime, &out.Location); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	out.Type = Type(scanType)
	return &out, nil
}

func (l *PostgresLedger) EventsForDay(ctx context.Context, busID string, day time.Time) ([]Event, error) {
	dayStart := time.Date(day.In(l.loc).Year(), day.In(l.loc).Month(), day.In(l.loc).Day(), 0, 0, 0, 0, l.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, student_id, bus_id, scan_type, scan_time, location
		FROM scan_events
		WHERE bus_id = $1 AND scan_time >= $2 AND scan_time < $3
		ORDER BY scan_time
	`, busID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		var scanType string
		if err := rows.Scan(&evt.ID, &evt.StudentID, &evt.BusID, &scanType, &evt.ScanTime, &evt.Location); err != nil {
			return nil, err
		}
		evt.Type = Type(scanType)
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) UpsertStudent(ctx context.Context, st Student) error {
	if st.ID == "" {
		return apperr.Validation("student id required")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO students (id, full_name, class_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			class_name = EXCLUDED.class_name
	`, st.ID, st.FullName, st.ClassName)
	return err
}

func (l *PostgresLedger) Student(ctx context.Context, id string) (*Student, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, full_name, class_name FROM students WHERE id = $1
	`, id)
	var st Student
	if err := row.Scan(&st.ID, &st.FullName, &st.ClassName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}
