package attendance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"schoolops/internal/apperr"
)

// PostgresStore persists attendance marks in Postgres. The session identity
// (student, date, class, period) is a unique index.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, mark Mark) error {
	if err := mark.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_marks
			(student_id, class_time_num, class_name, subject_name, teacher_name,
			 is_present, is_absent, is_late, is_excused, excuse_note, mark_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, mark.StudentID, mark.ClassTimeNum, mark.ClassName, mark.SubjectName, mark.TeacherName,
		mark.IsPresent, mark.IsAbsent, mark.IsLate, mark.IsExcused, mark.ExcuseNote, mark.Date)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Duplicate("mark already exists for %s on %s period %d", mark.StudentID, mark.Date, mark.ClassTimeNum)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) MarksByStudent(ctx context.Context, studentID string) ([]Mark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, class_time_num, class_name, subject_name, teacher_name,
		       is_present, is_absent, is_late, is_excused, excuse_note, mark_date
		FROM attendance_marks
		WHERE student_id = $1
		ORDER BY mark_date DESC, class_time_num
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarks(rows)
}

func (s *PostgresStore) MarksByDate(ctx context.Context, date string) ([]Mark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, class_time_num, class_name, subject_name, teacher_name,
		       is_present, is_absent, is_late, is_excused, excuse_note, mark_date
		FROM attendance_marks
		WHERE mark_date = $1
		ORDER BY class_name, class_time_num
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarks(rows)
}

func scanMarks(rows *sql.Rows) ([]Mark, error) {
	var out []Mark
	for rows.Next() {
		var m Mark
		if err := rows.Scan(&m.StudentID, &m.ClassTimeNum, &m.ClassName, &m.SubjectName, &m.TeacherName,
			&m.IsPresent, &m.IsAbsent, &m.IsLate, &m.IsExcused, &m.ExcuseNote, &m.Date); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
