package schedule

import (
	"context"
	"database/sql"
)

// PostgresStore persists timetable entries and substitutions in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timetable_entries (day_id, period, class_name, subject_name, classroom_name, teacher_id)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.DayID, e.Period, e.ClassName, e.SubjectName, e.ClassroomName, e.TeacherID)
	return err
}

func (s *PostgresStore) InsertSubstitution(ctx context.Context, sub Substitution) (Substitution, error) {
	if err := sub.Validate(); err != nil {
		return Substitution{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO substitutions
			(teacher_id, period_xml_id, day_xml_id, assignment_date,
			 substitution_start_date, substitution_end_date, class_name, subject_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, sub.TeacherID, sub.PeriodXMLID, sub.DayXMLID, sub.AssignmentDate,
		sub.StartDate, sub.EndDate, sub.ClassName, sub.SubjectName)
	if err := row.Scan(&sub.ID); err != nil {
		return Substitution{}, err
	}
	return sub, nil
}

func (s *PostgresStore) EntriesByTeacher(ctx context.Context, teacherID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day_id, period, class_name, subject_name, classroom_name, teacher_id
		FROM timetable_entries
		WHERE teacher_id = $1
		ORDER BY day_id, period
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) EntriesByClass(ctx context.Context, className string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day_id, period, class_name, subject_name, classroom_name, teacher_id
		FROM timetable_entries
		WHERE class_name = $1
		ORDER BY day_id, period
	`, className)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.DayID, &e.Period, &e.ClassName, &e.SubjectName, &e.ClassroomName, &e.TeacherID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SubstitutionsByTeacher(ctx context.Context, teacherID string) ([]Substitution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, teacher_id, period_xml_id, day_xml_id, assignment_date,
		       substitution_start_date, substitution_end_date, class_name, subject_name
		FROM substitutions
		WHERE teacher_id = $1
		ORDER BY id
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubstitutions(rows)
}

func (s *PostgresStore) SubstitutionsByClass(ctx context.Context, className string) ([]Substitution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, teacher_id, period_xml_id, day_xml_id, assignment_date,
		       substitution_start_date, substitution_end_date, class_name, subject_name
		FROM substitutions
		WHERE class_name = $1
		ORDER BY id
	`, className)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubstitutions(rows)
}

func scanSubstitutions(rows *sql.Rows) ([]Substitution, error) {
	var out []Substitution
	for rows.Next() {
		var sub Substitution
		if err := rows.Scan(&sub.ID, &sub.TeacherID, &sub.PeriodXMLID, &sub.DayXMLID, &sub.AssignmentDate,
			&sub.StartDate, &sub.EndDate, &sub.ClassName, &sub.SubjectName); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertPeriod(ctx context.Context, p Period) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (id, number, start_time, end_time)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (number) DO UPDATE SET
			id = EXCLUDED.id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time
	`, p.ID, p.Number, p.StartTime, p.EndTime)
	return err
}

func (s *PostgresStore) Periods(ctx context.Context) ([]Period, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, start_time, end_time FROM periods ORDER BY number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.Number, &p.StartTime, &p.EndTime); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
