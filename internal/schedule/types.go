// Package schedule merges recurring timetable entries with date-scoped
// substitution assignments into an effective weekly schedule.
package schedule

import (
	"context"
	"time"

	"schoolops/internal/apperr"
)

// Day describes a weekday cell header. IDs run Monday=1 through Sunday=7.
type Day struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Short string `json:"short"`
}

// Days returns the fixed weekday records.
func Days() []Day {
	return []Day{
		{ID: 1, Name: "Monday", Short: "Mon"},
		{ID: 2, Name: "Tuesday", Short: "Tue"},
		{ID: 3, Name: "Wednesday", Short: "Wed"},
		{ID: 4, Name: "Thursday", Short: "Thu"},
		{ID: 5, Name: "Friday", Short: "Fri"},
		{ID: 6, Name: "Saturday", Short: "Sat"},
		{ID: 7, Name: "Sunday", Short: "Sun"},
	}
}

// Period describes one lesson slot of the day.
type Period struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// Entry is a recurring weekly timetable cell. It carries no date.
type Entry struct {
	DayID         int    `json:"dayId"`
	Period        int    `json:"period"`
	ClassName     string `json:"className"`
	SubjectName   string `json:"subjectName"`
	ClassroomName string `json:"classroomName,omitempty"`
	TeacherID     string `json:"-"`
}

// Validate checks the cell coordinates.
func (e Entry) Validate() error {
	if e.DayID < 1 || e.DayID > 7 {
		return apperr.Validation("dayId must be 1..7, got %d", e.DayID)
	}
	if e.Period <= 0 {
		return apperr.Validation("period must be positive")
	}
	if e.ClassName == "" {
		return apperr.Validation("className required")
	}
	return nil
}

// Substitution is a one-off or ranged override of the normal teacher for a
// period. The canonical form carries assignment_date; day_xml_id is the
// legacy fallback keyed by weekday only.
type Substitution struct {
	ID             int64   `json:"-"`
	TeacherID      string  `json:"teacher_id"`
	PeriodXMLID    int     `json:"period_xml_id"`
	DayXMLID       *int    `json:"day_xml_id,omitempty"`
	AssignmentDate *string `json:"assignment_date,omitempty"`
	StartDate      *string `json:"substitution_start_date,omitempty"`
	EndDate        *string `json:"substitution_end_date,omitempty"`
	ClassName      string  `json:"class_name"`
	SubjectName    string  `json:"subject_name"`
}

// Validate checks coordinates and date formats.
func (s Substitution) Validate() error {
	if s.TeacherID == "" {
		return apperr.Validation("teacher_id required")
	}
	if s.PeriodXMLID <= 0 {
		return apperr.Validation("period_xml_id must be positive")
	}
	if s.DayXMLID != nil && (*s.DayXMLID < 1 || *s.DayXMLID > 7) {
		return apperr.Validation("day_xml_id must be 1..7, got %d", *s.DayXMLID)
	}
	for _, d := range []*string{s.AssignmentDate, s.StartDate, s.EndDate} {
		if d == nil {
			continue
		}
		if _, err := time.Parse("2006-01-02", *d); err != nil {
			return apperr.Validation("malformed date %q", *d)
		}
	}
	return nil
}

// CellKind tags the variant held by a schedule cell.
type CellKind string

const (
	CellEmpty       CellKind = "empty"
	CellRegular     CellKind = "regular"
	CellSubstituted CellKind = "substituted"
	// CellBoth carries a regular entry that a substitution overrides, so a
	// consumer can show "normally X, today substituted by Y".
	CellBoth CellKind = "both"
)

// Cell is one (day, period) slot of the resolved week.
type Cell struct {
	DayID        int           `json:"dayId"`
	Period       int           `json:"period"`
	Date         string        `json:"date,omitempty"`
	Kind         CellKind      `json:"kind"`
	Entry        *Entry        `json:"entry,omitempty"`
	Substitution *Substitution `json:"substitution,omitempty"`
}

// Week is the effective schedule for the week containing the anchor date.
type Week struct {
	Anchor string `json:"anchor,omitempty"`
	Cells  []Cell `json:"cells"`
}

// Store holds recurring entries, substitutions and period metadata. All of it
// is externally populated.
type Store interface {
	InsertEntry(ctx context.Context, e Entry) error
	InsertSubstitution(ctx context.Context, s Substitution) (Substitution, error)
	EntriesByTeacher(ctx context.Context, teacherID string) ([]Entry, error)
	EntriesByClass(ctx context.Context, className string) ([]Entry, error)
	SubstitutionsByTeacher(ctx context.Context, teacherID string) ([]Substitution, error)
	SubstitutionsByClass(ctx context.Context, className string) ([]Substitution, error)
	UpsertPeriod(ctx context.Context, p Period) error
	Periods(ctx context.Context) ([]Period, error)
}
