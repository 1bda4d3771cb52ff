// Package attendance stores per-session attendance marks and computes the
// derived statistics and groupings consumed by the rest of the platform.
//
// Status flags are not mutually exclusive in the source data: a session may
// legitimately carry both is_late and is_absent. The store preserves whatever
// combination was written; nothing here normalizes flags.
package attendance

import (
	"context"
	"time"

	"schoolops/internal/apperr"
)

// Mark is one attendance record for a (student, class session) pair.
// A class session is identified by date + class + period.
type Mark struct {
	StudentID    string `json:"student_id"`
	ClassTimeNum int    `json:"class_time_num"`
	ClassName    string `json:"class_name"`
	SubjectName  string `json:"subject_name"`
	TeacherName  string `json:"teacher_name"`
	IsPresent    bool   `json:"is_present"`
	IsAbsent     bool   `json:"is_absent"`
	IsLate       bool   `json:"is_late"`
	IsExcused    bool   `json:"is_excused"`
	ExcuseNote   string `json:"excuse_note,omitempty"`
	Date         string `json:"date"`
}

// Validate checks the fields that identify the session.
func (m Mark) Validate() error {
	if m.StudentID == "" {
		return apperr.Validation("student_id required")
	}
	if m.ClassName == "" {
		return apperr.Validation("class_name required")
	}
	if m.ClassTimeNum <= 0 {
		return apperr.Validation("class_time_num must be positive")
	}
	if _, err := time.Parse("2006-01-02", m.Date); err != nil {
		return apperr.Validation("malformed date %q", m.Date)
	}
	return nil
}

// Statistics is the aggregate view for one student.
type Statistics struct {
	TotalRecords   int    `json:"total_records"`
	AbsentCount    int    `json:"absent_count"`
	LateCount      int    `json:"late_count"`
	ExcusedCount   int    `json:"excused_count"`
	AttendanceRate int    `json:"attendance_rate"`
	BehaviorNote   string `json:"behavior_note,omitempty"`
}

// DayGroup is one calendar day's marks, ordered by period.
type DayGroup struct {
	Date  string `json:"date"`
	Marks []Mark `json:"marks"`
}

// ClassSummary is the per-class tally for one date.
type ClassSummary struct {
	ClassName     string `json:"class_name"`
	TotalStudents int    `json:"total_students"`
	PresentCount  int    `json:"present_count"`
	AbsentCount   int    `json:"absent_count"`
	LateCount     int    `json:"late_count"`
	ExcusedCount  int    `json:"excused_count"`
}

// Store holds attendance marks. Marks are never mutated after insert; exactly
// one mark exists per (student, date, class, period).
type Store interface {
	Insert(ctx context.Context, mark Mark) error
	MarksByStudent(ctx context.Context, studentID string) ([]Mark, error)
	MarksByDate(ctx context.Context, date string) ([]Mark, error)
}
