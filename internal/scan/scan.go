// Package scan holds the append-only bus scan ledger and the ridership view
// derived from it. Events are ordered by their device timestamp, never by
// insertion order, so late-arriving submissions cannot flip a student's
// on-bus state backwards.
package scan

import (
	"context"
	"time"

	"schoolops/internal/apperr"
)

// Type is the canonical scan direction.
type Type string

const (
	TypeBoard Type = "board"
	TypeExit  Type = "exit"
)

// ParseType validates a wire scan type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeBoard, TypeExit:
		return Type(s), nil
	default:
		return "", apperr.Validation("invalid scan_type %q", s)
	}
}

// Event is a single board/exit record. Immutable once recorded.
type Event struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	BusID     string    `json:"bus_id"`
	Type      Type      `json:"scan_type"`
	ScanTime  time.Time `json:"scan_time"`
	Location  string    `json:"location,omitempty"`
}

// Student is the directory record used to enrich roster results.
type Student struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	ClassName string `json:"class_name,omitempty"`
}

// RosterEntry is one student currently on board.
type RosterEntry struct {
	ID        string     `json:"id"`
	FullName  string     `json:"fullName"`
	ClassName string     `json:"class_name,omitempty"`
	BoardTime *time.Time `json:"board_time,omitempty"`
}

// DayCounts are the plain per-day event tallies for a bus.
type DayCounts struct {
	Boarded int `json:"boarded"`
	Exited  int `json:"exited"`
}

// Ledger is the append-only event store. Record must be atomic under
// concurrent writers; reads are consistent snapshots.
type Ledger interface {
	// Record appends an event. An event with the same id, or the same
	// (student, bus, type, timestamp) identity, yields a Duplicate error and
	// the previously stored event.
	Record(ctx context.Context, evt Event) (Event, error)
	// EventsForDay returns all events for a bus on a calendar day.
	EventsForDay(ctx context.Context, busID string, day time.Time) ([]Event, error)
	// UpsertStudent registers or refreshes a directory record.
	UpsertStudent(ctx context.Context, st Student) error
	// Student looks up a directory record; nil when unknown.
	Student(ctx context.Context, id string) (*Student, error)
}

// DayKey collapses a timestamp to its calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
