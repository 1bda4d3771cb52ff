package scan

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolops/internal/apperr"
	"schoolops/internal/metrics"
)

// Service derives ridership state from the ledger.
type Service struct {
	ledger Ledger
	logger *zap.Logger
}

// NewService creates a service backed by a ledger.
func NewService(ledger Ledger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, logger: logger}
}

// RecordScan validates and appends a scan event. Resubmitting an identical
// event returns the stored event along with a Duplicate error; callers treat
// that as idempotent success.
func (s *Service) RecordScan(ctx context.Context, evt Event) (Event, error) {
	if evt.StudentID == "" || evt.BusID == "" {
		return Event{}, apperr.Validation("student_id and bus_id required")
	}
	if _, err := ParseType(string(evt.Type)); err != nil {
		return Event{}, err
	}
	if evt.ScanTime.IsZero() {
		return Event{}, apperr.Validation("scan_time required")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	stored, err := s.ledger.Record(ctx, evt)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindDuplicate {
			metrics.ScanDuplicates.Inc()
			return stored, err
		}
		return Event{}, err
	}

	metrics.ScansRecorded.Inc()
	s.logger.Info("scan recorded",
		zap.String("event_id", stored.ID),
		zap.String("student_id", stored.StudentID),
		zap.String("bus_id", stored.BusID),
		zap.String("scan_type", string(stored.Type)),
	)
	return stored, nil
}

// CurrentRoster returns the students whose latest event for (student, bus,
// day) is a board. Latest is decided by event timestamp only; when a board
// and an exit carry the same timestamp the exit wins, so a clock collision
// never strands a phantom rider.
func (s *Service) CurrentRoster(ctx context.Context, busID string, day time.Time) ([]RosterEntry, error) {
	events, err := s.ledger.EventsForDay(ctx, busID, day)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]Event)
	for _, evt := range events {
		cur, ok := latest[evt.StudentID]
		if !ok || supersedes(evt, cur) {
			latest[evt.StudentID] = evt
		}
	}

	var out []RosterEntry
	for studentID, evt := range latest {
		if evt.Type != TypeBoard {
			continue
		}
		entry := RosterEntry{ID: studentID}
		boardTime := evt.ScanTime
		entry.BoardTime = &boardTime
		if st, err := s.ledger.Student(ctx, studentID); err == nil && st != nil {
			entry.FullName = st.FullName
			entry.ClassName = st.ClassName
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// supersedes reports whether candidate replaces current as the student's
// latest event.
func supersedes(candidate, current Event) bool {
	if candidate.ScanTime.After(current.ScanTime) {
		return true
	}
	return candidate.ScanTime.Equal(current.ScanTime) && candidate.Type == TypeExit
}

// DayCounts tallies board and exit events for a bus on a day. The counts are
// plain filters over the day's events, independent of ridership state.
func (s *Service) DayCounts(ctx context.Context, busID string, day time.Time) (DayCounts, error) {
	events, err := s.ledger.EventsForDay(ctx, busID, day)
	if err != nil {
		return DayCounts{}, err
	}
	var counts DayCounts
	for _, evt := range events {
		switch evt.Type {
		case TypeBoard:
			counts.Boarded++
		case TypeExit:
			counts.Exited++
		}
	}
	return counts, nil
}

// RegisterStudent stores or refreshes a directory record for roster display.
func (s *Service) RegisterStudent(ctx context.Context, st Student) error {
	return s.ledger.UpsertStudent(ctx, st)
}
