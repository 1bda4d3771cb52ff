package scan

import (
	"context"
	"sync"
	"time"

	"schoolops/internal/apperr"
)

// MemoryLedger is the in-memory Ledger backend used in dev and tests.
type MemoryLedger struct {
	mu       sync.RWMutex
	loc      *time.Location
	events   []Event
	byID     map[string]int
	identity map[identityKey]int
	students map[string]Student
}

type identityKey struct {
	studentID string
	busID     string
	scanType  Type
	unixNano  int64
}

// NewMemoryLedger creates an empty ledger keyed to loc for day boundaries.
func NewMemoryLedger(loc *time.Location) *MemoryLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryLedger{
		loc:      loc,
		byID:     make(map[string]int),
		identity: make(map[identityKey]int),
		students: make(map[string]Student),
	}
}

func (l *MemoryLedger) Record(_ context.Context, evt Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := identityKey{evt.StudentID, evt.BusID, evt.Type, evt.ScanTime.UnixNano()}
	if idx, ok := l.identity[key]; ok {
		return l.events[idx], apperr.Duplicate("scan already recorded for %s on %s at %s", evt.StudentID, evt.BusID, evt.ScanTime)
	}
	if idx, ok := l.byID[evt.ID]; ok {
		return l.events[idx], apperr.Duplicate("scan id %s already recorded", evt.ID)
	}

	l.events = append(l.events, evt)
	idx := len(l.events) - 1
	l.byID[evt.ID] = idx
	l.identity[key] = idx
	return evt, nil
}

func (l *MemoryLedger) EventsForDay(_ context.Context, busID string, day time.Time) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	want := DayKey(day, l.loc)
	var out []Event
	for _, evt := range l.events {
		if evt.BusID == busID && DayKey(evt.ScanTime, l.loc) == want {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (l *MemoryLedger) UpsertStudent(_ context.Context, st Student) error {
	if st.ID == "" {
		return apperr.Validation("student id required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.students[st.ID] = st
	return nil
}

func (l *MemoryLedger) Student(_ context.Context, id string) (*Student, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.students[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}
