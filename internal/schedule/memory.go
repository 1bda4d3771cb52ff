package schedule

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-memory Store backend used in dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	subs    []Substitution
	periods map[int]Period
	nextSub int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{periods: make(map[int]Period), nextSub: 1}
}

func (s *MemoryStore) InsertEntry(_ context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) InsertSubstitution(_ context.Context, sub Substitution) (Substitution, error) {
	if err := sub.Validate(); err != nil {
		return Substitution{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.nextSub
		s.nextSub++
	} else if sub.ID >= s.nextSub {
		s.nextSub = sub.ID + 1
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *MemoryStore) EntriesByTeacher(_ context.Context, teacherID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.TeacherID == teacherID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) EntriesByClass(_ context.Context, className string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.ClassName == className {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) SubstitutionsByTeacher(_ context.Context, teacherID string) ([]Substitution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Substitution
	for _, sub := range s.subs {
		if sub.TeacherID == teacherID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *MemoryStore) SubstitutionsByClass(_ context.Context, className string) ([]Substitution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Substitution
	for _, sub := range s.subs {
		if sub.ClassName == className {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertPeriod(_ context.Context, p Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[p.Number] = p
	return nil
}

func (s *MemoryStore) Periods(_ context.Context) ([]Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Period, 0, len(s.periods))
	for _, p := range s.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
