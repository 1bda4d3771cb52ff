package attendance

import (
	"context"
	"sync"

	"schoolops/internal/apperr"
)

// MemoryStore is the in-memory Store backend used in dev and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	marks []Mark
	seen  map[sessionKey]struct{}
}

type sessionKey struct {
	studentID string
	date      string
	className string
	period    int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[sessionKey]struct{})}
}

func (s *MemoryStore) Insert(_ context.Context, mark Mark) error {
	if err := mark.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{mark.StudentID, mark.Date, mark.ClassName, mark.ClassTimeNum}
	if _, ok := s.seen[key]; ok {
		return apperr.Duplicate("mark already exists for %s on %s period %d", mark.StudentID, mark.Date, mark.ClassTimeNum)
	}
	s.seen[key] = struct{}{}
	s.marks = append(s.marks, mark)
	return nil
}

func (s *MemoryStore) MarksByStudent(_ context.Context, studentID string) ([]Mark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Mark
	for _, m := range s.marks {
		if m.StudentID == studentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarksByDate(_ context.Context, date string) ([]Mark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Mark
	for _, m := range s.marks {
		if m.Date == date {
			out = append(out, m)
		}
	}
	return out, nil
}
