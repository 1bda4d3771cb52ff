package pickup

import (
	"context"
	"sort"
	"sync"
	"time"

	"schoolops/internal/apperr"
)

// MemoryStore is the in-memory Store backend used in dev and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]Request
	quota    map[quotaKey]int
	version  uint64
}

type quotaKey struct {
	studentID string
	day       string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]Request),
		quota:    make(map[quotaKey]int),
	}
}

func (s *MemoryStore) Insert(_ context.Context, req Request) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return Request{}, apperr.Duplicate("request %s already exists", req.ID)
	}
	s.version++
	req.Version = s.version
	s.requests[req.ID] = req
	return req, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, apperr.NotFound("pickup request %s not found", id)
	}
	return req, nil
}

func (s *MemoryStore) ActiveByStudent(_ context.Context, studentID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.StudentID == studentID && req.Active() {
			out := req
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status, at time.Time) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, apperr.NotFound("pickup request %s not found", id)
	}
	if req.Status != from {
		return Request{}, apperr.InvalidState("request %s is %s, not %s", id, req.Status, from)
	}

	req.Status = to
	switch to {
	case StatusConfirmed:
		req.ConfirmationTime = &at
	case StatusCompleted:
		req.CompletionTime = &at
	}
	s.version++
	req.Version = s.version
	s.requests[id] = req
	return req, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, at time.Time, day string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, apperr.NotFound("pickup request %s not found", id)
	}
	if req.Status != StatusConfirmed {
		return Request{}, apperr.InvalidState("request %s is %s, not %s", id, req.Status, StatusConfirmed)
	}

	req.Status = StatusCompleted
	req.CompletionTime = &at
	s.version++
	req.Version = s.version
	s.requests[id] = req
	s.quota[quotaKey{req.StudentID, day}]++
	return req, nil
}

func (s *MemoryStore) CompletedCount(_ context.Context, studentID, day string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quota[quotaKey{studentID, day}], nil
}

func (s *MemoryStore) Since(_ context.Context, version uint64) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Version: s.version}
	for _, req := range s.requests {
		if req.Version > version {
			snap.Requests = append(snap.Requests, req)
		}
	}
	sort.Slice(snap.Requests, func(i, j int) bool {
		return snap.Requests[i].Version < snap.Requests[j].Version
	})
	return snap, nil
}
