package board

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"schoolops/internal/pickup"
	"schoolops/internal/queue"
)

type fakeHash struct {
	data map[string]map[string]string
}

func newFakeHash() *fakeHash {
	return &fakeHash{data: make(map[string]map[string]string)}
}

func (h *fakeHash) HSet(_ context.Context, key, field, value string) error {
	if h.data[key] == nil {
		h.data[key] = make(map[string]string)
	}
	h.data[key][field] = value
	return nil
}

func (h *fakeHash) HDel(_ context.Context, key, field string) error {
	delete(h.data[key], field)
	return nil
}

func (h *fakeHash) Expire(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

func message(t *testing.T, status pickup.Status, req pickup.Request) queue.Message {
	t.Helper()
	req.Status = status
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return queue.Message{Type: "pickup." + string(status), Body: body}
}

func TestBoardFollowsLifecycle(t *testing.T) {
	hash := newFakeHash()
	p := NewProjector(hash, nil, time.UTC)
	ctx := context.Background()

	req := pickup.Request{
		ID:          "r1",
		StudentID:   "s1",
		RequestTime: time.Date(2024, 3, 11, 14, 0, 0, 0, time.UTC),
	}
	key := Key("2024-03-11")

	if err := p.Apply(ctx, message(t, pickup.StatusPending, req)); err != nil {
		t.Fatalf("apply pending: %v", err)
	}
	if _, ok := hash.data[key]["s1"]; !ok {
		t.Fatalf("expected board entry after pending, got %+v", hash.data)
	}

	if err := p.Apply(ctx, message(t, pickup.StatusConfirmed, req)); err != nil {
		t.Fatalf("apply confirmed: %v", err)
	}
	var shown pickup.Request
	if err := json.Unmarshal([]byte(hash.data[key]["s1"]), &shown); err != nil {
		t.Fatalf("unmarshal board entry: %v", err)
	}
	if shown.Status != pickup.StatusConfirmed {
		t.Fatalf("expected confirmed on board, got %s", shown.Status)
	}

	if err := p.Apply(ctx, message(t, pickup.StatusCompleted, req)); err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	if _, ok := hash.data[key]["s1"]; ok {
		t.Fatalf("expected removal after completion, got %+v", hash.data)
	}
}

func TestBoardRemovesCancelled(t *testing.T) {
	hash := newFakeHash()
	p := NewProjector(hash, nil, time.UTC)
	ctx := context.Background()

	req := pickup.Request{
		ID:          "r1",
		StudentID:   "s1",
		RequestTime: time.Date(2024, 3, 11, 14, 0, 0, 0, time.UTC),
	}
	if err := p.Apply(ctx, message(t, pickup.StatusPending, req)); err != nil {
		t.Fatalf("apply pending: %v", err)
	}
	if err := p.Apply(ctx, message(t, pickup.StatusCancelled, req)); err != nil {
		t.Fatalf("apply cancelled: %v", err)
	}
	if len(hash.data[Key("2024-03-11")]) != 0 {
		t.Fatalf("expected empty board, got %+v", hash.data)
	}
}

func TestBoardIgnoresForeignMessages(t *testing.T) {
	hash := newFakeHash()
	p := NewProjector(hash, nil, time.UTC)
	if err := p.Apply(context.Background(), queue.Message{Type: "something.else"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(hash.data) != 0 {
		t.Fatalf("expected untouched board, got %+v", hash.data)
	}
}
