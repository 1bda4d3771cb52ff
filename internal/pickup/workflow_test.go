package pickup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schoolops/internal/apperr"
	"schoolops/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWorkflow(t *testing.T) (*Workflow, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)}
	wf := NewWorkflow(NewMemoryStore(), nil, nil, 3, WithClock(clock.Now))
	return wf, clock
}

func runToCompleted(t *testing.T, wf *Workflow, studentID string) Request {
	t.Helper()
	ctx := context.Background()
	req, err := wf.Request(ctx, studentID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := wf.Confirm(ctx, req.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	done, err := wf.Complete(ctx, req.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return done
}

func TestLifecycle(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusPending || req.RequestTime.IsZero() {
		t.Fatalf("expected pending with request_time, got %+v", req)
	}

	confirmed, err := wf.Confirm(ctx, req.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed || confirmed.ConfirmationTime == nil {
		t.Fatalf("expected confirmed with confirmation_time, got %+v", confirmed)
	}

	completed, err := wf.Complete(ctx, req.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted || completed.CompletionTime == nil {
		t.Fatalf("expected completed with completion_time, got %+v", completed)
	}

	quota, err := wf.QuotaToday(ctx, "s1")
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if quota.TodayCompletedCount != 1 {
		t.Fatalf("expected 1 completed today, got %d", quota.TodayCompletedCount)
	}
}

func TestSecondRequestConflicts(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()

	if _, err := wf.Request(ctx, "s1"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := wf.Request(ctx, "s1"); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	// A confirmed request still blocks a new one.
	active, err := wf.Snapshot(ctx, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := wf.Confirm(ctx, active.Requests[0].ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := wf.Request(ctx, "s1"); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for confirmed request, got %v", err)
	}
}

func TestCancelFreesStudent(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	cancelled, err := wf.Cancel(ctx, req.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Cancellations do not count toward the quota and free the student.
	quota, err := wf.QuotaToday(ctx, "s1")
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if quota.TodayCompletedCount != 0 {
		t.Fatalf("cancel must not count toward quota, got %d", quota.TodayCompletedCount)
	}
	if _, err := wf.Request(ctx, "s1"); err != nil {
		t.Fatalf("new request after cancel: %v", err)
	}
}

func TestCancelConfirmedRequest(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := wf.Confirm(ctx, req.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	cancelled, err := wf.Cancel(ctx, req.ID)
	if err != nil {
		t.Fatalf("cancel confirmed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestInvalidTransitions(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// Complete before confirm.
	if _, err := wf.Complete(ctx, req.ID); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}

	if _, err := wf.Confirm(ctx, req.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Confirm twice.
	if _, err := wf.Confirm(ctx, req.ID); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid state on double confirm, got %v", err)
	}

	if _, err := wf.Complete(ctx, req.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// No re-entry into an earlier state.
	if _, err := wf.Cancel(ctx, req.ID); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Fatalf("expected invalid state cancelling completed, got %v", err)
	}
}

func TestUnknownRequest(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	if _, err := wf.Confirm(context.Background(), "nope"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDailyQuota(t *testing.T) {
	wf, clock := newTestWorkflow(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		runToCompleted(t, wf, "s1")
	}
	if _, err := wf.Request(ctx, "s1"); apperr.KindOf(err) != apperr.KindQuotaExceeded {
		t.Fatalf("expected quota exceeded on 4th request, got %v", err)
	}

	quota, err := wf.QuotaToday(ctx, "s1")
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if quota.TodayCompletedCount != 3 {
		t.Fatalf("expected 3 completed, got %d", quota.TodayCompletedCount)
	}

	// Other students are unaffected.
	if _, err := wf.Request(ctx, "s2"); err != nil {
		t.Fatalf("other student blocked: %v", err)
	}

	// The count resets at the day boundary.
	clock.Advance(24 * time.Hour)
	if _, err := wf.Request(ctx, "s1"); err != nil {
		t.Fatalf("expected fresh quota next day, got %v", err)
	}
	quota, err = wf.QuotaToday(ctx, "s1")
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if quota.TodayCompletedCount != 0 {
		t.Fatalf("expected reset count, got %d", quota.TodayCompletedCount)
	}
}

// gatedStore parks Complete between entry and release once armed, to widen
// the window between the status write and any concurrent request.
type gatedStore struct {
	*MemoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Complete(ctx context.Context, id string, at time.Time, day string) (Request, error) {
	if s.armed.Load() {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.MemoryStore.Complete(ctx, id, at, day)
}

func TestCompleteAndQuotaAreAtomic(t *testing.T) {
	store := &gatedStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	clock := &fakeClock{now: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)}
	wf := NewWorkflow(store, nil, nil, 3, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		runToCompleted(t, wf, "s1")
	}

	third, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if _, err := wf.Confirm(ctx, third.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	store.armed.Store(true)
	completeErr := make(chan error, 1)
	go func() {
		_, err := wf.Complete(ctx, third.ID)
		completeErr <- err
	}()
	<-store.entered

	// The third completion is mid-write. A request issued now must wait for
	// it and then see the full count of 3.
	requestErr := make(chan error, 1)
	go func() {
		_, err := wf.Request(ctx, "s1")
		requestErr <- err
	}()

	store.armed.Store(false)
	close(store.release)

	if err := <-completeErr; err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := <-requestErr; apperr.KindOf(err) != apperr.KindQuotaExceeded {
		t.Fatalf("expected quota exceeded for the racing request, got %v", err)
	}

	count, err := store.CompletedCount(ctx, "s1", "2024-03-11")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 completed pickups, got %d", count)
	}
}

func TestConcurrentConfirmSingleWinner(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wf.Confirm(ctx, req.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, invalid int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case apperr.KindOf(err) == apperr.KindInvalidState:
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one confirm must win, got %d", succeeded)
	}
	if invalid != racers-1 {
		t.Fatalf("expected %d invalid-state losers, got %d", racers-1, invalid)
	}
}

func TestSnapshotVersions(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()

	req1, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	snap, err := wf.Snapshot(ctx, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Requests) != 1 || snap.Requests[0].ID != req1.ID {
		t.Fatalf("expected one change, got %+v", snap)
	}
	cursor := snap.Version

	// No changes since the cursor.
	snap, err = wf.Snapshot(ctx, cursor)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Requests) != 0 {
		t.Fatalf("expected no changes, got %d", len(snap.Requests))
	}

	if _, err := wf.Confirm(ctx, req1.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	snap, err = wf.Snapshot(ctx, cursor)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Requests) != 1 || snap.Requests[0].Status != StatusConfirmed {
		t.Fatalf("expected the confirm change, got %+v", snap)
	}
	if snap.Version <= cursor {
		t.Fatalf("version must advance, got %d after %d", snap.Version, cursor)
	}
}

func TestTransitionsArePublished(t *testing.T) {
	q := queue.NewInMemory(16)
	clock := &fakeClock{now: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)}
	wf := NewWorkflow(NewMemoryStore(), q, nil, 3, WithClock(clock.Now))
	ctx := context.Background()

	req, err := wf.Request(ctx, "s1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := wf.Confirm(ctx, req.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	want := []string{"pickup.pending", "pickup.confirmed"}
	for _, expected := range want {
		select {
		case msg := <-messages:
			if msg.Type != expected {
				t.Fatalf("expected %s, got %s", expected, msg.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", expected)
		}
	}
}
