package pickup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolops/internal/apperr"
	"schoolops/internal/metrics"
	"schoolops/internal/queue"
)

// Workflow drives pickup request transitions. Operations touching one
// student are serialized through a per-student lock; the store's conditional
// Transition is the second line of defense for backends shared across
// processes.
type Workflow struct {
	store      Store
	events     queue.Queue
	logger     *zap.Logger
	dailyQuota int
	loc        *time.Location

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithLocation sets the location used for calendar-day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(w *Workflow) { w.loc = loc }
}

// NewWorkflow creates a workflow over a store. Transition events are
// published to events when it is non-nil; dailyQuota caps completed pickups
// per student per calendar day.
func NewWorkflow(store Store, events queue.Queue, logger *zap.Logger, dailyQuota int, opts ...Option) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dailyQuota <= 0 {
		dailyQuota = 3
	}
	w := &Workflow{
		store:      store,
		events:     events,
		logger:     logger,
		dailyQuota: dailyQuota,
		loc:        time.UTC,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) lockFor(studentID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[studentID]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[studentID] = lock
	}
	return lock
}

func (w *Workflow) dayKey(t time.Time) string {
	return t.In(w.loc).Format("2006-01-02")
}

// Request opens a new pending pickup request for a student. It fails with
// Conflict when the student already has an active request and with
// QuotaExceeded when today's completed count has reached the cap.
func (w *Workflow) Request(ctx context.Context, studentID string) (Request, error) {
	if studentID == "" {
		return Request{}, apperr.Validation("student_id required")
	}

	lock := w.lockFor(studentID)
	lock.Lock()
	defer lock.Unlock()

	active, err := w.store.ActiveByStudent(ctx, studentID)
	if err != nil {
		return Request{}, err
	}
	if active != nil {
		metrics.PickupRejections.WithLabelValues("conflict").Inc()
		return Request{}, apperr.Conflict("student %s already has an active pickup request", studentID)
	}

	now := w.now()
	completed, err := w.store.CompletedCount(ctx, studentID, w.dayKey(now))
	if err != nil {
		return Request{}, err
	}
	if completed >= w.dailyQuota {
		metrics.PickupRejections.WithLabelValues("quota").Inc()
		return Request{}, apperr.QuotaExceeded("student %s reached %d completed pickups today", studentID, w.dailyQuota)
	}

	req := Request{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		Status:      StatusPending,
		RequestTime: now,
	}
	stored, err := w.store.Insert(ctx, req)
	if err != nil {
		return Request{}, err
	}

	w.announce(ctx, stored)
	return stored, nil
}

// Confirm moves a pending request to confirmed (the parent has arrived).
func (w *Workflow) Confirm(ctx context.Context, requestID string) (Request, error) {
	return w.transition(ctx, requestID, StatusPending, StatusConfirmed)
}

// Complete moves a confirmed request to completed and bumps the student's
// daily quota counter. The student lock is held across both writes, and the
// store performs them as one atomic step, so a racing Request can never see
// the completed status with a stale count.
func (w *Workflow) Complete(ctx context.Context, requestID string) (Request, error) {
	current, err := w.store.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}

	lock := w.lockFor(current.StudentID)
	lock.Lock()
	defer lock.Unlock()

	now := w.now()
	req, err := w.store.Complete(ctx, requestID, now, w.dayKey(now))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidState {
			metrics.PickupRejections.WithLabelValues("invalid_state").Inc()
		}
		return Request{}, err
	}

	w.announce(ctx, req)
	return req, nil
}

// Cancel aborts a pending or confirmed request. Cancellations never count
// toward the daily quota.
func (w *Workflow) Cancel(ctx context.Context, requestID string) (Request, error) {
	req, err := w.transition(ctx, requestID, StatusPending, StatusCancelled)
	if err == nil {
		return req, nil
	}
	if apperr.KindOf(err) != apperr.KindInvalidState {
		return Request{}, err
	}
	return w.transition(ctx, requestID, StatusConfirmed, StatusCancelled)
}

func (w *Workflow) transition(ctx context.Context, requestID string, from, to Status) (Request, error) {
	current, err := w.store.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}

	lock := w.lockFor(current.StudentID)
	lock.Lock()
	defer lock.Unlock()

	req, err := w.store.Transition(ctx, requestID, from, to, w.now())
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidState {
			metrics.PickupRejections.WithLabelValues("invalid_state").Inc()
		}
		return Request{}, err
	}

	w.announce(ctx, req)
	return req, nil
}

// announce publishes the transition after the state write is durable. The
// display board and other projections consume these; delivery is best-effort
// and never fails the transition itself.
func (w *Workflow) announce(ctx context.Context, req Request) {
	metrics.PickupTransitions.WithLabelValues(string(req.Status)).Inc()
	w.logger.Info("pickup transition",
		zap.String("request_id", req.ID),
		zap.String("student_id", req.StudentID),
		zap.String("status", string(req.Status)),
	)
	if w.events == nil {
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := w.events.Publish(ctx, queue.Message{Type: "pickup." + string(req.Status), Body: body}); err != nil {
		w.logger.Warn("transition publish failed", zap.Error(err))
	}
}

// QuotaToday reports how many pickups completed for the student today.
func (w *Workflow) QuotaToday(ctx context.Context, studentID string) (Quota, error) {
	count, err := w.store.CompletedCount(ctx, studentID, w.dayKey(w.now()))
	if err != nil {
		return Quota{}, err
	}
	return Quota{TodayCompletedCount: count}, nil
}

// Get returns one request.
func (w *Workflow) Get(ctx context.Context, requestID string) (Request, error) {
	return w.store.Get(ctx, requestID)
}

// Snapshot returns all requests changed since the given version, for
// polling consumers.
func (w *Workflow) Snapshot(ctx context.Context, sinceVersion uint64) (Snapshot, error) {
	return w.store.Since(ctx, sinceVersion)
}
