// Package pickup owns the parent pickup request workflow: a small state
// machine (pending -> confirmed -> completed, cancellable until completed)
// guarded by a per-student daily completion quota. All transitions on one
// student's requests are serialized; unrelated students never contend.
package pickup

import (
	"context"
	"time"
)

// Status is a workflow state. Transitions are monotonic; a request never
// re-enters an earlier state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Request is a single pickup workflow instance.
type Request struct {
	ID               string     `json:"id"`
	StudentID        string     `json:"student_id"`
	Status           Status     `json:"status"`
	RequestTime      time.Time  `json:"request_time"`
	ConfirmationTime *time.Time `json:"confirmation_time,omitempty"`
	CompletionTime   *time.Time `json:"completion_time,omitempty"`

	// Version is the store's monotonic change counter, used by the snapshot
	// pull interface. Not part of the boundary record.
	Version uint64 `json:"-"`
}

// Active reports whether the request still blocks a new one for the student.
func (r Request) Active() bool {
	return r.Status == StatusPending || r.Status == StatusConfirmed
}

// Quota is the per-student daily completion tally.
type Quota struct {
	TodayCompletedCount int `json:"today_completed_count"`
}

// Snapshot is the result of the versioned pull interface.
type Snapshot struct {
	Version  uint64    `json:"version"`
	Requests []Request `json:"requests"`
}

// Store persists pickup requests and the per-(student, day) quota counters.
// Transition must be an atomic check-and-set: it succeeds only when the
// request's current status equals from.
type Store interface {
	Insert(ctx context.Context, req Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	// ActiveByStudent returns the student's pending or confirmed request,
	// nil when none exists.
	ActiveByStudent(ctx context.Context, studentID string) (*Request, error)
	// Transition moves a request from one status to another, stamping at
	// into the status' timestamp field. It fails with InvalidState when the
	// current status differs from from, and NotFound for unknown ids.
	Transition(ctx context.Context, id string, from, to Status, at time.Time) (Request, error)
	// Complete moves a confirmed request to completed and bumps the quota
	// counter for day in the same atomic step, so no reader can observe the
	// completed status with a stale count.
	Complete(ctx context.Context, id string, at time.Time, day string) (Request, error)
	// CompletedCount reads the quota counter for a (student, day) pair.
	CompletedCount(ctx context.Context, studentID, day string) (int, error)
	// Since returns requests changed after version, oldest change first,
	// along with the latest version.
	Since(ctx context.Context, version uint64) (Snapshot, error)
}
