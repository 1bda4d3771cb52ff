// Package board projects pickup transition events into the gate display
// board: a per-day hash of student -> request state that a lobby screen
// polls. The projection is rebuilt from the queue, so it can lag but never
// blocks the workflow.
package board

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schoolops/internal/pickup"
	"schoolops/internal/queue"
)

// Hash is the subset of hash operations the projection needs.
type Hash interface {
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key, field string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisHash adapts a redis client to Hash.
type RedisHash struct {
	Client *redis.Client
}

func (h RedisHash) HSet(ctx context.Context, key, field, value string) error {
	return h.Client.HSet(ctx, key, field, value).Err()
}

func (h RedisHash) HDel(ctx context.Context, key, field string) error {
	return h.Client.HDel(ctx, key, field).Err()
}

func (h RedisHash) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return h.Client.Expire(ctx, key, ttl).Err()
}

// Projector applies pickup transition messages to the board hash.
type Projector struct {
	hash   Hash
	logger *zap.Logger
	loc    *time.Location
}

// NewProjector creates a projector writing board keys for days in loc.
func NewProjector(hash Hash, logger *zap.Logger, loc *time.Location) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Projector{hash: hash, logger: logger, loc: loc}
}

// Key returns the board hash key for a day.
func Key(day string) string {
	return "pickup:board:" + day
}

// Apply folds one transition message into the board. Unknown message types
// are skipped.
func (p *Projector) Apply(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case "pickup.pending", "pickup.confirmed", "pickup.completed", "pickup.cancelled":
	default:
		return nil
	}

	var req pickup.Request
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		p.logger.Warn("malformed transition payload", zap.String("type", msg.Type), zap.Error(err))
		return nil
	}

	key := Key(req.RequestTime.In(p.loc).Format("2006-01-02"))
	if req.Active() {
		payload, err := json.Marshal(req)
		if err != nil {
			return err
		}
		if err := p.hash.HSet(ctx, key, req.StudentID, string(payload)); err != nil {
			return err
		}
		// The board is only meaningful on its day.
		return p.hash.Expire(ctx, key, 24*time.Hour)
	}
	return p.hash.HDel(ctx, key, req.StudentID)
}

// Run consumes messages until the channel closes or ctx ends.
func (p *Projector) Run(ctx context.Context, messages <-chan queue.Message) {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := p.Apply(ctx, msg); err != nil {
				p.logger.Warn("board update failed", zap.String("type", msg.Type), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
