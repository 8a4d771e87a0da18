package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LockKeeper renews a segment's node locks while work on it is running.
type LockKeeper struct {
	locks    *NodeLockRegistry
	ttl      time.Duration
	interval time.Duration
	settings
}

// NewLockKeeper renews every ttl/3 unless interval is set.
func NewLockKeeper(locks *NodeLockRegistry, ttl, interval time.Duration, opts ...Option) (*LockKeeper, error) {
	if locks == nil {
		return nil, errors.New("node lock registry is required")
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if interval <= 0 {
		interval = ttl / 3
	}
	return &LockKeeper{locks: locks, ttl: ttl, interval: interval, settings: newSettings(opts)}, nil
}

// Keep renews the locks on seg until the returned stop func is called or
// ctx ends. The returned context is cancelled with ErrLostOwnership when a
// renewal does not apply or fails.
func (k *LockKeeper) Keep(ctx context.Context, seg Segment) (context.Context, func()) {
	held, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.renewLoop(held, seg.RunID, seg.ID, seg.Nodes(), cancel)
	}()
	return held, func() {
		cancel(context.Canceled)
		<-done
	}
}

func (k *LockKeeper) renewLoop(ctx context.Context, runID, segmentID uuid.UUID, nodes []string, cancel context.CancelCauseFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-k.clock.After(k.interval):
		}
		ok, err := k.locks.Renew(ctx, runID, segmentID, nodes, k.ttl)
		if ctx.Err() != nil {
			return
		}
		if err != nil || !ok {
			fields := []zap.Field{zap.Stringer("run_id", runID), zap.Stringer("segment_id", segmentID), zap.Strings("nodes", nodes)}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			k.logger.Error("segment_lock_renew_failed", fields...)
			cancel(fmt.Errorf("segment %s: %w", segmentID, ErrLostOwnership))
			return
		}
		k.logger.Debug("segment_lock_renewed", zap.Stringer("run_id", runID), zap.Stringer("segment_id", segmentID))
	}
}
