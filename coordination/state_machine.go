package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SegmentStateMachine persists segment transitions. Every write except Reset
// first renews the segment's node locks, so only the lock holder can move a
// segment forward.
type SegmentStateMachine struct {
	store    SegmentStore
	locks    *NodeLockRegistry
	instance Instance
	lockTTL  time.Duration
	settings
}

func NewSegmentStateMachine(store SegmentStore, locks *NodeLockRegistry, instance Instance, lockTTL time.Duration, opts ...Option) (*SegmentStateMachine, error) {
	if store == nil {
		return nil, errors.New("segment store is required")
	}
	if locks == nil {
		return nil, errors.New("node lock registry is required")
	}
	if lockTTL <= 0 {
		return nil, ErrInvalidTTL
	}
	return &SegmentStateMachine{store: store, locks: locks, instance: instance, lockTTL: lockTTL, settings: newSettings(opts)}, nil
}

// Start moves a NOT_STARTED segment to STARTED under this coordinator.
func (m *SegmentStateMachine) Start(ctx context.Context, seg Segment) (Segment, error) {
	next := seg
	next.State = Started
	next.CoordinatorHost = m.instance.Address
	next.HostID = m.instance.ID
	next.StartTime = m.clock.Now().UTC()
	next.EndTime = time.Time{}
	if err := m.Update(ctx, seg, next); err != nil {
		return seg, err
	}
	return next, nil
}

// MarkRunning moves a STARTED segment to RUNNING. The segment is re-read at
// quorum first and must still be STARTED by this coordinator. Ownership is
// decided by instance id; addresses may repeat across instances.
func (m *SegmentStateMachine) MarkRunning(ctx context.Context, seg Segment) (Segment, error) {
	current, ok, err := m.store.GetSegment(ctx, seg.RunID, seg.ID, ReadQuorum)
	if err != nil {
		return seg, fmt.Errorf("read segment %s: %w", seg.ID, err)
	}
	if !ok {
		return seg, fmt.Errorf("segment %s of run %s: %w", seg.ID, seg.RunID, ErrSegmentNotFound)
	}
	if current.State != Started || current.HostID != m.instance.ID {
		m.logger.Warn("segment_start_superseded",
			zap.Stringer("segment_id", seg.ID),
			zap.Stringer("state", current.State),
			zap.String("coordinator_host", current.CoordinatorHost),
		)
		return current, fmt.Errorf("segment %s is %s on %q: %w", seg.ID, current.State, current.CoordinatorHost, ErrLostOwnership)
	}
	next := current
	next.State = Running
	if err := m.Update(ctx, current, next); err != nil {
		return current, err
	}
	return next, nil
}

// Complete moves a RUNNING segment to DONE.
func (m *SegmentStateMachine) Complete(ctx context.Context, seg Segment) (Segment, error) {
	next := seg
	next.State = Done
	next.EndTime = m.clock.Now().UTC()
	if err := m.Update(ctx, seg, next); err != nil {
		return seg, err
	}
	return next, nil
}

// Reset returns a segment to NOT_STARTED with one more failure counted. It
// does not require the node locks so that orphaned segments can be recovered.
func (m *SegmentStateMachine) Reset(ctx context.Context, seg Segment) (Segment, error) {
	next := seg
	next.State = NotStarted
	next.CoordinatorHost = ""
	next.HostID = uuid.Nil
	next.StartTime = time.Time{}
	next.EndTime = time.Time{}
	next.FailCount = seg.FailCount + 1
	if err := CheckTransition(seg, next); err != nil {
		return seg, err
	}
	if err := m.store.UpdateSegment(ctx, next); err != nil {
		return seg, fmt.Errorf("reset segment %s: %w", seg.ID, err)
	}
	m.metrics.transition(next.State)
	m.logger.Info("segment_reset",
		zap.Stringer("run_id", seg.RunID),
		zap.Stringer("segment_id", seg.ID),
		zap.Stringer("from", seg.State),
		zap.Int("fail_count", next.FailCount),
	)
	return next, nil
}

// Update persists next after validating the transition from prev and
// confirming this instance still holds the segment's node locks.
func (m *SegmentStateMachine) Update(ctx context.Context, prev, next Segment) error {
	if err := CheckTransition(prev, next); err != nil {
		return err
	}
	held, err := m.locks.Renew(ctx, next.RunID, next.ID, next.Nodes(), m.lockTTL)
	if err != nil {
		return fmt.Errorf("confirm locks for segment %s: %w", next.ID, err)
	}
	if !held {
		return fmt.Errorf("update segment %s: %w", next.ID, ErrLostOwnership)
	}
	if err := m.store.UpdateSegment(ctx, next); err != nil {
		return fmt.Errorf("update segment %s: %w", next.ID, err)
	}
	m.metrics.transition(next.State)
	m.logger.Debug("segment_updated",
		zap.Stringer("run_id", next.RunID),
		zap.Stringer("segment_id", next.ID),
		zap.Stringer("from", prev.State),
		zap.Stringer("to", next.State),
	)
	return nil
}
