package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrphanSweeper resets segments left STARTED or RUNNING by an instance that
// no longer holds their node locks. It is meant to run on the leader only.
type OrphanSweeper struct {
	segments SegmentStore
	locks    *NodeLockRegistry
	machine  *SegmentStateMachine
	lockTTL  time.Duration
	interval time.Duration
	settings
}

func NewOrphanSweeper(segments SegmentStore, locks *NodeLockRegistry, machine *SegmentStateMachine, lockTTL, interval time.Duration, opts ...Option) (*OrphanSweeper, error) {
	if segments == nil {
		return nil, errors.New("segment store is required")
	}
	if locks == nil || machine == nil {
		return nil, errors.New("node lock registry and state machine are required")
	}
	if lockTTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if interval <= 0 {
		interval = lockTTL
	}
	return &OrphanSweeper{segments: segments, locks: locks, machine: machine, lockTTL: lockTTL, interval: interval, settings: newSettings(opts)}, nil
}

// Run sweeps every interval until ctx is done. Its signature fits LeaderTask.
func (s *OrphanSweeper) Run(ctx context.Context) {
	for {
		if n, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("orphan_sweep_failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("orphan_sweep_reset", zap.Int("segments", n))
		}
		if !sleepWithContext(ctx, s.clock, s.interval) {
			return
		}
	}
}

// Sweep makes one pass over all runs and returns the number of segments reset.
func (s *OrphanSweeper) Sweep(ctx context.Context) (int, error) {
	runIDs, err := s.segments.RunIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}
	total := 0
	for _, runID := range runIDs {
		n, err := s.sweepRun(ctx, runID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *OrphanSweeper) sweepRun(ctx context.Context, runID uuid.UUID) (int, error) {
	lockedSegments, err := s.locks.LockedSegments(ctx, runID)
	if err != nil {
		return 0, err
	}
	locked := make(map[uuid.UUID]struct{}, len(lockedSegments))
	for _, id := range lockedSegments {
		locked[id] = struct{}{}
	}

	reset := 0
	for _, state := range []SegmentState{Started, Running} {
		segments, err := s.segments.SegmentsWithState(ctx, runID, state)
		if err != nil {
			return reset, fmt.Errorf("segments of run %s in %s: %w", runID, state, err)
		}
		for _, seg := range segments {
			if _, ok := locked[seg.ID]; ok {
				continue
			}
			ok, err := s.resetOrphan(ctx, seg)
			if err != nil {
				return reset, err
			}
			if ok {
				reset++
			}
		}
	}
	return reset, nil
}

// resetOrphan claims the segment's nodes to prove nobody works on it, then
// resets it.
func (s *OrphanSweeper) resetOrphan(ctx context.Context, seg Segment) (bool, error) {
	nodes := seg.Nodes()
	if len(nodes) == 0 {
		return false, nil
	}
	ok, err := s.locks.Lock(ctx, seg.RunID, seg.ID, nodes, s.lockTTL)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if _, err := s.locks.Release(context.WithoutCancel(ctx), seg.RunID, seg.ID, nodes); err != nil {
			s.logger.Warn("orphan_release_failed", zap.Stringer("segment_id", seg.ID), zap.Error(err))
		}
	}()
	current, found, err := s.segments.GetSegment(ctx, seg.RunID, seg.ID, ReadQuorum)
	if err != nil {
		return false, err
	}
	if !found || (current.State != Started && current.State != Running) {
		return false, nil
	}
	if _, err := s.machine.Reset(ctx, current); err != nil {
		return false, err
	}
	s.metrics.orphanReset()
	s.logger.Info("orphan_segment_reset", zap.Stringer("run_id", seg.RunID), zap.Stringer("segment_id", seg.ID), zap.String("coordinator_host", current.CoordinatorHost))
	return true, nil
}
