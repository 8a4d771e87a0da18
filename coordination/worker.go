package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repaircoord/ring"
)

// RepairFunc performs the repair of one segment. It must stop when ctx is done.
type RepairFunc func(ctx context.Context, seg Segment) error

// WorkerConfig tunes segment processing.
type WorkerConfig struct {
	LockTTL       time.Duration
	PollInterval  time.Duration
	MaxConcurrent int
	Ranges        []ring.Range
}

// Worker claims candidate segments, runs the repair and persists the outcome.
type Worker struct {
	runs     SegmentStore
	selector *CandidateSelector
	locks    *NodeLockRegistry
	keeper   *LockKeeper
	machine  *SegmentStateMachine
	liveness *LivenessRegistry
	repair   RepairFunc
	cfg      WorkerConfig
	settings
}

// WorkerDeps groups the collaborators of a Worker.
type WorkerDeps struct {
	Runs     SegmentStore
	Selector *CandidateSelector
	Locks    *NodeLockRegistry
	Keeper   *LockKeeper
	Machine  *SegmentStateMachine
	Liveness *LivenessRegistry
	Repair   RepairFunc
}

func NewWorker(deps WorkerDeps, cfg WorkerConfig, opts ...Option) (*Worker, error) {
	switch {
	case deps.Runs == nil:
		return nil, errors.New("segment store is required")
	case deps.Selector == nil:
		return nil, errors.New("candidate selector is required")
	case deps.Locks == nil:
		return nil, errors.New("node lock registry is required")
	case deps.Keeper == nil:
		return nil, errors.New("lock keeper is required")
	case deps.Machine == nil:
		return nil, errors.New("segment state machine is required")
	case deps.Liveness == nil:
		return nil, errors.New("liveness registry is required")
	case deps.Repair == nil:
		return nil, errors.New("repair func is required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLeaseTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Worker{
		runs:     deps.Runs,
		selector: deps.Selector,
		locks:    deps.Locks,
		keeper:   deps.Keeper,
		machine:  deps.Machine,
		liveness: deps.Liveness,
		repair:   deps.Repair,
		cfg:      cfg,
		settings: newSettings(opts),
	}, nil
}

// Run polls for work until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("worker_pass_failed", zap.Error(err))
		}
		if !sleepWithContext(ctx, w.clock, w.cfg.PollInterval) {
			return
		}
	}
}

// RunOnce makes one pass over every run and returns the number of segments
// completed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	runIDs, err := w.runs.RunIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}
	completed := 0
	for _, runID := range runIDs {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		candidates, err := w.selector.NextCandidates(ctx, runID, w.cfg.Ranges)
		if err != nil {
			w.logger.Warn("worker_candidates_failed", zap.Stringer("run_id", runID), zap.Error(err))
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		share, err := w.liveness.Share(ctx, len(candidates))
		if err != nil {
			return completed, err
		}
		n, err := w.processRun(ctx, candidates[:min(share, len(candidates))])
		completed += n
		if err != nil {
			return completed, err
		}
	}
	return completed, nil
}

func (w *Worker) processRun(ctx context.Context, candidates []Segment) (int, error) {
	results := make(chan bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxConcurrent)
	for _, seg := range candidates {
		g.Go(func() error {
			done, err := w.Process(gctx, seg)
			if err != nil {
				if IsInvariant(err) {
					return err
				}
				w.logger.Warn("segment_paused", zap.Stringer("run_id", seg.RunID), zap.Stringer("segment_id", seg.ID), zap.Error(err))
			}
			results <- done
			return nil
		})
	}
	err := g.Wait()
	close(results)
	completed := 0
	for done := range results {
		if done {
			completed++
		}
	}
	return completed, err
}

// Process locks seg's replicas and drives it to DONE, or back to NOT_STARTED
// when the repair fails. It reports whether the segment completed. A false
// result with nil error means the segment was taken by someone else.
func (w *Worker) Process(ctx context.Context, seg Segment) (bool, error) {
	nodes := seg.Nodes()
	locked, err := w.locks.Lock(ctx, seg.RunID, seg.ID, nodes, w.cfg.LockTTL)
	if err != nil || !locked {
		return false, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.LockTTL/3)
		defer cancel()
		if _, relErr := w.locks.Release(releaseCtx, seg.RunID, seg.ID, nodes); relErr != nil {
			w.logger.Warn("segment_lock_release_failed", zap.Stringer("segment_id", seg.ID), zap.Error(relErr))
		}
	}()

	heldCtx, stop := w.keeper.Keep(ctx, seg)
	defer stop()

	started, err := w.machine.Start(heldCtx, seg)
	if err != nil {
		return false, err
	}
	running, err := w.machine.MarkRunning(heldCtx, started)
	if err != nil {
		return false, err
	}

	w.logger.Info("segment_repair_started", zap.Stringer("run_id", seg.RunID), zap.Stringer("segment_id", seg.ID), zap.Strings("nodes", nodes))
	repairErr := w.repair(heldCtx, running)
	if cause := context.Cause(heldCtx); cause != nil && errors.Is(cause, ErrLostOwnership) {
		return false, cause
	}
	if ctx.Err() != nil {
		// shutting down; the sweeper or the lock TTL recovers the segment
		return false, ctx.Err()
	}
	if repairErr != nil {
		w.logger.Warn("segment_repair_failed", zap.Stringer("run_id", seg.RunID), zap.Stringer("segment_id", seg.ID), zap.Error(repairErr))
		if _, err := w.machine.Reset(context.WithoutCancel(heldCtx), running); err != nil {
			return false, err
		}
		return false, nil
	}
	if _, err := w.machine.Complete(heldCtx, running); err != nil {
		return false, err
	}
	w.logger.Info("segment_repair_done", zap.Stringer("run_id", seg.RunID), zap.Stringer("segment_id", seg.ID))
	return true, nil
}
