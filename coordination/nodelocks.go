package coordination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NodeLockRegistry claims the replica nodes of a segment within a run. Every
// call is one conditional batch over the run partition: all nodes or none.
type NodeLockRegistry struct {
	store    NodeLockStore
	instance Instance
	settings
}

func NewNodeLockRegistry(store NodeLockStore, instance Instance, opts ...Option) (*NodeLockRegistry, error) {
	if store == nil {
		return nil, errors.New("node lock store is required")
	}
	if instance.ID == uuid.Nil {
		return nil, errors.New("instance id is required")
	}
	return &NodeLockRegistry{store: store, instance: instance, settings: newSettings(opts)}, nil
}

// Lock claims nodes for segmentID when all of them are free.
func (r *NodeLockRegistry) Lock(ctx context.Context, runID, segmentID uuid.UUID, nodes []string, ttl time.Duration) (bool, error) {
	return r.apply(ctx, LockAcquire, runID, segmentID, nodes, ttl)
}

// Renew extends nodes this instance already owns.
func (r *NodeLockRegistry) Renew(ctx context.Context, runID, segmentID uuid.UUID, nodes []string, ttl time.Duration) (bool, error) {
	return r.apply(ctx, LockRenew, runID, segmentID, nodes, ttl)
}

// Release frees nodes this instance owns.
func (r *NodeLockRegistry) Release(ctx context.Context, runID, segmentID uuid.UUID, nodes []string) (bool, error) {
	return r.apply(ctx, LockRelease, runID, segmentID, nodes, 0)
}

// LockedNodes returns the nodes of runID that currently have an owner.
func (r *NodeLockRegistry) LockedNodes(ctx context.Context, runID uuid.UUID) ([]string, error) {
	locks, err := r.Locks(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodes := make([]string, 0, len(locks))
	for _, lock := range locks {
		nodes = append(nodes, lock.Node)
	}
	return nodes, nil
}

// LockedSegments returns the segments of runID that currently hold node locks.
func (r *NodeLockRegistry) LockedSegments(ctx context.Context, runID uuid.UUID) ([]uuid.UUID, error) {
	locks, err := r.Locks(ctx, runID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(locks))
	segments := make([]uuid.UUID, 0, len(locks))
	for _, lock := range locks {
		if _, ok := seen[lock.SegmentID]; ok {
			continue
		}
		seen[lock.SegmentID] = struct{}{}
		segments = append(segments, lock.SegmentID)
	}
	return segments, nil
}

// Locks returns the held lock rows of runID ordered by node.
func (r *NodeLockRegistry) Locks(ctx context.Context, runID uuid.UUID) ([]NodeLock, error) {
	rows, err := r.store.ListNodeLocks(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list node locks for run %s: %w", runID, err)
	}
	held := make([]NodeLock, 0, len(rows))
	for _, row := range rows {
		if row.Held() {
			held = append(held, row)
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].Node < held[j].Node })
	return held, nil
}

func (r *NodeLockRegistry) apply(ctx context.Context, op LockOp, runID, segmentID uuid.UUID, nodes []string, ttl time.Duration) (bool, error) {
	nodes = normalizeNodes(nodes)
	if len(nodes) == 0 {
		return false, ErrNoNodes
	}
	if op != LockRelease && ttl <= 0 {
		return false, ErrInvalidTTL
	}
	batch := LockBatch{
		Op:           op,
		RunID:        runID,
		SegmentID:    segmentID,
		Nodes:        nodes,
		Owner:        r.instance.ID,
		OwnerAddress: r.instance.Address,
		TTL:          ttl,
	}
	start := time.Now()
	res, err := r.store.ApplyNodeLocks(ctx, batch)
	r.metrics.observe("node_lock_"+op.String(), start)
	r.metrics.nodeLockOp(op.String(), res.Applied, err)
	if err != nil {
		return false, fmt.Errorf("%s nodes %v of run %s: %w", op, nodes, runID, err)
	}
	if !res.Applied {
		r.logConflicts(op, batch, res.Conflicts)
	}
	return res.Applied, nil
}

func (r *NodeLockRegistry) logConflicts(op LockOp, batch LockBatch, conflicts []NodeLock) {
	fields := []zap.Field{
		zap.String("op", op.String()),
		zap.Stringer("run_id", batch.RunID),
		zap.Stringer("segment_id", batch.SegmentID),
		zap.Strings("nodes", batch.Nodes),
	}
	if op == LockAcquire {
		r.logger.Debug("node_lock_contended", fields...)
	} else {
		r.logger.Error("node_lock_lost", fields...)
	}
	for _, c := range conflicts {
		if !c.Held() || c.OwnerID == r.instance.ID && op != LockAcquire {
			continue
		}
		r.logger.Info("node_lock_conflict",
			zap.String("op", op.String()),
			zap.Stringer("run_id", batch.RunID),
			zap.String("node", c.Node),
			zap.Stringer("owner_id", c.OwnerID),
			zap.String("owner_address", c.OwnerAddress),
			zap.Stringer("segment_id", c.SegmentID),
		)
	}
}
