package sqlserver

import (
	"context"
	"time"

	"github.com/google/uuid"

	"repaircoord/coordination"
)

// Every exported operation runs through retry. Inserts and lock acquisition
// are not idempotent: after a dropped connection their outcome is unknown, so
// only rolled-back failures repeat them.

func (s *Store) InsertLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.retry(ctx, "insert_lease", false, func(ctx context.Context) (err error) {
		ok, err = s.insertLease(ctx, lease, ttl)
		return err
	})
	return ok, err
}

func (s *Store) RenewLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.retry(ctx, "renew_lease", true, func(ctx context.Context) (err error) {
		ok, err = s.renewLease(ctx, lease, ttl)
		return err
	})
	return ok, err
}

func (s *Store) DeleteLease(ctx context.Context, leaseID string, owner uuid.UUID) (bool, error) {
	var ok bool
	err := s.retry(ctx, "delete_lease", true, func(ctx context.Context) (err error) {
		ok, err = s.deleteLease(ctx, leaseID, owner)
		return err
	})
	return ok, err
}

func (s *Store) ListLeases(ctx context.Context) ([]coordination.Lease, error) {
	var leases []coordination.Lease
	err := s.retry(ctx, "list_leases", true, func(ctx context.Context) (err error) {
		leases, err = s.listLeases(ctx)
		return err
	})
	return leases, err
}

func (s *Store) SaveHeartbeat(ctx context.Context, hb coordination.Heartbeat, ttl time.Duration) error {
	return s.retry(ctx, "save_heartbeat", true, func(ctx context.Context) error {
		return s.saveHeartbeat(ctx, hb, ttl)
	})
}

func (s *Store) DeleteHeartbeat(ctx context.Context, instanceID uuid.UUID) error {
	return s.retry(ctx, "delete_heartbeat", true, func(ctx context.Context) error {
		return s.deleteHeartbeat(ctx, instanceID)
	})
}

func (s *Store) ListHeartbeats(ctx context.Context) ([]coordination.Heartbeat, error) {
	var beats []coordination.Heartbeat
	err := s.retry(ctx, "list_heartbeats", true, func(ctx context.Context) (err error) {
		beats, err = s.listHeartbeats(ctx)
		return err
	})
	return beats, err
}

func (s *Store) ApplyNodeLocks(ctx context.Context, batch coordination.LockBatch) (coordination.LockResult, error) {
	var result coordination.LockResult
	idempotent := batch.Op != coordination.LockAcquire
	err := s.retry(ctx, "node_locks_"+batch.Op.String(), idempotent, func(ctx context.Context) (err error) {
		result, err = s.applyNodeLocks(ctx, batch)
		return err
	})
	return result, err
}

func (s *Store) ListNodeLocks(ctx context.Context, runID uuid.UUID) ([]coordination.NodeLock, error) {
	var locks []coordination.NodeLock
	err := s.retry(ctx, "list_node_locks", true, func(ctx context.Context) (err error) {
		locks, err = s.listNodeLocks(ctx, runID)
		return err
	})
	return locks, err
}

func (s *Store) AddSegments(ctx context.Context, segments []coordination.Segment) error {
	return s.retry(ctx, "add_segments", false, func(ctx context.Context) error {
		return s.addSegments(ctx, segments)
	})
}

func (s *Store) SegmentsForRun(ctx context.Context, runID uuid.UUID) ([]coordination.Segment, error) {
	var segments []coordination.Segment
	err := s.retry(ctx, "segments_for_run", true, func(ctx context.Context) (err error) {
		segments, err = s.segmentsForRun(ctx, runID)
		return err
	})
	return segments, err
}

func (s *Store) SegmentsWithState(ctx context.Context, runID uuid.UUID, state coordination.SegmentState) ([]coordination.Segment, error) {
	var segments []coordination.Segment
	err := s.retry(ctx, "segments_with_state", true, func(ctx context.Context) (err error) {
		segments, err = s.segmentsWithState(ctx, runID, state)
		return err
	})
	return segments, err
}

func (s *Store) GetSegment(ctx context.Context, runID, segmentID uuid.UUID, level coordination.ReadLevel) (coordination.Segment, bool, error) {
	var (
		seg   coordination.Segment
		found bool
	)
	err := s.retry(ctx, "get_segment", true, func(ctx context.Context) (err error) {
		seg, found, err = s.getSegment(ctx, runID, segmentID, level)
		return err
	})
	return seg, found, err
}

func (s *Store) UpdateSegment(ctx context.Context, seg coordination.Segment) error {
	return s.retry(ctx, "update_segment", true, func(ctx context.Context) error {
		return s.updateSegment(ctx, seg)
	})
}

func (s *Store) RunIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.retry(ctx, "run_ids", true, func(ctx context.Context) (err error) {
		ids, err = s.runIDs(ctx)
		return err
	})
	return ids, err
}
