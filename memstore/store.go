// Package memstore keeps coordination state in process memory. Conditional
// writes are serialized by one mutex, which gives them the same all-or-nothing
// semantics as a single-partition CAS on a real store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"repaircoord/coordination"
	"repaircoord/ring"
)

type leaseRow struct {
	lease     coordination.Lease
	expiresAt time.Time
}

type heartbeatRow struct {
	hb        coordination.Heartbeat
	expiresAt time.Time
}

type lockRow struct {
	lock      coordination.NodeLock
	expiresAt time.Time
}

type lockKey struct {
	runID uuid.UUID
	node  string
}

type segmentKey struct {
	runID     uuid.UUID
	segmentID uuid.UUID
}

// Store is an in-memory coordination.Store.
type Store struct {
	now func() time.Time

	mu         sync.Mutex
	leases     map[string]leaseRow
	heartbeats map[uuid.UUID]heartbeatRow
	locks      map[lockKey]lockRow
	segments   map[segmentKey]coordination.Segment
}

var _ coordination.Store = (*Store)(nil)

// New returns an empty store. A nil now uses the wall clock.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:        now,
		leases:     make(map[string]leaseRow),
		heartbeats: make(map[uuid.UUID]heartbeatRow),
		locks:      make(map[lockKey]lockRow),
		segments:   make(map[segmentKey]coordination.Segment),
	}
}

func live(expiresAt, now time.Time) bool {
	return expiresAt.IsZero() || now.Before(expiresAt)
}

func (s *Store) InsertLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if row, ok := s.leases[lease.LeaseID]; ok && live(row.expiresAt, now) {
		return false, nil
	}
	lease.LastRenewal = now.UTC()
	s.leases[lease.LeaseID] = leaseRow{lease: lease, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) RenewLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	row, ok := s.leases[lease.LeaseID]
	if !ok || !live(row.expiresAt, now) || row.lease.OwnerID != lease.OwnerID {
		return false, nil
	}
	lease.LastRenewal = now.UTC()
	s.leases[lease.LeaseID] = leaseRow{lease: lease, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) DeleteLease(ctx context.Context, leaseID string, owner uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.leases[leaseID]
	if !ok || !live(row.expiresAt, s.now()) || row.lease.OwnerID != owner {
		return false, nil
	}
	delete(s.leases, leaseID)
	return true, nil
}

func (s *Store) ListLeases(ctx context.Context) ([]coordination.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	leases := make([]coordination.Lease, 0, len(s.leases))
	for _, row := range s.leases {
		if live(row.expiresAt, now) {
			leases = append(leases, row.lease)
		}
	}
	return leases, nil
}

func (s *Store) SaveHeartbeat(ctx context.Context, hb coordination.Heartbeat, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	hb.LastHeartbeat = now.UTC()
	s.heartbeats[hb.InstanceID] = heartbeatRow{hb: hb, expiresAt: now.Add(ttl)}
	return nil
}

func (s *Store) DeleteHeartbeat(ctx context.Context, instanceID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heartbeats, instanceID)
	return nil
}

func (s *Store) ListHeartbeats(ctx context.Context) ([]coordination.Heartbeat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]coordination.Heartbeat, 0, len(s.heartbeats))
	for _, row := range s.heartbeats {
		if live(row.expiresAt, now) {
			out = append(out, row.hb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID.String() < out[j].InstanceID.String() })
	return out, nil
}

// ApplyNodeLocks checks every node's condition before writing any of them.
func (s *Store) ApplyNodeLocks(ctx context.Context, batch coordination.LockBatch) (coordination.LockResult, error) {
	if err := ctx.Err(); err != nil {
		return coordination.LockResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	current := make([]coordination.NodeLock, 0, len(batch.Nodes))
	applies := true
	for _, node := range batch.Nodes {
		lock := s.currentLock(batch.RunID, node, now)
		current = append(current, lock)
		switch batch.Op {
		case coordination.LockAcquire:
			applies = applies && !lock.Held()
		default:
			applies = applies && lock.OwnerID == batch.Owner
		}
	}
	if !applies {
		return coordination.LockResult{Applied: false, Conflicts: current}, nil
	}

	for _, node := range batch.Nodes {
		key := lockKey{runID: batch.RunID, node: node}
		if batch.Op == coordination.LockRelease {
			s.locks[key] = lockRow{lock: coordination.NodeLock{RunID: batch.RunID, Node: node}}
			continue
		}
		s.locks[key] = lockRow{
			lock: coordination.NodeLock{
				RunID:        batch.RunID,
				Node:         node,
				OwnerID:      batch.Owner,
				OwnerAddress: batch.OwnerAddress,
				SegmentID:    batch.SegmentID,
			},
			expiresAt: now.Add(batch.TTL),
		}
	}
	return coordination.LockResult{Applied: true}, nil
}

func (s *Store) currentLock(runID uuid.UUID, node string, now time.Time) coordination.NodeLock {
	row, ok := s.locks[lockKey{runID: runID, node: node}]
	if !ok || !live(row.expiresAt, now) {
		return coordination.NodeLock{RunID: runID, Node: node}
	}
	return row.lock
}

func (s *Store) ListNodeLocks(ctx context.Context, runID uuid.UUID) ([]coordination.NodeLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]coordination.NodeLock, 0)
	for key := range s.locks {
		if key.runID != runID {
			continue
		}
		out = append(out, s.currentLock(runID, key.node, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out, nil
}

func (s *Store) AddSegments(ctx context.Context, segments []coordination.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range segments {
		s.segments[segmentKey{runID: seg.RunID, segmentID: seg.ID}] = cloneSegment(seg)
	}
	return nil
}

func (s *Store) SegmentsForRun(ctx context.Context, runID uuid.UUID) ([]coordination.Segment, error) {
	return s.filterSegments(ctx, runID, func(coordination.Segment) bool { return true })
}

func (s *Store) SegmentsWithState(ctx context.Context, runID uuid.UUID, state coordination.SegmentState) ([]coordination.Segment, error) {
	return s.filterSegments(ctx, runID, func(seg coordination.Segment) bool { return seg.State == state })
}

func (s *Store) filterSegments(ctx context.Context, runID uuid.UUID, keep func(coordination.Segment) bool) ([]coordination.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]coordination.Segment, 0)
	for key, seg := range s.segments {
		if key.runID == runID && keep(seg) {
			out = append(out, cloneSegment(seg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) GetSegment(ctx context.Context, runID, segmentID uuid.UUID, _ coordination.ReadLevel) (coordination.Segment, bool, error) {
	if err := ctx.Err(); err != nil {
		return coordination.Segment{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segmentKey{runID: runID, segmentID: segmentID}]
	if !ok {
		return coordination.Segment{}, false, nil
	}
	return cloneSegment(seg), true, nil
}

func (s *Store) UpdateSegment(ctx context.Context, segment coordination.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := segment.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := segmentKey{runID: segment.RunID, segmentID: segment.ID}
	if _, ok := s.segments[key]; !ok {
		return coordination.ErrSegmentNotFound
	}
	s.segments[key] = cloneSegment(segment)
	return nil
}

func (s *Store) RunIDs(ctx context.Context) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0)
	for key := range s.segments {
		if _, ok := seen[key.runID]; ok {
			continue
		}
		seen[key.runID] = struct{}{}
		ids = append(ids, key.runID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func cloneSegment(seg coordination.Segment) coordination.Segment {
	if seg.Replicas != nil {
		replicas := make(map[string]string, len(seg.Replicas))
		for k, v := range seg.Replicas {
			replicas[k] = v
		}
		seg.Replicas = replicas
	}
	if seg.TokenRanges != nil {
		seg.TokenRanges = append([]ring.Range(nil), seg.TokenRanges...)
	}
	return seg
}
