package coordination

import (
	"context"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks repaircoord/coordination Store

// LeaseStore persists leases with conditional writes.
type LeaseStore interface {
	// InsertLease creates the lease only if no live row exists.
	InsertLease(ctx context.Context, lease Lease, ttl time.Duration) (bool, error)
	// RenewLease extends the lease only if lease.OwnerID still owns it.
	RenewLease(ctx context.Context, lease Lease, ttl time.Duration) (bool, error)
	// DeleteLease removes the lease only if owner still owns it.
	DeleteLease(ctx context.Context, leaseID string, owner uuid.UUID) (bool, error)
	ListLeases(ctx context.Context) ([]Lease, error)
}

// HeartbeatStore persists instance liveness records.
type HeartbeatStore interface {
	SaveHeartbeat(ctx context.Context, hb Heartbeat, ttl time.Duration) error
	DeleteHeartbeat(ctx context.Context, instanceID uuid.UUID) error
	ListHeartbeats(ctx context.Context) ([]Heartbeat, error)
}

// NodeLockStore applies node lock batches atomically within one run partition.
type NodeLockStore interface {
	ApplyNodeLocks(ctx context.Context, batch LockBatch) (LockResult, error)
	ListNodeLocks(ctx context.Context, runID uuid.UUID) ([]NodeLock, error)
}

// SegmentStore persists repair segments.
type SegmentStore interface {
	AddSegments(ctx context.Context, segments []Segment) error
	SegmentsForRun(ctx context.Context, runID uuid.UUID) ([]Segment, error)
	SegmentsWithState(ctx context.Context, runID uuid.UUID, state SegmentState) ([]Segment, error)
	GetSegment(ctx context.Context, runID, segmentID uuid.UUID, level ReadLevel) (Segment, bool, error)
	UpdateSegment(ctx context.Context, segment Segment) error
	RunIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Store is the full persistence surface used by the coordination layer.
type Store interface {
	LeaseStore
	HeartbeatStore
	NodeLockStore
	SegmentStore
}
