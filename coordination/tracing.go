package coordination

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of store spans.
const TracerName = "repaircoord/coordination"

const (
	AttrLeaseID   = attribute.Key("coordination.lease_id")
	AttrRunID     = attribute.Key("coordination.run_id")
	AttrSegmentID = attribute.Key("coordination.segment_id")
	AttrLockOp    = attribute.Key("coordination.lock_op")
	AttrNodeCount = attribute.Key("coordination.node_count")
	AttrApplied   = attribute.Key("coordination.applied")
	AttrResults   = attribute.Key("result.count")
)

// TracedStore wraps a Store with one span per call.
type TracedStore struct {
	next   Store
	tracer trace.Tracer
}

// NewTracedStore returns next unchanged when tracer is nil.
func NewTracedStore(next Store, tracer trace.Tracer) Store {
	if tracer == nil {
		return next
	}
	return &TracedStore{next: next, tracer: tracer}
}

func (s *TracedStore) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// recordError keeps the status description generic; details stay on the span event.
func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

func (s *TracedStore) InsertLease(ctx context.Context, lease Lease, ttl time.Duration) (bool, error) {
	ctx, span := s.start(ctx, "lease.insert", AttrLeaseID.String(lease.LeaseID))
	defer span.End()
	applied, err := s.next.InsertLease(ctx, lease, ttl)
	span.SetAttributes(AttrApplied.Bool(applied))
	recordError(span, err)
	return applied, err
}

func (s *TracedStore) RenewLease(ctx context.Context, lease Lease, ttl time.Duration) (bool, error) {
	ctx, span := s.start(ctx, "lease.renew", AttrLeaseID.String(lease.LeaseID))
	defer span.End()
	applied, err := s.next.RenewLease(ctx, lease, ttl)
	span.SetAttributes(AttrApplied.Bool(applied))
	recordError(span, err)
	return applied, err
}

func (s *TracedStore) DeleteLease(ctx context.Context, leaseID string, owner uuid.UUID) (bool, error) {
	ctx, span := s.start(ctx, "lease.delete", AttrLeaseID.String(leaseID))
	defer span.End()
	applied, err := s.next.DeleteLease(ctx, leaseID, owner)
	span.SetAttributes(AttrApplied.Bool(applied))
	recordError(span, err)
	return applied, err
}

func (s *TracedStore) ListLeases(ctx context.Context) ([]Lease, error) {
	ctx, span := s.start(ctx, "lease.list")
	defer span.End()
	leases, err := s.next.ListLeases(ctx)
	span.SetAttributes(AttrResults.Int(len(leases)))
	recordError(span, err)
	return leases, err
}

func (s *TracedStore) SaveHeartbeat(ctx context.Context, hb Heartbeat, ttl time.Duration) error {
	ctx, span := s.start(ctx, "heartbeat.save")
	defer span.End()
	err := s.next.SaveHeartbeat(ctx, hb, ttl)
	recordError(span, err)
	return err
}

func (s *TracedStore) DeleteHeartbeat(ctx context.Context, instanceID uuid.UUID) error {
	ctx, span := s.start(ctx, "heartbeat.delete")
	defer span.End()
	err := s.next.DeleteHeartbeat(ctx, instanceID)
	recordError(span, err)
	return err
}

func (s *TracedStore) ListHeartbeats(ctx context.Context) ([]Heartbeat, error) {
	ctx, span := s.start(ctx, "heartbeat.list")
	defer span.End()
	heartbeats, err := s.next.ListHeartbeats(ctx)
	span.SetAttributes(AttrResults.Int(len(heartbeats)))
	recordError(span, err)
	return heartbeats, err
}

func (s *TracedStore) ApplyNodeLocks(ctx context.Context, batch LockBatch) (LockResult, error) {
	ctx, span := s.start(ctx, "node_lock.apply",
		AttrRunID.String(batch.RunID.String()),
		AttrSegmentID.String(batch.SegmentID.String()),
		AttrLockOp.String(batch.Op.String()),
		AttrNodeCount.Int(len(batch.Nodes)),
	)
	defer span.End()
	res, err := s.next.ApplyNodeLocks(ctx, batch)
	span.SetAttributes(AttrApplied.Bool(res.Applied))
	recordError(span, err)
	return res, err
}

func (s *TracedStore) ListNodeLocks(ctx context.Context, runID uuid.UUID) ([]NodeLock, error) {
	ctx, span := s.start(ctx, "node_lock.list", AttrRunID.String(runID.String()))
	defer span.End()
	locks, err := s.next.ListNodeLocks(ctx, runID)
	span.SetAttributes(AttrResults.Int(len(locks)))
	recordError(span, err)
	return locks, err
}

func (s *TracedStore) AddSegments(ctx context.Context, segments []Segment) error {
	ctx, span := s.start(ctx, "segment.add", AttrResults.Int(len(segments)))
	defer span.End()
	err := s.next.AddSegments(ctx, segments)
	recordError(span, err)
	return err
}

func (s *TracedStore) SegmentsForRun(ctx context.Context, runID uuid.UUID) ([]Segment, error) {
	ctx, span := s.start(ctx, "segment.list", AttrRunID.String(runID.String()))
	defer span.End()
	segments, err := s.next.SegmentsForRun(ctx, runID)
	span.SetAttributes(AttrResults.Int(len(segments)))
	recordError(span, err)
	return segments, err
}

func (s *TracedStore) SegmentsWithState(ctx context.Context, runID uuid.UUID, state SegmentState) ([]Segment, error) {
	ctx, span := s.start(ctx, "segment.list_state", AttrRunID.String(runID.String()), attribute.String("coordination.state", state.String()))
	defer span.End()
	segments, err := s.next.SegmentsWithState(ctx, runID, state)
	span.SetAttributes(AttrResults.Int(len(segments)))
	recordError(span, err)
	return segments, err
}

func (s *TracedStore) GetSegment(ctx context.Context, runID, segmentID uuid.UUID, level ReadLevel) (Segment, bool, error) {
	ctx, span := s.start(ctx, "segment.get", AttrRunID.String(runID.String()), AttrSegmentID.String(segmentID.String()))
	defer span.End()
	seg, ok, err := s.next.GetSegment(ctx, runID, segmentID, level)
	recordError(span, err)
	return seg, ok, err
}

func (s *TracedStore) UpdateSegment(ctx context.Context, segment Segment) error {
	ctx, span := s.start(ctx, "segment.update",
		AttrRunID.String(segment.RunID.String()),
		AttrSegmentID.String(segment.ID.String()),
		attribute.String("coordination.state", segment.State.String()),
	)
	defer span.End()
	err := s.next.UpdateSegment(ctx, segment)
	recordError(span, err)
	return err
}

func (s *TracedStore) RunIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, span := s.start(ctx, "segment.runs")
	defer span.End()
	ids, err := s.next.RunIDs(ctx)
	span.SetAttributes(AttrResults.Int(len(ids)))
	recordError(span, err)
	return ids, err
}
