package cassandra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"repaircoord/coordination"
	"repaircoord/ring"
)

// Store implements coordination.Store on Cassandra lightweight transactions.
type Store struct {
	session     *gocql.Session
	retrier     *Retrier
	consistency gocql.Consistency
	stmts       statements
	logger      *zap.Logger
}

var _ coordination.Store = (*Store)(nil)

type storeOptions struct {
	logger      *zap.Logger
	consistency gocql.Consistency
	policy      RetryPolicy
	timeFn      string
}

// Option configures a Store.
type Option func(*storeOptions)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConsistency sets the level of statements that are not lock or lease
// writes. LOCAL_QUORUM is required on clusters that reject LOCAL_ONE.
func WithConsistency(c gocql.Consistency) Option {
	return func(o *storeOptions) { o.consistency = c }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *storeOptions) { o.policy = p }
}

// WithTimeFunction skips release version detection.
func WithTimeFunction(fn string) Option {
	return func(o *storeOptions) { o.timeFn = fn }
}

// NewStore prepares a store on an open session. Unless WithTimeFunction is
// given, the release versions of all nodes decide between dateOf and
// toTimestamp.
func NewStore(ctx context.Context, session *gocql.Session, opts ...Option) (*Store, error) {
	o := storeOptions{
		logger:      zap.NewNop(),
		consistency: gocql.LocalOne,
		policy:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		session:     session,
		retrier:     NewRetrier(o.policy, o.logger),
		consistency: o.consistency,
		logger:      o.logger,
	}
	if o.timeFn == "" {
		versions, err := s.releaseVersions(ctx)
		if err != nil {
			return nil, err
		}
		if o.timeFn, err = timeFunction(versions); err != nil {
			return nil, err
		}
		s.logger.Info("cassandra_time_function_selected",
			zap.String("function", o.timeFn),
			zap.Strings("release_versions", versions),
		)
	}
	s.stmts = newStatements(o.timeFn)
	return s, nil
}

func (s *Store) releaseVersions(ctx context.Context) ([]string, error) {
	var versions []string
	for _, stmt := range []string{stmtLocalVersion, stmtPeerVersions} {
		err := s.retrier.Do(ctx, "release_version", true, func(ctx context.Context) error {
			iter := s.session.Query(stmt).WithContext(ctx).Consistency(gocql.One).Iter()
			var found []string
			var version string
			for iter.Scan(&version) {
				found = append(found, version)
			}
			if err := iter.Close(); err != nil {
				return err
			}
			versions = append(versions, found...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read release versions: %w", err)
		}
	}
	return versions, nil
}

func (s *Store) query(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return s.session.Query(stmt, values...).WithContext(ctx).Consistency(s.consistency)
}

// lwt prepares a conditional statement at QUORUM with SERIAL paxos.
func (s *Store) lwt(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return s.session.Query(stmt, values...).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		SerialConsistency(gocql.Serial)
}

func ttlSeconds(ttl time.Duration) int {
	secs := int(ttl / time.Second)
	if secs < 1 && ttl > 0 {
		secs = 1
	}
	return secs
}

// toCQL maps uuid.Nil to null so conditions like IF owner_id = ? match free rows.
func toCQL(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return gocql.UUID(id)
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func fromCQL(id gocql.UUID) uuid.UUID {
	return uuid.UUID(id)
}

func (s *Store) InsertLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	var (
		applied   bool
		current   map[string]any
		ambiguous bool
	)
	err := s.retrier.Do(ctx, "insert_lease", true, func(ctx context.Context) error {
		var err error
		current = map[string]any{}
		applied, err = s.lwt(ctx, s.stmts.insertLease,
			lease.LeaseID, toCQL(lease.OwnerID), lease.OwnerAddress, ttlSeconds(ttl),
		).MapScanCAS(current)
		if err != nil && mayHaveApplied(err) {
			ambiguous = true
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("insert lease %s: %w", lease.LeaseID, err)
	}
	return leaseInserted(applied, ambiguous, lease.OwnerID, current), nil
}

// leaseInserted decides the outcome of an insert. A rejected insert only
// counts as ours when an earlier attempt may have applied and the row it
// found names the caller.
func leaseInserted(applied, ambiguous bool, owner uuid.UUID, current map[string]any) bool {
	if applied {
		return true
	}
	if !ambiguous {
		return false
	}
	found, ok := current["owner_id"].(gocql.UUID)
	return ok && fromCQL(found) == owner
}

func (s *Store) RenewLease(ctx context.Context, lease coordination.Lease, ttl time.Duration) (bool, error) {
	var applied bool
	err := s.retrier.Do(ctx, "renew_lease", true, func(ctx context.Context) error {
		var err error
		applied, err = s.lwt(ctx, s.stmts.renewLease,
			ttlSeconds(ttl), toCQL(lease.OwnerID), lease.OwnerAddress, lease.LeaseID, toCQL(lease.OwnerID),
		).MapScanCAS(map[string]any{})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", lease.LeaseID, err)
	}
	return applied, nil
}

func (s *Store) DeleteLease(ctx context.Context, leaseID string, owner uuid.UUID) (bool, error) {
	var applied bool
	err := s.retrier.Do(ctx, "delete_lease", true, func(ctx context.Context) error {
		var err error
		applied, err = s.lwt(ctx, stmtDeleteLease, leaseID, toCQL(owner)).MapScanCAS(map[string]any{})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete lease %s: %w", leaseID, err)
	}
	return applied, nil
}

func (s *Store) ListLeases(ctx context.Context) ([]coordination.Lease, error) {
	var leases []coordination.Lease
	err := s.retrier.Do(ctx, "list_leases", true, func(ctx context.Context) error {
		leases = leases[:0]
		iter := s.query(ctx, stmtListLeases).Iter()
		var (
			leaseID, address string
			owner            gocql.UUID
			renewal          time.Time
		)
		for iter.Scan(&leaseID, &owner, &address, &renewal) {
			leases = append(leases, coordination.Lease{
				LeaseID:      leaseID,
				OwnerID:      fromCQL(owner),
				OwnerAddress: address,
				LastRenewal:  renewal.UTC(),
			})
		}
		return iter.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	sort.Slice(leases, func(i, j int) bool { return leases[i].LeaseID < leases[j].LeaseID })
	return leases, nil
}

func (s *Store) SaveHeartbeat(ctx context.Context, hb coordination.Heartbeat, ttl time.Duration) error {
	err := s.retrier.Do(ctx, "save_heartbeat", true, func(ctx context.Context) error {
		return s.query(ctx, s.stmts.saveHeartbeat, toCQL(hb.InstanceID), hb.Address, ttlSeconds(ttl)).Exec()
	})
	if err != nil {
		return fmt.Errorf("save heartbeat %s: %w", hb.InstanceID, err)
	}
	return nil
}

func (s *Store) DeleteHeartbeat(ctx context.Context, instanceID uuid.UUID) error {
	err := s.retrier.Do(ctx, "delete_heartbeat", true, func(ctx context.Context) error {
		return s.query(ctx, stmtDeleteHeartbeat, toCQL(instanceID)).Exec()
	})
	if err != nil {
		return fmt.Errorf("delete heartbeat %s: %w", instanceID, err)
	}
	return nil
}

func (s *Store) ListHeartbeats(ctx context.Context) ([]coordination.Heartbeat, error) {
	var beats []coordination.Heartbeat
	err := s.retrier.Do(ctx, "list_heartbeats", true, func(ctx context.Context) error {
		beats = beats[:0]
		iter := s.query(ctx, stmtListHeartbeats).Iter()
		var (
			id      gocql.UUID
			address string
			last    time.Time
		)
		for iter.Scan(&id, &address, &last) {
			beats = append(beats, coordination.Heartbeat{
				InstanceID:    fromCQL(id),
				Address:       address,
				LastHeartbeat: last.UTC(),
			})
		}
		return iter.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	sort.Slice(beats, func(i, j int) bool { return beats[i].InstanceID.String() < beats[j].InstanceID.String() })
	return beats, nil
}

// ApplyNodeLocks runs one logged batch of conditional updates on the run
// partition. Every statement shares the run key, so paxos applies all of them
// or none.
func (s *Store) ApplyNodeLocks(ctx context.Context, batch coordination.LockBatch) (coordination.LockResult, error) {
	var (
		owner, segment, address, condition any
	)
	switch batch.Op {
	case coordination.LockAcquire:
		owner, segment, address, condition = toCQL(batch.Owner), toCQL(batch.SegmentID), batch.OwnerAddress, nil
	case coordination.LockRenew:
		owner, segment, address, condition = toCQL(batch.Owner), toCQL(batch.SegmentID), batch.OwnerAddress, toCQL(batch.Owner)
	case coordination.LockRelease:
		condition = toCQL(batch.Owner)
	default:
		return coordination.LockResult{}, fmt.Errorf("unsupported lock op %d", int(batch.Op))
	}

	var (
		result    coordination.LockResult
		ambiguous bool
	)
	err := s.retrier.Do(ctx, "node_locks_"+batch.Op.String(), true, func(ctx context.Context) error {
		b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		b.SetConsistency(gocql.Quorum)
		b.SerialConsistency(gocql.Serial)
		for _, node := range batch.Nodes {
			b.Entries = append(b.Entries, gocql.BatchEntry{
				Stmt:       stmtUpdateNodeLock,
				Args:       []any{ttlSeconds(batch.TTL), address, owner, segment, toCQL(batch.RunID), node, condition},
				Idempotent: true,
			})
		}
		first := map[string]any{}
		applied, iter, err := s.session.MapExecuteBatchCAS(b, first)
		if err != nil {
			if iter != nil {
				_ = iter.Close()
			}
			if mayHaveApplied(err) {
				ambiguous = true
			}
			return err
		}
		result = coordination.LockResult{Applied: applied}
		if applied {
			return iter.Close()
		}
		result.Conflicts = append(result.Conflicts, lockFromRow(batch.RunID, first))
		for row := map[string]any{}; iter.MapScan(row); row = map[string]any{} {
			result.Conflicts = append(result.Conflicts, lockFromRow(batch.RunID, row))
		}
		return iter.Close()
	})
	if err != nil {
		return coordination.LockResult{}, fmt.Errorf("%s node locks for run %s: %w", batch.Op, batch.RunID, err)
	}
	if recoveredAcquire(batch, result, ambiguous) {
		// An earlier attempt applied before its response was lost.
		s.logger.Debug("node_lock_acquire_already_applied",
			zap.Stringer("run_id", batch.RunID),
			zap.Stringer("segment_id", batch.SegmentID),
		)
		return coordination.LockResult{Applied: true}, nil
	}
	return result, nil
}

// recoveredAcquire reports whether a rejected acquire is really the echo of an
// earlier attempt of the same call that timed out after applying.
func recoveredAcquire(batch coordination.LockBatch, result coordination.LockResult, ambiguous bool) bool {
	return !result.Applied && ambiguous && batch.Op == coordination.LockAcquire && alreadyOwned(batch, result.Conflicts)
}

// alreadyOwned reports whether the conflict rows show every node of batch held
// by the caller for the same segment. Another goroutine of the same instance
// produces the same rows, so this is only meaningful after an ambiguous attempt.
func alreadyOwned(batch coordination.LockBatch, conflicts []coordination.NodeLock) bool {
	if len(conflicts) == 0 {
		return false
	}
	covered := make(map[string]struct{}, len(conflicts))
	for _, c := range conflicts {
		if c.OwnerID != batch.Owner || c.SegmentID != batch.SegmentID {
			return false
		}
		covered[c.Node] = struct{}{}
	}
	for _, node := range batch.Nodes {
		if _, ok := covered[node]; !ok {
			return false
		}
	}
	return true
}

// lockFromRow reads a conflict row. Rows for never-written nodes only carry
// the key columns.
func lockFromRow(runID uuid.UUID, row map[string]any) coordination.NodeLock {
	lock := coordination.NodeLock{RunID: runID}
	if v, ok := row["node"].(string); ok {
		lock.Node = v
	}
	if v, ok := row["owner_id"].(gocql.UUID); ok {
		lock.OwnerID = fromCQL(v)
	}
	if v, ok := row["owner_address"].(string); ok {
		lock.OwnerAddress = v
	}
	if v, ok := row["segment_id"].(gocql.UUID); ok {
		lock.SegmentID = fromCQL(v)
	}
	return lock
}

// ListNodeLocks reads the run partition at QUORUM so that recent paxos
// commits are visible.
func (s *Store) ListNodeLocks(ctx context.Context, runID uuid.UUID) ([]coordination.NodeLock, error) {
	var locks []coordination.NodeLock
	err := s.retrier.Do(ctx, "list_node_locks", true, func(ctx context.Context) error {
		locks = locks[:0]
		iter := s.session.Query(stmtListNodeLocks, toCQL(runID)).WithContext(ctx).Consistency(gocql.Quorum).Iter()
		var (
			run, owner, segment gocql.UUID
			node, address       string
		)
		for iter.Scan(&run, &node, &owner, &address, &segment) {
			locks = append(locks, coordination.NodeLock{
				RunID:        fromCQL(run),
				Node:         node,
				OwnerID:      fromCQL(owner),
				OwnerAddress: address,
				SegmentID:    fromCQL(segment),
			})
		}
		return iter.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("list node locks for run %s: %w", runID, err)
	}
	return locks, nil
}

func (s *Store) AddSegments(ctx context.Context, segments []coordination.Segment) error {
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
		ranges, err := ring.MarshalRanges(seg.TokenRanges)
		if err != nil {
			return fmt.Errorf("encode token ranges of segment %s: %w", seg.ID, err)
		}
		err = s.retrier.Do(ctx, "add_segment", true, func(ctx context.Context) error {
			return s.query(ctx, stmtInsertSegment,
				toCQL(seg.RunID), toCQL(seg.ID), toCQL(seg.RepairUnitID), ranges, seg.Replicas, int(seg.State), seg.FailCount,
			).Exec()
		})
		if err != nil {
			return fmt.Errorf("add segment %s: %w", seg.ID, err)
		}
	}
	return nil
}

func (s *Store) SegmentsForRun(ctx context.Context, runID uuid.UUID) ([]coordination.Segment, error) {
	return s.readSegments(ctx, runID, s.consistency, nil)
}

// SegmentsWithState filters the run partition in process. Started segments
// are read at LOCAL_QUORUM since they are written at EACH_QUORUM.
func (s *Store) SegmentsWithState(ctx context.Context, runID uuid.UUID, state coordination.SegmentState) ([]coordination.Segment, error) {
	cl := s.consistency
	if state == coordination.Started {
		cl = gocql.LocalQuorum
	}
	return s.readSegments(ctx, runID, cl, func(seg coordination.Segment) bool { return seg.State == state })
}

func (s *Store) readSegments(ctx context.Context, runID uuid.UUID, cl gocql.Consistency, keep func(coordination.Segment) bool) ([]coordination.Segment, error) {
	var segments []coordination.Segment
	err := s.retrier.Do(ctx, "read_segments", true, func(ctx context.Context) error {
		segments = segments[:0]
		iter := s.session.Query(stmtSegmentsForRun, toCQL(runID)).WithContext(ctx).Consistency(cl).Iter()
		for {
			seg, ok, err := scanSegment(iter)
			if err != nil {
				_ = iter.Close()
				return err
			}
			if !ok {
				break
			}
			if keep == nil || keep(seg) {
				segments = append(segments, seg)
			}
		}
		return iter.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("read segments of run %s: %w", runID, err)
	}
	return segments, nil
}

type segmentRow struct {
	runID, segmentID, unitID, hostID gocql.UUID
	ranges, coordinator              string
	replicas                         map[string]string
	state, failCount                 int
	startTime, endTime               time.Time
}

func (r *segmentRow) dest() []any {
	return []any{
		&r.runID, &r.segmentID, &r.unitID, &r.ranges, &r.replicas, &r.state,
		&r.coordinator, &r.startTime, &r.endTime, &r.failCount, &r.hostID,
	}
}

func (r *segmentRow) segment() (coordination.Segment, error) {
	ranges, err := ring.UnmarshalRanges(r.ranges)
	if err != nil {
		return coordination.Segment{}, fmt.Errorf("decode token ranges of segment %s: %w", fromCQL(r.segmentID), err)
	}
	seg := coordination.Segment{
		ID:              fromCQL(r.segmentID),
		RunID:           fromCQL(r.runID),
		RepairUnitID:    fromCQL(r.unitID),
		TokenRanges:     ranges,
		Replicas:        r.replicas,
		State:           coordination.SegmentState(r.state),
		CoordinatorHost: r.coordinator,
		FailCount:       r.failCount,
		HostID:          fromCQL(r.hostID),
	}
	if !r.startTime.IsZero() {
		seg.StartTime = r.startTime.UTC()
	}
	if !r.endTime.IsZero() {
		seg.EndTime = r.endTime.UTC()
	}
	return seg, nil
}

func scanSegment(iter *gocql.Iter) (coordination.Segment, bool, error) {
	var row segmentRow
	if !iter.Scan(row.dest()...) {
		return coordination.Segment{}, false, nil
	}
	seg, err := row.segment()
	if err != nil {
		return coordination.Segment{}, false, err
	}
	return seg, true, nil
}

func (s *Store) GetSegment(ctx context.Context, runID, segmentID uuid.UUID, level coordination.ReadLevel) (coordination.Segment, bool, error) {
	cl := s.consistency
	if level == coordination.ReadQuorum {
		cl = gocql.Quorum
	}
	var (
		seg   coordination.Segment
		found bool
	)
	err := s.retrier.Do(ctx, "get_segment", true, func(ctx context.Context) error {
		var row segmentRow
		err := s.session.Query(stmtGetSegment, toCQL(runID), toCQL(segmentID)).
			WithContext(ctx).Consistency(cl).Scan(row.dest()...)
		if errors.Is(err, gocql.ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		if seg, err = row.segment(); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return coordination.Segment{}, false, fmt.Errorf("get segment %s: %w", segmentID, err)
	}
	return seg, found, nil
}

// UpdateSegment writes the mutable columns in one unlogged single-partition
// batch. End time is only touched when it is set or must be cleared.
// A segment moving to Started is written at EACH_QUORUM.
func (s *Store) UpdateSegment(ctx context.Context, seg coordination.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}
	cl := s.consistency
	if seg.State == coordination.Started {
		cl = gocql.EachQuorum
	}
	err := s.retrier.Do(ctx, "update_segment", true, func(ctx context.Context) error {
		b := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		b.SetConsistency(cl)
		b.Entries = append(b.Entries, gocql.BatchEntry{
			Stmt: stmtUpdateSegment,
			Args: []any{
				toCQL(seg.RunID), toCQL(seg.ID), int(seg.State), nullableText(seg.CoordinatorHost),
				nullableTime(seg.StartTime), seg.FailCount, toCQL(seg.HostID),
			},
			Idempotent: true,
		})
		if !seg.EndTime.IsZero() || seg.State == coordination.NotStarted {
			b.Entries = append(b.Entries, gocql.BatchEntry{
				Stmt:       stmtUpdateSegmentEndTime,
				Args:       []any{toCQL(seg.RunID), toCQL(seg.ID), nullableTime(seg.EndTime)},
				Idempotent: true,
			})
		}
		return s.session.ExecuteBatch(b)
	})
	if err != nil {
		return fmt.Errorf("update segment %s: %w", seg.ID, err)
	}
	return nil
}

func (s *Store) RunIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.retrier.Do(ctx, "run_ids", true, func(ctx context.Context) error {
		ids = ids[:0]
		iter := s.query(ctx, stmtRunIDs).Iter()
		var id gocql.UUID
		for iter.Scan(&id) {
			ids = append(ids, fromCQL(id))
		}
		return iter.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}
