package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repaircoord/coordination"
	"repaircoord/ring"
)

type manualTime struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func newTestStore() (*Store, *manualTime) {
	clock := &manualTime{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(clock.Now), clock
}

func TestLeaseExpiry(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()
	a := coordination.Lease{LeaseID: "scheduler", OwnerID: uuid.New()}
	b := coordination.Lease{LeaseID: "scheduler", OwnerID: uuid.New()}

	ok, err := store.InsertLease(ctx, a, 90*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(89 * time.Second)
	ok, err = store.InsertLease(ctx, b, 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Second)
	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Empty(t, leases)

	ok, err = store.RenewLease(ctx, a, 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "expired lease cannot be renewed")

	ok, err = store.InsertLease(ctx, b, 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNodeLockRowsSurviveRelease(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()
	run, owner := uuid.New(), uuid.New()

	res, err := store.ApplyNodeLocks(ctx, coordination.LockBatch{
		Op: coordination.LockAcquire, RunID: run, SegmentID: uuid.New(), Owner: owner,
		Nodes: []string{"n1", "n2"}, TTL: time.Minute,
	})
	require.NoError(t, err)
	require.True(t, res.Applied)

	res, err = store.ApplyNodeLocks(ctx, coordination.LockBatch{
		Op: coordination.LockRelease, RunID: run, Owner: owner, Nodes: []string{"n1"},
	})
	require.NoError(t, err)
	require.True(t, res.Applied)

	locks, err := store.ListNodeLocks(ctx, run)
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.False(t, locks[0].Held())
	assert.True(t, locks[1].Held())

	clock.Advance(2 * time.Minute)
	locks, err = store.ListNodeLocks(ctx, run)
	require.NoError(t, err)
	for _, l := range locks {
		assert.False(t, l.Held(), l.Node)
	}
}

func TestSegmentsAreCopied(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	seg := coordination.Segment{
		ID:          uuid.New(),
		RunID:       uuid.New(),
		TokenRanges: []ring.Range{ring.NewRange(0, 10)},
		Replicas:    map[string]string{"n1": "dc1"},
	}
	require.NoError(t, store.AddSegments(ctx, []coordination.Segment{seg}))
	seg.Replicas["n2"] = "dc1"

	got, ok, err := store.GetSegment(ctx, seg.RunID, seg.ID, coordination.ReadQuorum)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Replicas, 1)

	got.Replicas["n3"] = "dc1"
	again, _, err := store.GetSegment(ctx, seg.RunID, seg.ID, coordination.ReadQuorum)
	require.NoError(t, err)
	assert.Len(t, again.Replicas, 1)
}

func TestUpdateSegment(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	seg := coordination.Segment{ID: uuid.New(), RunID: uuid.New(), Replicas: map[string]string{"n1": "dc1"}}

	assert.ErrorIs(t, store.UpdateSegment(ctx, seg), coordination.ErrSegmentNotFound)

	require.NoError(t, store.AddSegments(ctx, []coordination.Segment{seg}))
	done := seg
	done.State = coordination.Done
	assert.Error(t, store.UpdateSegment(ctx, done), "done without end time")

	done.EndTime = time.Now()
	require.NoError(t, store.UpdateSegment(ctx, done))
	inState, err := store.SegmentsWithState(ctx, seg.RunID, coordination.Done)
	require.NoError(t, err)
	assert.Len(t, inState, 1)

	ids, err := store.RunIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{seg.RunID}, ids)
}

func TestCancelledContext(t *testing.T) {
	store, _ := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.ListHeartbeats(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
