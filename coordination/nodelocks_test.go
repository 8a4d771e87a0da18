package coordination_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"repaircoord/coordination"
	"repaircoord/coordination/mocks"
)

func TestNodeLockAllOrNothing(t *testing.T) {
	store := newMemStore(nil)
	ctx := context.Background()
	runID := uuid.New()
	a := newLocks(t, store, newInstance("a"))
	b := newLocks(t, store, newInstance("b"))

	ok, err := a.Lock(ctx, runID, uuid.New(), []string{"node2"}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Lock(ctx, runID, uuid.New(), []string{"node1", "node2", "node3"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	nodes, err := b.LockedNodes(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"node2"}, nodes, "a rejected batch must not lock any node")
}

func TestNodeLockConcurrentCallersOneWinner(t *testing.T) {
	store := newMemStore(nil)
	ctx := context.Background()
	runID := uuid.New()
	a := newLocks(t, store, newInstance("a"))
	b := newLocks(t, store, newInstance("b"))
	segA, segB := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	var okA, okB bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		okA, err = a.Lock(ctx, runID, segA, []string{"n1", "n2"}, time.Minute)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		okB, err = b.Lock(ctx, runID, segB, []string{"n2", "n1"}, time.Minute)
		assert.NoError(t, err)
	}()
	wg.Wait()

	require.True(t, okA != okB, "exactly one caller wins")
	winner, winnerSeg := a, segA
	if okB {
		winner, winnerSeg = b, segB
	}

	locks, err := winner.Locks(ctx, runID)
	require.NoError(t, err)
	require.Len(t, locks, 2)
	for _, lock := range locks {
		assert.Equal(t, winnerSeg, lock.SegmentID)
	}
	assert.Equal(t, locks[0].OwnerID, locks[1].OwnerID)

	segments, err := winner.LockedSegments(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{winnerSeg}, segments)
}

func TestNodeLockRenewAndReleaseRequireOwner(t *testing.T) {
	store := newMemStore(nil)
	ctx := context.Background()
	runID, segID := uuid.New(), uuid.New()
	nodes := []string{"n1", "n2"}
	a := newLocks(t, store, newInstance("a"))
	b := newLocks(t, store, newInstance("b"))

	ok, err := a.Lock(ctx, runID, segID, nodes, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Renew(ctx, runID, segID, nodes, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = b.Release(ctx, runID, segID, nodes)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Renew(ctx, runID, segID, nodes, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.Release(ctx, runID, segID, nodes)
	require.NoError(t, err)
	assert.True(t, ok)

	locked, err := a.LockedNodes(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, locked)

	ok, err = b.Lock(ctx, runID, uuid.New(), nodes, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released nodes are free again")
}

func TestNodeLockExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock(epoch)
	store := newMemStore(clock)
	ctx := context.Background()
	runID := uuid.New()
	a := newLocks(t, store, newInstance("a"))
	b := newLocks(t, store, newInstance("b"))

	ok, err := a.Lock(ctx, runID, uuid.New(), []string{"n1"}, 90*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(91 * time.Second)

	ok, err = a.Renew(ctx, runID, uuid.New(), []string{"n1"}, 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "crashed owner's lock is gone")

	ok, err = b.Lock(ctx, runID, uuid.New(), []string{"n1"}, 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNodeLockConflictsAreLogged(t *testing.T) {
	store := newMemStore(nil)
	ctx := context.Background()
	runID := uuid.New()
	logger, logs := newObservedLogger()
	holder := newInstance("holder")
	a := newLocks(t, store, holder)
	b := newLocks(t, store, newInstance("b"), coordination.WithLogger(logger))

	ok, err := a.Lock(ctx, runID, uuid.New(), []string{"n1"}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Lock(ctx, runID, uuid.New(), []string{"n1", "n2"}, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	conflicts := logs.FilterMessage("node_lock_conflict").All()
	require.Len(t, conflicts, 1)
	fields := conflicts[0].ContextMap()
	assert.Equal(t, "n1", fields["node"])
	assert.Equal(t, holder.ID.String(), fields["owner_id"])
	assert.Equal(t, "holder", fields["owner_address"])
}

func TestNodeLockValidation(t *testing.T) {
	a := newLocks(t, newMemStore(nil), newInstance("a"))
	ctx := context.Background()

	_, err := a.Lock(ctx, uuid.New(), uuid.New(), []string{" ", ""}, time.Minute)
	assert.ErrorIs(t, err, coordination.ErrNoNodes)
	_, err = a.Renew(ctx, uuid.New(), uuid.New(), []string{"n1"}, 0)
	assert.ErrorIs(t, err, coordination.ErrInvalidTTL)
}

func TestNodeLockBatchShape(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	instance := newInstance("a")
	runID, segID := uuid.New(), uuid.New()

	store.EXPECT().ApplyNodeLocks(gomock.Any(), coordination.LockBatch{
		Op:           coordination.LockAcquire,
		RunID:        runID,
		SegmentID:    segID,
		Nodes:        []string{"n1", "n2"},
		Owner:        instance.ID,
		OwnerAddress: "a",
		TTL:          time.Minute,
	}).Return(coordination.LockResult{Applied: true}, nil)

	a := newLocks(t, store, instance)
	ok, err := a.Lock(context.Background(), runID, segID, []string{"n2", "n1", "n2"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNodeLockStoreErrorIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	boom := errors.New("unavailable")
	store.EXPECT().ApplyNodeLocks(gomock.Any(), gomock.Any()).Return(coordination.LockResult{}, boom)
	store.EXPECT().ListNodeLocks(gomock.Any(), gomock.Any()).Return(nil, boom)

	a := newLocks(t, store, newInstance("a"))
	ok, err := a.Lock(context.Background(), uuid.New(), uuid.New(), []string{"n1"}, time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	_, err = a.LockedNodes(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
}
