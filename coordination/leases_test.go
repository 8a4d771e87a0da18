package coordination_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"repaircoord/coordination"
	"repaircoord/coordination/mocks"
)

func newLeases(t *testing.T, store coordination.LeaseStore, instance coordination.Instance, opts ...coordination.Option) *coordination.LeaseRegistry {
	t.Helper()
	leases, err := coordination.NewLeaseRegistry(store, instance, opts...)
	require.NoError(t, err)
	return leases
}

func TestLeaseSingleWinnerUnderContention(t *testing.T) {
	store := newMemStore(nil)
	ctx := context.Background()

	const callers = 8
	registries := make([]*coordination.LeaseRegistry, callers)
	for i := range registries {
		registries[i] = newLeases(t, store, newInstance("10.0.0.1"))
	}

	var wg sync.WaitGroup
	wins := make(chan int, callers)
	for i, reg := range registries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reg.Acquire(ctx, "scheduler", time.Minute)
			assert.NoError(t, err)
			if ok {
				wins <- i
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	for i, reg := range registries {
		ok, err := reg.Renew(ctx, "scheduler", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i == winners[0], ok, "only the winner may renew")
	}
}

func TestLeaseRenewReleaseAndReacquire(t *testing.T) {
	store := newMemStore(nil)
	ctx := context.Background()
	a := newLeases(t, store, newInstance("a"))
	b := newLeases(t, store, newInstance("b"))

	ok, err := a.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Renew(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx, "scheduler"))

	ok, err = b.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Renew(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	owners, err := b.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scheduler"}, owners)
}

func TestLeaseExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock(epoch)
	store := newMemStore(clock)
	ctx := context.Background()
	a := newLeases(t, store, newInstance("a"), coordination.WithClock(clock.clock()))
	b := newLeases(t, store, newInstance("b"), coordination.WithClock(clock.clock()))

	ok, err := a.Acquire(ctx, "scheduler", 90*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(89 * time.Second)
	ok, err = b.Acquire(ctx, "scheduler", 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease still live before ttl")

	clock.Advance(2 * time.Second)
	ok, err = b.Acquire(ctx, "scheduler", 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lease must be acquirable after ttl")

	ok, err = a.Renew(ctx, "scheduler", 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "expired owner cannot renew")
}

func TestLeaseRenewLostIsLoggedAtError(t *testing.T) {
	store := newMemStore(nil)
	logger, logs := newObservedLogger()
	a := newLeases(t, store, newInstance("a"), coordination.WithLogger(logger))

	ok, err := a.Renew(context.Background(), "scheduler", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	entries := logs.FilterMessage("lease_renew_lost").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Level.String())
}

func TestLeaseReleaseNotAppliedIsIgnored(t *testing.T) {
	store := newMemStore(nil)
	logger, logs := newObservedLogger()
	ctx := context.Background()
	a := newLeases(t, store, newInstance("a"))
	b := newLeases(t, store, newInstance("b"), coordination.WithLogger(logger))

	ok, err := a.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx, "scheduler"))
	assert.Equal(t, 1, logs.FilterMessage("lease_release_not_applied").Len())

	owners, err := a.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scheduler"}, owners)
}

func TestLeaseValidation(t *testing.T) {
	store := newMemStore(nil)
	a := newLeases(t, store, newInstance("a"))
	ctx := context.Background()

	_, err := a.Acquire(ctx, " ", time.Minute)
	assert.Error(t, err)
	_, err = a.Acquire(ctx, "scheduler", 0)
	assert.ErrorIs(t, err, coordination.ErrInvalidTTL)
	assert.Error(t, a.Release(ctx, ""))

	_, err = coordination.NewLeaseRegistry(nil, newInstance("a"))
	assert.Error(t, err)
	_, err = coordination.NewLeaseRegistry(store, coordination.Instance{})
	assert.Error(t, err)
}

func TestLeaseStoreErrorsAreWrapped(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	boom := errors.New("write timeout")

	store.EXPECT().InsertLease(gomock.Any(), gomock.Any(), time.Minute).Return(false, boom)
	store.EXPECT().DeleteLease(gomock.Any(), "scheduler", gomock.Any()).Return(false, boom)
	store.EXPECT().ListLeases(gomock.Any()).Return(nil, boom)

	a := newLeases(t, store, newInstance("a"))
	ctx := context.Background()

	ok, err := a.Acquire(ctx, "scheduler", time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, a.Release(ctx, "scheduler"), boom)
	_, err = a.ListOwners(ctx)
	assert.ErrorIs(t, err, boom)
}
