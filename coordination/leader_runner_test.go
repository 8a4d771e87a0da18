package coordination_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repaircoord/coordination"
	"repaircoord/memstore"
)

type taskRecorder struct {
	running atomic.Int32
	starts  atomic.Int32
}

func (r *taskRecorder) run(ctx context.Context) {
	r.starts.Add(1)
	r.running.Add(1)
	<-ctx.Done()
	r.running.Add(-1)
}

func newLeaseConfig(ttl time.Duration) coordination.LeaderConfig {
	return coordination.LeaderConfig{
		LeaseID:         "scheduler",
		LeaseTTL:        ttl,
		RenewInterval:   ttl / 3,
		AcquireInterval: ttl / 3,
	}
}

func newRunner(t *testing.T, store *memstore.Store, ttl time.Duration, task coordination.LeaderTask) *coordination.LeaderRunner {
	t.Helper()
	leases := newLeases(t, store, newInstance(uuid.NewString()))
	runner, err := coordination.NewLeaderRunner(leases, newLeaseConfig(ttl), task)
	require.NoError(t, err)
	return runner
}

func waitForLeader(t *testing.T, runners ...*coordination.LeaderRunner) *coordination.LeaderRunner {
	t.Helper()
	var leader *coordination.LeaderRunner
	waitFor(t, 2*time.Second, func() bool {
		leader = nil
		count := 0
		for _, r := range runners {
			if r.IsLeader() {
				leader = r
				count++
			}
		}
		return count == 1
	}, "a single leader to be elected")
	return leader
}

func TestLeaderSingleOnConcurrentStart(t *testing.T) {
	store := memstore.New(nil)
	taskA, taskB := &taskRecorder{}, &taskRecorder{}
	runnerA := newRunner(t, store, 300*time.Millisecond, taskA.run)
	runnerB := newRunner(t, store, 300*time.Millisecond, taskB.run)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runnerA.Run(ctx)
	go runnerB.Run(ctx)

	leader := waitForLeader(t, runnerA, runnerB)
	time.Sleep(400 * time.Millisecond)
	assert.True(t, leader.IsLeader(), "renewal keeps leadership past one ttl")
	assert.Equal(t, int32(1), taskA.running.Load()+taskB.running.Load())

	status := leader.Status()
	assert.Equal(t, "scheduler", status.LeaseID)
	assert.False(t, status.LastRenewal.IsZero())
}

func TestLeaderFailoverOnShutdown(t *testing.T) {
	store := memstore.New(nil)
	taskA, taskB := &taskRecorder{}, &taskRecorder{}
	runnerA := newRunner(t, store, 300*time.Millisecond, taskA.run)
	runnerB := newRunner(t, store, 300*time.Millisecond, taskB.run)

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan struct{})
	go func() {
		runnerA.Run(ctxA)
		close(doneA)
	}()
	waitForLeader(t, runnerA)

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	go runnerB.Run(ctxB)

	cancelA()
	<-doneA
	assert.False(t, runnerA.IsLeader())
	assert.Equal(t, int32(0), taskA.running.Load())

	waitForLeader(t, runnerB)
	waitFor(t, time.Second, func() bool { return taskB.running.Load() == 1 }, "follower task to start")
}

func TestLeaderStopsTaskWhenLeaseStolen(t *testing.T) {
	store := memstore.New(nil)
	task := &taskRecorder{}
	runner := newRunner(t, store, 300*time.Millisecond, task.run)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)
	waitForLeader(t, runner)

	leases, err := store.ListLeases(context.Background())
	require.NoError(t, err)
	require.Len(t, leases, 1)
	ok, err := store.DeleteLease(context.Background(), "scheduler", leases[0].OwnerID)
	require.NoError(t, err)
	require.True(t, ok)
	thief := newLeases(t, store, newInstance("thief"))
	ok, err = thief.Acquire(context.Background(), "scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	waitFor(t, 2*time.Second, func() bool { return !runner.IsLeader() && task.running.Load() == 0 }, "leader to step down")
}

func TestNewLeaderRunnerValidation(t *testing.T) {
	leases := newLeases(t, memstore.New(nil), newInstance("a"))
	_, err := coordination.NewLeaderRunner(nil, newLeaseConfig(time.Second), func(context.Context) {})
	assert.Error(t, err)
	_, err = coordination.NewLeaderRunner(leases, coordination.LeaderConfig{}, func(context.Context) {})
	assert.Error(t, err)
	_, err = coordination.NewLeaderRunner(leases, newLeaseConfig(time.Second), nil)
	assert.Error(t, err)
}
