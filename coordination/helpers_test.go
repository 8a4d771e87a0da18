package coordination_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"repaircoord/coordination"
	"repaircoord/memstore"
	"repaircoord/ring"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at    time.Time
	ch    chan time.Time
	fired bool
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, &fakeTimer{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	for _, timer := range timers {
		c.mu.Lock()
		if timer.fired || now.Before(timer.at) {
			c.mu.Unlock()
			continue
		}
		timer.fired = true
		ch := timer.ch
		c.mu.Unlock()
		ch <- now
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, timer := range c.timers {
		if !timer.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) clock() coordination.Clock {
	return coordination.Clock{Now: c.Now, After: c.After}
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newInstance(address string) coordination.Instance {
	return coordination.Instance{ID: uuid.New(), Address: address}
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func newMemStore(clock *fakeClock) *memstore.Store {
	if clock == nil {
		return memstore.New(nil)
	}
	return memstore.New(clock.Now)
}

func newLocks(t *testing.T, store coordination.NodeLockStore, instance coordination.Instance, opts ...coordination.Option) *coordination.NodeLockRegistry {
	t.Helper()
	locks, err := coordination.NewNodeLockRegistry(store, instance, opts...)
	require.NoError(t, err)
	return locks
}

func newSegment(runID uuid.UUID, state coordination.SegmentState, nodes ...string) coordination.Segment {
	replicas := make(map[string]string, len(nodes))
	for _, node := range nodes {
		replicas[node] = "dc1"
	}
	return coordination.Segment{
		ID:           uuid.New(),
		RunID:        runID,
		RepairUnitID: uuid.New(),
		TokenRanges:  []ring.Range{ring.NewRange(0, 100)},
		Replicas:     replicas,
		State:        state,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}
