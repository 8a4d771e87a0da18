package coordination_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repaircoord/coordination"
)

func TestSegmentValidateEndTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		state     coordination.SegmentState
		withEnd   bool
		invariant bool
	}{
		{name: "done with end time", state: coordination.Done, withEnd: true},
		{name: "done without end time", state: coordination.Done, invariant: true},
		{name: "running without end time", state: coordination.Running},
		{name: "running with end time", state: coordination.Running, withEnd: true, invariant: true},
		{name: "not started with end time", state: coordination.NotStarted, withEnd: true, invariant: true},
		{name: "started", state: coordination.Started},
		{name: "started with end time", state: coordination.Started, withEnd: true, invariant: true},
		{name: "unknown state", state: coordination.SegmentState(9), invariant: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seg := newSegment(uuid.New(), tt.state, "n1")
			if tt.withEnd {
				seg.EndTime = epoch
			}
			err := seg.Validate()
			if tt.invariant {
				require.Error(t, err)
				assert.True(t, coordination.IsInvariant(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    coordination.SegmentState
		to      coordination.SegmentState
		allowed bool
	}{
		{name: "start", from: coordination.NotStarted, to: coordination.Started, allowed: true},
		{name: "run", from: coordination.Started, to: coordination.Running, allowed: true},
		{name: "finish", from: coordination.Running, to: coordination.Done, allowed: true},
		{name: "reset from running", from: coordination.Running, to: coordination.NotStarted, allowed: true},
		{name: "reset from started", from: coordination.Started, to: coordination.NotStarted, allowed: true},
		{name: "skip started", from: coordination.NotStarted, to: coordination.Running},
		{name: "skip running", from: coordination.Started, to: coordination.Done},
		{name: "restart done", from: coordination.Done, to: coordination.Started},
		{name: "rewind running", from: coordination.Running, to: coordination.Started},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prev := newSegment(uuid.New(), tt.from, "n1")
			next := prev
			next.State = tt.to
			if tt.to == coordination.Done {
				next.EndTime = epoch
			}
			err := coordination.CheckTransition(prev, next)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			var transErr *coordination.TransitionError
			require.ErrorAs(t, err, &transErr)
			assert.Equal(t, tt.from, transErr.From)
			assert.Equal(t, tt.to, transErr.To)
		})
	}
}

func TestCheckTransitionEndTimeClearedOnlyOnReset(t *testing.T) {
	t.Parallel()

	prev := newSegment(uuid.New(), coordination.Done, "n1")
	prev.EndTime = epoch

	next := prev
	next.State = coordination.NotStarted
	next.EndTime = time.Time{}
	assert.NoError(t, coordination.CheckTransition(prev, next))

	kept := prev
	kept.EndTime = time.Time{}
	err := coordination.CheckTransition(prev, kept)
	require.Error(t, err)
	assert.True(t, coordination.IsInvariant(err))
}

func TestParseSegmentState(t *testing.T) {
	t.Parallel()

	for _, state := range []coordination.SegmentState{coordination.NotStarted, coordination.Started, coordination.Running, coordination.Done} {
		parsed, err := coordination.ParseSegmentState(state.String())
		require.NoError(t, err)
		assert.Equal(t, state, parsed)
	}
	_, err := coordination.ParseSegmentState("FAILED")
	assert.Error(t, err)
}
