package coordination

import (
	"fmt"
	"strings"
)

// SegmentState is persisted as its ordinal.
type SegmentState int

const (
	NotStarted SegmentState = iota
	Started
	Running
	Done
)

func (s SegmentState) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Started:
		return "STARTED"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("SegmentState(%d)", int(s))
	}
}

// Valid reports whether s is a known state.
func (s SegmentState) Valid() bool {
	return s >= NotStarted && s <= Done
}

// ParseSegmentState accepts the state names produced by String.
func ParseSegmentState(value string) (SegmentState, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "NOT_STARTED":
		return NotStarted, nil
	case "STARTED":
		return Started, nil
	case "RUNNING":
		return Running, nil
	case "DONE":
		return Done, nil
	default:
		return 0, fmt.Errorf("unknown segment state %q", value)
	}
}

// Validate checks the end-time invariants of a segment about to be persisted.
func (s Segment) Validate() error {
	if !s.State.Valid() {
		return &InvariantError{Op: "segment update", Reason: fmt.Sprintf("segment %s has unknown state %d", s.ID, int(s.State))}
	}
	hasEnd := !s.EndTime.IsZero()
	switch {
	case s.State == Done && !hasEnd:
		return &InvariantError{Op: "segment update", Reason: fmt.Sprintf("segment %s: end time can't be empty when state is DONE", s.ID)}
	case s.State == Running && hasEnd:
		return &InvariantError{Op: "segment update", Reason: fmt.Sprintf("segment %s: end time not permitted when state is RUNNING", s.ID)}
	case s.State == NotStarted && hasEnd:
		return &InvariantError{Op: "segment update", Reason: fmt.Sprintf("segment %s: end time must be cleared when state is NOT_STARTED", s.ID)}
	case s.State != Done && hasEnd:
		return &InvariantError{Op: "segment update", Reason: fmt.Sprintf("segment %s: end time is only permitted when state is DONE", s.ID)}
	}
	return nil
}

// CheckTransition validates moving a segment from prev to next.
func CheckTransition(prev, next Segment) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if !prev.EndTime.IsZero() && next.EndTime.IsZero() && next.State != NotStarted {
		return &InvariantError{Op: "segment update", Reason: fmt.Sprintf("segment %s: end time can only be cleared when state is NOT_STARTED", next.ID)}
	}
	if !transitionAllowed(prev.State, next.State) {
		return &TransitionError{SegmentID: next.ID.String(), From: prev.State, To: next.State}
	}
	return nil
}

func transitionAllowed(from, to SegmentState) bool {
	if from == to || to == NotStarted {
		return true
	}
	switch from {
	case NotStarted:
		return to == Started
	case Started:
		return to == Running
	case Running:
		return to == Done
	default:
		return false
	}
}
