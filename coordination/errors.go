package coordination

import (
	"errors"
	"fmt"
)

var (
	// ErrLostOwnership is returned when a gated write finds its lease or locks gone.
	ErrLostOwnership = errors.New("ownership lost")
	// ErrNoNodes rejects lock batches without any node.
	ErrNoNodes = errors.New("at least one node is required")
	// ErrInvalidTTL rejects non-positive TTLs.
	ErrInvalidTTL = errors.New("ttl must be positive")
	// ErrSegmentNotFound reports a missing segment row.
	ErrSegmentNotFound = errors.New("segment not found")
)

// InvariantError reports a broken internal invariant. It is never retried.
type InvariantError struct {
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Reason)
}

// TransitionError reports a segment state change outside the allowed graph.
type TransitionError struct {
	SegmentID string
	From      SegmentState
	To        SegmentState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("segment %s: transition %s -> %s not allowed", e.SegmentID, e.From, e.To)
}

// IsInvariant reports whether err carries an InvariantError.
func IsInvariant(err error) bool {
	var invErr *InvariantError
	return errors.As(err, &invErr)
}
