package coordination

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"repaircoord/ring"
)

// CandidateSelector proposes segments that look free to start. The answer is
// a snapshot; the node lock decides.
type CandidateSelector struct {
	segments SegmentStore
	locks    *NodeLockRegistry

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCandidateSelector uses rng for shuffling; nil seeds a fresh source.
func NewCandidateSelector(segments SegmentStore, locks *NodeLockRegistry, rng *rand.Rand) (*CandidateSelector, error) {
	if segments == nil {
		return nil, errors.New("segment store is required")
	}
	if locks == nil {
		return nil, errors.New("node lock registry is required")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &CandidateSelector{segments: segments, locks: locks, rng: rng}, nil
}

// NextCandidates returns the NOT_STARTED segments of runID, in random order,
// whose replicas are all unlocked. With filter set, only segments having a
// token range enclosed by one of the filter ranges are kept.
func (s *CandidateSelector) NextCandidates(ctx context.Context, runID uuid.UUID, filter []ring.Range) ([]Segment, error) {
	segments, err := s.segments.SegmentsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("segments for run %s: %w", runID, err)
	}
	s.shuffle(segments)

	lockedNodes, err := s.locks.LockedNodes(ctx, runID)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]struct{}, len(lockedNodes))
	for _, node := range lockedNodes {
		locked[node] = struct{}{}
	}

	candidates := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if !isCandidate(seg, locked) {
			continue
		}
		if len(filter) > 0 && !withinRanges(seg, filter) {
			continue
		}
		candidates = append(candidates, seg)
	}
	return candidates, nil
}

func (s *CandidateSelector) shuffle(segments []Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(segments), func(i, j int) {
		segments[i], segments[j] = segments[j], segments[i]
	})
}

func isCandidate(seg Segment, locked map[string]struct{}) bool {
	if seg.State != NotStarted {
		return false
	}
	for node := range seg.Replicas {
		if _, ok := locked[node]; ok {
			return false
		}
	}
	return true
}

func withinRanges(seg Segment, filter []ring.Range) bool {
	for _, r := range seg.TokenRanges {
		if ring.AnyEncloses(filter, r) {
			return true
		}
	}
	return false
}
