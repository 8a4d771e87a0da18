// Package ring models token ranges on the store's partitioner ring.
package ring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Range is a half-open token range (Start, End]. A range whose start is not
// below its end wraps around the ring.
type Range struct {
	Start *big.Int `json:"start"`
	End   *big.Int `json:"end"`
}

// NewRange builds a range from int64 tokens (Murmur3 partitioner).
func NewRange(start, end int64) Range {
	return Range{Start: big.NewInt(start), End: big.NewInt(end)}
}

// ParseRange parses "start:end" where both tokens are base-10 integers.
func ParseRange(value string) (Range, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("token range %q: expected start:end", value)
	}
	start, ok := new(big.Int).SetString(strings.TrimSpace(parts[0]), 10)
	if !ok {
		return Range{}, fmt.Errorf("token range %q: invalid start token", value)
	}
	end, ok := new(big.Int).SetString(strings.TrimSpace(parts[1]), 10)
	if !ok {
		return Range{}, fmt.Errorf("token range %q: invalid end token", value)
	}
	return Range{Start: start, End: end}, nil
}

func (r Range) String() string {
	return fmt.Sprintf("(%s,%s]", tokenString(r.Start), tokenString(r.End))
}

// Valid reports whether both tokens are set.
func (r Range) Valid() bool {
	return r.Start != nil && r.End != nil
}

// IsWrapping reports whether the range crosses the end of the ring.
func (r Range) IsWrapping() bool {
	return r.Start.Cmp(r.End) >= 0
}

// Encloses reports whether other lies entirely inside r.
func (r Range) Encloses(other Range) bool {
	if !r.Valid() || !other.Valid() {
		return false
	}
	startsInside := other.Start.Cmp(r.Start) >= 0
	endsInside := other.End.Cmp(r.End) <= 0
	if !r.IsWrapping() {
		return !other.IsWrapping() && startsInside && endsInside
	}
	if !other.IsWrapping() {
		return startsInside || endsInside
	}
	return startsInside && endsInside
}

// AnyEncloses reports whether one of ranges encloses target.
func AnyEncloses(ranges []Range, target Range) bool {
	for _, r := range ranges {
		if r.Encloses(target) {
			return true
		}
	}
	return false
}

// MarshalRanges encodes ranges as the JSON text persisted with a segment.
func MarshalRanges(ranges []Range) (string, error) {
	if ranges == nil {
		ranges = []Range{}
	}
	data, err := json.Marshal(ranges)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalRanges decodes persisted JSON text. Empty text yields no ranges.
func UnmarshalRanges(value string) ([]Range, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var ranges []Range
	if err := json.Unmarshal([]byte(value), &ranges); err != nil {
		return nil, fmt.Errorf("decode token ranges: %w", err)
	}
	for _, r := range ranges {
		if !r.Valid() {
			return nil, errors.New("decode token ranges: missing token")
		}
	}
	return ranges, nil
}

func tokenString(token *big.Int) string {
	if token == nil {
		return "?"
	}
	return token.String()
}
