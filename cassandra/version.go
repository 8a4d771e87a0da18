package cassandra

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	timeFuncDateOf      = "dateOf"
	timeFuncToTimestamp = "toTimestamp"
)

// toTimestamp replaced dateOf in 2.2.
var toTimestampSince = semver.MustParse("2.2.0")

// lowestVersion returns the smallest parseable release version.
func lowestVersion(versions []string) (*semver.Version, error) {
	var lowest *semver.Version
	for _, raw := range versions {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("parse release version %q: %w", raw, err)
		}
		if lowest == nil || v.LessThan(lowest) {
			lowest = v
		}
	}
	if lowest == nil {
		return nil, errors.New("no release version reported")
	}
	return lowest, nil
}

// timeFunction picks the CQL function turning now() into a timestamp for the
// oldest node of the cluster.
func timeFunction(versions []string) (string, error) {
	lowest, err := lowestVersion(versions)
	if err != nil {
		return "", err
	}
	if lowest.LessThan(toTimestampSince) {
		return timeFuncDateOf, nil
	}
	return timeFuncToTimestamp, nil
}
