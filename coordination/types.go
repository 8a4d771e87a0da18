package coordination

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"repaircoord/ring"
)

const (
	leaseModeLeader   = "leader"
	leaseModeFollower = "follower"
)

// DefaultLeaseTTL matches the lead duration used for leases and node locks.
const DefaultLeaseTTL = 90 * time.Second

// Clock provides time functions for deterministic scheduling.
type Clock struct {
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

func (c Clock) withDefaults() Clock {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.After == nil {
		c.After = time.After
	}
	return c
}

// Instance identifies this coordinator process.
type Instance struct {
	ID      uuid.UUID
	Address string
}

// Lease is a named, TTL-bounded ownership claim.
type Lease struct {
	LeaseID      string
	OwnerID      uuid.UUID
	OwnerAddress string
	LastRenewal  time.Time
}

// Heartbeat is the latest liveness record of an instance.
type Heartbeat struct {
	InstanceID    uuid.UUID
	Address       string
	LastHeartbeat time.Time
}

// NodeLock is one node's lock row within a run partition. A nil OwnerID means free.
type NodeLock struct {
	RunID        uuid.UUID
	Node         string
	OwnerID      uuid.UUID
	OwnerAddress string
	SegmentID    uuid.UUID
}

// Held reports whether some instance owns the node.
func (l NodeLock) Held() bool {
	return l.OwnerID != uuid.Nil
}

// LockOp selects the conditional form of a node lock batch.
type LockOp int

const (
	// LockAcquire claims free nodes.
	LockAcquire LockOp = iota
	// LockRenew extends nodes already owned by the caller.
	LockRenew
	// LockRelease frees nodes owned by the caller.
	LockRelease
)

func (o LockOp) String() string {
	switch o {
	case LockAcquire:
		return "lock"
	case LockRenew:
		return "renew"
	case LockRelease:
		return "release"
	default:
		return "unknown"
	}
}

// LockBatch is one atomic, single-partition set of conditional node updates.
type LockBatch struct {
	Op           LockOp
	RunID        uuid.UUID
	SegmentID    uuid.UUID
	Nodes        []string
	Owner        uuid.UUID
	OwnerAddress string
	TTL          time.Duration
}

// LockResult reports whether a batch applied; when it did not, Conflicts holds
// the competing rows the store returned.
type LockResult struct {
	Applied   bool
	Conflicts []NodeLock
}

// ReadLevel picks the consistency of a segment read.
type ReadLevel int

const (
	ReadLocal ReadLevel = iota
	ReadQuorum
)

// Segment is a unit of repair work covering one or more token ranges.
type Segment struct {
	ID              uuid.UUID
	RunID           uuid.UUID
	RepairUnitID    uuid.UUID
	TokenRanges     []ring.Range
	Replicas        map[string]string
	State           SegmentState
	CoordinatorHost string
	StartTime       time.Time
	EndTime         time.Time
	FailCount       int
	// HostID is the instance id of the coordinator that started the segment.
	HostID uuid.UUID
}

// Nodes returns the replica node names in sorted order.
func (s Segment) Nodes() []string {
	nodes := make([]string, 0, len(s.Replicas))
	for node := range s.Replicas {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// LeaseStatus captures the local view of leadership for readiness.
type LeaseStatus struct {
	Mode        string
	LeaseID     string
	OwnerID     uuid.UUID
	LastRenewal time.Time
}

func normalizeNodes(nodes []string) []string {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		node = strings.TrimSpace(node)
		if node == "" {
			continue
		}
		if _, ok := seen[node]; ok {
			continue
		}
		seen[node] = struct{}{}
		out = append(out, node)
	}
	sort.Strings(out)
	return out
}
