package main

import (
	"time"

	"repaircoord/coordination"
	"repaircoord/ring"
)

const timeFormat = time.RFC3339Nano

type leaseResponse struct {
	LeaseID      string `json:"leaseId"`
	OwnerID      string `json:"ownerId"`
	OwnerAddress string `json:"ownerAddress"`
	LastRenewal  string `json:"lastRenewal,omitempty"`
}

type instanceResponse struct {
	InstanceID    string `json:"instanceId"`
	Address       string `json:"address"`
	LastHeartbeat string `json:"lastHeartbeat,omitempty"`
}

type nodeLockResponse struct {
	Node         string `json:"node"`
	OwnerID      string `json:"ownerId"`
	OwnerAddress string `json:"ownerAddress,omitempty"`
	SegmentID    string `json:"segmentId"`
}

type segmentResponse struct {
	SegmentID   string            `json:"segmentId"`
	RunID       string            `json:"runId"`
	State       string            `json:"state"`
	TokenRanges []string          `json:"tokenRanges"`
	Replicas    map[string]string `json:"replicas"`
	FailCount   int               `json:"failCount"`
}

type readinessResponse struct {
	Status      string `json:"status"`
	Mode        string `json:"mode"`
	LeaseID     string `json:"leaseId"`
	OwnerID     string `json:"ownerId,omitempty"`
	LastRenewal string `json:"lastRenewal,omitempty"`
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeFormat)
}

func toLeaseResponses(leases []coordination.Lease) []leaseResponse {
	out := make([]leaseResponse, 0, len(leases))
	for _, lease := range leases {
		out = append(out, leaseResponse{
			LeaseID:      lease.LeaseID,
			OwnerID:      lease.OwnerID.String(),
			OwnerAddress: lease.OwnerAddress,
			LastRenewal:  formatTime(lease.LastRenewal),
		})
	}
	return out
}

func toInstanceResponses(heartbeats []coordination.Heartbeat) []instanceResponse {
	out := make([]instanceResponse, 0, len(heartbeats))
	for _, hb := range heartbeats {
		out = append(out, instanceResponse{
			InstanceID:    hb.InstanceID.String(),
			Address:       hb.Address,
			LastHeartbeat: formatTime(hb.LastHeartbeat),
		})
	}
	return out
}

func toNodeLockResponses(locks []coordination.NodeLock) []nodeLockResponse {
	out := make([]nodeLockResponse, 0, len(locks))
	for _, lock := range locks {
		out = append(out, nodeLockResponse{
			Node:         lock.Node,
			OwnerID:      lock.OwnerID.String(),
			OwnerAddress: lock.OwnerAddress,
			SegmentID:    lock.SegmentID.String(),
		})
	}
	return out
}

func toSegmentResponses(segments []coordination.Segment) []segmentResponse {
	out := make([]segmentResponse, 0, len(segments))
	for _, seg := range segments {
		out = append(out, segmentResponse{
			SegmentID:   seg.ID.String(),
			RunID:       seg.RunID.String(),
			State:       seg.State.String(),
			TokenRanges: rangeStrings(seg.TokenRanges),
			Replicas:    seg.Replicas,
			FailCount:   seg.FailCount,
		})
	}
	return out
}

func rangeStrings(ranges []ring.Range) []string {
	out := make([]string, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, r.String())
	}
	return out
}

func toReadinessResponse(status coordination.LeaseStatus) readinessResponse {
	return readinessResponse{
		Status:      "ready",
		Mode:        status.Mode,
		LeaseID:     status.LeaseID,
		OwnerID:     status.OwnerID.String(),
		LastRenewal: formatTime(status.LastRenewal),
	}
}
