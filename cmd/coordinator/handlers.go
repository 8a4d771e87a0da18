package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"repaircoord/coordination"
	"repaircoord/ring"
)

type leaderStatus interface {
	Status() coordination.LeaseStatus
}

// adminServer serves the read-only coordination views.
type adminServer struct {
	leases   *coordination.LeaseRegistry
	liveness *coordination.LivenessRegistry
	locks    *coordination.NodeLockRegistry
	selector *coordination.CandidateSelector
	runs     coordination.SegmentStore
	leader   leaderStatus
	ranges   []ring.Range
	logger   *zap.Logger
}

func newAdminServer(a *app) (*adminServer, error) {
	ranges, err := a.cfg.Coordination.TokenRanges()
	if err != nil {
		return nil, err
	}
	return &adminServer{
		leases:   a.leases,
		liveness: a.liveness,
		locks:    a.locks,
		selector: a.selector,
		runs:     a.store,
		leader:   a.leader,
		ranges:   ranges,
		logger:   a.logger,
	}, nil
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready once the store answers, with this instance's
// view of the scheduler lease.
func (s *adminServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.leases.Leases(r.Context()); err != nil {
		s.storeError(w, r, "readyz", err)
		return
	}
	writeJSON(w, http.StatusOK, toReadinessResponse(s.leader.Status()))
}

func (s *adminServer) handleLeases(w http.ResponseWriter, r *http.Request) {
	leases, err := s.leases.Leases(r.Context())
	if err != nil {
		s.storeError(w, r, "leases", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseResponses(leases))
}

func (s *adminServer) handleInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.liveness.Instances(r.Context())
	if err != nil {
		s.storeError(w, r, "instances", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponses(instances))
}

func (s *adminServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.runs.RunIDs(r.Context())
	if err != nil {
		s.storeError(w, r, "runs", err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *adminServer) handleLocks(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	locks, err := s.locks.Locks(r.Context(), runID)
	if err != nil {
		s.storeError(w, r, "locks", err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeLockResponses(locks))
}

func (s *adminServer) handleCandidates(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	candidates, err := s.selector.NextCandidates(r.Context(), runID, s.ranges)
	if err != nil {
		s.storeError(w, r, "candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, toSegmentResponses(candidates))
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "runID")
	runID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, invalidRunID(raw))
		return uuid.Nil, false
	}
	return runID, true
}

func (s *adminServer) storeError(w http.ResponseWriter, r *http.Request, route string, err error) {
	s.logger.Warn("admin_request_failed",
		zap.String("route", route),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, r, storeUnavailable())
}
