package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	codeInvalidRunID     = "invalid_run_id"
	codeStoreUnavailable = "store_unavailable"

	// Seconds a client should wait after a store outage before asking again.
	storeRetryAfter = 5
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	RequestID string            `json:"requestId,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// apiError is a failure the admin API reports to its caller.
type apiError struct {
	status  int
	code    string
	message string
	details map[string]string
}

func invalidRunID(raw string) apiError {
	return apiError{
		status:  http.StatusBadRequest,
		code:    codeInvalidRunID,
		message: "runID must be a uuid",
		details: map[string]string{"runID": raw},
	}
}

func storeUnavailable() apiError {
	return apiError{
		status:  http.StatusServiceUnavailable,
		code:    codeStoreUnavailable,
		message: "coordination store is unavailable",
	}
}

func writeError(w http.ResponseWriter, r *http.Request, e apiError) {
	if e.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(storeRetryAfter))
	}
	writeJSON(w, e.status, errorResponse{Error: errorBody{
		Code:      e.code,
		Message:   e.message,
		RequestID: middleware.GetReqID(r.Context()),
		Details:   e.details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
