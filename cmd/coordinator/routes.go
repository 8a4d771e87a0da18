package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const adminRequestTimeout = 10 * time.Second

func newRouter(server *adminServer, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(adminRequestTimeout))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", server.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/leases", server.handleLeases)
		r.Get("/instances", server.handleInstances)
		r.Get("/runs", server.handleRuns)
		r.Get("/runs/{runID}/locks", server.handleLocks)
		r.Get("/runs/{runID}/candidates", server.handleCandidates)
	})
	return r
}
