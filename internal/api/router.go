// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelrank/reelrank/internal/middleware"
)

// NewRouter builds the chi router with the full middleware stack and all
// routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Compression)

		r.Get("/recommendations/{userID}", h.Recommendations)

		r.Route("/movies", func(r chi.Router) {
			r.Get("/popular", h.Popular)
			r.Post("/", h.CreateMovie)
			r.Get("/{movieID}", h.GetMovie)
			r.Get("/{movieID}/similar", h.Similar)
		})

		r.Post("/interactions", h.CreateInteraction)
		r.Post("/users", h.RegisterUser)

		r.Route("/pipeline", func(r chi.Router) {
			r.Post("/trigger", h.TriggerPipeline)
			r.Get("/status", h.PipelineStatus)
		})
	})

	return r
}
