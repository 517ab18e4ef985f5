// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/reelrank/reelrank/internal/logging"
	"github.com/reelrank/reelrank/internal/pipeline"
	"github.com/reelrank/reelrank/internal/recommend"
	"github.com/reelrank/reelrank/internal/store"
)

// triggerWait is how long the pipeline trigger endpoint waits for a fast
// outcome (busy, skip) before detaching and returning 202.
const triggerWait = 150 * time.Millisecond

// RecommendService is the recommendation surface the handlers need.
type RecommendService interface {
	Recommendations(ctx context.Context, userID string, limit int) (*recommend.Result, error)
	Popular(ctx context.Context, limit int) ([]recommend.ScoredMovie, error)
	Similar(ctx context.Context, movieID string, limit int) ([]recommend.ScoredMovie, error)
	InvalidateUser(userID string)
}

// MovieCatalog is the catalog surface the handlers need.
type MovieCatalog interface {
	Put(ctx context.Context, movie *recommend.Movie) error
	Get(ctx context.Context, id string) (*recommend.Movie, error)
}

// InteractionLog appends user interactions.
type InteractionLog interface {
	Append(ctx context.Context, inter *recommend.Interaction) error
}

// PipelineState bumps the durable interaction counter.
type PipelineState interface {
	RecordInteraction(ctx context.Context) (int64, error)
}

// PipelineControl exposes the orchestrator to the admin endpoints.
type PipelineControl interface {
	Run(ctx context.Context, mode pipeline.Mode) (pipeline.Decision, error)
	Status(ctx context.Context) (*pipeline.State, pipeline.Decision, error)
}

// RegistrationPublisher emits user registration events. May be nil when the
// trigger bus is disabled.
type RegistrationPublisher interface {
	PublishUserRegistered(ctx context.Context, userID string) error
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	recommender  RecommendService
	movies       MovieCatalog
	interactions InteractionLog
	state        PipelineState
	pipeline     PipelineControl
	registrar    RegistrationPublisher
}

// NewHandler wires the HTTP handlers. registrar may be nil.
func NewHandler(
	recommender RecommendService,
	movies MovieCatalog,
	interactions InteractionLog,
	state PipelineState,
	pipelineCtl PipelineControl,
	registrar RegistrationPublisher,
) *Handler {
	return &Handler{
		recommender:  recommender,
		movies:       movies,
		interactions: interactions,
		state:        state,
		pipeline:     pipelineCtl,
		registrar:    registrar,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

// Recommendations serves GET /api/v1/recommendations/{userID}.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, r, http.StatusBadRequest, "missing_user_id", "user ID is required")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	result, err := h.recommender.Recommendations(r.Context(), userID, limit)
	if err != nil {
		h.recommendError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, result)
}

// Popular serves GET /api/v1/movies/popular.
func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	movies, err := h.recommender.Popular(r.Context(), limit)
	if err != nil {
		h.recommendError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, recommend.Result{Movies: movies, Fallback: false})
}

// Similar serves GET /api/v1/movies/{movieID}/similar.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "movieID")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	movies, err := h.recommender.Similar(r.Context(), movieID, limit)
	if err != nil {
		h.recommendError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, recommend.Result{Movies: movies})
}

// GetMovie serves GET /api/v1/movies/{movieID}.
func (h *Handler) GetMovie(w http.ResponseWriter, r *http.Request) {
	movie, err := h.movies.Get(r.Context(), chi.URLParam(r, "movieID"))
	switch {
	case errors.Is(err, store.ErrMovieNotFound):
		respondError(w, r, http.StatusNotFound, "movie_not_found", "movie not found")
	case err != nil:
		h.internalError(w, r, err)
	default:
		respondJSON(w, r, http.StatusOK, movie)
	}
}

// CreateMovie serves POST /api/v1/movies. New movies become recommendable
// after the next pipeline run embeds them.
func (h *Handler) CreateMovie(w http.ResponseWriter, r *http.Request) {
	var movie recommend.Movie
	if err := json.NewDecoder(r.Body).Decode(&movie); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_body", "malformed movie payload")
		return
	}
	if movie.ID == "" || movie.Title == "" {
		respondError(w, r, http.StatusBadRequest, "missing_fields", "movie id and title are required")
		return
	}

	if err := h.movies.Put(r.Context(), &movie); err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, movie)
}

// interactionResponse confirms an appended interaction.
type interactionResponse struct {
	Interaction  *recommend.Interaction `json:"interaction"`
	SinceRetrain int64                  `json:"interactions_since_retrain"`
}

// CreateInteraction serves POST /api/v1/interactions. Appending an
// interaction bumps the durable pipeline counter and immediately invalidates
// the user's cached recommendations, so the next request reflects it.
func (h *Handler) CreateInteraction(w http.ResponseWriter, r *http.Request) {
	var inter recommend.Interaction
	if err := json.NewDecoder(r.Body).Decode(&inter); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_body", "malformed interaction payload")
		return
	}
	if inter.UserID == "" || inter.MovieID == "" {
		respondError(w, r, http.StatusBadRequest, "missing_fields", "user_id and movie_id are required")
		return
	}
	if inter.Rating < 0 || inter.Rating > 5 {
		respondError(w, r, http.StatusBadRequest, "invalid_rating", "rating must be between 0 and 5")
		return
	}

	if err := h.interactions.Append(r.Context(), &inter); err != nil {
		h.internalError(w, r, err)
		return
	}

	count, err := h.state.RecordInteraction(r.Context())
	if err != nil {
		// The interaction is stored; a missed counter bump only delays the
		// next incremental run by one interaction.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("failed to bump interaction counter")
	}

	h.recommender.InvalidateUser(inter.UserID)

	respondJSON(w, r, http.StatusCreated, interactionResponse{
		Interaction:  &inter,
		SinceRetrain: count,
	})
}

// RegisterUser serves POST /api/v1/users. Registration publishes a trigger
// event so the pipeline can warm popularity data before the user's first
// recommendation request.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_body", "malformed registration payload")
		return
	}
	if body.UserID == "" {
		respondError(w, r, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	if h.registrar != nil {
		if err := h.registrar.PublishUserRegistered(r.Context(), body.UserID); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("user_id", body.UserID).
				Msg("failed to publish registration event")
		}
	}

	respondJSON(w, r, http.StatusAccepted, map[string]string{"user_id": body.UserID})
}

// triggerOutcome carries a background run's result back to the handler.
type triggerOutcome struct {
	decision pipeline.Decision
	err      error
}

// TriggerPipeline serves POST /api/v1/pipeline/trigger. Fast outcomes (busy,
// skip, validation) are reported synchronously; an accepted long run detaches
// and the response is 202.
func (h *Handler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	mode := pipeline.ModeAuto
	if raw := r.URL.Query().Get("mode"); raw != "" {
		switch m := pipeline.Mode(raw); m {
		case pipeline.ModeAuto, pipeline.ModeFull, pipeline.ModeIncremental:
			mode = m
		default:
			respondError(w, r, http.StatusBadRequest, "invalid_mode", "mode must be auto, full, or incremental")
			return
		}
	}

	// Detach from the request context: an admin disconnecting must not abort
	// a retrain mid-run.
	runCtx := context.WithoutCancel(r.Context())
	outcome := make(chan triggerOutcome, 1)
	go func() {
		decision, err := h.pipeline.Run(runCtx, mode)
		outcome <- triggerOutcome{decision: decision, err: err}
	}()

	select {
	case res := <-outcome:
		switch {
		case errors.Is(res.err, pipeline.ErrAlreadyRunning):
			respondError(w, r, http.StatusConflict, "already_running", "a pipeline run is already in progress")
		case res.err != nil:
			respondError(w, r, http.StatusInternalServerError, "pipeline_failed", res.err.Error())
		default:
			respondJSON(w, r, http.StatusOK, res.decision)
		}
	case <-time.After(triggerWait):
		respondJSON(w, r, http.StatusAccepted, map[string]string{
			"mode":   string(mode),
			"status": "started",
		})
	}
}

// pipelineStatusResponse combines durable state with the live decision.
type pipelineStatusResponse struct {
	State    *pipeline.State   `json:"state"`
	Decision pipeline.Decision `json:"next_decision"`
}

// PipelineStatus serves GET /api/v1/pipeline/status.
func (h *Handler) PipelineStatus(w http.ResponseWriter, r *http.Request) {
	state, decision, err := h.pipeline.Status(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, pipelineStatusResponse{State: state, Decision: decision})
}

// recommendError maps recommendation errors to HTTP statuses.
func (h *Handler) recommendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, recommend.ErrMovieNotFound):
		respondError(w, r, http.StatusNotFound, "movie_not_found", "movie not found in the active model")
	case errors.Is(err, recommend.ErrNoSnapshot):
		respondError(w, r, http.StatusServiceUnavailable, "model_not_ready", "no embedding snapshot has been published yet")
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}

// parseLimit reads the optional limit query parameter. 0 means "use the
// configured default"; the service clamps the upper bound.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
