package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chronos/internal/almanac"
	"chronos/internal/core"
	"chronos/internal/solarterm"
	"chronos/internal/types"
)

// TermServiceInterface defines the almanac read path used by the handler.
type TermServiceInterface interface {
	TermsForYear(ctx context.Context, year int) ([]solarterm.Node, error)
}

// PrecomputeEnqueuerInterface defines the job dispatch used by the handler.
type PrecomputeEnqueuerInterface interface {
	EnqueuePrecompute(ctx context.Context, fromYear, toYear int, reason string) (types.PrecomputeJob, error)
}

// TermsHandler serves the solar term endpoints.
type TermsHandler struct {
	terms       TermServiceInterface
	enqueuer    PrecomputeEnqueuerInterface
	validator   *core.Validator
	maxYearSpan int
	logger      *slog.Logger
}

// NewTermsHandler creates a TermsHandler. maxYearSpan caps the inclusive
// range a precompute request may cover; zero leaves it unbounded.
func NewTermsHandler(terms TermServiceInterface, enqueuer PrecomputeEnqueuerInterface, validator *core.Validator, maxYearSpan int, logger *slog.Logger) *TermsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TermsHandler{
		terms:       terms,
		enqueuer:    enqueuer,
		validator:   validator,
		maxYearSpan: maxYearSpan,
		logger:      logger,
	}
}

// RegisterRoutes mounts the solar term endpoints on the given router.
func (h *TermsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/terms/{year}", h.HandleGetYear)
	r.Post("/terms/precompute", h.HandlePrecompute)
}

// PrecomputeRequest is the request body for POST /v1/terms/precompute.
// The year fields are pointers so year zero is distinguishable from a
// missing field.
type PrecomputeRequest struct {
	FromYear *int `json:"from_year" validate:"required"`
	ToYear   *int `json:"to_year" validate:"required"`
}

// TermsYearResponse is the response body for GET /v1/terms/{year}.
type TermsYearResponse struct {
	Year  int              `json:"year"`
	Terms []solarterm.Node `json:"terms"`
}

// HandleGetYear handles GET /v1/terms/{year}.
//
// The year is a signed integer path parameter. Years outside the configured
// ephemeris validity surface as out of range errors from the service.
func (h *TermsHandler) HandleGetYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidYear,
			"year must be an integer",
			err,
		))
		return
	}

	nodes, err := h.terms.TermsForYear(r.Context(), year)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// Term instants never change once computed.
	w.Header().Set("Cache-Control", "public, max-age=86400")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: TermsYearResponse{
		Year:  year,
		Terms: nodes,
	}})
}

// HandlePrecompute handles POST /v1/terms/precompute.
//
// The job is dispatched to the almanac queue and runs asynchronously; the
// response carries the job so callers can correlate worker logs by job ID.
func (h *TermsHandler) HandlePrecompute(w http.ResponseWriter, r *http.Request) {
	var req PrecomputeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if res := h.validator.ValidateStruct(req); !res.IsValid() {
		core.Error(w, r, res.AppError())
		return
	}

	if err := almanac.ValidateYearRange(*req.FromYear, *req.ToYear, h.maxYearSpan); err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.enqueuer.EnqueuePrecompute(r.Context(), *req.FromYear, *req.ToYear, "api_request")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "precompute job accepted",
		"job_id", job.JobID,
		"from_year", job.FromYear,
		"to_year", job.ToYear,
	)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: job})
}
