// Package handlers provides the HTTP handlers for the public API surface.
// Handlers decode and validate requests, delegate to the domain services,
// and translate results into the shared response envelope.
//
// Endpoints:
//
//	GET  /v1/coordinates        convert one instant to a cyclic coordinate set
//	POST /v1/coordinates/batch  convert a batch of instants
//	GET  /v1/eot                equation of time and apparent time report
//	GET  /v1/terms/{year}       solar term nodes for a year
//	POST /v1/terms/precompute   enqueue an almanac precompute job
package handlers

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chronos/internal/convert"
	"chronos/internal/core"
	"chronos/internal/types"
)

// ConvertServiceInterface defines the conversion operations used by the
// handler. It is defined locally so the HTTP layer depends on behavior
// rather than on the concrete service.
type ConvertServiceInterface interface {
	Convert(ctx context.Context, at time.Time, lonDeg float64, opts convert.Options) (*convert.CoordinateSet, error)
	ConvertBatch(ctx context.Context, req convert.BatchRequest) (*convert.BatchResult, error)
	TimeReport(ctx context.Context, at time.Time, lonDeg float64, opts convert.Options) (*convert.TimeReport, error)
}

// ConvertHandler serves the conversion endpoints.
type ConvertHandler struct {
	service   ConvertServiceInterface
	validator *core.Validator
	logger    *slog.Logger
}

// NewConvertHandler creates a ConvertHandler with the given dependencies.
func NewConvertHandler(service ConvertServiceInterface, validator *core.Validator, logger *slog.Logger) *ConvertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConvertHandler{
		service:   service,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the conversion endpoints on the given router.
func (h *ConvertHandler) RegisterRoutes(r chi.Router) {
	r.Get("/coordinates", h.HandleGetCoordinates)
	r.Post("/coordinates/batch", h.HandleConvertBatch)
	r.Get("/eot", h.HandleGetTimeReport)
}

// BatchConvertRequest is the request body for POST /v1/coordinates/batch.
// Longitude is a pointer so a missing field is distinguishable from the
// prime meridian.
type BatchConvertRequest struct {
	At        []time.Time     `json:"at"`
	Longitude *float64        `json:"longitude" validate:"required,longitude"`
	Options   convert.Options `json:"options"`
}

// HandleGetCoordinates handles GET /v1/coordinates.
//
// The instant comes from exactly one of the at (RFC 3339) or unix
// (fractional epoch seconds) query parameters. lon is required; meridian
// optionally overrides the reference meridian derived from lon.
func (h *ConvertHandler) HandleGetCoordinates(w http.ResponseWriter, r *http.Request) {
	at, err := instantFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	lon, err := longitudeFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	opts, err := optionsFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.Convert(r.Context(), at, lon, opts)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// Conversions are pure functions of the query parameters.
	w.Header().Set("Cache-Control", "public, max-age=86400")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// HandleConvertBatch handles POST /v1/coordinates/batch.
//
// The batch size cap and the per-item error isolation live in the service;
// the handler only decodes and validates the envelope.
func (h *ConvertHandler) HandleConvertBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchConvertRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if res := h.validator.ValidateStruct(req); !res.IsValid() {
		core.Error(w, r, res.AppError())
		return
	}

	result, err := h.service.ConvertBatch(r.Context(), convert.BatchRequest{
		At:        req.At,
		Longitude: *req.Longitude,
		Options:   req.Options,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// HandleGetTimeReport handles GET /v1/eot.
//
// It accepts the same query parameters as GET /v1/coordinates and returns
// the solar time intermediates without the coordinate set.
func (h *ConvertHandler) HandleGetTimeReport(w http.ResponseWriter, r *http.Request) {
	at, err := instantFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	lon, err := longitudeFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	opts, err := optionsFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	report, err := h.service.TimeReport(r.Context(), at, lon, opts)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=86400")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}

// instantFromQuery reads the requested instant from the at or unix query
// parameter. Exactly one of the two must be present.
func instantFromQuery(r *http.Request) (time.Time, error) {
	atStr := r.URL.Query().Get("at")
	unixStr := r.URL.Query().Get("unix")

	switch {
	case atStr != "" && unixStr != "":
		return time.Time{}, types.NewAppError(
			types.ErrCodeInvalidCombination,
			"at and unix query parameters are mutually exclusive",
			nil,
		)
	case atStr == "" && unixStr == "":
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"at or unix query parameter is required",
			nil,
		)
	case atStr != "":
		t, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			return time.Time{}, types.NewAppError(
				types.ErrCodeValidationInvalidTime,
				"at must be an RFC 3339 timestamp",
				err,
			)
		}
		return t, nil
	default:
		sec, err := strconv.ParseFloat(unixStr, 64)
		if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) {
			return time.Time{}, types.NewAppError(
				types.ErrCodeValidationInvalidTime,
				"unix must be a finite number of epoch seconds",
				err,
			)
		}
		return timeFromUnixSeconds(sec), nil
	}
}

// longitudeFromQuery reads the required lon query parameter. Range checks
// happen in the service.
func longitudeFromQuery(r *http.Request) (float64, error) {
	lonStr := r.URL.Query().Get("lon")
	if lonStr == "" {
		return 0, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"lon query parameter is required",
			nil,
		)
	}

	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidLon,
			"lon must be a longitude in decimal degrees",
			err,
		)
	}
	return lon, nil
}

// optionsFromQuery reads the optional meridian override.
func optionsFromQuery(r *http.Request) (convert.Options, error) {
	var opts convert.Options

	if merStr := r.URL.Query().Get("meridian"); merStr != "" {
		mer, err := strconv.ParseFloat(merStr, 64)
		if err != nil {
			return opts, types.NewAppError(
				types.ErrCodeValidationInvalidOption,
				"meridian must be a longitude in decimal degrees",
				err,
			)
		}
		opts.StandardMeridian = &mer
	}
	return opts, nil
}

// timeFromUnixSeconds converts fractional epoch seconds to a UTC instant.
func timeFromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}
