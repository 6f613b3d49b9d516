// Package convert composes the four-pillar temporal coordinate from the
// astronomical building blocks: apparent-time correction for the day and
// hour pillars, solar-longitude sectors for the month pillar, and the
// policy-governed year boundary for the year pillar. Conversion is a pure
// function of its inputs; the only shared state is the term locator's node
// cache.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"chronos/internal/astro"
	"chronos/internal/config"
	"chronos/internal/ephemeris"
	"chronos/internal/sexagenary"
	"chronos/internal/solarterm"
	"chronos/internal/types"
)

// batchConcurrencyLimit caps the goroutines working one batch request.
const batchConcurrencyLimit = 10

// monthBranchOrigin is the branch of the first solar month, Yin.
const monthBranchOrigin = 2

// Duration is a time.Duration that serializes as a Go duration string,
// e.g. "-14m7.3s".
type Duration time.Duration

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// TimeReport carries the apparent-time quantities resolved for one instant.
type TimeReport struct {
	// Instant is the input instant in UTC.
	Instant time.Time `json:"instant"`

	// Longitude is the observer longitude used for the correction.
	Longitude float64 `json:"longitude"`

	// StandardMeridian is the reference meridian of the observer's zone.
	StandardMeridian float64 `json:"standard_meridian"`

	// EquationOfTime is apparent minus mean solar time at the instant.
	EquationOfTime Duration `json:"equation_of_time"`

	// ApparentOffset is apparent solar time minus the standard clock.
	ApparentOffset Duration `json:"apparent_offset"`

	// ApparentTime is the local true solar time, a shifted civil reading.
	ApparentTime time.Time `json:"apparent_time"`

	// DayStart is the UTC instant of the apparent midnight opening the
	// apparent day that contains the instant.
	DayStart time.Time `json:"day_start"`
}

// CoordinateSet is the four-pillar coordinate of one instant plus the
// apparent-time quantities it was derived from.
type CoordinateSet struct {
	Year  sexagenary.Unit `json:"year"`
	Month sexagenary.Unit `json:"month"`
	Day   sexagenary.Unit `json:"day"`
	Hour  sexagenary.Unit `json:"hour"`

	TimeReport
}

// BatchRequest converts several instants sharing one longitude and option
// set.
type BatchRequest struct {
	At        []time.Time `json:"at"`
	Longitude float64     `json:"longitude"`
	Options   Options     `json:"options"`
}

// BatchItem is one slot of a batch result. Exactly one of Result or Error is
// set; slots align one to one with the request order.
type BatchItem struct {
	Result *CoordinateSet  `json:"result,omitempty"`
	Error  *types.AppError `json:"error,omitempty"`
}

// BatchResult is the ordered outcome of a batch conversion.
type BatchResult struct {
	Results   []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// Metrics receives conversion telemetry. Implementations must be safe for
// concurrent use. A nil Metrics disables emission.
type Metrics interface {
	RecordConversion(ctx context.Context, outcome string, elapsed time.Duration)
	RecordBatch(ctx context.Context, size, failures int)
}

// Service is the conversion entry point.
type Service interface {
	// Convert resolves the coordinate set of one instant.
	Convert(ctx context.Context, at time.Time, lonDeg float64, opts Options) (*CoordinateSet, error)

	// ConvertBatch resolves every instant of the request independently,
	// isolating per-item failures and preserving input order.
	ConvertBatch(ctx context.Context, req BatchRequest) (*BatchResult, error)

	// TimeReport resolves only the apparent-time quantities of an instant.
	TimeReport(ctx context.Context, at time.Time, lonDeg float64, opts Options) (*TimeReport, error)
}

type service struct {
	provider ephemeris.Provider
	locator  *solarterm.Locator
	cfg      config.ConvertConfig
	logger   *slog.Logger
	metrics  Metrics
}

// NewService builds the conversion service. The locator must wrap the same
// provider so month sectors and year boundaries agree on the longitude model.
func NewService(
	provider ephemeris.Provider,
	locator *solarterm.Locator,
	cfg config.ConvertConfig,
	logger *slog.Logger,
	metrics Metrics,
) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		provider: provider,
		locator:  locator,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Convert implements Service.
func (s *service) Convert(ctx context.Context, at time.Time, lonDeg float64, opts Options) (*CoordinateSet, error) {
	started := time.Now()
	set, err := s.convert(ctx, at, lonDeg, opts)
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = string(asAppError(err).Code)
		}
		s.metrics.RecordConversion(ctx, outcome, time.Since(started))
	}
	return set, err
}

func (s *service) convert(ctx context.Context, at time.Time, lonDeg float64, opts Options) (*CoordinateSet, error) {
	if err := validateLongitude(lonDeg); err != nil {
		return nil, err
	}
	r, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}

	t := at.UTC()
	report, err := timeReport(t, lonDeg, r)
	if err != nil {
		return nil, err
	}

	day := dayPillar(report.ApparentTime, r.epoch)
	hour, err := hourPillar(report.ApparentTime, day, r.cycles)
	if err != nil {
		return nil, err
	}

	year, err := s.yearPillar(ctx, t, report.ApparentTime, r)
	if err != nil {
		return nil, err
	}

	lon, err := s.longitudeAt(ctx, t)
	if err != nil {
		return nil, err
	}
	month, err := monthPillar(lon, year, r)
	if err != nil {
		return nil, err
	}

	set := &CoordinateSet{
		Year:       year,
		Month:      month,
		Day:        day,
		Hour:       hour,
		TimeReport: *report,
	}
	s.logger.DebugContext(ctx, "converted instant",
		"instant", t.Format(time.RFC3339Nano),
		"longitude", lonDeg,
		"year", year.Value(),
		"month", month.Value(),
		"day", day.Value(),
		"hour", hour.Value(),
	)
	return set, nil
}

// ConvertBatch implements Service.
func (s *service) ConvertBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.At) == 0 {
		return &BatchResult{Results: []BatchItem{}}, nil
	}
	if len(req.At) > s.cfg.MaxBatchSize {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch size %d exceeds maximum of %d instants", len(req.At), s.cfg.MaxBatchSize),
			nil,
			map[string]any{"size": len(req.At), "max": s.cfg.MaxBatchSize},
		)
	}

	items := make([]BatchItem, len(req.At))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrencyLimit)
	for i, at := range req.At {
		i, at := i, at
		g.Go(func() error {
			set, err := s.Convert(gCtx, at, req.Longitude, req.Options)
			if err != nil {
				// Per-item isolation: record and let the rest proceed.
				items[i] = BatchItem{Error: asAppError(err)}
				return nil
			}
			items[i] = BatchItem{Result: set}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"batch conversion failed",
			err,
		)
	}

	result := &BatchResult{Results: items}
	for _, item := range items {
		if item.Error != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordBatch(ctx, len(req.At), result.Failed)
	}
	s.logger.InfoContext(ctx, "batch conversion finished",
		"size", len(req.At),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}

// TimeReport implements Service.
func (s *service) TimeReport(_ context.Context, at time.Time, lonDeg float64, opts Options) (*TimeReport, error) {
	if err := validateLongitude(lonDeg); err != nil {
		return nil, err
	}
	r, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}
	return timeReport(at.UTC(), lonDeg, r)
}

// timeReport resolves the apparent-time quantities. Pure series math plus
// the apparent-midnight root-find; no provider involvement.
func timeReport(t time.Time, lonDeg float64, r resolved) (*TimeReport, error) {
	meridian := astro.StandardMeridian(lonDeg)
	if r.meridian != nil {
		meridian = *r.meridian
	}

	dayStart, err := astro.ApparentDayStart(t, lonDeg, r.eotOrder, r.maxIterations)
	if err != nil {
		return nil, err
	}

	return &TimeReport{
		Instant:          t,
		Longitude:        lonDeg,
		StandardMeridian: meridian,
		EquationOfTime:   Duration(astro.EquationOfTimeDuration(t, r.eotOrder)),
		ApparentOffset:   Duration(astro.ClockOffset(t, lonDeg, meridian, r.eotOrder)),
		ApparentTime:     astro.ApparentTime(t, lonDeg, r.eotOrder),
		DayStart:         dayStart,
	}, nil
}

// dayPillar derives the day unit by cyclic offset between the apparent civil
// date and the epoch's day zero.
func dayPillar(apparent time.Time, epoch ReferenceEpoch) sexagenary.Unit {
	days := civilDayNumber(apparent) - civilDayNumber(epoch.DayZero)
	return sexagenary.Unit{}.Advance(epoch.DayZeroUnit + days)
}

// hourPillar derives the hour unit from the apparent time of day. The
// apparent day owns twelve two-hour slots anchored on Zi; the slot before
// and the slot after apparent midnight both belong to the day's Zi pillar.
// The stem follows the five-rats rule keyed on the day stem.
func hourPillar(apparent time.Time, day sexagenary.Unit, cycles FiveCycleTables) (sexagenary.Unit, error) {
	slot := int((hourOfDay(apparent)+1)/2) % sexagenary.BranchCount
	stem := (cycles.HourStems[day.Stem()%5] + slot) % sexagenary.StemCount
	return sexagenary.FromStemBranch(stem, slot)
}

// monthPillar derives the month unit from the solar-longitude sector. The
// sectors are 30 degrees wide starting at the boundary origin; the first
// sector is the Yin month and the stem follows the five-tigers rule keyed on
// the year stem.
func monthPillar(solarLonDeg float64, year sexagenary.Unit, r resolved) (sexagenary.Unit, error) {
	sector := int(astro.Norm360(solarLonDeg-r.boundaryLongitude) / 30)
	branch := (monthBranchOrigin + sector) % sexagenary.BranchCount
	stem := (r.cycles.MonthStems[year.Stem()%5] + sector) % sexagenary.StemCount
	return sexagenary.FromStemBranch(stem, branch)
}

// yearPillar derives the year unit from the governing boundary. The solar-
// longitude policy compares the instant against the located boundary
// crossing of its civil year; the fixed-date policy compares the apparent
// civil date against the configured pivot date.
func (s *service) yearPillar(ctx context.Context, t, apparent time.Time, r resolved) (sexagenary.Unit, error) {
	var solarYear int
	switch r.policy {
	case YearBoundaryFixedDate:
		y := apparent.Year()
		pivot := time.Date(y, time.Month(r.boundaryMonth), r.boundaryDay, 0, 0, 0, 0, time.UTC)
		if apparent.Before(pivot) {
			solarYear = y - 1
		} else {
			solarYear = y
		}
	default:
		y := t.Year()
		node, err := s.locator.Locate(ctx, r.boundaryLongitude, y)
		if err != nil {
			return sexagenary.Unit{}, err
		}
		if t.Before(node.At) {
			solarYear = y - 1
		} else {
			solarYear = y
		}
	}
	return sexagenary.Unit{}.Advance(r.epoch.YearZeroUnit + solarYear - r.epoch.YearZero), nil
}

// longitudeAt queries the provider and guards against non-finite values.
func (s *service) longitudeAt(ctx context.Context, t time.Time) (float64, error) {
	lon, err := s.provider.LongitudeAt(ctx, t)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return 0, types.NewAppError(
			types.ErrCodeProviderFailure,
			"ephemeris provider returned a non-finite longitude",
			nil,
		)
	}
	return lon, nil
}

func validateLongitude(lonDeg float64) error {
	if math.IsNaN(lonDeg) || lonDeg < -180 || lonDeg > 180 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidLon,
			"longitude must be in [-180,180]",
			nil,
			map[string]any{"longitude": lonDeg},
		)
	}
	return nil
}

// hourOfDay returns the fractional hour of t's civil reading.
func hourOfDay(t time.Time) float64 {
	return float64(t.Hour()) +
		float64(t.Minute())/60 +
		float64(t.Second())/3600 +
		float64(t.Nanosecond())/(3600*1e9)
}

// civilDayNumber counts whole days from the Unix epoch to the civil date of
// t, negative for dates before it.
func civilDayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func asAppError(err error) *types.AppError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected, err.Error(), err)
}
