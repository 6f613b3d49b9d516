package convert

import (
	"time"

	"chronos/internal/astro"
	"chronos/internal/types"
)

// YearBoundaryPolicy selects how the year pillar's governing boundary is
// determined.
type YearBoundaryPolicy string

const (
	// YearBoundarySolarLongitude pivots the year at a solar-longitude
	// crossing, by default 315 degrees (Lichun).
	YearBoundarySolarLongitude YearBoundaryPolicy = "solar_longitude"

	// YearBoundaryFixedDate pivots the year at a fixed civil date on the
	// apparent calendar.
	YearBoundaryFixedDate YearBoundaryPolicy = "fixed_date"
)

// FiveCycleTables carry the stem offsets for the derived pillars, keyed by
// the governing stem modulo five.
type FiveCycleTables struct {
	// MonthStems is the "five tigers" table: the stem of the first solar
	// month (the Yin month) for each year-stem pair.
	MonthStems [5]int `json:"month_stems"`

	// HourStems is the "five rats" table: the stem of the Zi hour for each
	// day-stem pair.
	HourStems [5]int `json:"hour_stems"`
}

// DefaultFiveCycles returns the traditional offset tables.
func DefaultFiveCycles() FiveCycleTables {
	return FiveCycleTables{
		MonthStems: [5]int{2, 4, 6, 8, 0},
		HourStems:  [5]int{0, 2, 4, 6, 8},
	}
}

// ReferenceEpoch anchors the day and year cycles to documented pillar values.
type ReferenceEpoch struct {
	// DayZero is the UTC date whose apparent day carries DayZeroUnit.
	DayZero time.Time `json:"day_zero"`

	// DayZeroUnit is the day-pillar cycle value on DayZero.
	DayZeroUnit int `json:"day_zero_unit"`

	// YearZero is the civil year whose year pillar carries YearZeroUnit.
	YearZero int `json:"year_zero"`

	// YearZeroUnit is the year-pillar cycle value for YearZero.
	YearZeroUnit int `json:"year_zero_unit"`
}

// DefaultEpoch returns the documented anchors: 1900-01-01 was a Jia-Xu day
// (value 10) and 1984 was a Jia-Zi year (value 0).
func DefaultEpoch() ReferenceEpoch {
	return ReferenceEpoch{
		DayZero:      time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC),
		DayZeroUnit:  10,
		YearZero:     1984,
		YearZeroUnit: 0,
	}
}

// Options tunes one conversion. Zero-valued fields fall back to the service
// defaults taken from configuration.
type Options struct {
	// StandardMeridian overrides the zone meridian in degrees; when nil it
	// is inferred from the longitude (nearest 15-degree meridian).
	StandardMeridian *float64 `json:"standard_meridian,omitempty"`

	// YearBoundaryPolicy selects the year-pillar pivot rule.
	YearBoundaryPolicy YearBoundaryPolicy `json:"year_boundary_policy,omitempty"`

	// YearBoundaryLongitude is the year pivot and month-sector origin in
	// degrees. Under the solar-longitude policy it must be a solar-term
	// target. Nil keeps the configured default.
	YearBoundaryLongitude *float64 `json:"year_boundary_longitude,omitempty"`

	// YearBoundaryMonth and YearBoundaryDay fix the civil pivot date used
	// by the fixed-date policy.
	YearBoundaryMonth int `json:"year_boundary_month,omitempty"`
	YearBoundaryDay   int `json:"year_boundary_day,omitempty"`

	// EoTSeriesOrder truncates the equation-of-center series used for the
	// apparent-time correction.
	EoTSeriesOrder int `json:"eot_series_order,omitempty"`

	// RootFindMaxIterations bounds the apparent-midnight root-find.
	RootFindMaxIterations int `json:"root_find_max_iterations,omitempty"`

	// Epoch overrides the day and year cycle anchors.
	Epoch *ReferenceEpoch `json:"epoch,omitempty"`

	// FiveCycles overrides the stem offset tables.
	FiveCycles *FiveCycleTables `json:"five_cycles,omitempty"`
}

// resolved is an Options with every field populated and validated.
type resolved struct {
	meridian          *float64
	policy            YearBoundaryPolicy
	boundaryLongitude float64
	boundaryMonth     int
	boundaryDay       int
	eotOrder          int
	maxIterations     int
	epoch             ReferenceEpoch
	cycles            FiveCycleTables
}

// resolve merges per-request options over the service defaults and validates
// the result. The root-find tolerance is deliberately absent here: the term
// locator's tolerance is fixed at construction so its (target, year) cache
// stays coherent across requests.
func (s *service) resolve(opts Options) (resolved, error) {
	r := resolved{
		meridian:          opts.StandardMeridian,
		policy:            opts.YearBoundaryPolicy,
		boundaryLongitude: s.cfg.YearBoundaryLongitude,
		boundaryMonth:     s.cfg.YearBoundaryMonth,
		boundaryDay:       s.cfg.YearBoundaryDay,
		eotOrder:          s.cfg.EoTSeriesOrder,
		maxIterations:     s.cfg.RootFindMaxIterations,
		epoch:             DefaultEpoch(),
		cycles:            DefaultFiveCycles(),
	}

	if r.policy == "" {
		r.policy = YearBoundaryPolicy(s.cfg.YearBoundaryPolicy)
	}
	switch r.policy {
	case YearBoundarySolarLongitude, YearBoundaryFixedDate:
	default:
		return resolved{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidOption,
			"unknown year boundary policy",
			nil,
			map[string]any{"year_boundary_policy": string(r.policy)},
		)
	}

	if opts.YearBoundaryLongitude != nil {
		r.boundaryLongitude = *opts.YearBoundaryLongitude
	}
	if r.boundaryLongitude < 0 || r.boundaryLongitude >= 360 {
		return resolved{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			"year boundary longitude must be in [0,360)",
			nil,
			map[string]any{"year_boundary_longitude": r.boundaryLongitude},
		)
	}

	if opts.YearBoundaryMonth != 0 {
		r.boundaryMonth = opts.YearBoundaryMonth
	}
	if opts.YearBoundaryDay != 0 {
		r.boundaryDay = opts.YearBoundaryDay
	}
	if r.boundaryMonth < 1 || r.boundaryMonth > 12 || r.boundaryDay < 1 || r.boundaryDay > 31 {
		return resolved{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			"year boundary date must be a valid month and day",
			nil,
			map[string]any{"year_boundary_month": r.boundaryMonth, "year_boundary_day": r.boundaryDay},
		)
	}

	if opts.EoTSeriesOrder != 0 {
		r.eotOrder = opts.EoTSeriesOrder
	}
	if r.eotOrder < 1 || r.eotOrder > astro.MaxSeriesOrder {
		return resolved{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			"equation-of-time series order must be in [1,3]",
			nil,
			map[string]any{"eot_series_order": r.eotOrder},
		)
	}

	if opts.RootFindMaxIterations != 0 {
		r.maxIterations = opts.RootFindMaxIterations
	}
	if r.maxIterations < 1 {
		return resolved{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			"root-find iteration budget must be at least 1",
			nil,
			map[string]any{"root_find_max_iterations": r.maxIterations},
		)
	}

	if r.meridian != nil && (*r.meridian < -180 || *r.meridian > 180) {
		return resolved{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			"standard meridian must be in [-180,180]",
			nil,
			map[string]any{"standard_meridian": *r.meridian},
		)
	}

	if opts.Epoch != nil {
		r.epoch = *opts.Epoch
	}
	if r.epoch.DayZero.IsZero() ||
		r.epoch.DayZeroUnit < 0 || r.epoch.DayZeroUnit >= 60 ||
		r.epoch.YearZeroUnit < 0 || r.epoch.YearZeroUnit >= 60 {
		return resolved{}, types.NewAppError(
			types.ErrCodeRange,
			"reference epoch requires a day-zero date and cycle values in [0,60)",
			nil,
		)
	}

	if opts.FiveCycles != nil {
		r.cycles = *opts.FiveCycles
	}
	for _, stem := range r.cycles.MonthStems {
		if stem < 0 || stem >= 10 {
			return resolved{}, types.NewAppError(
				types.ErrCodeRange,
				"five-cycle month stems must be stem indices in [0,10)",
				nil,
			)
		}
	}
	for _, stem := range r.cycles.HourStems {
		if stem < 0 || stem >= 10 {
			return resolved{}, types.NewAppError(
				types.ErrCodeRange,
				"five-cycle hour stems must be stem indices in [0,10)",
				nil,
			)
		}
	}

	return r, nil
}
