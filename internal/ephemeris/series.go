package ephemeris

import (
	"context"
	"fmt"
	"time"

	"chronos/internal/astro"
	"chronos/internal/types"
)

// Series is the built-in provider: the low-order apparent longitude series,
// pure computation with no I/O. It is the default source and needs no
// credentials, which also makes it the local-mode provider.
type Series struct {
	order int
}

// NewSeries constructs a Series provider with the given equation-of-center
// truncation order. Returns a range_error for orders outside
// [1, astro.MaxSeriesOrder].
func NewSeries(order int) (*Series, error) {
	if order < 1 || order > astro.MaxSeriesOrder {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			fmt.Sprintf("series order must be in [1,%d]", astro.MaxSeriesOrder),
			nil,
			map[string]any{"order": order},
		)
	}
	return &Series{order: order}, nil
}

// Order returns the configured truncation order.
func (s *Series) Order() int { return s.order }

// LongitudeAt implements Provider.
func (s *Series) LongitudeAt(_ context.Context, t time.Time) (float64, error) {
	return astro.SolarLongitude(t, s.order), nil
}

var _ Provider = (*Series)(nil)
