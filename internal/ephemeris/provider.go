// Package ephemeris supplies apparent solar longitude to the conversion core.
// The Provider interface abstracts where the longitude comes from: the
// built-in low-order series, precomputed year tables in S3, or a remote
// ephemeris service behind a resilient HTTP client. A registry selects and
// decorates the configured implementation at startup.
package ephemeris

import (
	"context"
	"time"

	"chronos/internal/types"
)

// Provider resolves the apparent geocentric ecliptic longitude of the Sun.
//
// Implementations return degrees in [0,360), monotonic non-decreasing mod 360
// over any window shorter than one tropical year. Errors are terminal for the
// lookup; retries, if any, live inside the implementation's transport.
type Provider interface {
	LongitudeAt(ctx context.Context, t time.Time) (float64, error)
}

// Bounded restricts an inner provider to a validity window. Outside the
// window lookups fail with out_of_range instead of silently degrading. A zero
// boundary leaves that side open.
type Bounded struct {
	inner Provider
	from  time.Time
	until time.Time
}

// NewBounded wraps inner with a [from, until) validity window.
func NewBounded(inner Provider, from, until time.Time) *Bounded {
	return &Bounded{inner: inner, from: from, until: until}
}

// LongitudeAt implements Provider.
func (b *Bounded) LongitudeAt(ctx context.Context, t time.Time) (float64, error) {
	if !b.from.IsZero() && t.Before(b.from) {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeOutOfRange,
			"instant precedes the ephemeris validity window",
			nil,
			map[string]any{"instant": t.UTC().Format(time.RFC3339Nano), "valid_from": b.from.UTC().Format(time.RFC3339Nano)},
		)
	}
	if !b.until.IsZero() && !t.Before(b.until) {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeOutOfRange,
			"instant is past the ephemeris validity window",
			nil,
			map[string]any{"instant": t.UTC().Format(time.RFC3339Nano), "valid_until": b.until.UTC().Format(time.RFC3339Nano)},
		)
	}
	return b.inner.LongitudeAt(ctx, t)
}

// ProviderFunc adapts a plain function to the Provider interface. Used by
// tests and by callers composing ad-hoc providers.
type ProviderFunc func(ctx context.Context, t time.Time) (float64, error)

// LongitudeAt implements Provider.
func (f ProviderFunc) LongitudeAt(ctx context.Context, t time.Time) (float64, error) {
	return f(ctx, t)
}

var _ Provider = (*Bounded)(nil)
var _ Provider = ProviderFunc(nil)
