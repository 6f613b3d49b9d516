// Package solarterm locates solar-term boundaries, the instants where the
// apparent solar longitude crosses a multiple of 15 degrees. A Locator seeds
// each search by inverting the mean-longitude series, proves the resulting
// window brackets exactly one crossing, and hands the bracket to the shared
// bisection root-finder. Resolved nodes are cached per (target, year).
package solarterm

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"chronos/internal/astro"
	"chronos/internal/ephemeris"
	"chronos/internal/types"
)

const (
	defaultToleranceDeg  = 1e-6
	defaultMaxIterations = 64

	// windowMarginDays pads the mean-longitude seed on both sides. The
	// equation of center displaces a crossing by at most about two days,
	// so the true instant always falls inside the margin while the window
	// stays far too narrow to contain a second crossing of the same target.
	windowMarginDays = 20

	// scanSamples is the number of longitude probes used to vet a window
	// before bisection.
	scanSamples = 32
)

// Config tunes a Locator. Zero values fall back to the package defaults.
type Config struct {
	// ToleranceDeg is the residual bound, in degrees of solar longitude,
	// below which a crossing counts as found.
	ToleranceDeg float64

	// MaxIterations caps the bisection budget per lookup.
	MaxIterations int

	Logger *slog.Logger
}

// Locator resolves solar-term crossings against an ephemeris provider. It is
// safe for concurrent use. Successful lookups are cached per (target, year);
// when concurrent lookups race on the same key the first write wins and the
// losers return the cached node.
type Locator struct {
	provider      ephemeris.Provider
	toleranceDeg  float64
	maxIterations int
	logger        *slog.Logger

	mu    sync.RWMutex
	nodes map[nodeKey]Node
}

type nodeKey struct {
	targetDeg int
	year      int
}

// NewLocator builds a Locator over provider.
func NewLocator(provider ephemeris.Provider, cfg Config) *Locator {
	if cfg.ToleranceDeg <= 0 {
		cfg.ToleranceDeg = defaultToleranceDeg
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Locator{
		provider:      provider,
		toleranceDeg:  cfg.ToleranceDeg,
		maxIterations: cfg.MaxIterations,
		logger:        cfg.Logger,
		nodes:         make(map[nodeKey]Node),
	}
}

// Locate resolves the instant during the civil year at which the solar
// longitude crosses targetDeg. The search window is seeded from the inverted
// mean longitude, which dates every crossing inside the civil year that
// contains it. Failed lookups are never cached.
func (l *Locator) Locate(ctx context.Context, targetDeg float64, year int) (Node, error) {
	idx := TermIndex(targetDeg)
	if idx < 0 {
		return Node{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			"term target must be a multiple of 15 degrees in [0,360)",
			nil,
			map[string]any{"target_deg": targetDeg},
		)
	}

	key := nodeKey{targetDeg: idx * TermStepDeg, year: year}
	l.mu.RLock()
	node, ok := l.nodes[key]
	l.mu.RUnlock()
	if ok {
		return node, nil
	}

	from, until := searchWindow(targetDeg, year)
	at, err := l.LocateInWindow(ctx, targetDeg, from, until)
	if err != nil {
		return Node{}, err
	}

	// Nodes carry microsecond precision, matching the timestamptz round trip
	// through the term store. Finer digits are below the residual tolerance.
	node = Node{
		TargetDeg: float64(key.targetDeg),
		Name:      termNames[idx],
		Sectional: Sectional(targetDeg),
		At:        at.Truncate(time.Microsecond),
	}

	l.mu.Lock()
	if cached, ok := l.nodes[key]; ok {
		node = cached
	} else {
		l.nodes[key] = node
	}
	l.mu.Unlock()

	l.logger.Debug("resolved solar term",
		"target_deg", node.TargetDeg,
		"year", year,
		"name", node.Name,
		"at", node.At.Format(time.RFC3339Nano),
	)
	return node, nil
}

// Year resolves every node of a civil year in chronological order, Xiaohan
// in early January through Dongzhi in late December. Cached nodes are served
// without touching the provider.
func (l *Locator) Year(ctx context.Context, year int) ([]Node, error) {
	nodes := make([]Node, 0, TermCount)
	for i := 0; i < TermCount; i++ {
		node, err := l.Locate(ctx, float64(i*TermStepDeg), year)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].At.Before(nodes[j].At) })
	return nodes, nil
}

// LocateInWindow resolves the instant in [from, until] at which the solar
// longitude crosses targetDeg, bypassing the cache. The window must contain
// exactly one crossing: a window with none, with several, or wide enough to
// sweep the full circle fails with ambiguous_window rather than picking one.
// Provider errors are terminal for the lookup and propagate unchanged.
func (l *Locator) LocateInWindow(ctx context.Context, targetDeg float64, from, until time.Time) (time.Time, error) {
	if TermIndex(targetDeg) < 0 {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			"term target must be a multiple of 15 degrees in [0,360)",
			nil,
			map[string]any{"target_deg": targetDeg},
		)
	}
	if !until.After(from) {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeAmbiguousWindow,
			"search window is empty",
			nil,
			map[string]any{
				"from":  from.UTC().Format(time.RFC3339Nano),
				"until": until.UTC().Format(time.RFC3339Nano),
			},
		)
	}

	loSec := unixSecondsOf(from)
	hiSec := unixSecondsOf(until)

	// Probe the window. A probe already inside tolerance resolves the
	// lookup outright; otherwise the probes prove there is exactly one
	// ascending crossing and yield its bracket.
	secs := make([]float64, scanSamples)
	residuals := make([]float64, scanSamples)
	sweep := 0.0
	prevLon := 0.0
	for i := 0; i < scanSamples; i++ {
		sec := loSec + (hiSec-loSec)*float64(i)/float64(scanSamples-1)
		lon, err := l.sample(ctx, sec)
		if err != nil {
			return time.Time{}, err
		}
		r := astro.Wrap180(lon - targetDeg)
		if math.Abs(r) <= l.toleranceDeg {
			return timeAtUnixSeconds(sec), nil
		}
		secs[i] = sec
		residuals[i] = r
		if i > 0 {
			sweep += astro.Norm360(lon - prevLon)
		}
		prevLon = lon
	}

	if sweep >= 360 {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeAmbiguousWindow,
			"search window sweeps the full longitude circle",
			nil,
			map[string]any{
				"target_deg": targetDeg,
				"sweep_deg":  sweep,
				"from":       from.UTC().Format(time.RFC3339Nano),
				"until":      until.UTC().Format(time.RFC3339Nano),
			},
		)
	}

	bracket := -1
	crossings := 0
	for i := 0; i+1 < scanSamples; i++ {
		if residuals[i] < 0 && residuals[i+1] > 0 {
			crossings++
			bracket = i
		}
	}
	if crossings != 1 {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeAmbiguousWindow,
			"search window must contain exactly one crossing of the target",
			nil,
			map[string]any{
				"target_deg": targetDeg,
				"crossings":  crossings,
				"from":       from.UTC().Format(time.RFC3339Nano),
				"until":      until.UTC().Format(time.RFC3339Nano),
			},
		)
	}

	f := func(sec float64) (float64, error) {
		lon, err := l.sample(ctx, sec)
		if err != nil {
			return 0, err
		}
		return astro.Wrap180(lon - targetDeg), nil
	}
	root, err := astro.Bisect(f, secs[bracket], secs[bracket+1], l.toleranceDeg, l.maxIterations)
	if err != nil {
		return time.Time{}, err
	}
	return timeAtUnixSeconds(root), nil
}

// searchWindow brackets the targetDeg crossing of a civil year. Inverting the
// mean-longitude series dates the crossing to within about two days and the
// margin absorbs the equation-of-center displacement.
func searchWindow(targetDeg float64, year int) (time.Time, time.Time) {
	days := astro.Norm360(targetDeg-astro.MeanLongitude(0))/astro.MeanMotionDegPerDay +
		float64(year-2000)*astro.TropicalYearDays
	seed := astro.FromDaysSinceJ2000(days)
	margin := windowMarginDays * 24 * time.Hour
	return seed.Add(-margin), seed.Add(margin)
}

func (l *Locator) sample(ctx context.Context, sec float64) (float64, error) {
	lon, err := l.provider.LongitudeAt(ctx, timeAtUnixSeconds(sec))
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

func unixSecondsOf(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func timeAtUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
