// Package almanac precomputes and serves the persisted solar-term calendar.
// The worker side consumes precompute jobs and eagerly locates every node of
// the requested year range; the read side backs the terms API with a
// store-first lookup that falls back to the locator. Persistence is a
// collaborator, never a requirement: with no store the package still serves
// freshly located nodes.
package almanac

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"chronos/internal/config"
	"chronos/internal/solarterm"
	"chronos/internal/types"
)

// DefaultPrecomputeConcurrency bounds the years located in parallel when the
// configuration leaves the knob unset.
const DefaultPrecomputeConcurrency = 4

// TermStore persists located nodes per year. Implementations must be
// idempotent on writes: redelivered jobs re-upsert the same instants.
type TermStore interface {
	// UpsertYear stores the nodes of a year, skipping rows that already
	// exist, and reports how many were actually inserted.
	UpsertYear(ctx context.Context, year int, nodes []solarterm.Node) (int, error)

	// GetYear returns the stored nodes of a year ordered by instant. A year
	// with no rows yields an empty slice, not an error.
	GetYear(ctx context.Context, year int) ([]solarterm.Node, error)
}

// MetricPublisher emits almanac telemetry.
type MetricPublisher interface {
	// PublishJobStats records the years processed and nodes inserted by one
	// job run.
	PublishJobStats(ctx context.Context, years, nodes int) error

	// RecordTermLookup counts a terms read, tagged by whether the store
	// served it.
	RecordTermLookup(ctx context.Context, storeHit bool)
}

// Almanac wires the locator, the store, and job telemetry for both the
// precompute worker and the terms read path.
type Almanac struct {
	Config  config.AlmanacConfig
	Log     *slog.Logger
	Locator *solarterm.Locator
	Store   TermStore
	Metrics MetricPublisher
}

// ValidateYearRange checks an inclusive precompute range. A maxSpan of zero
// leaves the span unbounded.
func ValidateYearRange(fromYear, toYear, maxSpan int) error {
	if toYear < fromYear {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidYear,
			"to_year must not precede from_year",
			nil,
			map[string]any{"from_year": fromYear, "to_year": toYear},
		)
	}
	if span := toYear - fromYear + 1; maxSpan > 0 && span > maxSpan {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidYear,
			fmt.Sprintf("year span %d exceeds maximum of %d", span, maxSpan),
			nil,
			map[string]any{"span": span, "max": maxSpan},
		)
	}
	return nil
}

// ProcessJob locates all nodes of every year in the job's range and upserts
// them into the store. Years run concurrently under the configured bound.
// A failed year fails the whole job so the queue redelivers it; idempotent
// upserts make the retry safe. Structurally invalid jobs are logged and
// discarded without error so they are not redelivered forever.
func (a *Almanac) ProcessJob(ctx context.Context, job types.PrecomputeJob) error {
	if err := ValidateYearRange(job.FromYear, job.ToYear, a.Config.MaxYearSpan); err != nil {
		a.Log.ErrorContext(ctx, "Discarding invalid precompute job",
			"job_id", job.JobID,
			"from_year", job.FromYear,
			"to_year", job.ToYear,
			"error", err,
		)
		return nil
	}

	started := time.Now()
	if !job.RequestedAt.IsZero() {
		a.Log.InfoContext(ctx, "Precompute job dequeued",
			"job_id", job.JobID,
			"queue_lag", time.Since(job.RequestedAt).String(),
		)
	}

	limit := a.Config.PrecomputeConcurrency
	if limit <= 0 {
		limit = DefaultPrecomputeConcurrency
	}

	var yearsDone, nodesInserted atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for year := job.FromYear; year <= job.ToYear; year++ {
		year := year
		g.Go(func() error {
			nodes, err := a.Locator.Year(gCtx, year)
			if err != nil {
				return fmt.Errorf("almanac: locate year %d: %w", year, err)
			}
			inserted := 0
			if a.Store != nil {
				inserted, err = a.Store.UpsertYear(gCtx, year, nodes)
				if err != nil {
					return fmt.Errorf("almanac: persist year %d: %w", year, err)
				}
			}
			yearsDone.Add(1)
			nodesInserted.Add(int64(inserted))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if a.Metrics != nil {
		if err := a.Metrics.PublishJobStats(ctx, int(yearsDone.Load()), int(nodesInserted.Load())); err != nil {
			a.Log.WarnContext(ctx, "Failed to publish precompute job stats",
				"job_id", job.JobID,
				"error", err,
			)
		}
	}

	a.Log.InfoContext(ctx, "Precompute job finished",
		"job_id", job.JobID,
		"from_year", job.FromYear,
		"to_year", job.ToYear,
		"years", yearsDone.Load(),
		"nodes_inserted", nodesInserted.Load(),
		"elapsed", time.Since(started).String(),
	)
	return nil
}

// TermsForYear returns the year's nodes in chronological order, preferring
// the store and computing on miss. A store failure degrades to computation;
// a computed year is written back so the next lookup hits the store.
func (a *Almanac) TermsForYear(ctx context.Context, year int) ([]solarterm.Node, error) {
	if a.Store != nil {
		nodes, err := a.Store.GetYear(ctx, year)
		if err != nil {
			a.Log.WarnContext(ctx, "Almanac store read failed, computing instead",
				"year", year,
				"error", err,
			)
		} else if len(nodes) == solarterm.TermCount {
			if a.Metrics != nil {
				a.Metrics.RecordTermLookup(ctx, true)
			}
			return nodes, nil
		}
	}

	nodes, err := a.Locator.Year(ctx, year)
	if err != nil {
		return nil, err
	}
	if a.Metrics != nil {
		a.Metrics.RecordTermLookup(ctx, false)
	}
	if a.Store != nil {
		if _, err := a.Store.UpsertYear(ctx, year, nodes); err != nil {
			a.Log.WarnContext(ctx, "Almanac store write failed",
				"year", year,
				"error", err,
			)
		}
	}
	return nodes, nil
}
