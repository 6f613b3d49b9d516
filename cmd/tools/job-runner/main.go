// Package main implements the job-runner CLI tool for invoking almanac
// precompute jobs directly, bypassing the SQS queue and the Lambda shim.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It constructs a types.PrecomputeJob and invokes the
// almanac's core job logic directly.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --from-year=2024 --to-year=2026
//	go run ./cmd/tools/job-runner --from-year=1900 --to-year=2100 --no-store --print-terms
//	go run ./cmd/tools/job-runner --dry-run --from-year=2024 --to-year=2026
//
// The tool reads DATABASE_URL from environment variables (or .env file via
// godotenv). In --dry-run mode, it prints the constructed JSON payload
// without executing; the payload can be piped straight into the worker's
// local stdin mode. With --no-store, no database is required and the terms
// are computed without being persisted.
//
// The tool always uses the in-process series ephemeris provider. The table
// and remote sources require AWS and HTTP clients that are not wired in the
// CLI context.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"chronos/internal/almanac"
	"chronos/internal/config"
	"chronos/internal/db"
	"chronos/internal/ephemeris"
	"chronos/internal/solarterm"
	"chronos/internal/types"
)

// defaultSeriesOrder matches the EPHEMERIS_SERIES_ORDER default used by the
// deployed services.
const defaultSeriesOrder = 2

func main() {
	// Parse command-line flags.
	fromYearFlag := flag.Int("from-year", 0, "First civil year of the range (inclusive)")
	toYearFlag := flag.Int("to-year", 0, "Last civil year of the range (inclusive)")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")
	noStoreFlag := flag.Bool("no-store", false, "Compute terms without persisting (no database required)")
	printTermsFlag := flag.Bool("print-terms", false, "Print the located terms as JSON on stdout")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke almanac precompute jobs directly, bypassing SQS and Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	// Validate the year range. Like the worker's manual invocation path, both
	// bounds are required and year zero is not accepted.
	if *fromYearFlag == 0 || *toYearFlag == 0 {
		fmt.Fprintf(os.Stderr, "error: --from-year and --to-year are required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if err := almanac.ValidateYearRange(*fromYearFlag, *toYearFlag, 0); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid year range: %v\n", err)
		os.Exit(1)
	}

	// Construct the precompute job.
	job := types.PrecomputeJob{
		JobID:       fmt.Sprintf("job-runner-%s", uuid.New().String()),
		FromYear:    *fromYearFlag,
		ToYear:      *toYearFlag,
		RequestedAt: time.Now().UTC(),
	}

	// If dry-run, print the JSON payload and exit.
	if *dryRunFlag {
		printPayload(job)
		return
	}

	// Initialize structured logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	// Set up cancellation context with signal handling.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Execute the job.
	result, err := executeJob(ctx, job, *noStoreFlag, *printTermsFlag, logger)
	if err != nil {
		logger.Error("job execution failed",
			"job_id", job.JobID,
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("job execution succeeded",
		"job_id", job.JobID,
		"result", result,
	)
}

// executeJob wires up the ephemeris provider, locator, and optional term
// store, then invokes the almanac job logic directly (bypassing Lambda).
func executeJob(ctx context.Context, job types.PrecomputeJob, noStore, printTerms bool, logger *slog.Logger) (string, error) {
	series, err := ephemeris.NewSeries(defaultSeriesOrder)
	if err != nil {
		return "", fmt.Errorf("building series provider: %w", err)
	}
	locator := solarterm.NewLocator(series, solarterm.Config{Logger: logger})

	alm := &almanac.Almanac{
		Config:  config.AlmanacConfig{},
		Log:     logger,
		Locator: locator,
	}

	// Wire the term store unless --no-store was given. The almanac degrades
	// to compute-only when the store is nil.
	if !noStore {
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			return "", fmt.Errorf("DATABASE_URL environment variable is required (or pass --no-store)")
		}

		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return "", fmt.Errorf("creating database pool: %w", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return "", fmt.Errorf("pinging database: %w", err)
		}
		logger.Info("database connection established")

		alm.Store = db.NewTermRepository(pool)
	}

	if printTerms {
		return executePrintTerms(ctx, alm, job)
	}

	if err := alm.ProcessJob(ctx, job); err != nil {
		return "", fmt.Errorf("processing job: %w", err)
	}

	years := job.ToYear - job.FromYear + 1
	return fmt.Sprintf("precompute complete: %d years", years), nil
}

// executePrintTerms locates the terms of every year in the range and writes
// them to stdout as a year-keyed JSON object. When a store is wired, each
// year is read through it, persisting on miss like the API read path.
func executePrintTerms(ctx context.Context, alm *almanac.Almanac, job types.PrecomputeJob) (string, error) {
	byYear := make(map[int][]solarterm.Node, job.ToYear-job.FromYear+1)
	total := 0

	for year := job.FromYear; year <= job.ToYear; year++ {
		nodes, err := alm.TermsForYear(ctx, year)
		if err != nil {
			return "", fmt.Errorf("locating terms for year %d: %w", year, err)
		}
		byYear[year] = nodes
		total += len(nodes)
	}

	data, err := json.MarshalIndent(byYear, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling terms: %w", err)
	}
	fmt.Println(string(data))

	return fmt.Sprintf("located %d terms across %d years", total, job.ToYear-job.FromYear+1), nil
}

// printPayload marshals the PrecomputeJob to pretty-printed JSON and writes
// it to stdout. The output is accepted verbatim by the worker's local stdin
// mode:
//
//	job-runner --dry-run --from-year=2024 --to-year=2026 | APP_ENV=local go run ./cmd/almanac
func printPayload(job types.PrecomputeJob) {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))

	fmt.Fprintf(os.Stderr, "\nJob: %s\nYears: %d..%d (inclusive)\n", job.JobID, job.FromYear, job.ToYear)
}
