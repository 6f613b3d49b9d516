// Package main implements the table-builder CLI tool for publishing
// precomputed ephemeris year tables.
//
// The deployed services can serve solar longitudes from per-year sample
// tables (EPHEMERIS_SOURCE=table) instead of evaluating the trigonometric
// series on every call. This tool produces those tables: it samples the
// series provider across each requested year, encodes the samples into the
// compressed table layout, and uploads one object per year to S3.
//
// Usage:
//
//	go run ./cmd/tools/table-builder --from-year=1900 --to-year=2100
//	go run ./cmd/tools/table-builder --from-year=2024 --to-year=2024 --step=30m --series-order=3
//	go run ./cmd/tools/table-builder --from-year=2024 --to-year=2026 --out-dir=/tmp/eph
//
// The target bucket and key prefix come from EPHEMERIS_TABLE_BUCKET and
// EPHEMERIS_TABLE_PREFIX (or .env file via godotenv). With --out-dir, the
// tables are written to local files instead and no AWS access is needed.
// AWS_ENDPOINT_URL points the uploader at LocalStack for local runs.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"chronos/internal/almanac"
	"chronos/internal/config"
	"chronos/internal/ephemeris"
)

const defaultTablePrefix = "ephemeris"

func main() {
	// Parse command-line flags.
	fromYearFlag := flag.Int("from-year", 0, "First civil year to build (inclusive)")
	toYearFlag := flag.Int("to-year", 0, "Last civil year to build (inclusive)")
	stepFlag := flag.Duration("step", time.Hour, "Interval between longitude samples")
	orderFlag := flag.Int("series-order", 2, "Series order to sample (1..3)")
	outDirFlag := flag.String("out-dir", "", "Write tables to this directory instead of uploading to S3")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: table-builder [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Build and publish precomputed ephemeris year tables.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *fromYearFlag == 0 || *toYearFlag == 0 {
		fmt.Fprintf(os.Stderr, "error: --from-year and --to-year are required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if err := almanac.ValidateYearRange(*fromYearFlag, *toYearFlag, 0); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid year range: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	// Resolve SSM secrets into environment variables before reading them.
	// No-op when APP_ENV=local or no _SSM_PARAM variables are set.
	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	// Set up cancellation context with signal handling.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *fromYearFlag, *toYearFlag, *stepFlag, *orderFlag, *outDirFlag, logger); err != nil {
		logger.Error("table build failed", "error", err)
		os.Exit(1)
	}
}

// run builds every year table in the range and hands each to the configured
// sink (local directory or S3 bucket).
func run(ctx context.Context, fromYear, toYear int, step time.Duration, order int, outDir string, logger *slog.Logger) error {
	provider, err := ephemeris.NewSeries(order)
	if err != nil {
		return fmt.Errorf("building series provider: %w", err)
	}

	sink, err := newSink(ctx, outDir, logger)
	if err != nil {
		return err
	}

	totalBytes := 0
	for year := fromYear; year <= toYear; year++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled at year %d: %w", year, err)
		}

		encoded, err := ephemeris.BuildYear(ctx, provider, year, step)
		if err != nil {
			return fmt.Errorf("building table for year %d: %w", year, err)
		}

		if err := sink.store(ctx, year, encoded); err != nil {
			return fmt.Errorf("storing table for year %d: %w", year, err)
		}

		totalBytes += len(encoded)
		logger.Info("year table built",
			"year", year,
			"bytes", len(encoded),
			"step", step.String(),
		)
	}

	logger.Info("table build complete",
		"years", toYear-fromYear+1,
		"total_bytes", totalBytes,
		"series_order", order,
	)
	return nil
}

// tableSink stores one encoded year table.
type tableSink interface {
	store(ctx context.Context, year int, encoded []byte) error
}

// newSink selects the local directory sink when outDir is set, otherwise the
// S3 sink configured from the environment.
func newSink(ctx context.Context, outDir string, logger *slog.Logger) (tableSink, error) {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
		logger.Info("writing tables to local directory", "dir", outDir)
		return &dirSink{dir: outDir}, nil
	}

	bucket := os.Getenv("EPHEMERIS_TABLE_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("EPHEMERIS_TABLE_BUCKET environment variable is required (or pass --out-dir)")
	}
	prefix := os.Getenv("EPHEMERIS_TABLE_PREFIX")
	if prefix == "" {
		prefix = defaultTablePrefix
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{}
	if region := os.Getenv("AWS_REGION"); region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(region))
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		awsOpts = append(awsOpts, awsconfig.WithBaseEndpoint(endpoint))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	logger.Info("uploading tables to S3", "bucket", bucket, "prefix", prefix)
	return &s3Sink{client: s3.NewFromConfig(awsCfg), bucket: bucket, prefix: prefix}, nil
}

// dirSink writes year tables as files under a local directory.
type dirSink struct {
	dir string
}

func (s *dirSink) store(_ context.Context, year int, encoded []byte) error {
	path := filepath.Join(s.dir, fmt.Sprintf("%d.eph.zst", year))
	return os.WriteFile(path, encoded, 0o644)
}

// s3Sink uploads year tables under the configured bucket and prefix, using
// the same key layout the table provider reads from.
type s3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func (s *s3Sink) store(ctx context.Context, year int, encoded []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ephemeris.TableKey(s.prefix, year)),
		Body:        bytes.NewReader(encoded),
		ContentType: aws.String("application/zstd"),
	})
	return err
}
