// Package main is the entrypoint for the almanac precompute worker Lambda.
//
// The worker consumes precompute jobs from the almanac SQS queue, locates the
// 24 solar-term boundary instants for every year in the job's range, and
// upserts them into the term store so the read path can serve them without
// recomputing. It implements the SQS Lambda handler pattern where each
// invocation receives a batch of job messages.
//
// Cold start (main):
//  1. Initialize structured logger.
//  2. Load configuration (SSM-resolved outside local environments).
//  3. Load AWS SDK configuration.
//  4. Initialize CloudWatch and S3 clients, database pool, term repository.
//  5. Build the ephemeris provider and solar-term locator.
//  6. Assemble the Almanac and register its handler with lambda.Start.
//
// The handler accepts either an SQS event envelope or a bare precompute job,
// so the same binary serves queued jobs and manual invocations.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"chronos/internal/almanac"
	"chronos/internal/config"
	"chronos/internal/db"
	"chronos/internal/ephemeris"
	"chronos/internal/metrics"
	"chronos/internal/solarterm"
	"chronos/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// s3ClientAdapter wraps *s3.Client to implement the ephemeris.S3Client
// interface, which takes plain bucket/key strings rather than SDK input
// structs.
type s3ClientAdapter struct {
	client *s3.Client
}

func (a *s3ClientAdapter) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func main() {
	// Initialize structured logger at startup (cold start).
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("almanac worker initializing (cold start)")

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Load AWS SDK configuration. AWS_ENDPOINT_URL points the SDK at
	// LocalStack for local runs.
	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		awsOpts = append(awsOpts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	cwClient := cloudwatch.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	termRepo := db.NewTermRepository(pool)

	registry, err := ephemeris.NewRegistry(cfg, logger, ephemeris.WithS3Client(&s3ClientAdapter{client: s3Client}))
	if err != nil {
		logger.Error("failed to build ephemeris provider", "error", err)
		os.Exit(1)
	}

	locator := solarterm.NewLocator(registry.Provider, solarterm.Config{
		ToleranceDeg:  cfg.Convert.RootFindToleranceDeg,
		MaxIterations: cfg.Convert.RootFindMaxIterations,
		Logger:        logger,
	})

	publisher := metrics.NewPublisher(cwClient, cfg.Metrics, &slogAdapter{logger: logger})

	alm := &almanac.Almanac{
		Config:  cfg.Almanac,
		Log:     logger,
		Locator: locator,
		Store:   termRepo,
		Metrics: publisher,
	}

	logger.Info("almanac worker initialized",
		"ephemeris_source", registry.Source,
		"max_year_span", cfg.Almanac.MaxYearSpan,
		"concurrency", cfg.Almanac.PrecomputeConcurrency,
	)

	// Local mode: read the job payload from stdin instead of starting the
	// Lambda runtime. The handler accepts an SQS event envelope or a bare job:
	// echo '{"job_id":"x","from_year":2024,"to_year":2026}' | go run cmd/almanac/main.go
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading job payload from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(payload) == 0 {
			logger.Error("no input received on stdin")
			os.Exit(1)
		}
		if err := alm.Handler(ctx, payload); err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		pool.Close()
		logger.Info("handler execution completed successfully")
		return
	}

	lambda.Start(alm.Handler)
}

// secretProvider returns the SSM-backed secret provider for deployed
// environments, or nil for local runs where SSM resolution is skipped.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}

// Compile-time assertions for the adapter implementations.
var (
	_ types.Logger       = (*slogAdapter)(nil)
	_ ephemeris.S3Client = (*s3ClientAdapter)(nil)
)
