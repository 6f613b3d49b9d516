// Package main is the entry point for the chronos API server.
//
// It loads configuration, builds the ephemeris provider named by the
// environment, wires the conversion and almanac services onto the HTTP
// chassis, and starts listening for requests.
//
// In local mode (APP_ENV=local), it runs as a standard HTTP server on the
// configured port. Inside AWS Lambda it bridges API Gateway events to the
// chi router through the chi adapter.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/jackc/pgx/v5/pgxpool"

	"chronos/internal/almanac"
	"chronos/internal/api/handlers"
	"chronos/internal/config"
	"chronos/internal/convert"
	"chronos/internal/core"
	"chronos/internal/db"
	"chronos/internal/ephemeris"
	"chronos/internal/metrics"
	"chronos/internal/queue"
	"chronos/internal/solarterm"
	"chronos/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("chronos API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	srv, err := buildServer(ctx, cfg, awsCfg, logger)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	// Mount all routes (middleware chain + versioned endpoints + health).
	srv.MountRoutes()

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the full dependency graph: database pool, ephemeris
// provider, locator, conversion and almanac services, queue trigger, metrics
// publisher, HTTP handlers, and health probes.
func buildServer(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*core.Server, error) {
	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	termRepo := db.NewTermRepository(pool)

	registry, err := ephemeris.NewRegistry(cfg, logger, ephemeris.WithS3Client(&s3ClientAdapter{client: s3Client}))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating ephemeris provider: %w", err)
	}

	locator := solarterm.NewLocator(registry.Provider, solarterm.Config{
		ToleranceDeg:  cfg.Convert.RootFindToleranceDeg,
		MaxIterations: cfg.Convert.RootFindMaxIterations,
		Logger:        logger,
	})

	publisher := metrics.NewPublisher(cwClient, cfg.Metrics, &slogAdapter{logger: logger})

	convertSvc := convert.NewService(registry.Provider, locator, cfg.Convert, logger, publisher)

	alm := &almanac.Almanac{
		Config:  cfg.Almanac,
		Log:     logger,
		Locator: locator,
		Store:   termRepo,
		Metrics: publisher,
	}

	trigger := queue.NewAlmanacTrigger(sqsClient, cfg.AWS, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	srv.Metrics = publisher

	convertHandler := handlers.NewConvertHandler(convertSvc, srv.Validator, logger)
	termsHandler := handlers.NewTermsHandler(alm, trigger, srv.Validator, cfg.Almanac.MaxYearSpan, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		convertHandler.RegisterRoutes,
		termsHandler.RegisterRoutes,
	)

	srv.HealthProbes = append(srv.HealthProbes,
		&dbProbe{pool: pool},
		&ephemerisProbe{provider: registry.Provider},
	)
	if cfg.AWS.AlmanacQueueURL != "" {
		srv.HealthProbes = append(srv.HealthProbes, &queueProbe{
			client:   sqsClient,
			queueURL: cfg.AWS.AlmanacQueueURL,
		})
	}

	srv.OnShutdown(pool.Close)

	return srv, nil
}

// secretProvider returns the SSM-backed secret provider outside local mode.
// Local development resolves everything from the environment and .env.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}

// loadAWSConfig builds the shared AWS SDK configuration, honoring the
// endpoint override used to point local environments at LocalStack.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda serves API Gateway events through the chi adapter. lambda.Start
// blocks for the life of the execution environment.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting Lambda proxy handler")
	adapter := chiadapter.New(srv.Router())
	lambda.Start(adapter.ProxyWithContext)
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Shutdown server resources (DB pool, etc.).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

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

// dbProbe reports database reachability for the health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p *dbProbe) Name() string { return "database" }

func (p *dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// ephemerisProbe verifies the provider can evaluate the current instant.
type ephemerisProbe struct {
	provider ephemeris.Provider
}

func (p *ephemerisProbe) Name() string { return "ephemeris" }

func (p *ephemerisProbe) Check(ctx context.Context) error {
	_, err := p.provider.LongitudeAt(ctx, time.Now().UTC())
	return err
}

// queueProbe checks that the almanac queue is reachable and exists.
type queueProbe struct {
	client   *sqs.Client
	queueURL string
}

func (p *queueProbe) Name() string { return "queue" }

func (p *queueProbe) Check(ctx context.Context) error {
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(p.queueURL),
	})
	return err
}

// Compile-time interface assertions for the wired implementations.
var (
	_ types.Logger            = (*slogAdapter)(nil)
	_ ephemeris.S3Client      = (*s3ClientAdapter)(nil)
	_ core.HealthProbe        = (*dbProbe)(nil)
	_ core.HealthProbe        = (*ephemerisProbe)(nil)
	_ core.HealthProbe        = (*queueProbe)(nil)
	_ core.MetricsCollector   = (*metrics.Publisher)(nil)
	_ convert.Metrics         = (*metrics.Publisher)(nil)
	_ almanac.MetricPublisher = (*metrics.Publisher)(nil)
	_ almanac.TermStore       = (*db.TermRepository)(nil)

	_ handlers.TermServiceInterface        = (*almanac.Almanac)(nil)
	_ handlers.PrecomputeEnqueuerInterface = (*queue.AlmanacTrigger)(nil)
)
