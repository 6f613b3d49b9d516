// Package config defines the global configuration structure for the Chronos service.
// Configuration is loaded once at process initialization (Lambda Cold Start) and is
// immutable thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to panic
// immediately on startup (fail fast).
package config

import (
	"time"

	"chronos/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Ephemeris source identifiers accepted by EPHEMERIS_SOURCE.
const (
	// EphemerisSourceSeries computes solar longitude analytically in-process.
	EphemerisSourceSeries = "series"
	// EphemerisSourceTable interpolates precomputed sample tables fetched from S3.
	EphemerisSourceTable = "table"
	// EphemerisSourceRemote queries an external ephemeris HTTP service.
	EphemerisSourceRemote = "remote"
)

// Config is the top-level configuration struct for the Chronos service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"chronos-service"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Ephemeris EphemerisConfig
	Convert   ConvertConfig
	Almanac   AlmanacConfig
	Metrics   MetricsConfig
	Security  SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	// RequestTimeout is the soft deadline applied to request contexts.
	// Set it to the Lambda timeout minus one second in production.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// AlmanacQueueURL is the SQS queue feeding the almanac precompute worker.
	// Empty disables enqueueing (precompute requests are then rejected).
	AlmanacQueueURL string `envconfig:"SQS_ALMANAC_JOBS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EphemerisConfig selects and tunes the solar-longitude provider.
type EphemerisConfig struct {
	Source      string `envconfig:"EPHEMERIS_SOURCE" default:"series" validate:"oneof=series table remote"`
	SeriesOrder int    `envconfig:"EPHEMERIS_SERIES_ORDER" default:"2" validate:"min=1,max=3"`

	// Table source (S3-hosted sample tables)
	TableBucket string `envconfig:"EPHEMERIS_TABLE_BUCKET" validate:"required_if=Source table"`
	TablePrefix string `envconfig:"EPHEMERIS_TABLE_PREFIX" default:"ephemeris"`

	// Remote source (external HTTP service)
	RemoteBaseURL string       `envconfig:"EPHEMERIS_REMOTE_URL" validate:"required_if=Source remote,omitempty,url"`
	RemoteAPIKey  SecretString `envconfig:"EPHEMERIS_API_KEY"`

	// Validity window in Gregorian years, inclusive on both ends.
	// Zero leaves the corresponding end unbounded.
	ValidFromYear  int `envconfig:"EPHEMERIS_VALID_FROM_YEAR" default:"0" validate:"min=0"`
	ValidUntilYear int `envconfig:"EPHEMERIS_VALID_UNTIL_YEAR" default:"0" validate:"min=0"`
}

// ConvertConfig holds the conversion policy knobs and numerical tuning.
type ConvertConfig struct {
	// Year boundary policy: align the year pillar to a solar longitude
	// crossing or to a fixed Gregorian calendar date.
	YearBoundaryPolicy    string  `envconfig:"YEAR_BOUNDARY_POLICY" default:"solar_longitude" validate:"oneof=solar_longitude fixed_date"`
	YearBoundaryLongitude float64 `envconfig:"YEAR_BOUNDARY_LONGITUDE" default:"315" validate:"min=0,lt=360"`
	YearBoundaryMonth     int     `envconfig:"YEAR_BOUNDARY_MONTH" default:"2" validate:"min=1,max=12"`
	YearBoundaryDay       int     `envconfig:"YEAR_BOUNDARY_DAY" default:"4" validate:"min=1,max=31"`

	// Numerical tuning for apparent-time and solar-term root finding.
	EoTSeriesOrder        int     `envconfig:"EOT_SERIES_ORDER" default:"2" validate:"min=1,max=3"`
	RootFindToleranceDeg  float64 `envconfig:"ROOT_FIND_TOLERANCE_DEG" default:"1e-6" validate:"gt=0"`
	RootFindMaxIterations int     `envconfig:"ROOT_FIND_MAX_ITERATIONS" default:"64" validate:"min=1"`

	MaxBatchSize int `envconfig:"MAX_BATCH_SIZE" default:"50" validate:"min=1"`
}

// AlmanacConfig tunes the background precompute worker.
type AlmanacConfig struct {
	// PrecomputeConcurrency caps the number of years located in parallel.
	PrecomputeConcurrency int `envconfig:"ALMANAC_CONCURRENCY" default:"4" validate:"min=1"`
	// MaxYearSpan rejects precompute jobs covering more years than this.
	MaxYearSpan int `envconfig:"ALMANAC_MAX_YEAR_SPAN" default:"200" validate:"min=1"`
}

// MetricsConfig holds telemetry publishing settings.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"Chronos"`
}

// SecurityConfig holds CORS settings for the public API.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
