package ephemeris

import (
	"log/slog"
	"net/http"
	"time"

	"chronos/internal/config"
	"chronos/internal/types"
)

// Registry holds the ephemeris provider selected for this process. It is the
// single point where configuration decides how solar longitude is sourced;
// everything downstream sees only the Provider interface.
type Registry struct {
	// Provider is the configured source, already wrapped in the validity
	// window when one is configured.
	Provider Provider

	// Source names the configured implementation for logging and health
	// reporting.
	Source string
}

// RegistryOption is a functional option for configuring a Registry. Options
// inject dependencies that are not available from config alone.
type RegistryOption func(*registryConfig)

// registryConfig holds optional dependencies used when building providers.
type registryConfig struct {
	s3Client   S3Client
	httpClient *http.Client
}

// WithS3Client provides the S3 client required by the table source. Ignored
// for other sources.
func WithS3Client(client S3Client) RegistryOption {
	return func(rc *registryConfig) {
		rc.s3Client = client
	}
}

// WithHTTPClient overrides the HTTP client used by the remote source.
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(rc *registryConfig) {
		rc.httpClient = client
	}
}

// NewRegistry builds the provider named by cfg.Ephemeris.Source and wraps it
// in a validity window when one is configured. The series source needs no
// credentials or network, which is what lets local and test environments
// boot with the default configuration.
func NewRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	var provider Provider
	switch cfg.Ephemeris.Source {
	case config.EphemerisSourceSeries:
		p, err := NewSeries(cfg.Ephemeris.SeriesOrder)
		if err != nil {
			return nil, err
		}
		provider = p

	case config.EphemerisSourceTable:
		if rc.s3Client == nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"table ephemeris source requires an S3 client",
				nil,
			)
		}
		provider = NewTable(
			rc.s3Client,
			cfg.Ephemeris.TableBucket,
			cfg.Ephemeris.TablePrefix,
			logger.With("provider", "table"),
		)

	case config.EphemerisSourceRemote:
		httpClient := rc.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 10 * time.Second}
		}
		provider = NewRemote(httpClient, RemoteConfig{
			BaseURL: cfg.Ephemeris.RemoteBaseURL,
			APIKey:  cfg.Ephemeris.RemoteAPIKey.Unmask(),
			Logger:  logger.With("provider", "remote"),
		})

	default:
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidOption,
			"unknown ephemeris source",
			nil,
			map[string]any{"source": cfg.Ephemeris.Source},
		)
	}

	if cfg.Ephemeris.ValidFromYear > 0 || cfg.Ephemeris.ValidUntilYear > 0 {
		var from, until time.Time
		if cfg.Ephemeris.ValidFromYear > 0 {
			from = time.Date(cfg.Ephemeris.ValidFromYear, time.January, 1, 0, 0, 0, 0, time.UTC)
		}
		if cfg.Ephemeris.ValidUntilYear > 0 {
			// The named year stays valid through its end.
			until = time.Date(cfg.Ephemeris.ValidUntilYear+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		}
		provider = NewBounded(provider, from, until)
	}

	logger.Info("initialized ephemeris provider",
		"source", cfg.Ephemeris.Source,
		"valid_from_year", cfg.Ephemeris.ValidFromYear,
		"valid_until_year", cfg.Ephemeris.ValidUntilYear,
	)

	return &Registry{Provider: provider, Source: cfg.Ephemeris.Source}, nil
}
