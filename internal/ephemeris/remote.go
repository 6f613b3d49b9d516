package ephemeris

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"chronos/internal/astro"
	"chronos/internal/types"
)

// remoteBodyLimit caps how much of a response body is read; longitude
// payloads are tiny, anything larger is garbage.
const remoteBodyLimit = 1 << 20

// RemoteConfig configures the remote ephemeris provider.
type RemoteConfig struct {
	// BaseURL is the service root, e.g. "https://ephemeris.example.com".
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// UserAgent identifies this service to the upstream; defaults to
	// "chronos" when empty.
	UserAgent string

	// RetryPolicy overrides DefaultRetryPolicy when non-zero.
	RetryPolicy *RetryPolicy

	Logger *slog.Logger
}

// Remote resolves longitudes from an HTTP ephemeris service through the
// resilient BaseClient. Any transport or payload failure surfaces as
// provider_failure with the transport error preserved in the chain.
type Remote struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewRemote creates a Remote provider. Extra options are applied to the
// underlying BaseClient, which lets tests shorten sleeps or inject breakers.
func NewRemote(httpClient *http.Client, cfg RemoteConfig, opts ...BaseClientOption) *Remote {
	policy := DefaultRetryPolicy()
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "chronos"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Remote{
		base:    NewBaseClient(httpClient, "ephemeris-remote", policy, ua, opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// longitudeResponse is the upstream payload shape.
type longitudeResponse struct {
	LongitudeDeg float64 `json:"longitude_deg"`
}

// LongitudeAt implements Provider.
func (r *Remote) LongitudeAt(ctx context.Context, t time.Time) (float64, error) {
	unix := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	url := fmt.Sprintf("%s/v1/solar/longitude?unix=%.6f", r.baseURL, unix)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, types.NewAppError(
			types.ErrCodeProviderFailure,
			"failed to build ephemeris request",
			err,
		)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.base.Do(req)
	if err != nil {
		return 0, types.NewAppError(
			types.ErrCodeProviderFailure,
			"ephemeris service lookup failed",
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, remoteBodyLimit)) //nolint:errcheck
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeProviderFailure,
			fmt.Sprintf("ephemeris service returned status %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	}

	var payload longitudeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, remoteBodyLimit)).Decode(&payload); err != nil {
		return 0, types.NewAppError(
			types.ErrCodeProviderFailure,
			"failed to decode ephemeris response",
			err,
		)
	}

	if math.IsNaN(payload.LongitudeDeg) || math.IsInf(payload.LongitudeDeg, 0) {
		return 0, types.NewAppError(
			types.ErrCodeProviderFailure,
			"ephemeris service returned a non-finite longitude",
			nil,
		)
	}

	return astro.Norm360(payload.LongitudeDeg), nil
}

var _ Provider = (*Remote)(nil)
