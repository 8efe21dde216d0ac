package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/observability"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

// Query parameter names providers expect the API key under.
const (
	keyParamOpenWeather = "appid"
	keyParamInmet       = "key"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
)

var (
	errTransport     = errors.New("transport error")
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errDecode        = errors.New("invalid response body")
	errCircuitOpen   = errors.New("circuit breaker open")
	errInvalidYears  = errors.New("years must be positive")
	errMalformedDate = errors.New("malformed measurement date")

	// ErrNoStationFound is returned when no station with usable coordinates exists.
	ErrNoStationFound = errors.New("no station found")
)

// RequestFailure is returned once every attempt of a request has failed.
type RequestFailure struct {
	Provider string
	Endpoint string
	Attempts int
	Err      error
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("%s request to %q failed after %d attempt(s): %v", e.Provider, e.Endpoint, e.Attempts, e.Err)
}

func (e *RequestFailure) Unwrap() error {
	return e.Err
}

// RetryPolicy bounds the attempts of a single request. Backoff receives the
// 1-based number of the attempt that just failed.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// ExponentialBackoff waits 2^(attempt-1) seconds: 1s, 2s, 4s, ...
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

// DefaultRetryPolicy makes up to maxAttempts attempts with exponential backoff.
// Non-positive values fall back to 3 attempts.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: ExponentialBackoff}
}

// BreakerSettings enables a circuit breaker around each provider's requests.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker; each failure is a request whose
	// retries were all exhausted.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Deps bundles the collaborators shared by every provider.
type Deps struct {
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// Breaker is nil unless circuit breaking was explicitly enabled.
	Breaker *BreakerSettings
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewMetricsForTesting()
	}
	return d
}

// Fetcher issues GET requests against one provider's base URL, injecting the
// API key and retrying failed attempts according to its RetryPolicy.
type Fetcher struct {
	provider string
	baseURL  string
	apiKey   string
	keyParam string
	client   *http.Client
	retry    RetryPolicy
	clock    clockwork.Clock
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func newFetcher(provider, keyParam, defaultBaseURL string, cfg weather.ProviderConfig, deps Deps) *Fetcher {
	deps = deps.withDefaults()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var client http.Client
	if deps.HTTPClient != nil {
		client = *deps.HTTPClient
	}
	client.Timeout = timeout

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	logger := deps.Logger.With(zap.String("provider", provider))
	if cfg.APIKey == "" {
		logger.Warn("provider initialised without an API key")
	}

	f := &Fetcher{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   cfg.APIKey,
		keyParam: keyParam,
		client:   &client,
		retry:    DefaultRetryPolicy(cfg.MaxAttempts),
		clock:    deps.Clock,
		logger:   logger,
		metrics:  deps.Metrics,
	}
	if deps.Breaker != nil {
		f.breaker = newBreaker(provider, *deps.Breaker, logger)
	}
	return f
}

// WithRetryPolicy replaces the retry policy.
func (f *Fetcher) WithRetryPolicy(p RetryPolicy) *Fetcher {
	f.retry = p
	return f
}

// Get requests baseURL/endpoint with params and decodes the JSON body into out.
// A 204 response leaves out untouched.
func (f *Fetcher) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if f.breaker == nil {
		return f.getWithRetry(ctx, endpoint, params, out)
	}

	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.getWithRetry(ctx, endpoint, params, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.metrics.ProviderRequests.WithLabelValues(f.provider, "rejected").Inc()
		return &RequestFailure{
			Provider: f.provider,
			Endpoint: endpoint,
			Err:      fmt.Errorf("%w: %v", errCircuitOpen, err),
		}
	}
	return err
}

func (f *Fetcher) getWithRetry(ctx context.Context, endpoint string, params url.Values, out any) error {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	if f.apiKey != "" && !query.Has(keyParamOpenWeather) && !query.Has(keyParamInmet) {
		query.Set(f.keyParam, f.apiKey)
	}

	endpoint = strings.TrimLeft(endpoint, "/")
	u := f.baseURL + "/" + endpoint
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}

	attempts := f.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := f.retry.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		f.logger.Debug("provider request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
		)

		lastErr = f.do(ctx, u, out)
		if lastErr == nil {
			f.metrics.ProviderRequests.WithLabelValues(f.provider, "success").Inc()
			return nil
		}

		f.logger.Warn("provider request failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr),
		)
		if attempt == attempts {
			break
		}

		f.metrics.ProviderRetries.WithLabelValues(f.provider).Inc()
		delay := backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.clock.After(delay):
		}
	}

	f.metrics.ProviderRequests.WithLabelValues(f.provider, "failure").Inc()
	f.logger.Error("all provider request attempts failed",
		zap.String("endpoint", endpoint),
		zap.Int("attempts", attempts),
	)
	return &RequestFailure{
		Provider: f.provider,
		Endpoint: endpoint,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func (f *Fetcher) do(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		// url.Error repeats the full URL, API key included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
	case resp.StatusCode == http.StatusNoContent:
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}

func newBreaker(provider string, s BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 3
	}
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// degrade converts an adapter-level failure into an empty result. Context
// cancellation is the only error handed back to the caller.
func degrade(logger *zap.Logger, msg string, err error) ([]weather.Record, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	logger.Error(msg, zap.Error(err))
	return []weather.Record{}, nil
}
