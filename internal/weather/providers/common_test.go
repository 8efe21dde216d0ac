package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/observability"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

type failingTransport struct {
	calls atomic.Int32
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}

func testDeps(clock clockwork.Clock) Deps {
	return Deps{
		Clock:   clock,
		Logger:  zap.NewNop(),
		Metrics: observability.NewMetricsForTesting(),
	}
}

func noBackoff(int) time.Duration { return 0 }

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, time.Second, ExponentialBackoff(1))
	assert.Equal(t, 2*time.Second, ExponentialBackoff(2))
	assert.Equal(t, 4*time.Second, ExponentialBackoff(3))
	assert.Equal(t, time.Second, ExponentialBackoff(0))
}

func TestFetcher_RetriesWithExponentialBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	transport := &failingTransport{}
	deps := testDeps(clock)
	deps.HTTPClient = &http.Client{Transport: transport}
	f := newFetcher("test", keyParamInmet, "http://example.invalid", weather.ProviderConfig{MaxAttempts: 3}, deps)

	start := clock.Now()
	errc := make(chan error, 1)
	go func() {
		var out any
		errc <- f.Get(context.Background(), "data", nil, &out)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		t.Fatal("fetch did not finish")
	}

	var failure *RequestFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, "test", failure.Provider)
	assert.ErrorIs(t, err, errTransport)
	assert.EqualValues(t, 3, transport.calls.Load())
	assert.Equal(t, 3*time.Second, clock.Since(start))
	assert.Equal(t, 2.0, testutil.ToFloat64(deps.Metrics.ProviderRetries.WithLabelValues("test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.ProviderRequests.WithLabelValues("test", "failure")))
}

func TestFetcher_ContextCancelledDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	transport := &failingTransport{}
	deps := testDeps(clock)
	deps.HTTPClient = &http.Client{Transport: transport}
	f := newFetcher("test", keyParamInmet, "http://example.invalid", weather.ProviderConfig{}, deps)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		var out any
		errc <- f.Get(ctx, "data", nil, &out)
	}()

	wait, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, clock.BlockUntilContext(wait, 1))
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, transport.calls.Load())
}

func TestFetcher_RecoversAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newFetcher("test", keyParamInmet, srv.URL, weather.ProviderConfig{}, testDeps(clockwork.NewRealClock())).
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: noBackoff})

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, f.Get(context.Background(), "status", nil, &out))
	assert.True(t, out.OK)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetcher_StatusAndDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"rate limited", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }, errRateLimited},
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, errServerError},
		{"not found", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }, errUnexpected},
		{"bad body", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) }, errDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := newFetcher("test", keyParamInmet, srv.URL, weather.ProviderConfig{MaxAttempts: 2}, testDeps(clockwork.NewRealClock())).
				WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Backoff: noBackoff})

			var out map[string]any
			err := f.Get(context.Background(), "x", nil, &out)
			var failure *RequestFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, 2, failure.Attempts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetcher_InjectsAPIKey(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := weather.ProviderConfig{APIKey: "secret"}
	f := newFetcher("openweather", keyParamOpenWeather, srv.URL, cfg, testDeps(clockwork.NewRealClock()))

	var out map[string]any
	require.NoError(t, f.Get(context.Background(), "weather", url.Values{"lat": {"1.5"}}, &out))
	assert.Equal(t, "secret", got.Get("appid"))
	assert.Equal(t, "1.5", got.Get("lat"))

	// an explicit key parameter is left alone
	require.NoError(t, f.Get(context.Background(), "weather", url.Values{"key": {"other"}}, &out))
	assert.Equal(t, "other", got.Get("key"))
	assert.False(t, got.Has("appid"))
}

func TestFetcher_NoContentLeavesOutputUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := newFetcher("test", keyParamInmet, srv.URL, weather.ProviderConfig{}, testDeps(clockwork.NewRealClock()))
	var out []int
	require.NoError(t, f.Get(context.Background(), "x", nil, &out))
	assert.Nil(t, out)
}

func TestFetcher_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	deps := testDeps(clockwork.NewRealClock())
	deps.Breaker = &BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}
	f := newFetcher("test", keyParamInmet, srv.URL, weather.ProviderConfig{MaxAttempts: 1}, deps)

	var out any
	for i := 0; i < 2; i++ {
		err := f.Get(context.Background(), "x", nil, &out)
		assert.ErrorIs(t, err, errServerError)
	}

	err := f.Get(context.Background(), "x", nil, &out)
	var failure *RequestFailure
	require.ErrorAs(t, err, &failure)
	assert.Zero(t, failure.Attempts)
	assert.ErrorIs(t, err, errCircuitOpen)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.ProviderRequests.WithLabelValues("test", "rejected")))
}

func TestDegrade(t *testing.T) {
	records, err := degrade(zap.NewNop(), "x", &RequestFailure{Err: errServerError})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	_, err = degrade(zap.NewNop(), "x", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
}
