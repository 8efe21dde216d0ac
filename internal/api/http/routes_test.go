package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/climate-data-collector/internal/processing"
	"github.com/i474232898/climate-data-collector/internal/store"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

type fakeSource struct {
	mu      sync.Mutex
	queries []weather.Query
	years   int
	records []weather.Record
}

func (f *fakeSource) Daily(_ context.Context, q weather.Query) []weather.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.records
}

func (f *fakeSource) Monthly(_ context.Context, q weather.Query) []weather.Record {
	return f.Daily(context.Background(), q)
}

func (f *fakeSource) Historical(_ context.Context, lat, lon float64, years int) []weather.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, weather.Query{Latitude: lat, Longitude: lon})
	f.years = years
	return f.records
}

type climateResponse struct {
	Records []weather.Record `json:"records"`
	Count   int              `json:"count"`
}

func newApp(source Source, snapshots *store.MemoryStore) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, source, snapshots)
	return app
}

func get(t *testing.T, app *fiber.App, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestDaily_PassesWindow(t *testing.T) {
	source := &fakeSource{records: []weather.Record{
		{Date: weather.NewDay(2025, time.June, 10), Humidity: &weather.Humidity{Current: weather.Float(70)}, Origin: weather.OriginPrimary},
	}}
	app := newApp(source, nil)

	resp, body := get(t, app, "/api/v1/climate/daily?lat=-8.05&lon=-34.9&start=2025-06-01&end=2025-06-10")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out climateResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "2025-06-10", out.Records[0].Date.String())

	require.Len(t, source.queries, 1)
	q := source.queries[0]
	assert.Equal(t, -8.05, q.Latitude)
	assert.Equal(t, -34.9, q.Longitude)
	assert.Equal(t, "2025-06-01", q.Start.String())
	assert.Equal(t, "2025-06-10", q.End.String())
}

func TestMonthly_EmptyResultIsAnEmptyList(t *testing.T) {
	app := newApp(&fakeSource{}, nil)

	resp, body := get(t, app, "/api/v1/climate/monthly?lat=0&lon=0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"records":[],"count":0}`, string(body))
}

func TestWindowValidation(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing lat", "lon=10"},
		{"missing lon", "lat=10"},
		{"lat out of range", "lat=91&lon=0"},
		{"lon out of range", "lat=0&lon=-181"},
		{"non numeric lat", "lat=north&lon=0"},
		{"bad start", "lat=0&lon=0&start=01/06/2025"},
		{"end before start", "lat=0&lon=0&start=2025-06-10&end=2025-06-01"},
	}
	source := &fakeSource{}
	app := newApp(source, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := get(t, app, "/api/v1/climate/daily?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, source.queries)
}

func TestHistorical_Years(t *testing.T) {
	source := &fakeSource{}
	app := newApp(source, nil)

	resp, _ := get(t, app, "/api/v1/climate/historical?lat=-23.55&lon=-46.63&years=3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, source.years)

	resp, _ = get(t, app, "/api/v1/climate/historical?lat=-23.55&lon=-46.63")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, defaultYears, source.years)

	for _, years := range []string{"0", "31", "many"} {
		resp, _ = get(t, app, "/api/v1/climate/historical?lat=-23.55&lon=-46.63&years="+years)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, years)
	}
}

func TestLatest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	snapshots := store.NewMemoryStore(0, 0, clock)
	recife := weather.Location{Name: "Recife", Latitude: -8.05, Longitude: -34.9}
	snapshots.Save(store.Snapshot{RunID: "run-1", Kind: processing.KindDaily, Location: recife, CollectedAt: clock.Now()})

	app := newApp(&fakeSource{}, snapshots)

	resp, body := get(t, app, "/api/v1/climate/latest?name=Recife&lat=-8.05&lon=-34.9")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap store.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "run-1", snap.RunID)

	resp, _ = get(t, app, "/api/v1/climate/latest?name=Recife&lat=-8.05&lon=-34.9&kind=monthly")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, app, "/api/v1/climate/latest?name=Recife&lat=-8.05&lon=-34.9&kind=weekly")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, app, "/api/v1/climate/latest?lat=-8.05&lon=-34.9")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC))
	snapshots := store.NewMemoryStore(0, 0, clock)
	recife := weather.Location{Name: "Recife", Latitude: -8.05, Longitude: -34.9}
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		snapshots.Save(store.Snapshot{RunID: id, Kind: processing.KindDaily, Location: recife, CollectedAt: clock.Now()})
		clock.Advance(time.Hour)
	}

	app := newApp(&fakeSource{}, snapshots)
	base := "/api/v1/climate/history?name=Recife&lat=-8.05&lon=-34.9"

	resp, body := get(t, app, base+"&from=2025-06-15T09:30:00Z&to=2025-06-15T11:00:00Z")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Kind      string           `json:"kind"`
		Snapshots []store.Snapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "daily", out.Kind)
	require.Len(t, out.Snapshots, 2)
	assert.Equal(t, "run-2", out.Snapshots[0].RunID)
	assert.Equal(t, "run-3", out.Snapshots[1].RunID)

	// unix seconds are accepted too
	from := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC).Unix()
	to := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC).Unix()
	resp, body = get(t, app, base+"&from="+strconv.FormatInt(from, 10)+"&to="+strconv.FormatInt(to, 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Snapshots, 1)
	assert.Equal(t, "run-1", out.Snapshots[0].RunID)

	resp, _ = get(t, app, base+"&from=2025-06-16T00:00:00Z&to=2025-06-17T00:00:00Z")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for name, query := range map[string]string{
		"missing range":  "",
		"bad time":       "&from=yesterday&to=2025-06-17T00:00:00Z",
		"to before from": "&from=2025-06-17T00:00:00Z&to=2025-06-16T00:00:00Z",
		"bad kind":       "&kind=weekly&from=2025-06-15T00:00:00Z&to=2025-06-16T00:00:00Z",
	} {
		resp, _ = get(t, app, base+query)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
}

func TestLatest_NotRegisteredWithoutStore(t *testing.T) {
	app := newApp(&fakeSource{}, nil)
	resp, _ := get(t, app, "/api/v1/climate/latest?name=Recife&lat=0&lon=0")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newApp(&fakeSource{}, nil)
	resp, body := get(t, app, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
