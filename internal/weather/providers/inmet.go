package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/weather"
)

const (
	defaultInmetURL    = "https://apitempo.inmet.gov.br/api"
	inmetDailyWindow   = 7
	inmetMonthlyWindow = 90
	inmetChunkDays     = 180
)

var errMalformedNumber = errors.New("malformed number")

// InmetProvider implements the weather.Provider interface for the Brazilian
// National Institute of Meteorology station network.
type InmetProvider struct {
	name    string
	fetcher *Fetcher
	clock   clockwork.Clock
	logger  *zap.Logger
}

func NewInmetProvider(cfg weather.ProviderConfig, deps Deps) *InmetProvider {
	deps = deps.withDefaults()
	return &InmetProvider{
		name:    "inmet",
		fetcher: newFetcher("inmet", keyParamInmet, defaultInmetURL, cfg, deps),
		clock:   deps.Clock,
		logger:  deps.Logger.With(zap.String("provider", "inmet")),
	}
}

func (p *InmetProvider) Name() string {
	return p.name
}

func (p *InmetProvider) KeyParam() string {
	return keyParamInmet
}

func (p *InmetProvider) Daily(ctx context.Context, q weather.Query) ([]weather.Record, error) {
	today := weather.Today(p.clock)
	start, end := q.Start, q.End
	if end.IsZero() {
		end = today
	}
	if start.IsZero() {
		start = today.AddDays(-inmetDailyWindow)
	}

	station, err := p.nearestStation(ctx, q.Latitude, q.Longitude)
	if err != nil {
		if errors.Is(err, ErrNoStationFound) {
			p.logger.Warn("no station near location",
				zap.Float64("latitude", q.Latitude),
				zap.Float64("longitude", q.Longitude),
			)
			return []weather.Record{}, nil
		}
		return degrade(p.logger, "station lookup failed", err)
	}

	return p.observations(ctx, station, start, end)
}

func (p *InmetProvider) Monthly(ctx context.Context, q weather.Query) ([]weather.Record, error) {
	today := weather.Today(p.clock)
	start, end := q.Start, q.End
	if start.IsZero() {
		start = today.FirstOfMonth().AddDays(-inmetMonthlyWindow)
	}
	if end.IsZero() {
		end = today
	}

	daily, err := p.Daily(ctx, weather.Query{Latitude: q.Latitude, Longitude: q.Longitude, Start: start, End: end})
	if err != nil {
		return nil, err
	}
	return weather.AggregateMonthly(daily, weather.MonthlyRules("inmet_monthly", p.logger)), nil
}

// Historical fetches the window in sequential 180-day chunks; the station is
// resolved once for the whole window.
func (p *InmetProvider) Historical(ctx context.Context, latitude, longitude float64, years int) ([]weather.Record, error) {
	if years <= 0 {
		return nil, errInvalidYears
	}
	start, end := weather.YearsUntil(weather.Today(p.clock), years)

	station, err := p.nearestStation(ctx, latitude, longitude)
	if err != nil {
		if errors.Is(err, ErrNoStationFound) {
			p.logger.Warn("no station near location",
				zap.Float64("latitude", latitude),
				zap.Float64("longitude", longitude),
			)
			return []weather.Record{}, nil
		}
		return degrade(p.logger, "station lookup failed", err)
	}

	var out []weather.Record
	for _, chunk := range Chunks(start, end, inmetChunkDays) {
		p.logger.Debug("fetching historical chunk",
			zap.Stringer("start", chunk[0]),
			zap.Stringer("end", chunk[1]),
		)
		records, err := p.observations(ctx, station, chunk[0], chunk[1])
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	if out == nil {
		out = []weather.Record{}
	}
	return out, nil
}

// Chunks splits [start, end] into consecutive windows of at most size+1 days.
func Chunks(start, end weather.Day, size int) [][2]weather.Day {
	var out [][2]weather.Day
	for cur := start; !cur.After(end.Time); {
		chunkEnd := cur.AddDays(size)
		if chunkEnd.After(end.Time) {
			chunkEnd = end
		}
		out = append(out, [2]weather.Day{cur, chunkEnd})
		cur = chunkEnd.AddDays(1)
	}
	return out
}

type inmetStation struct {
	Code      string     `json:"CD_ESTACAO"`
	Name      string     `json:"DC_NOME"`
	Latitude  flexNumber `json:"VL_LATITUDE"`
	Longitude flexNumber `json:"VL_LONGITUDE"`
	Altitude  flexNumber `json:"VL_ALTITUDE"`
}

type inmetObservation struct {
	Date        string     `json:"DT_MEDICAO"`
	Temperature flexNumber `json:"TEM_INST"`
	TempMax     flexNumber `json:"TEM_MAX"`
	TempMin     flexNumber `json:"TEM_MIN"`
	Humidity    flexNumber `json:"UMD_INST"`
	Rain        flexNumber `json:"CHUVA"`
}

func (p *InmetProvider) nearestStation(ctx context.Context, latitude, longitude float64) (weather.Station, error) {
	var payload []inmetStation
	if err := p.fetcher.Get(ctx, "estacoes/T", nil, &payload); err != nil {
		return weather.Station{}, err
	}

	stations := make([]weather.Station, 0, len(payload))
	for _, s := range payload {
		lat, errLat := s.Latitude.Float()
		lon, errLon := s.Longitude.Float()
		if errLat != nil || errLon != nil || lat == nil || lon == nil {
			p.logger.Debug("skipping station without coordinates", zap.String("code", s.Code))
			continue
		}
		alt, _ := s.Altitude.Float()
		stations = append(stations, weather.Station{
			Code:      s.Code,
			Name:      s.Name,
			Latitude:  *lat,
			Longitude: *lon,
			Altitude:  alt,
		})
	}

	station, ok := NearestStation(stations, latitude, longitude)
	if !ok {
		return weather.Station{}, ErrNoStationFound
	}
	p.logger.Info("nearest station resolved",
		zap.String("code", station.Code),
		zap.String("name", station.Name),
		zap.Float64("distance", station.Distance),
	)
	return station, nil
}

// NearestStation returns the station with the smallest planar distance
// sqrt(dlat^2 + dlon^2) to the point. The first station wins ties.
func NearestStation(stations []weather.Station, latitude, longitude float64) (weather.Station, bool) {
	best := -1
	bestDistance := math.Inf(1)
	for i, s := range stations {
		d := math.Hypot(s.Latitude-latitude, s.Longitude-longitude)
		if d < bestDistance {
			best, bestDistance = i, d
		}
	}
	if best < 0 {
		return weather.Station{}, false
	}
	station := stations[best]
	station.Distance = bestDistance
	return station, true
}

func (p *InmetProvider) observations(ctx context.Context, station weather.Station, start, end weather.Day) ([]weather.Record, error) {
	endpoint := fmt.Sprintf("estacao/dados/%s/%s/%s", station.Code, start, end)

	var payload []inmetObservation
	if err := p.fetcher.Get(ctx, endpoint, nil, &payload); err != nil {
		return degrade(p.logger, "station data request failed", err)
	}

	info := station.Info()
	out := make([]weather.Record, 0, len(payload))
	for _, obs := range payload {
		rec, err := obs.record(info)
		if err != nil {
			p.logger.Warn("skipping malformed observation",
				zap.String("station", station.Code),
				zap.String("date", obs.Date),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (o inmetObservation) record(station *weather.StationInfo) (weather.Record, error) {
	date, err := parseMeasurementDate(o.Date)
	if err != nil {
		return weather.Record{}, err
	}

	values := make([]*float64, 5)
	for i, n := range []flexNumber{o.Temperature, o.TempMax, o.TempMin, o.Humidity, o.Rain} {
		v, err := n.Float()
		if err != nil {
			return weather.Record{}, err
		}
		values[i] = v
	}
	current, high, low, humidity, rain := values[0], values[1], values[2], values[3], values[4]

	rec := weather.Record{
		Date:    date,
		Station: station,
		Source:  "inmet_daily",
	}
	// groups without any reading stay nil
	if current != nil || high != nil || low != nil {
		rec.Temperature = &weather.Temperature{Current: current, Max: high, Min: low}
		if high != nil && low != nil {
			rec.Temperature.Mean = weather.Rounded((*high + *low) / 2)
		}
	}
	if rain != nil {
		rec.Precipitation = &weather.Precipitation{Amount: rain}
	}
	if humidity != nil {
		rec.Humidity = &weather.Humidity{Current: humidity}
	}
	return rec, nil
}

// parseMeasurementDate accepts a plain date or a timestamp starting with one.
func parseMeasurementDate(s string) (weather.Day, error) {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02") {
		return weather.Day{}, fmt.Errorf("%w: %q", errMalformedDate, s)
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return weather.Day{}, fmt.Errorf("%w: %q", errMalformedDate, s)
	}
	return weather.DayOf(t), nil
}

// flexNumber is a JSON value that may be a number, a numeric string, "" or null.
type flexNumber struct {
	raw json.RawMessage
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	n.raw = append(n.raw[:0], b...)
	return nil
}

// Float returns nil for absent values.
func (n flexNumber) Float() (*float64, error) {
	s := strings.TrimSpace(string(n.raw))
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errMalformedNumber, s)
		}
		s = strings.TrimSpace(unquoted)
	}
	if s == "" || s == "null" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errMalformedNumber, s)
	}
	return &v, nil
}
