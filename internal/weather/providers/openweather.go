package providers

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/weather"
)

const (
	defaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5"
	openWeatherLang       = "pt_br"
	forecastHorizonDays   = 5
)

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
// Past windows are served from a simulated seasonal series since the free
// API tier has no history endpoint.
type OpenWeatherProvider struct {
	name    string
	fetcher *Fetcher
	clock   clockwork.Clock
	logger  *zap.Logger
}

func NewOpenWeatherProvider(cfg weather.ProviderConfig, deps Deps) *OpenWeatherProvider {
	deps = deps.withDefaults()
	return &OpenWeatherProvider{
		name:    "openweather",
		fetcher: newFetcher("openweather", keyParamOpenWeather, defaultOpenWeatherURL, cfg, deps),
		clock:   deps.Clock,
		logger:  deps.Logger.With(zap.String("provider", "openweather")),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) KeyParam() string {
	return keyParamOpenWeather
}

func (p *OpenWeatherProvider) Daily(ctx context.Context, q weather.Query) ([]weather.Record, error) {
	today := weather.Today(p.clock)

	switch {
	case q.Start.IsZero() && q.End.IsZero():
		return p.current(ctx, q)

	case !q.Start.IsZero() && q.Start.After(today.Time) && today.DaysUntil(q.Start) <= forecastHorizonDays:
		end := q.End
		if end.IsZero() {
			end = q.Start.AddDays(forecastHorizonDays)
		}
		return p.forecast(ctx, q, q.Start, end)

	case (!q.Start.IsZero() && q.Start.Before(today.Time)) || (!q.End.IsZero() && q.End.Before(today.Time)):
		start, end := q.Start, q.End
		if start.IsZero() {
			start, _ = weather.YearsUntil(today, 1)
		}
		if end.IsZero() {
			end = today
		}
		p.logger.Info("serving simulated history",
			zap.Stringer("start", start),
			zap.Stringer("end", end),
		)
		return SimulatedSeries(start, end), nil
	}

	p.logger.Warn("date window not supported; returning current conditions",
		zap.Stringer("start", q.Start),
		zap.Stringer("end", q.End),
	)
	return p.current(ctx, q)
}

func (p *OpenWeatherProvider) Monthly(ctx context.Context, q weather.Query) ([]weather.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	today := weather.Today(p.clock)
	start, end := q.Start, q.End
	if start.IsZero() {
		start = today.FirstOfMonth()
	}
	if end.IsZero() {
		end = today
	}

	daily := SimulatedSeries(start, end)
	return weather.AggregateMonthly(daily, weather.MonthlyRules("openweather_monthly", p.logger)), nil
}

func (p *OpenWeatherProvider) Historical(ctx context.Context, _, _ float64, years int) ([]weather.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if years <= 0 {
		return nil, errInvalidYears
	}
	start, end := weather.YearsUntil(weather.Today(p.clock), years)
	p.logger.Info("serving simulated history",
		zap.Int("years", years),
		zap.Stringer("start", start),
		zap.Stringer("end", end),
	)
	return SimulatedSeries(start, end), nil
}

type owCurrentResponse struct {
	Dt       int64  `json:"dt"`
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
	Main     struct {
		Temp      *float64 `json:"temp"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Rain struct {
		OneH *float64 `json:"1h"`
	} `json:"rain"`
	Weather []owCondition `json:"weather"`
}

type owCondition struct {
	Description string `json:"description"`
}

type owForecastResponse struct {
	List []owForecastEntry `json:"list"`
	City struct {
		Name     string `json:"name"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
}

type owForecastEntry struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     *float64 `json:"temp"`
		TempMin  *float64 `json:"temp_min"`
		TempMax  *float64 `json:"temp_max"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Rain struct {
		ThreeH *float64 `json:"3h"`
	} `json:"rain"`
	Pop     *float64      `json:"pop"`
	Weather []owCondition `json:"weather"`
}

func (p *OpenWeatherProvider) params(q weather.Query) url.Values {
	values := url.Values{}
	values.Set("lat", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	values.Set("units", "metric")
	values.Set("lang", openWeatherLang)
	return values
}

func (p *OpenWeatherProvider) current(ctx context.Context, q weather.Query) ([]weather.Record, error) {
	var payload owCurrentResponse
	if err := p.fetcher.Get(ctx, "weather", p.params(q), &payload); err != nil {
		return degrade(p.logger, "current conditions request failed", err)
	}

	date := weather.Today(p.clock)
	if payload.Dt != 0 {
		date = localDay(payload.Dt, payload.Timezone)
	}

	amount := 0.0
	if payload.Rain.OneH != nil {
		amount = *payload.Rain.OneH
	}

	rec := weather.Record{
		Date: date,
		Temperature: &weather.Temperature{
			Current:   payload.Main.Temp,
			Min:       payload.Main.TempMin,
			Max:       payload.Main.TempMax,
			FeelsLike: payload.Main.FeelsLike,
		},
		Precipitation: &weather.Precipitation{Amount: weather.Float(amount)},
		Humidity:      &weather.Humidity{Current: payload.Main.Humidity},
		Wind: &weather.Wind{
			Speed:     payload.Wind.Speed,
			Direction: payload.Wind.Deg,
		},
		City:   payload.Name,
		Source: "openweather_current",
	}
	if len(payload.Weather) > 0 {
		rec.Description = payload.Weather[0].Description
	}
	return []weather.Record{rec}, nil
}

func (p *OpenWeatherProvider) forecast(ctx context.Context, q weather.Query, start, end weather.Day) ([]weather.Record, error) {
	var payload owForecastResponse
	if err := p.fetcher.Get(ctx, "forecast", p.params(q), &payload); err != nil {
		return degrade(p.logger, "forecast request failed", err)
	}

	buckets := make(map[weather.Day]*forecastBucket)
	var order []weather.Day
	for _, entry := range payload.List {
		d := localDay(entry.Dt, payload.City.Timezone)
		if d.Before(start.Time) || d.After(end.Time) {
			continue
		}
		b, ok := buckets[d]
		if !ok {
			b = newForecastBucket()
			buckets[d] = b
			order = append(order, d)
		}
		b.add(entry)
	}

	out := make([]weather.Record, 0, len(order))
	for _, d := range order {
		rec := buckets[d].record(d)
		rec.City = payload.City.Name
		out = append(out, rec)
	}
	return out, nil
}

// localDay converts a unix timestamp to the calendar day at the given UTC offset.
func localDay(unix int64, offsetSeconds int) weather.Day {
	return weather.DayOf(time.Unix(unix, 0).UTC().Add(time.Duration(offsetSeconds) * time.Second))
}

type forecastBucket struct {
	tempSum   float64
	tempCount int
	min, max  float64

	humiditySum   float64
	humidityCount int

	precipitation float64
	popSum        float64
	popCount      int

	descriptions []string
	seen         map[string]struct{}
}

func newForecastBucket() *forecastBucket {
	return &forecastBucket{
		min:  math.Inf(1),
		max:  math.Inf(-1),
		seen: make(map[string]struct{}),
	}
}

func (b *forecastBucket) add(e owForecastEntry) {
	if e.Main.Temp != nil {
		b.tempSum += *e.Main.Temp
		b.tempCount++
	}
	if low := firstOf(e.Main.TempMin, e.Main.Temp); low != nil {
		b.min = math.Min(b.min, *low)
	}
	if high := firstOf(e.Main.TempMax, e.Main.Temp); high != nil {
		b.max = math.Max(b.max, *high)
	}
	if e.Main.Humidity != nil {
		b.humiditySum += *e.Main.Humidity
		b.humidityCount++
	}
	if e.Rain.ThreeH != nil {
		b.precipitation += *e.Rain.ThreeH
	}
	if e.Pop != nil {
		b.popSum += *e.Pop * 100
		b.popCount++
	}
	for _, w := range e.Weather {
		if w.Description == "" {
			continue
		}
		if _, dup := b.seen[w.Description]; dup {
			continue
		}
		b.seen[w.Description] = struct{}{}
		b.descriptions = append(b.descriptions, w.Description)
	}
}

func (b *forecastBucket) record(d weather.Day) weather.Record {
	temp := &weather.Temperature{}
	if b.tempCount > 0 {
		temp.Mean = weather.Rounded(b.tempSum / float64(b.tempCount))
	}
	if !math.IsInf(b.min, 1) {
		temp.Min = weather.Rounded(b.min)
	}
	if !math.IsInf(b.max, -1) {
		temp.Max = weather.Rounded(b.max)
	}

	precip := &weather.Precipitation{Amount: weather.Rounded(b.precipitation)}
	if b.popCount > 0 {
		precip.Probability = weather.Rounded(b.popSum / float64(b.popCount))
	}

	rec := weather.Record{
		Date:          d,
		Temperature:   temp,
		Precipitation: precip,
		Description:   strings.Join(b.descriptions, "; "),
		Source:        "openweather_forecast",
	}
	if b.humidityCount > 0 {
		rec.Humidity = &weather.Humidity{Mean: weather.Rounded(b.humiditySum / float64(b.humidityCount))}
	}
	return rec
}

func firstOf(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
