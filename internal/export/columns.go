package export

import (
	"strconv"
)

// columns is the flattened schema shared by the CSV and SQLite writers.
var columns = []string{
	"location",
	"date",
	"year",
	"month",
	"day",
	"weekday",
	"day_of_year",
	"season",
	"quarter",
	"days_counted",
	"temperature_current",
	"temperature_min",
	"temperature_max",
	"temperature_mean",
	"temperature_feels_like",
	"temperature_amplitude",
	"temperature_unit",
	"precipitation_amount",
	"precipitation_probability",
	"precipitation_total",
	"precipitation_mean",
	"humidity_current",
	"humidity_mean",
	"wind_speed",
	"wind_direction",
	"station_code",
	"station_name",
	"station_distance",
	"city",
	"description",
	"source",
	"origin_api",
}

// flatten returns one value per column; nil marks a missing value.
func flatten(r locatedRow) []any {
	var (
		temp    [6]*float64
		precip  [4]*float64
		hum     [2]*float64
		wind    [2]*float64
		station [3]any
	)
	if t := r.Temperature; t != nil {
		temp = [6]*float64{t.Current, t.Min, t.Max, t.Mean, t.FeelsLike, t.Amplitude}
	}
	if p := r.Precipitation; p != nil {
		precip = [4]*float64{p.Amount, p.Probability, p.Total, p.Mean}
	}
	if h := r.Humidity; h != nil {
		hum = [2]*float64{h.Current, h.Mean}
	}
	if w := r.Wind; w != nil {
		wind = [2]*float64{w.Speed, w.Direction}
	}
	if s := r.Station; s != nil {
		station = [3]any{s.Code, s.Name, s.Distance}
	}

	out := make([]any, 0, len(columns))
	out = append(out,
		text(r.Location),
		r.Date.String(),
		positive(r.Year),
		positive(r.Month),
		positive(r.Day),
		intPtr(r.Weekday),
		positive(r.DayOfYear),
		positive(r.Season),
		positive(r.Quarter),
		positive(r.DaysCounted),
	)
	for _, v := range temp {
		out = append(out, floatPtr(v))
	}
	out = append(out, text(r.TemperatureUnit))
	for _, v := range precip {
		out = append(out, floatPtr(v))
	}
	for _, v := range hum {
		out = append(out, floatPtr(v))
	}
	for _, v := range wind {
		out = append(out, floatPtr(v))
	}
	out = append(out, station[:]...)
	out = append(out,
		text(r.City),
		text(r.Description),
		text(r.Source),
		text(string(r.Origin)),
	)
	return out
}

func text(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func positive(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}

func intPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// formatCell renders a flattened value for text output.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
