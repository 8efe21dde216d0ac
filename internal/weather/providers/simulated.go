package providers

import (
	"time"

	"github.com/i474232898/climate-data-collector/internal/weather"
)

// SimulatedSeries returns one deterministic record per day in [start, end]
// derived only from the month of each day.
func SimulatedSeries(start, end weather.Day) []weather.Record {
	days := weather.Days(start, end)
	out := make([]weather.Record, 0, len(days))
	for _, d := range days {
		out = append(out, simulatedDay(d))
	}
	return out
}

func simulatedDay(d weather.Day) weather.Record {
	month := float64(d.Month())

	amount, probability, humidity := 0.5, 10.0, 60.0
	if wetSeason(d.Month()) {
		amount, probability, humidity = 5, 80, 75
	}

	return weather.Record{
		Date: d,
		Temperature: &weather.Temperature{
			Mean: weather.Rounded(20 + month/3),
			Min:  weather.Rounded(15 + month/4),
			Max:  weather.Rounded(25 + month/2),
		},
		Precipitation: &weather.Precipitation{
			Amount:      weather.Float(amount),
			Probability: weather.Float(probability),
		},
		Humidity: &weather.Humidity{Mean: weather.Float(humidity)},
		Source:   "openweather_simulated",
	}
}

// wetSeason covers the southern-hemisphere summer rains.
func wetSeason(m time.Month) bool {
	switch m {
	case time.November, time.December, time.January, time.February, time.March:
		return true
	}
	return false
}
