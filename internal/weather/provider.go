package weather

import (
	"context"
	"math"

	"github.com/jonboulle/clockwork"
)

// Provider abstracts a climate data source (e.g. OpenWeather, INMET).
// Implementations translate provider payloads into Records; transport
// failures are expected to degrade to an empty result rather than an error.
type Provider interface {
	Name() string
	// KeyParam is the query parameter name the provider expects the API key under.
	KeyParam() string
	Daily(ctx context.Context, q Query) ([]Record, error)
	Monthly(ctx context.Context, q Query) ([]Record, error)
	Historical(ctx context.Context, latitude, longitude float64, years int) ([]Record, error)
}

// Today returns the current calendar day according to clock.
func Today(clock clockwork.Clock) Day {
	return DayOf(clock.Now())
}

// YearsUntil returns the window [today - years, today].
func YearsUntil(today Day, years int) (Day, Day) {
	return Day{today.AddDate(-years, 0, 0)}, today
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Rounded returns a pointer to v rounded to one decimal place.
func Rounded(v float64) *float64 {
	return Float(Round1(v))
}

// Days returns every day in [start, end].
func Days(start, end Day) []Day {
	if end.Before(start.Time) {
		return nil
	}
	out := make([]Day, 0, start.DaysUntil(end)+1)
	for d := start; !d.After(end.Time); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}
