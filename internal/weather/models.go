package weather

import (
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar date without a time of day. The zero value means "not set".
type Day struct {
	time.Time
}

// NewDay returns the day for the given calendar date.
func NewDay(year int, month time.Month, day int) Day {
	return Day{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar date of t in t's own location.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Day{t}, nil
}

// AddDays returns d shifted by n days.
func (d Day) AddDays(n int) Day {
	return Day{d.Time.AddDate(0, 0, n)}
}

// DaysUntil returns the number of whole days from d to other.
func (d Day) DaysUntil(other Day) int {
	return int(other.Time.Sub(d.Time).Hours() / 24)
}

// FirstOfMonth returns the first day of d's month.
func (d Day) FirstOfMonth() Day {
	return NewDay(d.Year(), d.Month(), 1)
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dayLayout)
}

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Day) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Day) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*d = Day{}
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// Origin tags which provider produced a record.
type Origin string

const (
	OriginPrimary           Origin = "primary"
	OriginSecondary         Origin = "secondary"
	OriginSecondaryFallback Origin = "secondary (fallback)"
)

// FallbackMode selects which providers the Service consults.
type FallbackMode string

const (
	ModePrimary   FallbackMode = "primary"
	ModeSecondary FallbackMode = "secondary"
	ModeBoth      FallbackMode = "both"
)

// ParseFallbackMode accepts the English names and the legacy
// principal/reserva/ambas spellings used by older config files.
func ParseFallbackMode(s string) (FallbackMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "principal", "":
		return ModePrimary, nil
	case "secondary", "reserva":
		return ModeSecondary, nil
	case "both", "ambas":
		return ModeBoth, nil
	default:
		return "", fmt.Errorf("unknown fallback mode %q", s)
	}
}

// Location is a named point for which climate data is collected.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Key returns a canonical string key for this location.
func (l Location) Key() string {
	return fmt.Sprintf("%s:%.4f:%.4f", l.Name, l.Latitude, l.Longitude)
}

// Query selects a point and an optional date window. Zero Start/End mean the
// provider picks its own default window.
type Query struct {
	Latitude  float64
	Longitude float64
	Start     Day
	End       Day
}

// ProviderConfig holds connection settings for one provider.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

// Temperature values are in degrees Celsius unless a processor converted them.
type Temperature struct {
	Current   *float64 `json:"current,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Mean      *float64 `json:"mean,omitempty"`
	FeelsLike *float64 `json:"feels_like,omitempty"`
	Amplitude *float64 `json:"amplitude,omitempty"`
}

// Precipitation in millimetres. Probability is a percentage (0-100).
// Total and Mean are only set on monthly records.
type Precipitation struct {
	Amount      *float64 `json:"amount,omitempty"`
	Probability *float64 `json:"probability,omitempty"`
	Total       *float64 `json:"total,omitempty"`
	Mean        *float64 `json:"mean,omitempty"`
}

// Humidity is relative humidity in percent.
type Humidity struct {
	Current *float64 `json:"current,omitempty"`
	Mean    *float64 `json:"mean,omitempty"`
}

// Wind speed is in m/s and direction in degrees.
type Wind struct {
	Speed     *float64 `json:"speed,omitempty"`
	Direction *float64 `json:"direction,omitempty"`
}

// StationInfo identifies the ground station a record was measured at.
type StationInfo struct {
	Name     string  `json:"name"`
	Code     string  `json:"code"`
	Distance float64 `json:"distance"`
}

// Station is a provider station resolved for a single request.
type Station struct {
	Code      string
	Name      string
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Distance  float64
}

// Info returns the subset of station data attached to records.
func (s Station) Info() *StationInfo {
	return &StationInfo{Name: s.Name, Code: s.Code, Distance: s.Distance}
}

// Record is the provider-agnostic daily or monthly observation.
type Record struct {
	Date          Day            `json:"date"`
	Year          int            `json:"year,omitempty"`
	Month         int            `json:"month,omitempty"`
	DaysCounted   int            `json:"days_counted,omitempty"`
	Temperature   *Temperature   `json:"temperature,omitempty"`
	Precipitation *Precipitation `json:"precipitation,omitempty"`
	Humidity      *Humidity      `json:"humidity,omitempty"`
	Wind          *Wind          `json:"wind,omitempty"`
	Station       *StationInfo   `json:"station,omitempty"`
	City          string         `json:"city,omitempty"`
	Description   string         `json:"description,omitempty"`
	Source        string         `json:"source"`
	Origin        Origin         `json:"origin_api,omitempty"`
}

// HasClimate reports whether the record carries any climate measurement group.
func (r Record) HasClimate() bool {
	return r.Temperature != nil || r.Precipitation != nil || r.Humidity != nil
}
