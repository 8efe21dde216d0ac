package processing

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/common"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

// Kind is the granularity of a collection run.
type Kind string

const (
	KindDaily      Kind = "daily"
	KindMonthly    Kind = "monthly"
	KindHistorical Kind = "historical"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDaily, KindMonthly, KindHistorical:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want daily, monthly or historical)", s)
	}
}

// Climate variable names accepted by Options.Variables.
const (
	VarTemperature   = "temperature"
	VarPrecipitation = "precipitation"
	VarHumidity      = "humidity"
)

const (
	UnitCelsius    = "celsius"
	UnitFahrenheit = "fahrenheit"
)

// Options controls which variables survive processing and in which unit
// temperatures are reported.
type Options struct {
	// Variables lists the active variables. Empty keeps all of them.
	Variables  []string
	Fahrenheit bool
}

// Row is a processed record plus the calendar features derived from its date.
type Row struct {
	weather.Record

	TemperatureUnit string `json:"temperature_unit,omitempty"`
	Day             int    `json:"day,omitempty"`
	// Weekday counts from Monday = 0.
	Weekday   *int `json:"weekday,omitempty"`
	DayOfYear int  `json:"day_of_year,omitempty"`
	// Season follows the southern hemisphere: 1 summer, 2 autumn, 3 winter, 4 spring.
	Season  int `json:"season,omitempty"`
	Quarter int `json:"quarter,omitempty"`
}

// Processor validates, filters and enriches records before export.
type Processor struct {
	variables  map[string]bool
	fahrenheit bool
	logger     *zap.Logger
}

func NewProcessor(opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	var vars map[string]bool
	if len(opts.Variables) > 0 {
		vars = make(map[string]bool, len(opts.Variables))
		for _, v := range opts.Variables {
			vars[strings.ToLower(strings.TrimSpace(v))] = true
		}
	}
	return &Processor{
		variables:  vars,
		fahrenheit: opts.Fahrenheit,
		logger:     logger,
	}
}

// Process returns the valid records as rows sorted chronologically. The
// input records are not modified.
func (p *Processor) Process(records []weather.Record, kind Kind) []Row {
	valid := p.validate(records)
	if len(valid) == 0 {
		p.logger.Warn("no valid records to process", zap.String("kind", string(kind)))
		return []Row{}
	}

	rows := make([]Row, 0, len(valid))
	for _, r := range valid {
		r = p.filter(clone(r))
		row := Row{Record: r}
		p.convertUnits(&row)
		addAmplitude(&row)
		if kind == KindMonthly {
			monthlyFeatures(&row)
		} else {
			dailyFeatures(&row)
		}
		rows = append(rows, row)
	}

	if kind == KindMonthly {
		slices.SortStableFunc(rows, func(a, b Row) int {
			if a.Year != b.Year {
				return a.Year - b.Year
			}
			return a.Month - b.Month
		})
	} else {
		slices.SortStableFunc(rows, func(a, b Row) int {
			return a.Date.Compare(b.Date.Time)
		})
	}
	return rows
}

func (p *Processor) validate(records []weather.Record) []weather.Record {
	out := make([]weather.Record, 0, len(records))
	for _, r := range records {
		if r.Date.IsZero() {
			p.logger.Debug("dropping record without date", zap.String("source", r.Source))
			continue
		}
		if !r.HasClimate() {
			p.logger.Debug("dropping record without climate data", zap.Stringer("date", r.Date))
			continue
		}
		out = append(out, r)
	}
	if removed := len(records) - len(out); removed > 0 {
		p.logger.Info("invalid records removed", zap.Int("removed", removed))
	}
	return out
}

func (p *Processor) filter(r weather.Record) weather.Record {
	if p.variables == nil {
		return r
	}
	if !p.variables[VarTemperature] {
		r.Temperature = nil
	}
	if !p.variables[VarPrecipitation] {
		r.Precipitation = nil
	}
	if !p.variables[VarHumidity] {
		r.Humidity = nil
	}
	return r
}

func (p *Processor) convertUnits(row *Row) {
	t := row.Temperature
	if t == nil {
		return
	}
	row.TemperatureUnit = UnitCelsius
	// Only the built-in providers are known to report Celsius.
	if !p.fahrenheit || !common.HasAnyPrefix(row.Source, "openweather", "inmet") {
		return
	}
	for _, v := range []**float64{&t.Current, &t.Min, &t.Max, &t.Mean, &t.FeelsLike, &t.Amplitude} {
		if *v != nil {
			*v = weather.Rounded(Fahrenheit(**v))
		}
	}
	row.TemperatureUnit = UnitFahrenheit
}

// Fahrenheit converts a Celsius temperature.
func Fahrenheit(celsius float64) float64 {
	return celsius*9/5 + 32
}

func addAmplitude(row *Row) {
	t := row.Temperature
	if t == nil || t.Min == nil || t.Max == nil {
		return
	}
	t.Amplitude = weather.Rounded(*t.Max - *t.Min)
}

func dailyFeatures(row *Row) {
	d := row.Date
	weekday := (int(d.Weekday()) + 6) % 7
	row.Year = d.Year()
	row.Month = int(d.Month())
	row.Day = d.Day()
	row.Weekday = &weekday
	row.DayOfYear = d.YearDay()
	row.Season = Season(d.Month())
}

func monthlyFeatures(row *Row) {
	if row.Year == 0 || row.Month == 0 {
		row.Year = row.Date.Year()
		row.Month = int(row.Date.Month())
	}
	row.Season = Season(time.Month(row.Month))
	row.Quarter = (row.Month-1)/3 + 1
}

// Season returns the southern-hemisphere season of m.
func Season(m time.Month) int {
	switch m {
	case time.December, time.January, time.February:
		return 1
	case time.March, time.April, time.May:
		return 2
	case time.June, time.July, time.August:
		return 3
	default:
		return 4
	}
}

// clone copies the measurement groups so processing never writes through
// to the caller's records.
func clone(r weather.Record) weather.Record {
	if r.Temperature != nil {
		t := *r.Temperature
		r.Temperature = &t
	}
	if r.Precipitation != nil {
		p := *r.Precipitation
		r.Precipitation = &p
	}
	if r.Humidity != nil {
		h := *r.Humidity
		r.Humidity = &h
	}
	if r.Wind != nil {
		w := *r.Wind
		r.Wind = &w
	}
	return r
}
