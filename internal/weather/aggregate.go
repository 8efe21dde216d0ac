package weather

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// AggregationRules control how AggregateMonthly reads each daily record.
type AggregationRules struct {
	// Source is stamped on every monthly record.
	Source string
	// Temperature picks the representative daily temperature.
	Temperature func(Record) *float64
	// Humidity picks the representative daily humidity.
	Humidity func(Record) *float64
	Logger   *zap.Logger
}

// MonthlyRules returns the rules both providers use: mean temperature falling
// back to the current reading, and likewise for humidity.
func MonthlyRules(source string, logger *zap.Logger) AggregationRules {
	return AggregationRules{
		Source:      source,
		Temperature: MeanOrCurrentTemperature,
		Humidity:    MeanOrCurrentHumidity,
		Logger:      logger,
	}
}

// MeanOrCurrentTemperature picks the daily mean, falling back to the
// instantaneous reading.
func MeanOrCurrentTemperature(r Record) *float64 {
	if r.Temperature == nil {
		return nil
	}
	if r.Temperature.Mean != nil {
		return r.Temperature.Mean
	}
	return r.Temperature.Current
}

// MeanOrCurrentHumidity is MeanOrCurrentTemperature for humidity.
func MeanOrCurrentHumidity(r Record) *float64 {
	if r.Humidity == nil {
		return nil
	}
	if r.Humidity.Mean != nil {
		return r.Humidity.Mean
	}
	return r.Humidity.Current
}

type monthKey struct {
	year  int
	month time.Month
}

type monthAccumulator struct {
	first Record
	size  int

	tempCount int
	tempSum   float64
	minSum    float64
	maxSum    float64
	humSum    float64
	precipSum float64

	minSeen    bool
	maxSeen    bool
	humSeen    bool
	precipSeen bool
}

func (a *monthAccumulator) add(r Record, rules AggregationRules) {
	a.size++

	temp := rules.Temperature(r)
	if temp != nil {
		a.tempSum += *temp
		a.tempCount++
	}

	// Min/max fall back to the representative temperature when absent.
	low, high := temp, temp
	if r.Temperature != nil {
		if r.Temperature.Min != nil {
			low = r.Temperature.Min
		}
		if r.Temperature.Max != nil {
			high = r.Temperature.Max
		}
	}
	if low != nil {
		a.minSum += *low
		a.minSeen = true
	}
	if high != nil {
		a.maxSum += *high
		a.maxSeen = true
	}

	if hum := rules.Humidity(r); hum != nil {
		a.humSum += *hum
		a.humSeen = true
	}

	if r.Precipitation != nil && r.Precipitation.Amount != nil {
		a.precipSum += *r.Precipitation.Amount
		a.precipSeen = true
	}
}

// record publishes the monthly summary. Temperature-derived averages and the
// humidity average divide by the number of days that contributed a temperature;
// the precipitation mean divides by the number of days in the group.
func (a *monthAccumulator) record(key monthKey, source string) Record {
	out := Record{
		Date:        NewDay(key.year, key.month, 1),
		Year:        key.year,
		Month:       int(key.month),
		DaysCounted: a.size,
		City:        a.first.City,
		Station:     a.first.Station,
		Source:      source,
	}

	if a.tempCount > 0 {
		n := float64(a.tempCount)
		t := &Temperature{Mean: Rounded(a.tempSum / n)}
		if a.minSeen {
			t.Min = Rounded(a.minSum / n)
		}
		if a.maxSeen {
			t.Max = Rounded(a.maxSum / n)
		}
		out.Temperature = t

		if a.humSeen {
			out.Humidity = &Humidity{Mean: Rounded(a.humSum / n)}
		}
	}

	if a.precipSeen {
		out.Precipitation = &Precipitation{
			Total: Rounded(a.precipSum),
			Mean:  Rounded(a.precipSum / float64(a.size)),
		}
	}

	return out
}

// AggregateMonthly folds daily records into one record per calendar month,
// sorted by (year, month). Records without a date are skipped.
func AggregateMonthly(daily []Record, rules AggregationRules) []Record {
	if len(daily) == 0 {
		return nil
	}
	logger := rules.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules.Temperature == nil {
		rules.Temperature = MeanOrCurrentTemperature
	}
	if rules.Humidity == nil {
		rules.Humidity = MeanOrCurrentHumidity
	}

	months := make(map[monthKey]*monthAccumulator)
	skipped := 0
	for _, r := range daily {
		if r.Date.IsZero() {
			skipped++
			continue
		}
		key := monthKey{year: r.Date.Year(), month: r.Date.Month()}
		acc, ok := months[key]
		if !ok {
			acc = &monthAccumulator{first: r}
			months[key] = acc
		}
		acc.add(r, rules)
	}
	if skipped > 0 {
		logger.Warn("skipped daily records without a date", zap.Int("count", skipped))
	}

	keys := make([]monthKey, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, months[k].record(k, rules.Source))
	}

	logger.Debug("aggregated monthly records",
		zap.Int("daily", len(daily)),
		zap.Int("monthly", len(out)),
		zap.String("source", rules.Source),
	)
	return out
}
