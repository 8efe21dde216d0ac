package weather

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDay_JSONRoundTrip(t *testing.T) {
	r := Record{Date: NewDay(2023, time.April, 1), Source: "x"}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"date":"2023-04-01"`)
	assert.NotContains(t, string(b), "temperature")

	var back Record
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Date.Equal(r.Date.Time))
}

func TestParseDay_Invalid(t *testing.T) {
	_, err := ParseDay("01/04/2023")
	require.Error(t, err)
}

func TestDays_InclusiveRange(t *testing.T) {
	days := Days(NewDay(2024, time.February, 27), NewDay(2024, time.March, 1))
	require.Len(t, days, 4)
	assert.Equal(t, "2024-02-29", days[2].String())

	assert.Empty(t, Days(NewDay(2024, time.March, 2), NewDay(2024, time.March, 1)))
}

func TestYearsUntil(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.June, 15, 13, 0, 0, 0, time.UTC))
	start, end := YearsUntil(Today(clock), 5)
	assert.Equal(t, "2020-06-15", start.String())
	assert.Equal(t, "2025-06-15", end.String())
}

func TestRecord_HasClimate(t *testing.T) {
	assert.False(t, Record{Date: NewDay(2023, 1, 1), City: "x"}.HasClimate())
	assert.True(t, Record{Humidity: &Humidity{}}.HasClimate())
}
