package store

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/climate-data-collector/internal/processing"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

var saoPaulo = weather.Location{Name: "São Paulo", Latitude: -23.55, Longitude: -46.63}

func TestMemoryStore_LatestPerKind(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(0, 0, clock)

	_, err := s.Latest(saoPaulo, processing.KindDaily)
	assert.ErrorIs(t, err, ErrNotFound)

	s.Save(Snapshot{RunID: "1", Kind: processing.KindDaily, Location: saoPaulo, CollectedAt: clock.Now()})
	s.Save(Snapshot{RunID: "2", Kind: processing.KindMonthly, Location: saoPaulo, CollectedAt: clock.Now()})
	s.Save(Snapshot{RunID: "3", Kind: processing.KindDaily, Location: saoPaulo, CollectedAt: clock.Now()})

	got, err := s.Latest(saoPaulo, processing.KindDaily)
	require.NoError(t, err)
	assert.Equal(t, "3", got.RunID)

	got, err = s.Latest(saoPaulo, processing.KindMonthly)
	require.NoError(t, err)
	assert.Equal(t, "2", got.RunID)
}

func TestMemoryStore_RetentionByCount(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(2, 0, clock)

	for _, id := range []string{"a", "b", "c"} {
		s.Save(Snapshot{RunID: id, Kind: processing.KindDaily, Location: saoPaulo, CollectedAt: clock.Now()})
		clock.Advance(time.Minute)
	}

	all, err := s.Range(saoPaulo, processing.KindDaily, time.Time{}, clock.Now())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].RunID)
	assert.Equal(t, "c", all[1].RunID)
}

func TestMemoryStore_RetentionByAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(0, time.Hour, clock)

	s.Save(Snapshot{RunID: "old", Kind: processing.KindDaily, Location: saoPaulo, CollectedAt: clock.Now()})
	clock.Advance(2 * time.Hour)
	s.Save(Snapshot{RunID: "new", Kind: processing.KindDaily, Location: saoPaulo, CollectedAt: clock.Now()})

	all, err := s.Range(saoPaulo, processing.KindDaily, time.Time{}, clock.Now())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].RunID)

	// the newest snapshot survives even once it is older than maxAge
	clock.Advance(3 * time.Hour)
	s.Save(Snapshot{RunID: "stale", Kind: processing.KindDaily, Location: saoPaulo, CollectedAt: clock.Now().Add(-2 * time.Hour)})
	got, err := s.Latest(saoPaulo, processing.KindDaily)
	require.NoError(t, err)
	assert.Equal(t, "stale", got.RunID)
}

func TestMemoryStore_RangeOutsideWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(0, 0, clock)
	s.Save(Snapshot{Kind: processing.KindDaily, Location: saoPaulo, CollectedAt: clock.Now()})

	_, err := s.Range(saoPaulo, processing.KindDaily, clock.Now().Add(time.Minute), clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}
