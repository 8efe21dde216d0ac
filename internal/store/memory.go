package store

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/climate-data-collector/internal/processing"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

var (
	// ErrNotFound is returned when no collection exists for a location and kind.
	ErrNotFound = errors.New("no climate data for location")
)

// Snapshot is the processed output of one collection run for one location.
type Snapshot struct {
	RunID       string           `json:"run_id"`
	Kind        processing.Kind  `json:"kind"`
	Location    weather.Location `json:"location"`
	CollectedAt time.Time        `json:"collected_at"`
	Rows        []processing.Row `json:"rows"`
}

// SnapshotHistory holds a time-ordered list of snapshots for a location and kind.
type SnapshotHistory struct {
	Snapshots []Snapshot
}

// MemoryStore is a concurrency-safe in-memory store of collection results.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key + kind
	data map[string]*SnapshotHistory

	// retention configuration
	maxHistory int           // max number of snapshots per location and kind
	maxAge     time.Duration // optional max age for snapshots
	clock      clockwork.Clock
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration, clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		data:       make(map[string]*SnapshotHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		clock:      clock,
	}
}

func key(loc weather.Location, kind processing.Kind) string {
	return loc.Key() + "|" + string(kind)
}

// Save appends a snapshot and enforces retention.
func (s *MemoryStore) Save(snapshot Snapshot) {
	k := key(snapshot.Location, snapshot.Kind)

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[k]
	if !ok {
		history = &SnapshotHistory{}
		s.data[k] = history
	}

	history.Snapshots = append(history.Snapshots, snapshot)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Snapshots) > s.maxHistory {
		over := len(history.Snapshots) - s.maxHistory
		history.Snapshots = history.Snapshots[over:]
	}

	// Enforce retention by age, always keeping the newest snapshot.
	if s.maxAge > 0 {
		cutoff := s.clock.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Snapshots)-1; i++ {
			if !history.Snapshots[i].CollectedAt.Before(cutoff) {
				break
			}
		}
		history.Snapshots = history.Snapshots[i:]
	}
}

// Latest returns the most recent snapshot for a location and kind.
func (s *MemoryStore) Latest(loc weather.Location, kind processing.Kind) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key(loc, kind)]
	if !ok || len(history.Snapshots) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return history.Snapshots[len(history.Snapshots)-1], nil
}

// Range returns all snapshots collected between from and to (inclusive).
func (s *MemoryStore) Range(loc weather.Location, kind processing.Kind, from, to time.Time) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key(loc, kind)]
	if !ok || len(history.Snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []Snapshot
	for _, snap := range history.Snapshots {
		if !snap.CollectedAt.Before(from) && !snap.CollectedAt.After(to) {
			result = append(result, snap)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
