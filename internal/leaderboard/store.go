package leaderboard

import (
	"sync"
	"time"

	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

// Store holds the cached leaderboard state for the lifetime of the process:
// the latest lifetime snapshot, the weekly snapshots by range key, and the
// leaderboard end time. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	lifetime upstream.Snapshot
	weekly   map[string]upstream.Snapshot

	// endTime is only meaningful when hasEndTime is set
	endTime    time.Time
	hasEndTime bool
}

func NewStore() *Store {
	return &Store{
		weekly: make(map[string]upstream.Snapshot),
	}
}

// RangeKey is the weekly cache key for a query. The values are used as
// given, without normalisation.
func RangeKey(startTime, endTime string) string {
	return startTime + "_" + endTime
}

// Lifetime returns the current lifetime snapshot, nil before the first
// successful fetch.
func (s *Store) Lifetime() upstream.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lifetime
}

// SetLifetime replaces the lifetime snapshot.
func (s *Store) SetLifetime(snapshot upstream.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lifetime = snapshot
}

func (s *Store) Weekly(key string) (upstream.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.weekly[key]
	return snapshot, ok
}

// SetWeekly stores the snapshot for key unless one is already stored.
// Weekly entries are never replaced or evicted. It reports whether the
// snapshot was stored.
func (s *Store) SetWeekly(key string, snapshot upstream.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.weekly[key]; ok {
		return false
	}

	s.weekly[key] = snapshot
	return true
}

// EndTime returns the leaderboard end time, if one has been set.
func (s *Store) EndTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.endTime, s.hasEndTime
}

// SetEndTimeIfEarlier moves the end time to t if none is set yet or t is
// earlier than the current one. The end time never moves later. It reports
// whether the end time changed.
func (s *Store) SetEndTimeIfEarlier(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasEndTime && !t.Before(s.endTime) {
		return false
	}

	s.endTime = t
	s.hasEndTime = true

	endTimeGauge.Set(float64(t.UnixMilli()) / 1000)

	return true
}

// Ended reports whether the end time is set and now is at or past it.
func (s *Store) Ended(now time.Time) bool {
	end, ok := s.EndTime()

	return ok && !now.Before(end)
}
