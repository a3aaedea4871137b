package leaderboard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreEndTimeRatchet(t *testing.T) {
	t.Parallel()

	t1 := time.UnixMilli(1700000000000)
	t2 := t1.Add(time.Hour)

	t.Run("later time is ignored", func(t *testing.T) {
		s := NewStore()

		_, ok := s.EndTime()
		assert.False(t, ok)

		assert.True(t, s.SetEndTimeIfEarlier(t1))
		assert.False(t, s.SetEndTimeIfEarlier(t2))

		end, ok := s.EndTime()
		require.True(t, ok)
		assert.True(t, end.Equal(t1))
	})

	t.Run("earlier time wins", func(t *testing.T) {
		s := NewStore()

		assert.True(t, s.SetEndTimeIfEarlier(t2))
		assert.True(t, s.SetEndTimeIfEarlier(t1))

		end, _ := s.EndTime()
		assert.True(t, end.Equal(t1))
	})

	t.Run("idempotent", func(t *testing.T) {
		s := NewStore()

		assert.True(t, s.SetEndTimeIfEarlier(t1))
		assert.False(t, s.SetEndTimeIfEarlier(t1))

		end, _ := s.EndTime()
		assert.True(t, end.Equal(t1))
	})
}

func TestStoreEndTimeConcurrent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	base := time.UnixMilli(1700000000000)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			s.SetEndTimeIfEarlier(base.Add(time.Duration(offset) * time.Minute))
		}(50 - i)
	}
	wg.Wait()

	end, ok := s.EndTime()
	require.True(t, ok)
	assert.True(t, end.Equal(base.Add(time.Minute)))
}

func TestStoreEnded(t *testing.T) {
	t.Parallel()

	s := NewStore()
	end := time.UnixMilli(1700000000000)

	assert.False(t, s.Ended(end.Add(100*time.Hour)), "no end time means still running")

	s.SetEndTimeIfEarlier(end)

	assert.False(t, s.Ended(end.Add(-time.Millisecond)))
	assert.True(t, s.Ended(end))
	assert.True(t, s.Ended(end.Add(time.Second)))
}

func TestStoreWeeklyWriteOnce(t *testing.T) {
	t.Parallel()

	s := NewStore()
	key := RangeKey("1700000000000", "1700003600000")
	assert.Equal(t, "1700000000000_1700003600000", key)

	_, ok := s.Weekly(key)
	assert.False(t, ok)

	first := snapshotOf(t, `{"username":"first","wagerAmount":1}`)
	second := snapshotOf(t, `{"username":"second","wagerAmount":2}`)

	assert.True(t, s.SetWeekly(key, first))
	assert.False(t, s.SetWeekly(key, second))

	got, ok := s.Weekly(key)
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestStoreLifetime(t *testing.T) {
	t.Parallel()

	s := NewStore()
	assert.Empty(t, s.Lifetime())

	snap := snapshotOf(t, `{"username":"someone","wagerAmount":3}`)
	s.SetLifetime(snap)
	assert.Equal(t, snap, s.Lifetime())
}
