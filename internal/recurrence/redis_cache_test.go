package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/event-reminders/backend/internal/storage/models"
)

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewRedisCache(client)
	ctx := context.Background()

	entry, err := cache.Get(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, entry, "miss")

	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	series := &models.RecurringSeries{
		ID:         "s",
		Frequency:  models.FrequencyDaily,
		Interval:   1,
		Exceptions: []models.SeriesException{{SeriesID: "s", Date: "2030-01-02"}},
	}
	window := Window{Start: start, End: start.AddDate(0, 0, 4)}
	exp, err := Expand(series, template(start), window, 0, start)
	require.NoError(t, err)
	put := &CacheEntry{
		SeriesID:    "s",
		Window:      window,
		Occurrences: exp.Collect(),
		ComputedAt:  start,
		Exceptions:  ExceptionsKey(series),
	}
	require.NoError(t, cache.Put(ctx, put, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey("s")))

	entry, err = cache.Get(ctx, "s")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Window.Start.Equal(window.Start))
	require.Len(t, entry.Occurrences, 4)
	assert.Equal(t, "2030-01-03", entry.Occurrences[1].OccurrenceDate)
	assert.True(t, entry.Fresh(series))

	require.NoError(t, cache.Invalidate(ctx, "s"))
	entry, err = cache.Get(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, cache.Put(ctx, put, time.Minute))
	mr.FastForward(2 * time.Minute)
	entry, err = cache.Get(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, entry, "expired")

	require.NoError(t, mr.Set(cacheKey("broken"), "not json"))
	_, err = cache.Get(ctx, "broken")
	assert.Error(t, err)
}
