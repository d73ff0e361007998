package recurrence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/event-reminders/backend/internal/storage/models"
)

// CacheEntry is a computed window of occurrences for one series. Exceptions
// holds the ExceptionsKey of the series the entry was expanded from.
type CacheEntry struct {
	SeriesID    string       `json:"series_id"`
	Window      Window       `json:"window"`
	Occurrences []Occurrence `json:"occurrences"`
	Truncated   bool         `json:"truncated"`
	ComputedAt  time.Time    `json:"computed_at"`
	Exceptions  string       `json:"exceptions"`
}

// ExceptionsKey fingerprints the exception days of a series.
func ExceptionsKey(series *models.RecurringSeries) string {
	days := make([]string, 0, len(series.Exceptions))
	for _, exc := range series.Exceptions {
		days = append(days, exc.Date)
	}
	sort.Strings(days)
	return strings.Join(days, ",")
}

// Fresh reports whether the entry was computed with the current exception
// set of series.
func (e *CacheEntry) Fresh(series *models.RecurringSeries) bool {
	return e.SeriesID == series.ID && e.Exceptions == ExceptionsKey(series)
}

// Slice returns the cached occurrences that fall inside w with their status
// derived again from now. ok is false when the entry cannot answer for w.
func (e *CacheEntry) Slice(w Window, now time.Time) (occurrences []Occurrence, ok bool) {
	if e.Truncated || !e.Window.Covers(w) {
		return nil, false
	}
	for _, occ := range e.Occurrences {
		if !w.Contains(occ.StartDate) {
			continue
		}
		occ.Status = StatusAt(occ.EndDate, now)
		occurrences = append(occurrences, occ)
	}
	return occurrences, true
}

// Cache stores expanded occurrence windows keyed by series ID.
type Cache interface {
	// Get returns the cached entry or nil on a miss.
	Get(ctx context.Context, seriesID string) (*CacheEntry, error)
	Put(ctx context.Context, entry *CacheEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, seriesID string) error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*CacheEntry, error)     { return nil, nil }
func (NopCache) Put(context.Context, *CacheEntry, time.Duration) error { return nil }
func (NopCache) Invalidate(context.Context, string) error              { return nil }

type memoryItem struct {
	entry   *CacheEntry
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, seriesID string) (*CacheEntry, error) {
	c.mu.RLock()
	item, ok := c.items[seriesID]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		c.mu.Lock()
		if current, ok := c.items[seriesID]; ok && current.expires.Equal(item.expires) {
			delete(c.items, seriesID)
		}
		c.mu.Unlock()
		return nil, nil
	}
	return item.entry, nil
}

// Put implements Cache. A ttl <= 0 keeps the entry until invalidated.
func (c *MemoryCache) Put(_ context.Context, entry *CacheEntry, ttl time.Duration) error {
	item := memoryItem{entry: entry}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.items[entry.SeriesID] = item
	c.mu.Unlock()
	return nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, seriesID string) error {
	c.mu.Lock()
	delete(c.items, seriesID)
	c.mu.Unlock()
	return nil
}
