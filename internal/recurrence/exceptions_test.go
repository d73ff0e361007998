package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/event-reminders/backend/internal/storage/models"
)

func TestAddExceptionIsIdempotent(t *testing.T) {
	series := &models.RecurringSeries{ID: "s", Timezone: "UTC"}
	date := time.Date(2030, 5, 2, 15, 30, 0, 0, time.UTC)

	once, added, err := AddException(series, date, models.ExceptionCancel)
	require.NoError(t, err)
	assert.True(t, added)

	twice, added, err := AddException(once, date.Add(2*time.Hour), models.ExceptionCancel)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, twice.Exceptions, len(once.Exceptions))
	assert.Empty(t, series.Exceptions, "input series is not modified")
}

func TestAddExceptionKeepsSortedDays(t *testing.T) {
	series := &models.RecurringSeries{ID: "s", Timezone: "UTC"}
	for _, day := range []int{9, 3, 6, 3} {
		var err error
		series, _, err = AddException(series, time.Date(2030, 5, day, 12, 0, 0, 0, time.UTC), models.ExceptionCancel)
		require.NoError(t, err)
	}

	var days []string
	for _, exc := range series.Exceptions {
		days = append(days, exc.Date)
	}
	assert.Equal(t, []string{"2030-05-03", "2030-05-06", "2030-05-09"}, days)
}

func TestAddExceptionUsesSeriesTimezone(t *testing.T) {
	series := &models.RecurringSeries{ID: "s", Timezone: "America/New_York"}

	updated, _, err := AddException(series, time.Date(2030, 1, 13, 3, 0, 0, 0, time.UTC), models.ExceptionCancel)
	require.NoError(t, err)
	require.Len(t, updated.Exceptions, 1)
	assert.Equal(t, "2030-01-12", updated.Exceptions[0].Date)
}

func TestAddExceptionRejectsUnknownMode(t *testing.T) {
	_, _, err := AddException(&models.RecurringSeries{}, time.Now(), "delete")
	assert.Error(t, err)
}

func TestParseDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	day, err := ParseDay("2030-07-14", loc)
	require.NoError(t, err)
	assert.Equal(t, "2030-07-14", DayKey(day, loc))

	day, err = ParseDay("2030-07-14T23:30:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, "2030-07-15", DayKey(day, loc))

	_, err = ParseDay("14/07/2030", loc)
	assert.Error(t, err)
}
