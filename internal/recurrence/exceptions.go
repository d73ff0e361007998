package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/event-reminders/backend/internal/storage/models"
)

// DayKey returns the day of t in loc as a YYYY-MM-DD key.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// ParseDay accepts a YYYY-MM-DD day or an RFC 3339 timestamp and returns the
// start of that day in loc. Timestamps are converted to loc first.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(DayLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

// AddException returns a copy of series whose exception list contains the
// day of date in the series timezone. The list stays sorted and holds each
// day once; added is false when the day was already present, in which case
// the existing entry and its mode are kept.
func AddException(series *models.RecurringSeries, date time.Time, mode string) (updated *models.RecurringSeries, added bool, err error) {
	if mode != models.ExceptionCancel && mode != models.ExceptionReplace {
		return nil, false, fmt.Errorf("unknown exception mode %q", mode)
	}

	loc, err := Location(series, nil)
	if err != nil {
		return nil, false, err
	}
	day := DayKey(date, loc)

	out := *series
	out.Exceptions = make([]models.SeriesException, len(series.Exceptions), len(series.Exceptions)+1)
	copy(out.Exceptions, series.Exceptions)
	sort.SliceStable(out.Exceptions, func(i, j int) bool {
		return out.Exceptions[i].Date < out.Exceptions[j].Date
	})

	i := sort.Search(len(out.Exceptions), func(i int) bool {
		return out.Exceptions[i].Date >= day
	})
	if i < len(out.Exceptions) && out.Exceptions[i].Date == day {
		return &out, false, nil
	}

	exc := models.SeriesException{SeriesID: series.ID, Date: day, Mode: mode}
	out.Exceptions = append(out.Exceptions, models.SeriesException{})
	copy(out.Exceptions[i+1:], out.Exceptions[i:])
	out.Exceptions[i] = exc

	return &out, true, nil
}

// FindException returns the exception recorded for day, if any.
func FindException(series *models.RecurringSeries, day string) (models.SeriesException, bool) {
	for _, exc := range series.Exceptions {
		if exc.Date == day {
			return exc, true
		}
	}
	return models.SeriesException{}, false
}
