// Package recurrence expands recurring series into concrete occurrences and
// maintains their exception lists.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/event-reminders/backend/internal/storage/models"
)

// DayLayout is the format of occurrence and exception day keys.
const DayLayout = "2006-01-02"

var (
	// ErrInvalidWindow is returned when the window start is after its end.
	ErrInvalidWindow = errors.New("window start is after window end")
	// ErrUnbounded is returned when neither the window, the rule nor the
	// caller limits the number of occurrences.
	ErrUnbounded = errors.New("unbounded expansion requires a max count")
	// ErrInvalidRule is returned for rules the engine cannot evaluate.
	ErrInvalidRule = errors.New("invalid recurrence rule")
)

// Window is an inclusive time range. A zero End means the window is
// unbounded.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Unbounded reports whether the window has no end.
func (w Window) Unbounded() bool {
	return w.End.IsZero()
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.Unbounded() || !t.After(w.End)
}

// Covers reports whether other lies entirely inside w.
func (w Window) Covers(other Window) bool {
	if other.Start.Before(w.Start) {
		return false
	}
	if w.Unbounded() {
		return true
	}
	return !other.Unbounded() && !other.End.After(w.End)
}

// Occurrence is one computed instance of a series. It carries every field of
// the template event with its own start, end and status.
type Occurrence struct {
	models.Event
	OccurrenceDate string `json:"occurrence_date"`
	Index          int    `json:"index"`
}

// Expansion lazily yields the occurrences of a series.
type Expansion struct {
	parent   models.Event
	seriesID string
	loc      *time.Location
	window   Window
	until    time.Time
	count    int
	maxCount int
	now      time.Time
	duration time.Duration
	excluded map[string]struct{}
	next     candidateFunc
	position int
	emitted  int
	done     bool
}

// candidateFunc returns the next rule position, or false when the rule can
// produce no more.
type candidateFunc func() (time.Time, bool)

// Expand prepares the expansion of series, whose template is parent, inside
// window. maxCount > 0 caps the number of occurrences returned. now decides
// whether an occurrence is already completed.
//
// Occurrences are generated from the template start. Dates in the series
// exception list are skipped but still count towards the rule's
// MaxOccurrences.
func Expand(series *models.RecurringSeries, parent *models.Event, window Window, maxCount int, now time.Time) (*Expansion, error) {
	if series == nil || parent == nil {
		return nil, fmt.Errorf("%w: series and parent event are required", ErrInvalidRule)
	}
	if !window.Unbounded() && window.Start.After(window.End) {
		return nil, ErrInvalidWindow
	}
	if window.Unbounded() && series.EndDate == nil && series.MaxOccurrences == nil && maxCount <= 0 {
		return nil, ErrUnbounded
	}
	if series.Interval < 1 {
		return nil, fmt.Errorf("%w: interval must be at least 1", ErrInvalidRule)
	}

	loc, err := Location(series, parent)
	if err != nil {
		return nil, err
	}

	e := &Expansion{
		parent:   *parent,
		seriesID: series.ID,
		loc:      loc,
		window:   window,
		maxCount: maxCount,
		now:      now,
		duration: parent.Duration(),
		excluded: make(map[string]struct{}, len(series.Exceptions)),
	}
	if series.EndDate != nil {
		e.until = *series.EndDate
	}
	if series.MaxOccurrences != nil {
		e.count = *series.MaxOccurrences
		if e.count <= 0 {
			e.done = true
		}
	}
	for _, exc := range series.Exceptions {
		e.excluded[exc.Date] = struct{}{}
	}

	anchor := parent.StartDate.In(loc)
	switch series.Frequency {
	case models.FrequencyDaily:
		e.next, e.position = fixedDays(anchor, series.Interval, window.Start)
	case models.FrequencyWeekly:
		if len(series.Weekdays) == 0 {
			e.next, e.position = fixedDays(anchor, 7*series.Interval, window.Start)
		} else {
			e.next = weekdays(anchor, series.Interval, series.Weekdays)
		}
	case models.FrequencyMonthly:
		day := anchor.Day()
		if series.MonthDay != nil {
			day = *series.MonthDay
		}
		if day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: month day %d out of range", ErrInvalidRule, day)
		}
		e.next = monthly(anchor, series.Interval, day)
	case models.FrequencyYearly:
		e.next = yearly(anchor, series.Interval)
	case models.FrequencyLunar:
		if series.LunarPhase == nil {
			return nil, fmt.Errorf("%w: lunar series needs a phase", ErrInvalidRule)
		}
		phase, ok := phaseOffsets[*series.LunarPhase]
		if !ok {
			return nil, fmt.Errorf("%w: unknown lunar phase %q", ErrInvalidRule, *series.LunarPhase)
		}
		e.next = lunar(anchor, series.Interval, phase)
	default:
		return nil, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, series.Frequency)
	}

	return e, nil
}

// Next returns the next occurrence, or false when the expansion is finished.
func (e *Expansion) Next() (Occurrence, bool) {
	for !e.done {
		if e.maxCount > 0 && e.emitted >= e.maxCount {
			e.done = true
			break
		}

		start, ok := e.next()
		if !ok {
			e.done = true
			break
		}

		index := e.position
		e.position++
		if e.count > 0 && index >= e.count {
			e.done = true
			break
		}
		if !e.until.IsZero() && start.After(e.until) {
			e.done = true
			break
		}
		if !e.window.Unbounded() && start.After(e.window.End) {
			e.done = true
			break
		}
		if start.Before(e.window.Start) {
			continue
		}

		day := start.Format(DayLayout)
		if _, skip := e.excluded[day]; skip {
			continue
		}

		e.emitted++
		return e.occurrence(start, day, index), true
	}
	return Occurrence{}, false
}

// Collect drains the expansion.
func (e *Expansion) Collect() []Occurrence {
	var out []Occurrence
	for {
		occ, ok := e.Next()
		if !ok {
			return out
		}
		out = append(out, occ)
	}
}

func (e *Expansion) occurrence(start time.Time, day string, index int) Occurrence {
	ev := e.parent
	ev.StartDate = start
	ev.EndDate = start.Add(e.duration)
	ev.Status = StatusAt(ev.EndDate, e.now)
	if e.seriesID != "" {
		seriesID := e.seriesID
		ev.SeriesID = &seriesID
	}
	return Occurrence{Event: ev, OccurrenceDate: day, Index: index}
}

// StatusAt derives the status of an occurrence ending at end.
func StatusAt(end, now time.Time) string {
	if end.Before(now) {
		return models.EventStatusCompleted
	}
	return models.EventStatusPublished
}

// Location resolves the timezone a series is evaluated in. The series
// timezone wins over the template's; both empty means UTC.
func Location(series *models.RecurringSeries, parent *models.Event) (*time.Location, error) {
	name := series.Timezone
	if name == "" && parent != nil {
		name = parent.Timezone
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, name)
	}
	return loc, nil
}

// addDays moves t by n calendar days keeping its wall clock time.
func addDays(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// civilDays counts calendar days from a to b ignoring the time of day.
func civilDays(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// fixedDays steps a fixed number of calendar days. It skips the positions
// that lie entirely before from and returns the first position it yields.
func fixedDays(anchor time.Time, step int, from time.Time) (candidateFunc, int) {
	k := 0
	if !from.IsZero() && from.After(anchor) {
		// One step of slack for wall-clock differences across zones.
		if skip := civilDays(anchor, from.In(anchor.Location()))/step - 1; skip > 0 {
			k = skip
		}
	}
	first := k
	return func() (time.Time, bool) {
		t := addDays(anchor, k*step)
		k++
		return t, true
	}, first
}

// weekdays yields every listed weekday of every interval-th week, starting
// with the anchor's week. Weeks start on Sunday. Days before the anchor are
// not rule positions.
func weekdays(anchor time.Time, interval int, days models.WeekdayList) candidateFunc {
	sorted := make([]time.Weekday, 0, len(days))
	seen := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	weekStart := addDays(anchor, -int(anchor.Weekday()))
	week, i := 0, 0
	return func() (time.Time, bool) {
		if len(sorted) == 0 {
			return time.Time{}, false
		}
		for {
			if i == len(sorted) {
				i = 0
				week++
			}
			t := addDays(weekStart, week*7*interval+int(sorted[i]))
			i++
			if t.Before(anchor) {
				continue
			}
			return t, true
		}
	}
}

// monthly yields day of every interval-th month counted from the anchor's
// month. Days past the end of a month are clamped to its last day.
func monthly(anchor time.Time, interval, day int) candidateFunc {
	k := 0
	return func() (time.Time, bool) {
		for {
			first := time.Date(anchor.Year(), anchor.Month()+time.Month(k*interval), 1, 0, 0, 0, 0, anchor.Location())
			k++
			d := day
			if last := daysIn(first.Year(), first.Month(), anchor.Location()); d > last {
				d = last
			}
			t := time.Date(first.Year(), first.Month(), d, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
			if t.Before(anchor) {
				continue
			}
			return t, true
		}
	}
}

// yearly yields the anchor's month and day every interval years. February 29
// is clamped to February 28 in common years.
func yearly(anchor time.Time, interval int) candidateFunc {
	k := 0
	return func() (time.Time, bool) {
		year := anchor.Year() + k*interval
		k++
		d := anchor.Day()
		if last := daysIn(year, anchor.Month(), anchor.Location()); d > last {
			d = last
		}
		return time.Date(year, anchor.Month(), d, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location()), true
	}
}
