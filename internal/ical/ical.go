// Package ical exports recurring series as iCalendar documents.
package ical

import (
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	"github.com/event-reminders/backend/internal/recurrence"
	"github.com/event-reminders/backend/internal/storage/models"
)

const (
	productID   = "-//Event Reminders//Series Export//EN"
	uidDomain   = "event-reminders"
	localLayout = "20060102T150405"
	utcLayout   = "20060102T150405Z"
)

// Input is everything needed to render one series.
type Input struct {
	Series       *models.RecurringSeries
	Parent       *models.Event
	Replacements []models.Event
	// Reminders become alarms of the template event.
	Reminders []models.Reminder
	// Window bounds the occurrences written out one by one when the rule
	// has no RRULE equivalent.
	Window recurrence.Window
	Limit  int
	Now    time.Time
}

// Build renders the series as a calendar. Rules with an exact RRULE
// equivalent are written as one recurring VEVENT with EXDATEs; the others
// are expanded inside the window. Replacement events are written as
// overrides carrying RECURRENCE-ID.
func Build(in Input) (*ics.Calendar, error) {
	if in.Series == nil || in.Parent == nil {
		return nil, errors.New("series and parent event are required")
	}
	loc, err := recurrence.Location(in.Series, in.Parent)
	if err != nil {
		return nil, err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetVersion("2.0")
	cal.SetCalscale("GREGORIAN")
	cal.SetXWRCalName(in.Parent.Title)
	cal.SetXWRTimezone(loc.String())

	anchor := in.Parent.StartDate.In(loc)
	opt, expressible := RuleOf(in.Series, anchor)
	if expressible {
		master := cal.AddEvent(masterUID(in.Series.ID))
		describe(master, in.Parent, in.Now)
		setTime(master, ics.ComponentPropertyDtStart, anchor, loc)
		setTime(master, ics.ComponentPropertyDtEnd, anchor.Add(in.Parent.Duration()), loc)
		master.AddRrule(opt.RRuleString())
		for _, exc := range in.Series.Exceptions {
			if exc.Mode != models.ExceptionCancel {
				continue
			}
			start, ok, err := originalStart(in.Series, in.Parent, exc.Date, loc, in.Now)
			if err != nil {
				return nil, err
			}
			if ok {
				value, params := timeValue(start, loc)
				master.AddProperty(ics.ComponentPropertyExdate, value, params...)
			}
		}
		addAlarms(master, in.Reminders)
	} else {
		exp, err := recurrence.Expand(in.Series, in.Parent, in.Window, in.Limit, in.Now)
		if err != nil {
			return nil, err
		}
		for i, occ := range exp.Collect() {
			ev := cal.AddEvent(occurrenceUID(in.Series.ID, occ.OccurrenceDate))
			describe(ev, &occ.Event, in.Now)
			setTime(ev, ics.ComponentPropertyDtStart, occ.StartDate.In(loc), loc)
			setTime(ev, ics.ComponentPropertyDtEnd, occ.EndDate.In(loc), loc)
			if i == 0 && occ.StartDate.Equal(in.Parent.StartDate) {
				addAlarms(ev, in.Reminders)
			}
		}
	}

	for i := range in.Replacements {
		rep := &in.Replacements[i]
		if rep.OriginalDate == nil {
			continue
		}
		start, ok, err := originalStart(in.Series, in.Parent, *rep.OriginalDate, loc, in.Now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		uid := masterUID(in.Series.ID)
		if !expressible {
			uid = occurrenceUID(in.Series.ID, *rep.OriginalDate)
		}
		ev := cal.AddEvent(uid)
		describe(ev, rep, in.Now)
		setTime(ev, ics.ComponentPropertyDtStart, rep.StartDate.In(loc), loc)
		setTime(ev, ics.ComponentPropertyDtEnd, rep.EndDate.In(loc), loc)
		value, params := timeValue(start, loc)
		ev.AddProperty(ics.ComponentPropertyRecurrenceId, value, params...)
	}

	return cal, nil
}

// Export renders the series as iCalendar text.
func Export(in Input) ([]byte, error) {
	cal, err := Build(in)
	if err != nil {
		return nil, err
	}
	return []byte(cal.Serialize()), nil
}

// RuleOf returns the RRULE equivalent of a series, or false when the
// series generates dates RFC 5545 would not: lunar rules, clamped month
// days, February 29 anchors and weekly day lists that skip the anchor.
func RuleOf(series *models.RecurringSeries, anchor time.Time) (*rrule.ROption, bool) {
	opt := &rrule.ROption{Interval: series.Interval}
	if series.MaxOccurrences != nil {
		opt.Count = *series.MaxOccurrences
	}
	if series.EndDate != nil {
		opt.Until = series.EndDate.UTC()
	}

	switch series.Frequency {
	case models.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case models.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		if len(series.Weekdays) > 0 {
			hasAnchor := false
			for _, d := range series.Weekdays {
				if d == anchor.Weekday() {
					hasAnchor = true
				}
				opt.Byweekday = append(opt.Byweekday, weekdayOf(d))
			}
			if !hasAnchor {
				return nil, false
			}
			opt.Wkst = rrule.SU
		}
	case models.FrequencyMonthly:
		day := anchor.Day()
		if series.MonthDay != nil && *series.MonthDay != day {
			return nil, false
		}
		if day > 28 {
			return nil, false
		}
		opt.Freq = rrule.MONTHLY
	case models.FrequencyYearly:
		if anchor.Month() == time.February && anchor.Day() == 29 {
			return nil, false
		}
		opt.Freq = rrule.YEARLY
	default:
		return nil, false
	}
	return opt, true
}

func weekdayOf(d time.Weekday) rrule.Weekday {
	return [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}[d]
}

func masterUID(seriesID string) string {
	return fmt.Sprintf("%s@%s", seriesID, uidDomain)
}

func occurrenceUID(seriesID, day string) string {
	return fmt.Sprintf("%s-%s@%s", seriesID, day, uidDomain)
}

// timeValue formats t as a UTC time for UTC series and as a local time with
// its TZID otherwise.
func timeValue(t time.Time, loc *time.Location) (string, []ics.PropertyParameter) {
	if loc == time.UTC {
		return t.UTC().Format(utcLayout), nil
	}
	return t.In(loc).Format(localLayout), []ics.PropertyParameter{
		&ics.KeyValues{Key: "TZID", Value: []string{loc.String()}},
	}
}

func setTime(ev *ics.VEvent, prop ics.ComponentProperty, t time.Time, loc *time.Location) {
	value, params := timeValue(t, loc)
	ev.SetProperty(prop, value, params...)
}

func describe(ev *ics.VEvent, src *models.Event, now time.Time) {
	ev.SetDtStampTime(now)
	ev.SetCreatedTime(src.CreatedAt)
	ev.SetModifiedAt(src.UpdatedAt)
	ev.SetSummary(src.Title)
	if src.Description != "" {
		ev.SetDescription(src.Description)
	}
	if src.Location != nil {
		ev.SetLocation(*src.Location)
	}
	if src.VirtualLink != nil {
		ev.SetURL(*src.VirtualLink)
	}
	switch src.Status {
	case models.EventStatusCancelled:
		ev.SetStatus(ics.ObjectStatusCancelled)
	default:
		ev.SetStatus(ics.ObjectStatusConfirmed)
	}
	if src.IsPublic() {
		ev.SetClass(ics.ClassificationPublic)
	} else {
		ev.SetClass(ics.ClassificationPrivate)
	}
}

// addAlarms turns pending reminders into absolute display alarms.
func addAlarms(ev *ics.VEvent, reminders []models.Reminder) {
	for _, rem := range reminders {
		if rem.Status != models.ReminderPending {
			continue
		}
		alarm := ev.AddAlarm()
		alarm.SetAction(ics.ActionDisplay)
		alarm.AddProperty(ics.ComponentPropertyTrigger, rem.TriggerTime.UTC().Format(utcLayout),
			&ics.KeyValues{Key: "VALUE", Value: []string{"DATE-TIME"}})
		alarm.SetDescription("Reminder")
	}
}

// originalStart finds the rule occurrence on day, ignoring exceptions.
func originalStart(series *models.RecurringSeries, parent *models.Event, day string, loc *time.Location, now time.Time) (time.Time, bool, error) {
	d, err := recurrence.ParseDay(day, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	plain := *series
	plain.Exceptions = nil
	window := recurrence.Window{Start: d, End: d.AddDate(0, 0, 1).Add(-time.Nanosecond)}
	exp, err := recurrence.Expand(&plain, parent, window, 1, now)
	if err != nil {
		return time.Time{}, false, err
	}
	occ, ok := exp.Next()
	return occ.StartDate, ok, nil
}

// SeriesSource loads a series the user may see and its replacement events.
type SeriesSource interface {
	Load(ctx context.Context, seriesID, userID string) (*models.RecurringSeries, *models.Event, error)
	Replacements(ctx context.Context, seriesID string) ([]models.Event, error)
}

// ReminderSource lists the user's pending reminders for an event.
type ReminderSource interface {
	PendingFor(ctx context.Context, eventID, userID string) ([]models.Reminder, error)
}

// Exporter renders series for the calendar endpoint.
type Exporter struct {
	series     SeriesSource
	reminders  ReminderSource
	limit      int
	windowDays int
	now        func() time.Time
}

// NewExporter creates a new exporter. Non-RRULE series are expanded over
// windowDays from the request start, at most limit occurrences.
func NewExporter(series SeriesSource, reminders ReminderSource, limit, windowDays int) *Exporter {
	if limit <= 0 {
		limit = 1000
	}
	if windowDays <= 0 {
		windowDays = 365
	}
	return &Exporter{series: series, reminders: reminders, limit: limit, windowDays: windowDays, now: time.Now}
}

// Export renders the series for the user. from and to may be nil.
func (e *Exporter) Export(ctx context.Context, seriesID, userID string, from, to *time.Time) ([]byte, error) {
	series, parent, err := e.series.Load(ctx, seriesID, userID)
	if err != nil {
		return nil, err
	}
	replacements, err := e.series.Replacements(ctx, series.ID)
	if err != nil {
		return nil, err
	}
	reminders, err := e.reminders.PendingFor(ctx, parent.ID, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	window := recurrence.Window{Start: parent.StartDate}
	if from != nil {
		window.Start = *from
	}
	window.End = window.Start.AddDate(0, 0, e.windowDays)
	if to != nil {
		window.End = *to
	}

	return Export(Input{
		Series:       series,
		Parent:       parent,
		Replacements: replacements,
		Reminders:    reminders,
		Window:       window,
		Limit:        e.limit,
		Now:          now,
	})
}
