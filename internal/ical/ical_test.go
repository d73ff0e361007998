package ical

import (
	"bytes"
	"context"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"github.com/event-reminders/backend/internal/recurrence"
	"github.com/event-reminders/backend/internal/storage/models"
)

var now = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func parent(start time.Time, tz string) *models.Event {
	location := "Studio 4"
	return &models.Event{
		ID:           "parent-1",
		Title:        "Yoga",
		StartDate:    start,
		EndDate:      start.Add(90 * time.Minute),
		Timezone:     tz,
		Mode:         models.ModeInPerson,
		Location:     &location,
		Visibility:   models.VisibilityPublic,
		AccessPolicy: models.AccessFree,
		CreatorID:    "alice",
		Status:       models.EventStatusPublished,
	}
}

func parse(t *testing.T, data []byte) *ics.Calendar {
	t.Helper()
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	require.NoError(t, err)
	return cal
}

func value(ev *ics.VEvent, prop ics.ComponentProperty) string {
	p := ev.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}

func TestDailySeriesWithExceptions(t *testing.T) {
	start := time.Date(2030, 1, 2, 18, 0, 0, 0, time.UTC)
	count := 10
	replacementDay := "2030-01-05"
	series := &models.RecurringSeries{
		ID:             "s1",
		Frequency:      models.FrequencyDaily,
		Interval:       1,
		MaxOccurrences: &count,
		Exceptions: []models.SeriesException{
			{Date: "2030-01-03", Mode: models.ExceptionCancel},
			{Date: replacementDay, Mode: models.ExceptionReplace},
		},
	}
	p := parent(start, "UTC")
	replacement := *p
	replacement.ID = "rep-1"
	replacement.Title = "Yoga outdoors"
	replacement.StartDate = time.Date(2030, 1, 5, 10, 0, 0, 0, time.UTC)
	replacement.EndDate = replacement.StartDate.Add(time.Hour)
	replacement.OriginalDate = &replacementDay

	data, err := Export(Input{
		Series:       series,
		Parent:       p,
		Replacements: []models.Event{replacement},
		Reminders: []models.Reminder{
			{ID: "r1", Status: models.ReminderPending, TriggerTime: start.Add(-time.Hour)},
			{ID: "r2", Status: models.ReminderCanceled, TriggerTime: start.Add(-2 * time.Hour)},
		},
		Now: now,
	})
	require.NoError(t, err)

	events := parse(t, data).Events()
	require.Len(t, events, 2)

	master := events[0]
	assert.Equal(t, "s1@event-reminders", value(master, ics.ComponentPropertyUniqueId))
	assert.Equal(t, "20300102T180000Z", value(master, ics.ComponentPropertyDtStart))
	assert.Equal(t, "20300102T193000Z", value(master, ics.ComponentPropertyDtEnd))
	rule := value(master, ics.ComponentPropertyRrule)
	assert.Contains(t, rule, "FREQ=DAILY")
	assert.Contains(t, rule, "COUNT=10")
	assert.Equal(t, "20300103T180000Z", value(master, ics.ComponentPropertyExdate))
	assert.Equal(t, "Studio 4", value(master, ics.ComponentPropertyLocation))
	require.Len(t, master.Alarms(), 1)
	assert.Equal(t, "20300102T170000Z", master.Alarms()[0].GetProperty(ics.ComponentPropertyTrigger).Value)

	override := events[1]
	assert.Equal(t, "s1@event-reminders", value(override, ics.ComponentPropertyUniqueId))
	assert.Equal(t, "Yoga outdoors", value(override, ics.ComponentPropertySummary))
	assert.Equal(t, "20300105T180000Z", value(override, ics.ComponentPropertyRecurrenceId))
	assert.Equal(t, "20300105T100000Z", value(override, ics.ComponentPropertyDtStart))
}

func TestRuleMatchesEngine(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	start := time.Date(2030, 1, 2, 19, 0, 0, 0, berlin)
	series := &models.RecurringSeries{
		ID:        "s2",
		Timezone:  "Europe/Berlin",
		Frequency: models.FrequencyWeekly,
		Interval:  2,
		Weekdays:  models.WeekdayList{time.Wednesday, time.Friday},
	}
	p := parent(start, "Europe/Berlin")

	opt, ok := RuleOf(series, start)
	require.True(t, ok)
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	require.NoError(t, err)

	window := recurrence.Window{Start: start, End: start.AddDate(1, 0, 0)}
	exp, err := recurrence.Expand(series, p, window, 0, now)
	require.NoError(t, err)
	var got []time.Time
	for _, occ := range exp.Collect() {
		got = append(got, occ.StartDate.UTC())
	}
	var want []time.Time
	for _, at := range r.Between(window.Start, window.End, true) {
		want = append(want, at.UTC())
	}
	assert.Equal(t, want, got)

	data, err := Export(Input{Series: series, Parent: p, Now: now})
	require.NoError(t, err)
	master := parse(t, data).Events()[0]
	dtstart := master.GetProperty(ics.ComponentPropertyDtStart)
	assert.Equal(t, "20300102T190000", dtstart.Value)
	assert.Equal(t, []string{"Europe/Berlin"}, dtstart.ICalParameters["TZID"])
	assert.Contains(t, value(master, ics.ComponentPropertyRrule), "WKST=SU")
}

func TestRuleOf(t *testing.T) {
	day := 31
	phase := models.LunarFull
	tests := []struct {
		name   string
		series models.RecurringSeries
		anchor time.Time
		ok     bool
	}{
		{name: "daily", series: models.RecurringSeries{Frequency: models.FrequencyDaily, Interval: 1}, anchor: now, ok: true},
		{name: "monthly on the 15th", series: models.RecurringSeries{Frequency: models.FrequencyMonthly, Interval: 1}, anchor: time.Date(2030, 1, 15, 9, 0, 0, 0, time.UTC), ok: true},
		{name: "monthly on the 31st", series: models.RecurringSeries{Frequency: models.FrequencyMonthly, Interval: 1}, anchor: time.Date(2030, 1, 31, 9, 0, 0, 0, time.UTC)},
		{name: "monthly day override", series: models.RecurringSeries{Frequency: models.FrequencyMonthly, Interval: 1, MonthDay: &day}, anchor: time.Date(2030, 1, 15, 9, 0, 0, 0, time.UTC)},
		{name: "yearly leap day", series: models.RecurringSeries{Frequency: models.FrequencyYearly, Interval: 1}, anchor: time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC)},
		{name: "weekly without anchor day", series: models.RecurringSeries{Frequency: models.FrequencyWeekly, Interval: 1, Weekdays: models.WeekdayList{time.Monday}}, anchor: time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)},
		{name: "lunar", series: models.RecurringSeries{Frequency: models.FrequencyLunar, Interval: 1, LunarPhase: &phase}, anchor: now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := RuleOf(&tt.series, tt.anchor)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestLunarSeriesIsExpanded(t *testing.T) {
	phase := models.LunarNew
	start := time.Date(2024, 1, 11, 12, 0, 0, 0, time.UTC)
	series := &models.RecurringSeries{ID: "moon", Frequency: models.FrequencyLunar, Interval: 1, LunarPhase: &phase}
	p := parent(start, "UTC")

	data, err := Export(Input{
		Series:    series,
		Parent:    p,
		Window:    recurrence.Window{Start: start, End: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		Limit:     100,
		Reminders: []models.Reminder{{Status: models.ReminderPending, TriggerTime: start.Add(-time.Hour)}},
		Now:       now,
	})
	require.NoError(t, err)

	events := parse(t, data).Events()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Nil(t, ev.GetProperty(ics.ComponentPropertyRrule))
	}
	assert.Equal(t, "moon-2024-01-11@event-reminders", value(events[0], ics.ComponentPropertyUniqueId))
	assert.Equal(t, "moon-2024-02-09@event-reminders", value(events[1], ics.ComponentPropertyUniqueId))
	assert.Len(t, events[0].Alarms(), 1)
	assert.Empty(t, events[1].Alarms())
}

type fakeSeries struct {
	series *models.RecurringSeries
	parent *models.Event
}

func (f fakeSeries) Load(context.Context, string, string) (*models.RecurringSeries, *models.Event, error) {
	return f.series, f.parent, nil
}

func (f fakeSeries) Replacements(context.Context, string) ([]models.Event, error) {
	return nil, nil
}

type fakeReminders struct{}

func (fakeReminders) PendingFor(context.Context, string, string) ([]models.Reminder, error) {
	return nil, nil
}

func TestExporterWindow(t *testing.T) {
	phase := models.LunarFull
	start := time.Date(2024, 1, 25, 18, 0, 0, 0, time.UTC)
	exporter := NewExporter(fakeSeries{
		series: &models.RecurringSeries{ID: "moon", Frequency: models.FrequencyLunar, Interval: 1, LunarPhase: &phase},
		parent: parent(start, "UTC"),
	}, fakeReminders{}, 2, 365)
	exporter.now = func() time.Time { return now }

	data, err := exporter.Export(context.Background(), "moon", "alice", nil, nil)
	require.NoError(t, err)
	assert.Len(t, parse(t, data).Events(), 2)

	to := start.Add(24 * time.Hour)
	data, err = exporter.Export(context.Background(), "moon", "alice", nil, &to)
	require.NoError(t, err)
	assert.Len(t, parse(t, data).Events(), 1)
}
