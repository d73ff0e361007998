package recurrence

import (
	"math"
	"time"

	"github.com/event-reminders/backend/internal/storage/models"
)

// synodicMonth is the mean length of a lunation in days.
const synodicMonth = 29.530588853

// lunarEpoch is a reference new moon.
var lunarEpoch = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

// phaseOffsets maps a phase to its position inside a lunation.
var phaseOffsets = map[string]float64{
	models.LunarNew:          0,
	models.LunarFirstQuarter: 0.25,
	models.LunarFull:         0.5,
	models.LunarLastQuarter:  0.75,
}

// PhaseMoment returns the mean instant of the phase in lunation n counted
// from the epoch. Phases are mean phases; the true moon can differ by up to
// about half a day.
func PhaseMoment(n int, phase float64) time.Time {
	days := (float64(n) + phase) * synodicMonth
	return lunarEpoch.Add(time.Duration(days * float64(24*time.Hour)))
}

// lunar yields the day of the phase in every interval-th lunation, at the
// anchor's time of day, starting with the first phase on or after the
// anchor's day.
func lunar(anchor time.Time, interval int, phase float64) candidateFunc {
	at := func(n int) time.Time {
		day := PhaseMoment(n, phase).In(anchor.Location())
		return time.Date(day.Year(), day.Month(), day.Day(), anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
	}

	elapsed := anchor.Sub(lunarEpoch).Hours() / 24
	n := int(math.Floor(elapsed/synodicMonth - phase))
	for at(n).Before(anchor) {
		n++
	}
	for !at(n - 1).Before(anchor) {
		n--
	}

	k := 0
	return func() (time.Time, bool) {
		t := at(n + k*interval)
		k++
		return t, true
	}
}
