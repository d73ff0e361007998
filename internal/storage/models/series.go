package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RecurringSeries describes how a template event repeats.
type RecurringSeries struct {
	ID             string            `db:"id" json:"id"`
	ParentEventID  string            `db:"parent_event_id" json:"parent_event_id"`
	CreatorID      string            `db:"creator_id" json:"creator_id"`
	Timezone       string            `db:"timezone" json:"timezone"`
	Frequency      string            `db:"frequency" json:"frequency"`
	Interval       int               `db:"interval_count" json:"interval"`
	EndDate        *time.Time        `db:"end_date" json:"end_date,omitempty"`
	MaxOccurrences *int              `db:"max_occurrences" json:"max_occurrences,omitempty"`
	Weekdays       WeekdayList       `db:"weekdays" json:"weekdays,omitempty"`
	MonthDay       *int              `db:"month_day" json:"month_day,omitempty"`
	LunarPhase     *string           `db:"lunar_phase" json:"lunar_phase,omitempty"`
	Active         bool              `db:"active" json:"active"`
	Exceptions     []SeriesException `db:"-" json:"exceptions"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// Frequency constants
const (
	FrequencyDaily   = "DAILY"
	FrequencyWeekly  = "WEEKLY"
	FrequencyMonthly = "MONTHLY"
	FrequencyYearly  = "YEARLY"
	FrequencyLunar   = "LUNAR"
)

// Lunar phase constants
const (
	LunarNew          = "new"
	LunarFirstQuarter = "first_quarter"
	LunarFull         = "full"
	LunarLastQuarter  = "last_quarter"
)

// SeriesException suppresses one day of a series. Date is a YYYY-MM-DD day
// key in the series timezone.
type SeriesException struct {
	SeriesID           string    `db:"series_id" json:"-"`
	Date               string    `db:"exception_date" json:"date"`
	Mode               string    `db:"mode" json:"mode"`
	ReplacementEventID *string   `db:"replacement_event_id" json:"replacement_event_id,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Exception mode constants
const (
	ExceptionCancel  = "cancel"
	ExceptionReplace = "replace"
)

// WeekdayList is stored as a JSON array of weekday numbers (Sunday = 0).
type WeekdayList []time.Weekday

// Value implements driver.Valuer.
func (w WeekdayList) Value() (driver.Value, error) {
	if len(w) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]time.Weekday(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (w *WeekdayList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported weekdays type %T", src)
	}
	if len(raw) == 0 {
		*w = nil
		return nil
	}
	var days []time.Weekday
	if err := json.Unmarshal(raw, &days); err != nil {
		return fmt.Errorf("decoding weekdays: %w", err)
	}
	*w = days
	return nil
}
