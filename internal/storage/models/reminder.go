package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Reminder is a user-scheduled notification for one event.
type Reminder struct {
	ID          string     `db:"id" json:"id"`
	EventID     string     `db:"event_id" json:"event_id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Type        string     `db:"type" json:"type"`
	TriggerTime time.Time  `db:"trigger_time" json:"trigger_time"`
	Status      string     `db:"status" json:"status"`
	RetryCount  int        `db:"retry_count" json:"retry_count"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`
	Metadata    Metadata   `db:"metadata" json:"metadata"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	FailedAt    *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	CanceledAt  *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Reminder delivery types
const (
	ReminderEmail = "email"
	ReminderPush  = "push"
	ReminderSMS   = "sms"
)

// Reminder status constants
const (
	ReminderPending  = "PENDING"
	ReminderSent     = "SENT"
	ReminderFailed   = "FAILED"
	ReminderCanceled = "CANCELED"
)

// Metadata carries the channel payload of a reminder. Exactly one of Email,
// Push or SMS is set and it must match the reminder type. Conditions and
// Repeat are stored with the reminder but not evaluated at dispatch.
type Metadata struct {
	Email      *EmailMetadata `json:"email,omitempty"`
	Push       *PushMetadata  `json:"push,omitempty"`
	SMS        *SMSMetadata   `json:"sms,omitempty"`
	Conditions *Conditions    `json:"conditions,omitempty"`
	Repeat     *Repeat        `json:"repeat,omitempty"`
}

// EmailMetadata is the email channel payload.
type EmailMetadata struct {
	Recipient string `json:"recipient,omitempty" validate:"omitempty,email"`
	Subject   string `json:"subject,omitempty" validate:"max=200"`
	Body      string `json:"body,omitempty" validate:"max=5000"`
}

// PushMetadata is the push channel payload.
type PushMetadata struct {
	Title   string   `json:"title,omitempty" validate:"max=200"`
	Body    string   `json:"body,omitempty" validate:"max=1000"`
	Actions []string `json:"actions,omitempty" validate:"max=3,dive,notblank"`
	Sound   string   `json:"sound,omitempty"`
}

// SMSMetadata is the SMS channel payload.
type SMSMetadata struct {
	Phone   string `json:"phone" validate:"required,e164"`
	Message string `json:"message,omitempty" validate:"max=160"`
}

// Conditions restrict when a reminder should fire.
type Conditions struct {
	Geofence *Geofence `json:"geofence,omitempty"`
	Weather  []string  `json:"weather,omitempty"`
	Traffic  bool      `json:"traffic,omitempty"`
}

// Geofence is a circular area around a point.
type Geofence struct {
	Latitude     float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude    float64 `json:"longitude" validate:"min=-180,max=180"`
	RadiusMeters int     `json:"radius_meters" validate:"min=1,max=100000"`
}

// Repeat re-triggers a reminder until it is acknowledged.
type Repeat struct {
	IntervalMinutes   int  `json:"interval_minutes" validate:"min=1,max=1440"`
	MaxRepeats        int  `json:"max_repeats" validate:"min=0,max=10"`
	UntilAcknowledged bool `json:"until_acknowledged"`
}

// Channel returns the delivery type implied by the populated variant, or ""
// when none or more than one is set.
func (m Metadata) Channel() string {
	var channel string
	n := 0
	if m.Email != nil {
		channel = ReminderEmail
		n++
	}
	if m.Push != nil {
		channel = ReminderPush
		n++
	}
	if m.SMS != nil {
		channel = ReminderSMS
		n++
	}
	if n != 1 {
		return ""
	}
	return channel
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	var out Metadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decoding metadata: %w", err)
	}
	*m = out
	return nil
}

// Notification is a persisted, user-facing notification record.
type Notification struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	EventID     *string    `db:"event_id" json:"event_id,omitempty"`
	ReminderID  *string    `db:"reminder_id" json:"reminder_id,omitempty"`
	Type        string     `db:"type" json:"type"`
	Title       string     `db:"title" json:"title"`
	Message     string     `db:"message" json:"message"`
	TriggerTime *time.Time `db:"trigger_time" json:"trigger_time,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Notification type constants
const (
	NotificationReminder = "reminder"
)
