package reminder

import (
	"encoding/json"
	"time"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/validation"
)

// Config tunes the processor. It can be changed while the processor runs.
type Config struct {
	BatchSize        int
	TickInterval     time.Duration
	MaxRetries       int
	LookAheadDays    int
	BatchWindow      time.Duration
	Retention        time.Duration
	MaterializeLimit int
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		TickInterval:     time.Minute,
		MaxRetries:       3,
		LookAheadDays:    7,
		BatchWindow:      5 * time.Minute,
		Retention:        7 * 24 * time.Hour,
		MaterializeLimit: 500,
	}
}

// withDefaults replaces unset values with the defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.LookAheadDays <= 0 {
		c.LookAheadDays = d.LookAheadDays
	}
	if c.BatchWindow < 0 {
		c.BatchWindow = d.BatchWindow
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.MaterializeLimit <= 0 {
		c.MaterializeLimit = d.MaterializeLimit
	}
	return c
}

// MarshalJSON renders durations in milliseconds.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BatchSize        int   `json:"batch_size"`
		TickIntervalMs   int64 `json:"tick_interval_ms"`
		MaxRetries       int   `json:"max_retries"`
		LookAheadDays    int   `json:"look_ahead_days"`
		BatchWindowMs    int64 `json:"batch_window_ms"`
		RetentionHours   int64 `json:"retention_hours"`
		MaterializeLimit int   `json:"materialize_limit"`
	}{
		BatchSize:        c.BatchSize,
		TickIntervalMs:   c.TickInterval.Milliseconds(),
		MaxRetries:       c.MaxRetries,
		LookAheadDays:    c.LookAheadDays,
		BatchWindowMs:    c.BatchWindow.Milliseconds(),
		RetentionHours:   int64(c.Retention / time.Hour),
		MaterializeLimit: c.MaterializeLimit,
	})
}

// ConfigPatch is a partial configuration update. Nil fields are left
// unchanged.
type ConfigPatch struct {
	BatchSize        *int   `json:"batch_size" validate:"omitempty,min=1,max=1000"`
	TickIntervalMs   *int64 `json:"tick_interval_ms" validate:"omitempty,min=1000,max=86400000"`
	MaxRetries       *int   `json:"max_retries" validate:"omitempty,min=1,max=20"`
	LookAheadDays    *int   `json:"look_ahead_days" validate:"omitempty,min=1,max=365"`
	BatchWindowMs    *int64 `json:"batch_window_ms" validate:"omitempty,min=0,max=86400000"`
	RetentionHours   *int64 `json:"retention_hours" validate:"omitempty,min=1,max=8760"`
	MaterializeLimit *int   `json:"materialize_limit" validate:"omitempty,min=1,max=10000"`
}

// apply validates the patch and returns c with it applied.
func (p ConfigPatch) apply(c Config) (Config, error) {
	if err := validation.Struct(p); err != nil {
		return c, err
	}
	if p == (ConfigPatch{}) {
		return c, apperror.Validation("At least one setting is required")
	}
	if p.BatchSize != nil {
		c.BatchSize = *p.BatchSize
	}
	if p.TickIntervalMs != nil {
		c.TickInterval = time.Duration(*p.TickIntervalMs) * time.Millisecond
	}
	if p.MaxRetries != nil {
		c.MaxRetries = *p.MaxRetries
	}
	if p.LookAheadDays != nil {
		c.LookAheadDays = *p.LookAheadDays
	}
	if p.BatchWindowMs != nil {
		c.BatchWindow = time.Duration(*p.BatchWindowMs) * time.Millisecond
	}
	if p.RetentionHours != nil {
		c.Retention = time.Duration(*p.RetentionHours) * time.Hour
	}
	if p.MaterializeLimit != nil {
		c.MaterializeLimit = *p.MaterializeLimit
	}
	return c, nil
}
