package handlers

import (
	"net/http"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/reminder"
)

// SchedulerStatus reports the processor state and its last tick.
func SchedulerStatus(p *reminder.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Status())
	}
}

// ProcessNow runs one processor tick synchronously and returns its result.
func ProcessNow(p *reminder.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.ProcessNow(r.Context()))
	}
}

// StartScheduler starts the periodic timer. Starting a running processor
// is not an error.
func StartScheduler(p *reminder.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Start(); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	}
}

// StopScheduler stops the periodic timer, waiting for a running tick.
func StopScheduler(p *reminder.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Stop()
		writeJSON(w, http.StatusOK, p.Status())
	}
}

// GetSchedulerConfig returns the processor configuration.
func GetSchedulerConfig(p *reminder.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Config())
	}
}

// UpdateSchedulerConfig applies a partial configuration update. A new tick
// interval takes effect immediately when the processor is running.
func UpdateSchedulerConfig(p *reminder.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch reminder.ConfigPatch
		if !decodeBody(w, r, &patch) {
			return
		}

		cfg, err := p.UpdateConfig(patch)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}
