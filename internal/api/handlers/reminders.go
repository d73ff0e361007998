package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/reminder"
)

// CreateReminder schedules a reminder for the caller on an event.
func CreateReminder(svc *reminder.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reminder.CreateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		ctx := r.Context()
		rem, err := svc.Create(ctx, mux.Vars(r)["id"], middleware.UserID(ctx), middleware.Email(ctx), req)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rem)
	}
}

// ListReminders returns the caller's reminders for an event.
func ListReminders(svc *reminder.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := newQueryParams(r)
		q := reminder.ListQuery{
			Type:   params.String("type"),
			Status: params.String("status"),
			From:   params.Time("from"),
			To:     params.Time("to"),
			Limit:  params.Int("limit"),
			Offset: params.Int("offset"),
		}
		if err := params.Err(); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		result, err := svc.List(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()), q)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// CancelReminder cancels one of the caller's pending reminders.
func CancelReminder(svc *reminder.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		rem, err := svc.Cancel(r.Context(), vars["id"], vars["reminderId"], middleware.UserID(r.Context()))
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	}
}
