package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/event"
)

// GetEvent returns an event the caller may see.
func GetEvent(svc *event.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := svc.Get(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()))
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

// RegisterForEvent signs the caller up for a public event. A repeated
// registration answers 200 instead of 201.
func RegisterForEvent(svc *event.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := mux.Vars(r)["id"]
		userID := middleware.UserID(r.Context())

		added, err := svc.Register(r.Context(), eventID, userID)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		status := http.StatusOK
		if added {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"event_id":   eventID,
			"user_id":    userID,
			"registered": true,
		})
	}
}

// InviteToEvent lets the event creator register another user, which grants
// access to private events.
func InviteToEvent(svc *event.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req event.InviteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		eventID := mux.Vars(r)["id"]

		added, err := svc.Invite(r.Context(), eventID, middleware.UserID(r.Context()), req)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		status := http.StatusOK
		if added {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"event_id":   eventID,
			"user_id":    req.UserID,
			"registered": true,
		})
	}
}
