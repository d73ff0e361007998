package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/notify"
	"github.com/event-reminders/backend/internal/storage/models"
)

// ListNotifications returns the caller's notifications, newest first.
func ListNotifications(svc *notify.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := newQueryParams(r)
		unread := params.Bool("unread")
		limit, offset := params.Int("limit"), params.Int("offset")
		if err := params.Err(); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		items, err := svc.List(r.Context(), middleware.UserID(r.Context()), unread, limit, offset)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		if items == nil {
			items = []models.Notification{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// MarkNotificationRead marks one of the caller's notifications as read.
func MarkNotificationRead(svc *notify.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.MarkRead(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context())); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
