// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/event-reminders/backend/internal/api/handlers"
	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/event"
	"github.com/event-reminders/backend/internal/ical"
	"github.com/event-reminders/backend/internal/notify"
	"github.com/event-reminders/backend/internal/reminder"
	"github.com/event-reminders/backend/internal/series"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/websocket"
)

// Services holds everything the handlers depend on. It is assembled once in
// main.
type Services struct {
	DB            *storage.DB
	Hub           *websocket.Hub
	Auth          *middleware.Auth
	Events        *event.Service
	Reminders     *reminder.Service
	Series        *series.Service
	Notifications *notify.Service
	Processor     *reminder.Processor
	Exporter      *ical.Exporter
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = http.HandlerFunc(notFound)

	// Health is public
	api.HandleFunc("/health", handlers.HealthCheck(s.DB, s.Hub, s.Processor)).Methods("GET")

	authed := api.NewRoute().Subrouter()
	authed.Use(s.Auth.Middleware)

	// WebSocket endpoint
	authed.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub)).Methods("GET")

	// Recurring series endpoints; registered before /events/{id}
	authed.HandleFunc("/events/recurring", handlers.CreateSeries(s.Series)).Methods("POST")
	authed.HandleFunc("/events/recurring/{seriesId}", handlers.GetSeries(s.Series)).Methods("GET")
	authed.HandleFunc("/events/recurring/{seriesId}", handlers.DeactivateSeries(s.Series)).Methods("DELETE")
	authed.HandleFunc("/events/recurring/{seriesId}/instances", handlers.ListInstances(s.Series)).Methods("GET")
	authed.HandleFunc("/events/recurring/{seriesId}/instances", handlers.AddException(s.Series)).Methods("POST")
	authed.HandleFunc("/events/recurring/{seriesId}/calendar.ics", handlers.ExportSeries(s.Exporter)).Methods("GET")

	// Event endpoints
	authed.HandleFunc("/events/{id}", handlers.GetEvent(s.Events)).Methods("GET")
	authed.HandleFunc("/events/{id}/registrations", handlers.RegisterForEvent(s.Events)).Methods("POST")
	authed.HandleFunc("/events/{id}/invitations", handlers.InviteToEvent(s.Events)).Methods("POST")

	// Reminder endpoints
	authed.HandleFunc("/events/{id}/reminders", handlers.CreateReminder(s.Reminders)).Methods("POST")
	authed.HandleFunc("/events/{id}/reminders", handlers.ListReminders(s.Reminders)).Methods("GET")
	authed.HandleFunc("/events/{id}/reminders/{reminderId}", handlers.CancelReminder(s.Reminders)).Methods("DELETE")

	// Notification endpoints
	authed.HandleFunc("/notifications", handlers.ListNotifications(s.Notifications)).Methods("GET")
	authed.HandleFunc("/notifications/{id}/read", handlers.MarkNotificationRead(s.Notifications)).Methods("POST")

	// Scheduler endpoints control the process-wide processor
	admin := authed.PathPrefix("/scheduler").Subrouter()
	admin.Use(middleware.RequireRole(middleware.RoleAdmin))
	admin.HandleFunc("/status", handlers.SchedulerStatus(s.Processor)).Methods("GET")
	admin.HandleFunc("/process", handlers.ProcessNow(s.Processor)).Methods("POST")
	admin.HandleFunc("/start", handlers.StartScheduler(s.Processor)).Methods("POST")
	admin.HandleFunc("/stop", handlers.StopScheduler(s.Processor)).Methods("POST")
	admin.HandleFunc("/config", handlers.GetSchedulerConfig(s.Processor)).Methods("GET")
	admin.HandleFunc("/config", handlers.UpdateSchedulerConfig(s.Processor)).Methods("PUT")

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Route not found")
}
