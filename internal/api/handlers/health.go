package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/event-reminders/backend/internal/reminder"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
	Scheduler   bool   `json:"scheduler_running"`
	Clients     int    `json:"websocket_clients"`
}

// HealthCheck returns a handler that performs a health check. It is served
// without authentication.
func HealthCheck(db *storage.DB, hub *websocket.Hub, processor *reminder.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbConnected := db.PingContext(ctx) == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
			Scheduler:   processor.Status().Running,
			Clients:     hub.ClientCount(),
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	}
}
