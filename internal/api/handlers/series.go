package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/ical"
	"github.com/event-reminders/backend/internal/series"
)

// CreateSeries creates a recurring series and its template event.
func CreateSeries(svc *series.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req series.CreateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		detail, err := svc.Create(r.Context(), middleware.UserID(r.Context()), req)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)
	}
}

// GetSeries returns a series with its template event and exceptions.
func GetSeries(svc *series.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := svc.Get(r.Context(), mux.Vars(r)["seriesId"], middleware.UserID(r.Context()))
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

// DeactivateSeries stops a series from producing occurrences.
func DeactivateSeries(svc *series.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Deactivate(r.Context(), mux.Vars(r)["seriesId"], middleware.UserID(r.Context())); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListInstances returns a page of the occurrences of a series.
func ListInstances(svc *series.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := newQueryParams(r)
		q := series.InstancesQuery{
			From:   params.Time("from"),
			To:     params.Time("to"),
			Limit:  params.Int("limit"),
			Offset: params.Int("offset"),
		}
		if err := params.Err(); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		result, err := svc.Instances(r.Context(), mux.Vars(r)["seriesId"], middleware.UserID(r.Context()), q)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// AddException cancels or modifies one occurrence of a series.
func AddException(svc *series.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req series.ExceptionRequest
		if !decodeBody(w, r, &req) {
			return
		}

		result, err := svc.AddException(r.Context(), mux.Vars(r)["seriesId"], middleware.UserID(r.Context()), req)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		status := http.StatusOK
		if result.Added {
			status = http.StatusCreated
		}
		writeJSON(w, status, result)
	}
}

// ExportSeries serves a series as an iCalendar file.
func ExportSeries(exporter *ical.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := newQueryParams(r)
		from, to := params.Time("from"), params.Time("to")
		if err := params.Err(); err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		seriesID := mux.Vars(r)["seriesId"]
		data, err := exporter.Export(r.Context(), seriesID, middleware.UserID(r.Context()), from, to)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "series-"+seriesID+".ics"))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
