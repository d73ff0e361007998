// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/apperror"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
		return false
	}
	return true
}

// queryParams reads typed query parameters and collects field errors.
type queryParams struct {
	r      *http.Request
	fields []apperror.FieldError
}

func newQueryParams(r *http.Request) *queryParams {
	return &queryParams{r: r}
}

func (q *queryParams) String(name string) string {
	return q.r.URL.Query().Get(name)
}

func (q *queryParams) Int(name string) int {
	raw := q.String(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		q.fields = append(q.fields, apperror.FieldError{Field: name, Error: "must be an integer"})
		return 0
	}
	return n
}

func (q *queryParams) Bool(name string) bool {
	raw := q.String(name)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		q.fields = append(q.fields, apperror.FieldError{Field: name, Error: "must be true or false"})
	}
	return b
}

// Time accepts RFC 3339 timestamps and YYYY-MM-DD days (midnight UTC).
func (q *queryParams) Time(name string) *time.Time {
	raw := q.String(name)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	q.fields = append(q.fields, apperror.FieldError{Field: name, Error: "must be an RFC 3339 timestamp or a YYYY-MM-DD date"})
	return nil
}

// Err returns a validation error when any parameter failed to parse.
func (q *queryParams) Err() error {
	if len(q.fields) == 0 {
		return nil
	}
	return apperror.Validation("Invalid query parameters", q.fields...)
}
