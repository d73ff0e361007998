package series

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/recurrence"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/validation"
)

// InstanceCounts aggregates an occurrence window.
type InstanceCounts struct {
	Total      int `json:"total"`
	Upcoming   int `json:"upcoming"`
	Past       int `json:"past"`
	Exceptions int `json:"exceptions"`
	Cancelled  int `json:"cancelled"`
	Modified   int `json:"modified"`
}

// InstancesResult is one page of occurrences.
type InstancesResult struct {
	SeriesID  string                  `json:"series_id"`
	Window    recurrence.Window       `json:"window"`
	Instances []recurrence.Occurrence `json:"instances"`
	Modified  []models.Event          `json:"modified_instances"`
	Counts    InstanceCounts          `json:"counts"`
	Truncated bool                    `json:"truncated"`
	Limit     int                     `json:"limit"`
	Offset    int                     `json:"offset"`
}

// Instances lists the occurrences of a series inside a window, by default
// the next DefaultWindowDays days. At most InstanceCap occurrences are
// computed; Truncated reports when the window held more.
func (s *Service) Instances(ctx context.Context, seriesID, userID string, q InstancesQuery) (*InstancesResult, error) {
	now := s.now()
	window, err := s.window(q, now)
	if err != nil {
		return nil, err
	}
	limit, offset, err := validation.Page(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}

	series, parent, err := s.loadAccessible(ctx, seriesID, userID)
	if err != nil {
		return nil, err
	}

	result := &InstancesResult{
		SeriesID:  series.ID,
		Window:    window,
		Instances: []recurrence.Occurrence{},
		Modified:  []models.Event{},
		Limit:     limit,
		Offset:    offset,
	}
	if !series.Active {
		return result, nil
	}

	occurrences, truncated, err := s.occurrences(ctx, series, parent, window, now)
	if err != nil {
		return nil, err
	}
	result.Truncated = truncated

	result.Counts.Total = len(occurrences)
	for _, occ := range occurrences {
		if occ.Status == models.EventStatusCompleted {
			result.Counts.Past++
		} else {
			result.Counts.Upcoming++
		}
	}

	loc, err := recurrence.Location(series, parent)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	first, last := recurrence.DayKey(window.Start, loc), recurrence.DayKey(window.End, loc)
	for _, exc := range series.Exceptions {
		if exc.Date < first || exc.Date > last {
			continue
		}
		result.Counts.Exceptions++
		if exc.Mode == models.ExceptionReplace {
			result.Counts.Modified++
		} else {
			result.Counts.Cancelled++
		}
	}

	replacements, err := s.events.ListReplacements(ctx, series.ID)
	if err != nil {
		return nil, errors.Wrap(err, "loading modified instances")
	}
	for _, ev := range replacements {
		if ev.OriginalDate != nil && *ev.OriginalDate >= first && *ev.OriginalDate <= last {
			result.Modified = append(result.Modified, ev)
		}
	}

	if offset < len(occurrences) {
		end := offset + limit
		if end > len(occurrences) {
			end = len(occurrences)
		}
		result.Instances = occurrences[offset:end]
	}

	return result, nil
}

// occurrences serves a window from the cache when possible and expands the
// series otherwise, caching the result.
func (s *Service) occurrences(ctx context.Context, series *models.RecurringSeries, parent *models.Event, window recurrence.Window, now time.Time) ([]recurrence.Occurrence, bool, error) {
	entry, err := s.cache.Get(ctx, series.ID)
	if err != nil {
		s.log.Warnw("Failed to read occurrence cache", "series_id", series.ID, "error", err)
	}
	if entry != nil && entry.Fresh(series) {
		if occs, ok := entry.Slice(window, now); ok && len(occs) <= s.cfg.InstanceCap {
			return occs, false, nil
		}
	}

	entry, err = Materialize(series, parent, window, s.cfg.InstanceCap, now)
	if err != nil {
		return nil, false, apperror.Validation(err.Error())
	}
	if err := s.cache.Put(ctx, entry, s.cfg.CacheTTL); err != nil {
		s.log.Warnw("Failed to cache occurrences", "series_id", series.ID, "error", err)
	}
	return entry.Occurrences, entry.Truncated, nil
}

// Materialize expands up to limit occurrences of a series inside window. The
// entry is marked truncated when the window holds more.
func Materialize(series *models.RecurringSeries, parent *models.Event, window recurrence.Window, limit int, now time.Time) (*recurrence.CacheEntry, error) {
	exp, err := recurrence.Expand(series, parent, window, limit+1, now)
	if err != nil {
		return nil, err
	}
	occs := exp.Collect()

	entry := &recurrence.CacheEntry{
		SeriesID:    series.ID,
		Window:      window,
		Occurrences: occs,
		ComputedAt:  now,
		Exceptions:  recurrence.ExceptionsKey(series),
	}
	if len(occs) > limit {
		entry.Occurrences = occs[:limit]
		entry.Truncated = true
	}
	if entry.Occurrences == nil {
		entry.Occurrences = []recurrence.Occurrence{}
	}
	return entry, nil
}

// MaterializeAll expands every active series inside window and stores the
// result in the occurrence cache. A failing series is logged and skipped;
// the first such error is returned after all series were processed.
func (s *Service) MaterializeAll(ctx context.Context, window recurrence.Window, limit int) (int, error) {
	active, err := s.series.ListActive(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing active series")
	}

	now := s.now()
	var firstErr error
	materialized := 0
	for i := range active {
		series := &active[i]
		if err := s.materializeOne(ctx, series, window, limit, now); err != nil {
			s.log.Errorw("Failed to materialize series", "series_id", series.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		materialized++
	}
	return materialized, firstErr
}

func (s *Service) materializeOne(ctx context.Context, series *models.RecurringSeries, window recurrence.Window, limit int, now time.Time) error {
	parent, err := s.events.GetByID(ctx, series.ParentEventID)
	if err != nil {
		return errors.Wrap(err, "loading parent event")
	}
	if parent == nil {
		return errors.Errorf("parent event %s of series %s is missing", series.ParentEventID, series.ID)
	}
	entry, err := Materialize(series, parent, window, limit, now)
	if err != nil {
		return err
	}
	return s.cache.Put(ctx, entry, s.cfg.CacheTTL)
}

func (s *Service) window(q InstancesQuery, now time.Time) (recurrence.Window, error) {
	w := recurrence.Window{Start: now, End: now.AddDate(0, 0, s.cfg.DefaultWindowDays)}
	if q.From != nil {
		w.Start = *q.From
		if q.To == nil {
			w.End = w.Start.AddDate(0, 0, s.cfg.DefaultWindowDays)
		}
	}
	if q.To != nil {
		w.End = *q.To
	}
	if w.Start.After(w.End) {
		return w, apperror.Validation("Request validation failed", apperror.FieldError{Field: "to", Error: "must not be before from"})
	}
	return w, nil
}

// AddException cancels or modifies the occurrence on the requested day.
// Cancelling an already excepted day is a no-op. Modifying a day that
// already has an exception is a conflict.
func (s *Service) AddException(ctx context.Context, seriesID, userID string, req ExceptionRequest) (*ExceptionResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	series, parent, err := s.loadOwned(ctx, seriesID, userID)
	if err != nil {
		return nil, err
	}
	loc, err := recurrence.Location(series, parent)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	day, err := recurrence.ParseDay(req.Date, loc)
	if err != nil {
		return nil, apperror.Validation("Request validation failed", apperror.FieldError{Field: "date", Error: err.Error()})
	}

	occ, ok, err := occurrenceOn(series, parent, day, loc, s.now())
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if !ok {
		return nil, apperror.Validation("Request validation failed", apperror.FieldError{
			Field: "date",
			Error: "is not an occurrence of this series",
		})
	}

	mode := models.ExceptionCancel
	if req.Action == "modify" {
		mode = models.ExceptionReplace
	}
	updated, added, err := recurrence.AddException(series, day, mode)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	dayKey := recurrence.DayKey(day, loc)
	result := &ExceptionResult{Series: updated, Date: dayKey, Action: req.Action, Added: added}

	switch mode {
	case models.ExceptionCancel:
		if !added {
			return result, nil
		}
		exc := &models.SeriesException{SeriesID: series.ID, Date: dayKey, Mode: mode}
		if _, err := s.series.AddException(ctx, exc); err != nil {
			return nil, errors.Wrap(err, "storing exception")
		}

	case models.ExceptionReplace:
		if !added {
			return nil, apperror.Conflict("This occurrence already has an exception")
		}
		replacement, err := replacementEvent(parent, occ, series.ID, dayKey, req)
		if err != nil {
			return nil, err
		}
		exc := &models.SeriesException{SeriesID: series.ID, Date: dayKey, Mode: mode}
		if err := s.series.AddReplacement(ctx, exc, replacement); err != nil {
			if errors.Is(err, storage.ErrExceptionExists) {
				return nil, apperror.Conflict("This occurrence already has an exception")
			}
			return nil, errors.Wrap(err, "storing replacement")
		}
		for i := range updated.Exceptions {
			if updated.Exceptions[i].Date == dayKey {
				updated.Exceptions[i].ReplacementEventID = &replacement.ID
				updated.Exceptions[i].CreatedAt = exc.CreatedAt
			}
		}
		result.Replacement = replacement
	}

	s.invalidate(ctx, series.ID)
	s.log.Infow("Series exception added", "series_id", series.ID, "date", dayKey, "mode", mode)
	return result, nil
}

// ExceptionResult describes the outcome of AddException.
type ExceptionResult struct {
	Series      *models.RecurringSeries `json:"series"`
	Date        string                  `json:"date"`
	Action      string                  `json:"action"`
	Added       bool                    `json:"added"`
	Replacement *models.Event           `json:"replacement,omitempty"`
}

// occurrenceOn finds the rule occurrence on day, ignoring existing
// exceptions.
func occurrenceOn(series *models.RecurringSeries, parent *models.Event, day time.Time, loc *time.Location, now time.Time) (recurrence.Occurrence, bool, error) {
	plain := *series
	plain.Exceptions = nil

	window := recurrence.Window{Start: day, End: time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 999999999, loc)}
	exp, err := recurrence.Expand(&plain, parent, window, 1, now)
	if err != nil {
		return recurrence.Occurrence{}, false, err
	}
	occ, ok := exp.Next()
	return occ, ok, nil
}

func replacementEvent(parent *models.Event, occ recurrence.Occurrence, seriesID, day string, req ExceptionRequest) (*models.Event, error) {
	ev := *parent
	ev.ID = ""
	ev.StartDate = occ.StartDate
	ev.EndDate = occ.EndDate
	ev.Status = models.EventStatusPublished
	ev.SeriesID = &seriesID
	ev.OriginalDate = &day

	if req.Title != nil {
		ev.Title = *req.Title
	}
	if req.Description != nil {
		ev.Description = *req.Description
	}
	if req.Location != nil {
		ev.Location = req.Location
	}
	if req.VirtualLink != nil {
		ev.VirtualLink = req.VirtualLink
	}
	if req.StartDate != nil {
		duration := ev.EndDate.Sub(ev.StartDate)
		ev.StartDate = *req.StartDate
		ev.EndDate = ev.StartDate.Add(duration)
	}
	if req.EndDate != nil {
		ev.EndDate = *req.EndDate
	}
	if !ev.EndDate.After(ev.StartDate) {
		return nil, apperror.Validation("Request validation failed", apperror.FieldError{
			Field: "end_date",
			Error: "must be after the start date",
		})
	}
	return &ev, nil
}
