// Package reminder implements reminder use cases and the background
// processor that dispatches due reminders.
package reminder

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/event"
	"github.com/event-reminders/backend/internal/logger"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/validation"
)

// MaxActivePerEvent is the number of non-canceled reminders a user may hold
// for one event.
const MaxActivePerEvent = 10

// Service provides reminder use cases.
type Service struct {
	reminders *storage.ReminderRepository
	access    *event.Service
	now       func() time.Time
	log       *logger.Logger
}

// NewService creates a new reminder service.
func NewService(reminders *storage.ReminderRepository, access *event.Service) *Service {
	return &Service{
		reminders: reminders,
		access:    access,
		now:       time.Now,
		log:       logger.Named("reminder"),
	}
}

// Create schedules a reminder for the user. email is the caller's address
// and becomes the recipient of email reminders that do not name one.
func (s *Service) Create(ctx context.Context, eventID, userID, email string, req CreateRequest) (*models.Reminder, error) {
	ev, err := s.access.LoadAccessible(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if !req.TriggerTime.Before(ev.StartDate) {
		return nil, apperror.Validation("Request validation failed", apperror.FieldError{
			Field: "trigger_time",
			Error: "must be before the event start",
		})
	}

	md := req.Metadata
	switch req.Type {
	case models.ReminderEmail:
		if md.Email == nil {
			md.Email = &models.EmailMetadata{}
		}
		if md.Email.Recipient == "" {
			md.Email.Recipient = email
		}
	case models.ReminderPush:
		if md.Push == nil {
			md.Push = &models.PushMetadata{}
		}
	}

	rem := &models.Reminder{
		EventID:     ev.ID,
		UserID:      userID,
		Type:        req.Type,
		TriggerTime: *req.TriggerTime,
		Metadata:    md,
	}
	if err := s.reminders.CreateWithLimit(ctx, rem, MaxActivePerEvent); err != nil {
		if errors.Is(err, storage.ErrReminderLimit) {
			return nil, apperror.Validation("Reminder limit reached", apperror.FieldError{
				Field: "reminders",
				Error: "at most 10 active reminders per event",
			})
		}
		return nil, errors.Wrap(err, "creating reminder")
	}

	s.log.Infow("Reminder created", "reminder_id", rem.ID, "event_id", ev.ID, "user_id", userID, "type", rem.Type)
	return rem, nil
}

// ListResult is one page of the caller's reminders for an event.
type ListResult struct {
	Reminders []models.Reminder `json:"reminders"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
	ByStatus  map[string]int    `json:"counts_by_status"`
	ByType    map[string]int    `json:"counts_by_type"`
}

// List returns the user's reminders for an event. Counts cover every
// reminder matching the filters, not just the page.
func (s *Service) List(ctx context.Context, eventID, userID string, q ListQuery) (*ListResult, error) {
	if err := validation.Struct(q); err != nil {
		return nil, err
	}
	limit, offset, err := validation.Page(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.LoadAccessible(ctx, eventID, userID); err != nil {
		return nil, err
	}

	filter := storage.ReminderFilter{
		EventID: eventID,
		UserID:  userID,
		Type:    q.Type,
		Status:  q.Status,
		From:    q.From,
		To:      q.To,
		Limit:   limit,
		Offset:  offset,
	}
	reminders, total, err := s.reminders.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "listing reminders")
	}
	byStatus, err := s.reminders.CountBy(ctx, filter, "status")
	if err != nil {
		return nil, errors.Wrap(err, "counting reminders by status")
	}
	byType, err := s.reminders.CountBy(ctx, filter, "type")
	if err != nil {
		return nil, errors.Wrap(err, "counting reminders by type")
	}

	return &ListResult{
		Reminders: reminders,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
		ByStatus:  byStatus,
		ByType:    byType,
	}, nil
}

// Cancel cancels a pending reminder owned by the user.
func (s *Service) Cancel(ctx context.Context, eventID, reminderID, userID string) (*models.Reminder, error) {
	rem, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		return nil, errors.Wrap(err, "loading reminder")
	}
	if rem == nil || rem.EventID != eventID || rem.UserID != userID {
		return nil, apperror.NotFound("Reminder not found")
	}
	if rem.Status != models.ReminderPending {
		return nil, apperror.Conflict("Only pending reminders can be canceled")
	}

	at := s.now()
	ok, err := s.reminders.Cancel(ctx, rem.ID, at)
	if err != nil {
		return nil, errors.Wrap(err, "canceling reminder")
	}
	if !ok {
		return nil, apperror.Conflict("Only pending reminders can be canceled")
	}

	at = at.UTC()
	rem.Status = models.ReminderCanceled
	rem.CanceledAt = &at
	s.log.Infow("Reminder canceled", "reminder_id", rem.ID, "user_id", userID)
	return rem, nil
}

// PendingFor returns the user's pending reminders for an event, used by the
// calendar export.
func (s *Service) PendingFor(ctx context.Context, eventID, userID string) ([]models.Reminder, error) {
	reminders, _, err := s.reminders.List(ctx, storage.ReminderFilter{
		EventID: eventID,
		UserID:  userID,
		Status:  models.ReminderPending,
		Limit:   MaxActivePerEvent,
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing pending reminders")
	}
	return reminders, nil
}
