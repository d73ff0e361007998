// Package event implements event lookup, registration and the access policy
// shared by reminders and recurring series.
package event

import (
	"context"

	"github.com/pkg/errors"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/validation"
)

// Service provides event use cases.
type Service struct {
	events *storage.EventRepository
}

// NewService creates a new event service.
func NewService(events *storage.EventRepository) *Service {
	return &Service{events: events}
}

// CanAccess reports whether the user may see the event and attach reminders
// to it: the creator, a registered user, or anyone for a public event. Users
// get registered on private events only through Invite.
func (s *Service) CanAccess(ctx context.Context, ev *models.Event, userID string) (bool, error) {
	if ev.CreatorID == userID || ev.IsPublic() {
		return true, nil
	}
	registered, err := s.events.IsRegistered(ctx, ev.ID, userID)
	if err != nil {
		return false, errors.Wrap(err, "checking registration")
	}
	return registered, nil
}

// Load returns the event or a not found error.
func (s *Service) Load(ctx context.Context, eventID string) (*models.Event, error) {
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "loading event")
	}
	if ev == nil {
		return nil, apperror.NotFound("Event not found")
	}
	return ev, nil
}

// LoadAccessible returns the event when the user may access it. A missing
// event is a not found error; an existing event without a relationship to
// the user is a forbidden error.
func (s *Service) LoadAccessible(ctx context.Context, eventID, userID string) (*models.Event, error) {
	ev, err := s.Load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanAccess(ctx, ev, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Forbidden("You do not have access to this event")
	}
	return ev, nil
}

// Get returns an event visible to the user. Events the user may not see are
// reported as missing.
func (s *Service) Get(ctx context.Context, eventID, userID string) (*models.Event, error) {
	ev, err := s.LoadAccessible(ctx, eventID, userID)
	if apperror.Is(err, apperror.KindForbidden) {
		return nil, apperror.NotFound("Event not found")
	}
	return ev, err
}

// Register signs the user up for a published public event. Registering
// twice is not an error; the result reports whether a new registration was
// created.
func (s *Service) Register(ctx context.Context, eventID, userID string) (bool, error) {
	ev, err := s.Load(ctx, eventID)
	if err != nil {
		return false, err
	}
	if ev.CreatorID == userID {
		return false, apperror.Validation("Creators cannot register for their own event")
	}
	if !ev.IsPublic() {
		return false, apperror.Forbidden("This event is not open for registration")
	}
	if ev.Status != models.EventStatusPublished {
		return false, apperror.Conflict("Only published events accept registrations")
	}

	added, err := s.events.Register(ctx, eventID, userID)
	if err != nil {
		return false, errors.Wrap(err, "registering user")
	}
	return added, nil
}

// InviteRequest names the user invited to an event.
type InviteRequest struct {
	UserID string `json:"user_id" validate:"required,notblank,max=200"`
}

// Invite registers another user for an event of the caller. It is the only
// way onto a private event. Inviting twice is not an error; the result
// reports whether a new registration was created.
func (s *Service) Invite(ctx context.Context, eventID, userID string, req InviteRequest) (bool, error) {
	if err := validation.Struct(req); err != nil {
		return false, err
	}
	ev, err := s.Get(ctx, eventID, userID)
	if err != nil {
		return false, err
	}
	if ev.CreatorID != userID {
		return false, apperror.Forbidden("Only the event creator can invite users")
	}
	if req.UserID == userID {
		return false, apperror.Validation("Request validation failed", apperror.FieldError{
			Field: "user_id",
			Error: "must not be the event creator",
		})
	}
	if ev.Status != models.EventStatusPublished {
		return false, apperror.Conflict("Only published events accept registrations")
	}

	added, err := s.events.Register(ctx, eventID, req.UserID)
	if err != nil {
		return false, errors.Wrap(err, "registering invited user")
	}
	return added, nil
}
