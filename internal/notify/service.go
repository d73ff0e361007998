// Package notify turns due reminders into user-facing notifications: a
// persisted record, an optional email and a realtime push.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/logger"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/validation"
	"github.com/event-reminders/backend/internal/websocket"
)

// Pusher delivers realtime messages to a user's connections.
type Pusher interface {
	SendToUser(userID string, msgType websocket.MessageType, payload any)
}

// Service implements the notification fan-out used by the reminder
// processor and the notification endpoints.
type Service struct {
	notifications *storage.NotificationRepository
	mailer        Mailer
	pusher        Pusher
	log           *logger.Logger
}

// NewService creates a new notification service. A nil mailer logs mails;
// a nil pusher disables realtime delivery.
func NewService(notifications *storage.NotificationRepository, mailer Mailer, pusher Pusher) *Service {
	if mailer == nil {
		mailer = NewLogMailer()
	}
	return &Service{
		notifications: notifications,
		mailer:        mailer,
		pusher:        pusher,
		log:           logger.Named("notify"),
	}
}

// CreatePersistedNotification delivers rem for ev. Email reminders are
// mailed first and a mail error fails the delivery. Every channel ends with
// a stored notification record.
func (s *Service) CreatePersistedNotification(ctx context.Context, userID string, ev *models.Event, rem *models.Reminder) error {
	title, message := Render(ev, rem)

	if rem.Type == models.ReminderEmail {
		var to string
		if rem.Metadata.Email != nil {
			to = rem.Metadata.Email.Recipient
		}
		if to == "" {
			return errors.New("email reminder has no recipient")
		}
		if err := s.mailer.Send(ctx, Mail{To: to, Subject: title, Body: message}); err != nil {
			return err
		}
	}

	trigger := rem.TriggerTime
	eventID, reminderID := ev.ID, rem.ID
	n := &models.Notification{
		UserID:      userID,
		EventID:     &eventID,
		ReminderID:  &reminderID,
		Type:        models.NotificationReminder,
		Title:       title,
		Message:     message,
		TriggerTime: &trigger,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return errors.Wrap(err, "storing notification")
	}
	return nil
}

// PushRealtime sends a reminder.due message to the user's connections. It
// never fails; problems are logged.
func (s *Service) PushRealtime(userID string, payload interface{}) {
	if s.pusher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Realtime push panicked", "user_id", userID, "panic", r)
		}
	}()
	s.pusher.SendToUser(userID, websocket.TypeReminderDue, payload)
}

// Render builds the notification title and message of a reminder. Channel
// metadata overrides the generated text.
func Render(ev *models.Event, rem *models.Reminder) (title, message string) {
	title = "Reminder: " + ev.Title
	message = fmt.Sprintf("%s starts %s.", ev.Title, startsAt(ev))

	switch {
	case rem.Metadata.Email != nil:
		if rem.Metadata.Email.Subject != "" {
			title = rem.Metadata.Email.Subject
		}
		if rem.Metadata.Email.Body != "" {
			message = rem.Metadata.Email.Body
		}
	case rem.Metadata.Push != nil:
		if rem.Metadata.Push.Title != "" {
			title = rem.Metadata.Push.Title
		}
		if rem.Metadata.Push.Body != "" {
			message = rem.Metadata.Push.Body
		}
	case rem.Metadata.SMS != nil:
		if rem.Metadata.SMS.Message != "" {
			message = rem.Metadata.SMS.Message
		}
	}
	return title, message
}

func startsAt(ev *models.Event) string {
	loc := time.UTC
	if ev.Timezone != "" {
		if l, err := time.LoadLocation(ev.Timezone); err == nil {
			loc = l
		}
	}
	return "on " + ev.StartDate.In(loc).Format("Mon Jan 2, 2006 at 15:04 MST")
}

// List returns a page of the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	limit, offset, err := validation.Page(limit, offset)
	if err != nil {
		return nil, err
	}
	items, err := s.notifications.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "listing notifications")
	}
	return items, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	ok, err := s.notifications.MarkRead(ctx, id, userID)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if !ok {
		return apperror.NotFound("Notification not found")
	}
	return nil
}
