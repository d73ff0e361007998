package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/config"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/storage/storagetest"
	"github.com/event-reminders/backend/internal/websocket"
)

type recordingMailer struct {
	sent []Mail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, mail Mail) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

type push struct {
	userID  string
	msgType websocket.MessageType
	payload any
}

type recordingPusher struct {
	pushes []push
}

func (p *recordingPusher) SendToUser(userID string, msgType websocket.MessageType, payload any) {
	p.pushes = append(p.pushes, push{userID, msgType, payload})
}

type panickingPusher struct{}

func (panickingPusher) SendToUser(string, websocket.MessageType, any) { panic("socket gone") }

type fixture struct {
	repo   *storage.NotificationRepository
	mailer *recordingMailer
	pusher *recordingPusher
	svc    *Service
	event  *models.Event
}

func newFixture(t *testing.T) *fixture {
	db := storagetest.NewDB(t)
	repo := storage.NewNotificationRepository(db)
	mailer := &recordingMailer{}
	pusher := &recordingPusher{}
	return &fixture{
		repo:   repo,
		mailer: mailer,
		pusher: pusher,
		svc:    NewService(repo, mailer, pusher),
		event:  storagetest.CreateEvent(t, db, "creator", time.Date(2030, 3, 1, 18, 0, 0, 0, time.UTC)),
	}
}

func reminderOf(ev *models.Event, typ string, md models.Metadata) *models.Reminder {
	return &models.Reminder{
		ID:          "rem-1",
		EventID:     ev.ID,
		UserID:      "alice",
		Type:        typ,
		TriggerTime: ev.StartDate.Add(-time.Hour),
		Status:      models.ReminderPending,
		Metadata:    md,
	}
}

func TestPushReminderIsPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rem := reminderOf(f.event, models.ReminderPush, models.Metadata{Push: &models.PushMetadata{Title: "Heads up"}})

	require.NoError(t, f.svc.CreatePersistedNotification(ctx, "alice", f.event, rem))
	assert.Empty(t, f.mailer.sent)

	items, err := f.svc.List(ctx, "alice", false, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Heads up", items[0].Title)
	assert.Equal(t, "Weekly meetup starts on Fri Mar 1, 2030 at 18:00 UTC.", items[0].Message)
	assert.Equal(t, models.NotificationReminder, items[0].Type)
	require.NotNil(t, items[0].ReminderID)
	assert.Equal(t, "rem-1", *items[0].ReminderID)
}

func TestEmailReminderIsMailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rem := reminderOf(f.event, models.ReminderEmail, models.Metadata{Email: &models.EmailMetadata{
		Recipient: "alice@example.com",
		Subject:   "Tonight",
	}})

	require.NoError(t, f.svc.CreatePersistedNotification(ctx, "alice", f.event, rem))
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, Mail{
		To:      "alice@example.com",
		Subject: "Tonight",
		Body:    "Weekly meetup starts on Fri Mar 1, 2030 at 18:00 UTC.",
	}, f.mailer.sent[0])
}

func TestMailFailureFailsDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailer.err = errors.New("smtp: connection refused")
	rem := reminderOf(f.event, models.ReminderEmail, models.Metadata{Email: &models.EmailMetadata{Recipient: "alice@example.com"}})

	err := f.svc.CreatePersistedNotification(ctx, "alice", f.event, rem)
	assert.EqualError(t, err, "smtp: connection refused")

	items, err := f.svc.List(ctx, "alice", false, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	rem.Metadata.Email = nil
	assert.Error(t, f.svc.CreatePersistedNotification(ctx, "alice", f.event, rem))
}

func TestPushRealtime(t *testing.T) {
	f := newFixture(t)
	f.svc.PushRealtime("alice", map[string]string{"reminder_id": "rem-1"})
	require.Len(t, f.pusher.pushes, 1)
	assert.Equal(t, "alice", f.pusher.pushes[0].userID)
	assert.Equal(t, websocket.TypeReminderDue, f.pusher.pushes[0].msgType)

	quiet := NewService(f.repo, nil, panickingPusher{})
	assert.NotPanics(t, func() { quiet.PushRealtime("alice", nil) })

	none := NewService(f.repo, nil, nil)
	assert.NotPanics(t, func() { none.PushRealtime("alice", nil) })
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rem := reminderOf(f.event, models.ReminderSMS, models.Metadata{SMS: &models.SMSMetadata{Phone: "+15550100", Message: "Soon"}})
	require.NoError(t, f.svc.CreatePersistedNotification(ctx, "alice", f.event, rem))

	items, err := f.svc.List(ctx, "alice", true, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Soon", items[0].Message)

	err = f.svc.MarkRead(ctx, items[0].ID, "bob")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	require.NoError(t, f.svc.MarkRead(ctx, items[0].ID, "alice"))
	items, err = f.svc.List(ctx, "alice", true, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.svc.List(ctx, "alice", false, 500, 0)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

type recordingDialer struct {
	messages []*gomail.Message
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	d.messages = append(d.messages, m...)
	return nil
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	d := &recordingDialer{}
	m := NewSMTPMailer(d, "noreply@reminders.example", "Reminders")

	require.NoError(t, m.Send(context.Background(), Mail{To: "alice@example.com", Subject: "Hi", Body: "Body"}))
	require.Len(t, d.messages, 1)
	msg := d.messages[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Hi"}, msg.GetHeader("Subject"))
	assert.Equal(t, []string{`"Reminders" <noreply@reminders.example>`}, msg.GetHeader("From"))
	require.Len(t, msg.GetHeader("Message-ID"), 1)
	assert.Contains(t, msg.GetHeader("Message-ID")[0], "@reminders.example>")
}

func TestNewMailer(t *testing.T) {
	m, err := NewMailer(config.MailConfig{})
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	_, err = NewMailer(config.MailConfig{Driver: DriverSMTP})
	assert.Error(t, err)

	m, err = NewMailer(config.MailConfig{Driver: DriverSMTP, SMTPHost: "localhost", SMTPPort: 25})
	require.NoError(t, err)
	assert.IsType(t, &SMTPMailer{}, m)

	_, err = NewMailer(config.MailConfig{Driver: DriverSendgrid})
	assert.Error(t, err)

	m, err = NewMailer(config.MailConfig{Driver: DriverSendgrid, SendgridKey: "key", From: "noreply@reminders.example"})
	require.NoError(t, err)
	assert.IsType(t, &SendgridMailer{}, m)

	_, err = NewMailer(config.MailConfig{Driver: "pigeon"})
	assert.Error(t, err)
}

func TestRenderFallsBackToEventText(t *testing.T) {
	ev := &models.Event{Title: "Standup", StartDate: time.Date(2030, 6, 3, 7, 30, 0, 0, time.UTC), Timezone: "Europe/Berlin"}
	title, message := Render(ev, &models.Reminder{Type: models.ReminderPush})
	assert.Equal(t, "Reminder: Standup", title)
	assert.Equal(t, "Standup starts on Mon Jun 3, 2030 at 09:30 CEST.", message)
}
