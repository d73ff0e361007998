package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/event"
	"github.com/event-reminders/backend/internal/ical"
	"github.com/event-reminders/backend/internal/notify"
	"github.com/event-reminders/backend/internal/recurrence"
	"github.com/event-reminders/backend/internal/reminder"
	"github.com/event-reminders/backend/internal/series"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/storage/storagetest"
	"github.com/event-reminders/backend/internal/websocket"
)

const secret = "test-secret"

type testServer struct {
	t       *testing.T
	handler http.Handler
	db      *storage.DB
	hub     *websocket.Hub
	auth    *middleware.Auth
	event   *models.Event
}

func newTestServer(t *testing.T) *testServer {
	db := storagetest.NewDB(t)
	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Close)

	eventRepo := storage.NewEventRepository(db)
	reminderRepo := storage.NewReminderRepository(db)
	events := event.NewService(eventRepo)
	seriesSvc := series.NewService(storage.NewSeriesRepository(db), eventRepo, events, recurrence.NewMemoryCache(), series.Config{})
	reminders := reminder.NewService(reminderRepo, events)
	notifications := notify.NewService(storage.NewNotificationRepository(db), notify.NewLogMailer(), websocket.NewPublisher(hub))
	processor := reminder.NewProcessor(reminderRepo, eventRepo, notifications, seriesSvc, reminder.DefaultConfig())
	t.Cleanup(processor.Stop)

	auth := middleware.NewAuth(secret, "")
	router := NewRouter(Services{
		DB:            db,
		Hub:           hub,
		Auth:          auth,
		Events:        events,
		Reminders:     reminders,
		Series:        seriesSvc,
		Notifications: notifications,
		Processor:     processor,
		Exporter:      ical.NewExporter(seriesSvc, reminders, 0, 0),
	})

	return &testServer{
		t:       t,
		handler: router,
		db:      db,
		hub:     hub,
		auth:    auth,
		event:   storagetest.CreateEvent(t, db, "carol", time.Now().Add(48*time.Hour)),
	}
}

// token signs a token for userID. The user "admin" carries the admin role.
func (s *testServer) token(userID string) string {
	claims := &middleware.Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
		Email: userID + "@example.com",
	}
	if userID == "admin" {
		claims.Role = middleware.RoleAdmin
	}
	tok, err := s.auth.Sign(claims)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["db_connected"])
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	path := "/api/events/" + s.event.ID

	rec := s.do("GET", path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, middleware.ErrUnauthorized, decode[middleware.ErrorResponse](t, rec).Error)

	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := middleware.NewAuth("other-secret", "")
	forged, err := other.Sign(&middleware.Claims{StandardClaims: jwt.StandardClaims{Subject: "mallory"}})
	require.NoError(t, err)
	req = httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", path+"?token="+s.token("alice"), nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsAndRegistration(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/events/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[middleware.ErrorResponse](t, rec).Error)

	rec = s.do("POST", "/api/events/"+s.event.ID+"/registrations", "alice", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do("POST", "/api/events/"+s.event.ID+"/registrations", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("POST", "/api/events/"+s.event.ID+"/registrations", "carol", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvitationGrantsAccessToPrivateEvent(t *testing.T) {
	s := newTestServer(t)
	private := storagetest.Event("carol", time.Now().Add(48*time.Hour))
	private.Visibility = models.VisibilityPrivate
	require.NoError(t, storage.NewEventRepository(s.db).Create(context.Background(), private))
	path := "/api/events/" + private.ID

	rec := s.do("GET", path, "dave", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do("POST", path+"/registrations", "dave", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("POST", path+"/invitations", "dave", map[string]any{"user_id": "erin"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do("POST", path+"/invitations", "carol", map[string]any{"user_id": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", path+"/invitations", "carol", map[string]any{"user_id": "dave"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do("POST", path+"/invitations", "carol", map[string]any{"user_id": "dave"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("GET", path, "dave", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do("POST", path+"/reminders", "dave", map[string]any{
		"type":         "push",
		"trigger_time": private.StartDate.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestReminderEndpoints(t *testing.T) {
	s := newTestServer(t)
	base := "/api/events/" + s.event.ID + "/reminders"
	trigger := s.event.StartDate.Add(-time.Hour)

	rec := s.do("POST", base, "alice", map[string]any{
		"type":         "email",
		"trigger_time": trigger,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Reminder](t, rec)
	require.NotNil(t, created.Metadata.Email)
	assert.Equal(t, "alice@example.com", created.Metadata.Email.Recipient)
	assert.Equal(t, models.ReminderPending, created.Status)

	rec = s.do("POST", base, "alice", map[string]any{
		"type":         "sms",
		"trigger_time": s.event.StartDate.Add(time.Hour),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decode[middleware.ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", errBody.Error)
	assert.NotEmpty(t, errBody.Details)

	rec = s.do("POST", base, "alice", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, middleware.ErrBadRequest, decode[middleware.ErrorResponse](t, rec).Error)

	rec = s.do("GET", base+"?status=PENDING", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[reminder.ListResult](t, rec)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.ByType["email"])

	rec = s.do("GET", base+"?limit=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do("GET", base+"?limit=500", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("DELETE", base+"/"+created.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do("DELETE", base+"/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ReminderCanceled, decode[models.Reminder](t, rec).Status)
	rec = s.do("DELETE", base+"/"+created.ID, "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSeriesEndpoints(t *testing.T) {
	s := newTestServer(t)
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)

	rec := s.do("POST", "/api/events/recurring", "alice", map[string]any{
		"title":      "Morning run",
		"start_date": start,
		"end_date":   start.Add(time.Hour),
		"mode":       "online",
		"recurrence": map[string]any{"frequency": "DAILY", "max_occurrences": 5},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "virtual_link")

	rec = s.do("POST", "/api/events/recurring", "alice", map[string]any{
		"title":        "Morning run",
		"start_date":   start,
		"end_date":     start.Add(time.Hour),
		"mode":         "online",
		"virtual_link": "https://meet.example.com/run",
		"recurrence":   map[string]any{"frequency": "DAILY", "max_occurrences": 5},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	detail := decode[series.Detail](t, rec)
	seriesPath := "/api/events/recurring/" + detail.Series.ID

	rec = s.do("GET", seriesPath, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	day := start.AddDate(0, 0, 1).Format("2006-01-02")
	rec = s.do("POST", seriesPath+"/instances", "bob", map[string]any{"action": "cancel", "date": day})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do("POST", seriesPath+"/instances", "alice", map[string]any{"action": "cancel", "date": day})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do("POST", seriesPath+"/instances", "alice", map[string]any{"action": "cancel", "date": day})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do("POST", seriesPath+"/instances", "alice", map[string]any{"action": "modify", "date": day, "title": "Rest day"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("GET", seriesPath+"/instances?limit=2", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	instances := decode[series.InstancesResult](t, rec)
	assert.Equal(t, 4, instances.Counts.Total)
	assert.Equal(t, 1, instances.Counts.Cancelled)
	assert.Len(t, instances.Instances, 2)

	rec = s.do("GET", seriesPath+"/instances?from=yesterday", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("GET", seriesPath+"/calendar.ics", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "RRULE:FREQ=DAILY")
	assert.Contains(t, rec.Body.String(), "EXDATE")

	rec = s.do("DELETE", seriesPath, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do("DELETE", seriesPath, "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do("GET", seriesPath+"/instances", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[series.InstancesResult](t, rec).Instances)
}

func TestSchedulerEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/scheduler/config", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 50, decode[map[string]any](t, rec)["batch_size"])

	rec = s.do("PUT", "/api/scheduler/config", "admin", map[string]any{"batch_size": 10, "tick_interval_ms": 5000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := decode[map[string]any](t, rec)
	assert.EqualValues(t, 10, cfg["batch_size"])
	assert.EqualValues(t, 5000, cfg["tick_interval_ms"])

	rec = s.do("PUT", "/api/scheduler/config", "admin", map[string]any{"batch_size": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do("PUT", "/api/scheduler/config", "admin", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/scheduler/start", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[reminder.Status](t, rec).Running)
	rec = s.do("POST", "/api/scheduler/stop", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[reminder.Status](t, rec).Running)
}

func TestSchedulerRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	calls := []struct {
		method string
		path   string
		body   any
	}{
		{"GET", "/api/scheduler/status", nil},
		{"POST", "/api/scheduler/process", nil},
		{"POST", "/api/scheduler/start", nil},
		{"POST", "/api/scheduler/stop", nil},
		{"GET", "/api/scheduler/config", nil},
		{"PUT", "/api/scheduler/config", map[string]any{"max_retries": 1, "batch_size": 1}},
	}
	for _, c := range calls {
		rec := s.do(c.method, c.path, "random-user", c.body)
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", c.method, c.path)
		assert.Equal(t, middleware.ErrForbidden, decode[middleware.ErrorResponse](t, rec).Error)

		rec = s.do(c.method, c.path, "", c.body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", c.method, c.path)
	}

	rec := s.do("GET", "/api/scheduler/config", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[map[string]any](t, rec)["max_retries"])
}

func TestProcessNowDeliversNotification(t *testing.T) {
	s := newTestServer(t)
	base := "/api/events/" + s.event.ID + "/reminders"

	rec := s.do("POST", base, "alice", map[string]any{
		"type":         "push",
		"trigger_time": time.Now().Add(-time.Minute),
		"metadata":     map[string]any{"push": map[string]any{"title": "Doors open"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do("POST", "/api/scheduler/process", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[reminder.TickResult](t, rec)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, reminder.TriggerManual, result.Trigger)

	rec = s.do("GET", "/api/scheduler/status", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[reminder.Status](t, rec)
	require.NotNil(t, status.LastTick)
	assert.Equal(t, 1, status.LastTick.Sent)

	rec = s.do("GET", "/api/notifications?unread=true", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]models.Notification](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "Doors open", items[0].Title)

	rec = s.do("POST", "/api/notifications/"+items[0].ID+"/read", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do("POST", "/api/notifications/"+items[0].ID+"/read", "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do("GET", "/api/notifications?unread=true", "alice", nil)
	assert.Empty(t, decode[[]models.Notification](t, rec))
}

func readMessage(t *testing.T, conn *gws.Conn) websocket.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketReceivesDueReminder(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	_, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := gws.DefaultDialer.Dial(url+"?token="+s.token("alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, websocket.TypeConnected, readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return s.hub.UserClientCount("alice") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, websocket.TypePong, readMessage(t, conn).Type)

	rec := s.do("POST", "/api/events/"+s.event.ID+"/reminders", "alice", map[string]any{
		"type":         "push",
		"trigger_time": time.Now().Add(-time.Minute),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do("POST", "/api/scheduler/process", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	msg := readMessage(t, conn)
	assert.Equal(t, websocket.TypeReminderDue, msg.Type)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, s.event.ID, payload["event_id"])
}
