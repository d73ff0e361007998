// Package storagetest opens throwaway sqlite databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
)

// NewDB returns a migrated sqlite database in a temporary directory. It is
// closed when the test finishes.
func NewDB(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.NewDB(storage.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.RunMigrations(context.Background(), db))
	return db
}

// Event returns a published public in-person event starting at start and
// lasting one hour.
func Event(creatorID string, start time.Time) *models.Event {
	location := "Main hall"
	return &models.Event{
		Title:        "Weekly meetup",
		Description:  "Bring snacks",
		StartDate:    start,
		EndDate:      start.Add(time.Hour),
		Timezone:     "UTC",
		Mode:         models.ModeInPerson,
		Location:     &location,
		Visibility:   models.VisibilityPublic,
		AccessPolicy: models.AccessFree,
		CreatorID:    creatorID,
		Status:       models.EventStatusPublished,
	}
}

// CreateEvent inserts an event built by Event.
func CreateEvent(t testing.TB, db *storage.DB, creatorID string, start time.Time) *models.Event {
	t.Helper()

	ev := Event(creatorID, start)
	require.NoError(t, storage.NewEventRepository(db).Create(context.Background(), ev))
	return ev
}

// CreateReminder inserts a pending push reminder.
func CreateReminder(t testing.TB, db *storage.DB, eventID, userID string, trigger time.Time) *models.Reminder {
	t.Helper()

	rem := &models.Reminder{
		EventID:     eventID,
		UserID:      userID,
		Type:        models.ReminderPush,
		TriggerTime: trigger,
		Metadata:    models.Metadata{Push: &models.PushMetadata{Title: "Soon"}},
	}
	require.NoError(t, storage.NewReminderRepository(db).Create(context.Background(), rem))
	return rem
}
