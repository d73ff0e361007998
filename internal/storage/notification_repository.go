package storage

import (
	"context"
	"fmt"

	"github.com/event-reminders/backend/internal/storage/models"
)

const notificationColumns = `id, user_id, event_id, reminder_id, type, title, message,
	trigger_time, read_at, created_at`

// NotificationRepository provides data access for persisted notifications.
type NotificationRepository struct {
	BaseRepository
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	n.ID = GenerateID()
	n.CreatedAt = r.Now()
	if n.TriggerTime != nil {
		t := n.TriggerTime.UTC()
		n.TriggerTime = &t
	}

	_, err := exec(ctx, r.DB(), `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.UserID, n.EventID, n.ReminderID, n.Type, n.Title, n.Message,
		n.TriggerTime, n.ReadAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListByUser retrieves a user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	notifications := []models.Notification{}
	if err := selectAll(ctx, r.DB(), &notifications, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead sets read_at on a notification owned by the user. It reports
// whether the notification exists for that user.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	n, err := exec(ctx, r.DB(), `
		UPDATE notifications SET read_at = COALESCE(read_at, ?)
		WHERE id = ? AND user_id = ?
	`, r.Now(), id, userID)
	if err != nil {
		return false, fmt.Errorf("marking notification read: %w", err)
	}
	return n > 0, nil
}
