package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/event-reminders/backend/internal/storage/models"
)

const reminderColumns = `id, event_id, user_id, type, trigger_time, status, retry_count, last_error,
	metadata, sent_at, failed_at, canceled_at, created_at, updated_at`

// ReminderFilter narrows a reminder listing. Zero values are ignored.
type ReminderFilter struct {
	EventID string
	UserID  string
	Type    string
	Status  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

func (f ReminderFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	if f.EventID != "" {
		add("event_id = ?", f.EventID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Type != "" {
		add("type = ?", f.Type)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.From != nil {
		add("trigger_time >= ?", f.From.UTC())
	}
	if f.To != nil {
		add("trigger_time <= ?", f.To.UTC())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ReminderRepository provides data access for reminders.
type ReminderRepository struct {
	BaseRepository
}

// NewReminderRepository creates a new reminder repository.
func NewReminderRepository(db *DB) *ReminderRepository {
	return &ReminderRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// CreateWithLimit inserts a reminder unless the user already holds limit
// non-canceled reminders for the event, in which case ErrReminderLimit is
// returned. The count and the insert run in one transaction.
func (r *ReminderRepository) CreateWithLimit(ctx context.Context, rem *models.Reminder, limit int) error {
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		var active int
		err := get(ctx, tx, &active, `
			SELECT COUNT(*) FROM reminders
			WHERE user_id = ? AND event_id = ? AND status <> ?
		`, rem.UserID, rem.EventID, models.ReminderCanceled)
		if err != nil {
			return fmt.Errorf("counting reminders: %w", err)
		}
		if active >= limit {
			return ErrReminderLimit
		}
		return insertReminder(ctx, tx, rem, r.Now())
	})
}

// Create inserts a reminder without checking the per-user limit.
func (r *ReminderRepository) Create(ctx context.Context, rem *models.Reminder) error {
	return insertReminder(ctx, r.DB(), rem, r.Now())
}

func insertReminder(ctx context.Context, q Queryable, rem *models.Reminder, now time.Time) error {
	rem.ID = GenerateID()
	if rem.Status == "" {
		rem.Status = models.ReminderPending
	}
	rem.TriggerTime = rem.TriggerTime.UTC()
	rem.CreatedAt = now
	rem.UpdatedAt = now

	_, err := exec(ctx, q, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rem.ID, rem.EventID, rem.UserID, rem.Type, rem.TriggerTime, rem.Status, rem.RetryCount,
		rem.LastError, rem.Metadata, rem.SentAt, rem.FailedAt, rem.CanceledAt, rem.CreatedAt, rem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reminder: %w", err)
	}
	return nil
}

// GetByID retrieves a reminder by its ID.
func (r *ReminderRepository) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	rem := &models.Reminder{}
	err := get(ctx, r.DB(), rem, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying reminder: %w", err)
	}
	return rem, nil
}

// List retrieves a page of reminders ordered by trigger time together with
// the total number of matching rows.
func (r *ReminderRepository) List(ctx context.Context, f ReminderFilter) ([]models.Reminder, int, error) {
	where, args := f.where()

	var total int
	if err := get(ctx, r.DB(), &total, `SELECT COUNT(*) FROM reminders`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("counting reminders: %w", err)
	}

	query := `SELECT ` + reminderColumns + ` FROM reminders` + where + ` ORDER BY trigger_time, id`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	reminders := []models.Reminder{}
	if err := selectAll(ctx, r.DB(), &reminders, query, args...); err != nil {
		return nil, 0, fmt.Errorf("querying reminders: %w", err)
	}
	return reminders, total, nil
}

// CountBy groups the reminders matching f by column, which must be
// "status" or "type".
func (r *ReminderRepository) CountBy(ctx context.Context, f ReminderFilter, column string) (map[string]int, error) {
	if column != "status" && column != "type" {
		return nil, fmt.Errorf("unsupported group column %q", column)
	}
	where, args := f.where()

	var rows []struct {
		Group string `db:"grp"`
		Total int    `db:"total"`
	}
	query := `SELECT ` + column + ` AS grp, COUNT(*) AS total FROM reminders` + where + ` GROUP BY ` + column
	if err := selectAll(ctx, r.DB(), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("grouping reminders by %s: %w", column, err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Group] = row.Total
	}
	return counts, nil
}

// Cancel moves a pending reminder to CANCELED. It reports whether the row
// was still pending.
func (r *ReminderRepository) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := exec(ctx, r.DB(), `
		UPDATE reminders SET status = ?, canceled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.ReminderCanceled, at.UTC(), r.Now(), id, models.ReminderPending)
	if err != nil {
		return false, fmt.Errorf("canceling reminder: %w", err)
	}
	return n > 0, nil
}

// ListDue retrieves pending reminders triggering at or before the given
// time that have not exhausted their retries, earliest first.
func (r *ReminderRepository) ListDue(ctx context.Context, before time.Time, maxRetries, limit int) ([]models.Reminder, error) {
	reminders := []models.Reminder{}
	err := selectAll(ctx, r.DB(), &reminders, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = ? AND trigger_time <= ? AND retry_count < ?
		ORDER BY trigger_time ASC, id ASC
		LIMIT ?
	`, models.ReminderPending, before.UTC(), maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("querying due reminders: %w", err)
	}
	return reminders, nil
}

// MarkSent moves a pending reminder to SENT. It reports whether the row was
// still pending.
func (r *ReminderRepository) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := exec(ctx, r.DB(), `
		UPDATE reminders SET status = ?, sent_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.ReminderSent, at.UTC(), r.Now(), id, models.ReminderPending)
	if err != nil {
		return false, fmt.Errorf("marking reminder sent: %w", err)
	}
	return n > 0, nil
}

// RecordFailure increments the retry counter of a pending reminder and
// stores the error. The reminder becomes FAILED when the counter reaches
// maxRetries. It reports whether the row was still pending.
func (r *ReminderRepository) RecordFailure(ctx context.Context, id, reason string, maxRetries int, at time.Time) (bool, error) {
	at = at.UTC()
	n, err := exec(ctx, r.DB(), `
		UPDATE reminders SET
			retry_count = retry_count + 1,
			last_error = ?,
			status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END,
			failed_at = CASE WHEN retry_count + 1 >= ? THEN ? ELSE failed_at END,
			updated_at = ?
		WHERE id = ? AND status = ?
	`, reason, maxRetries, models.ReminderFailed, maxRetries, at, r.Now(), id, models.ReminderPending)
	if err != nil {
		return false, fmt.Errorf("recording reminder failure: %w", err)
	}
	return n > 0, nil
}

// FailExhausted moves pending reminders whose retry counter already reached
// maxRetries to FAILED. Such rows appear when the retry limit is lowered at
// runtime and are no longer picked up by ListDue.
func (r *ReminderRepository) FailExhausted(ctx context.Context, maxRetries int, at time.Time) (int64, error) {
	n, err := exec(ctx, r.DB(), `
		UPDATE reminders SET status = ?, failed_at = ?, updated_at = ?
		WHERE status = ? AND retry_count >= ?
	`, models.ReminderFailed, at.UTC(), r.Now(), models.ReminderPending, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failing exhausted reminders: %w", err)
	}
	return n, nil
}

// DeleteTerminalBefore removes SENT reminders sent before cutoff and FAILED
// reminders that failed before cutoff.
func (r *ReminderRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	n, err := exec(ctx, r.DB(), `
		DELETE FROM reminders
		WHERE (status = ? AND sent_at < ?)
		   OR (status = ? AND failed_at < ?)
	`, models.ReminderSent, cutoff, models.ReminderFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting terminal reminders: %w", err)
	}
	return n, nil
}
