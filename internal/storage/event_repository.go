package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/event-reminders/backend/internal/storage/models"
)

const eventColumns = `id, title, description, start_date, end_date, timezone, mode, location,
	virtual_link, visibility, access_policy, price, currency, required_tier, creator_id,
	status, series_id, original_date, created_at, updated_at`

// EventRepository provides data access for events and registrations.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, ev *models.Event) error {
	return insertEvent(ctx, r.DB(), ev, r.Now())
}

func insertEvent(ctx context.Context, q Queryable, ev *models.Event, now time.Time) error {
	if ev.ID == "" {
		ev.ID = GenerateID()
	}
	if ev.Status == "" {
		ev.Status = models.EventStatusPublished
	}
	ev.StartDate = ev.StartDate.UTC()
	ev.EndDate = ev.EndDate.UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now

	_, err := exec(ctx, q, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID, ev.Title, ev.Description, ev.StartDate, ev.EndDate, ev.Timezone, ev.Mode, ev.Location,
		ev.VirtualLink, ev.Visibility, ev.AccessPolicy, ev.Price, ev.Currency, ev.RequiredTier, ev.CreatorID,
		ev.Status, ev.SeriesID, ev.OriginalDate, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	ev := &models.Event{}
	err := get(ctx, r.DB(), ev, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return ev, nil
}

// ListReplacements retrieves the standalone events that replace occurrences
// of a series, ordered by start date.
func (r *EventRepository) ListReplacements(ctx context.Context, seriesID string) ([]models.Event, error) {
	var events []models.Event
	err := selectAll(ctx, r.DB(), &events, `
		SELECT `+eventColumns+` FROM events
		WHERE series_id = ?
		ORDER BY start_date
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("querying replacement events: %w", err)
	}
	return events, nil
}

// Register records that a user signed up for an event. It reports whether a
// new registration was created.
func (r *EventRepository) Register(ctx context.Context, eventID, userID string) (bool, error) {
	n, err := exec(ctx, r.DB(), `
		INSERT INTO event_registrations (event_id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id, user_id) DO NOTHING
	`, eventID, userID, r.Now())
	if err != nil {
		return false, fmt.Errorf("inserting registration: %w", err)
	}
	return n > 0, nil
}

// IsRegistered reports whether the user is registered for the event.
func (r *EventRepository) IsRegistered(ctx context.Context, eventID, userID string) (bool, error) {
	var count int
	err := get(ctx, r.DB(), &count, `
		SELECT COUNT(*) FROM event_registrations WHERE event_id = ? AND user_id = ?
	`, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("querying registration: %w", err)
	}
	return count > 0, nil
}
