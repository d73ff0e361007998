package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/event-reminders/backend/internal/storage/models"
)

const seriesColumns = `id, parent_event_id, creator_id, timezone, frequency, interval_count,
	end_date, max_occurrences, weekdays, month_day, lunar_phase, active, created_at, updated_at`

// SeriesRepository provides data access for recurring series and their
// exception lists.
type SeriesRepository struct {
	BaseRepository
}

// NewSeriesRepository creates a new series repository.
func NewSeriesRepository(db *DB) *SeriesRepository {
	return &SeriesRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// CreateWithParent inserts the template event and the series in one
// transaction. Neither row exists if either insert fails.
func (r *SeriesRepository) CreateWithParent(ctx context.Context, parent *models.Event, series *models.RecurringSeries) error {
	now := r.Now()
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := insertEvent(ctx, tx, parent, now); err != nil {
			return err
		}

		series.ID = GenerateID()
		series.ParentEventID = parent.ID
		series.Active = true
		series.CreatedAt = now
		series.UpdatedAt = now
		if series.EndDate != nil {
			end := series.EndDate.UTC()
			series.EndDate = &end
		}

		_, err := exec(ctx, tx, `
			INSERT INTO recurring_series (`+seriesColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			series.ID, series.ParentEventID, series.CreatorID, series.Timezone, series.Frequency,
			series.Interval, series.EndDate, series.MaxOccurrences, series.Weekdays, series.MonthDay,
			series.LunarPhase, series.Active, series.CreatedAt, series.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting series: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a series with its exception list.
func (r *SeriesRepository) GetByID(ctx context.Context, id string) (*models.RecurringSeries, error) {
	series := &models.RecurringSeries{}
	err := get(ctx, r.DB(), series, `SELECT `+seriesColumns+` FROM recurring_series WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying series: %w", err)
	}

	exceptions, err := r.ListExceptions(ctx, id)
	if err != nil {
		return nil, err
	}
	series.Exceptions = exceptions

	return series, nil
}

// ListActive retrieves all active series with their exception lists.
func (r *SeriesRepository) ListActive(ctx context.Context) ([]models.RecurringSeries, error) {
	var series []models.RecurringSeries
	err := selectAll(ctx, r.DB(), &series, `
		SELECT `+seriesColumns+` FROM recurring_series
		WHERE active = ?
		ORDER BY created_at
	`, true)
	if err != nil {
		return nil, fmt.Errorf("querying active series: %w", err)
	}

	var exceptions []models.SeriesException
	err = selectAll(ctx, r.DB(), &exceptions, `
		SELECT e.series_id, e.exception_date, e.mode, e.replacement_event_id, e.created_at
		FROM series_exceptions e
		JOIN recurring_series s ON s.id = e.series_id
		WHERE s.active = ?
		ORDER BY e.series_id, e.exception_date
	`, true)
	if err != nil {
		return nil, fmt.Errorf("querying exceptions: %w", err)
	}

	bySeries := make(map[string][]models.SeriesException)
	for _, exc := range exceptions {
		bySeries[exc.SeriesID] = append(bySeries[exc.SeriesID], exc)
	}
	for i := range series {
		series[i].Exceptions = bySeries[series[i].ID]
	}

	return series, nil
}

// Deactivate marks a series inactive. It reports whether the series existed.
func (r *SeriesRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	n, err := exec(ctx, r.DB(), `
		UPDATE recurring_series SET active = ?, updated_at = ? WHERE id = ?
	`, false, r.Now(), id)
	if err != nil {
		return false, fmt.Errorf("deactivating series: %w", err)
	}
	return n > 0, nil
}

// ListExceptions retrieves the exceptions of a series ordered by date.
func (r *SeriesRepository) ListExceptions(ctx context.Context, seriesID string) ([]models.SeriesException, error) {
	var exceptions []models.SeriesException
	err := selectAll(ctx, r.DB(), &exceptions, `
		SELECT series_id, exception_date, mode, replacement_event_id, created_at
		FROM series_exceptions
		WHERE series_id = ?
		ORDER BY exception_date
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("querying exceptions: %w", err)
	}
	return exceptions, nil
}

// AddException stores an exception. Adding a date that already has an
// exception is a no-op; the result reports whether a row was inserted.
func (r *SeriesRepository) AddException(ctx context.Context, exc *models.SeriesException) (bool, error) {
	return insertException(ctx, r.DB(), exc, r)
}

// AddReplacement stores a replacement event and its exception in one
// transaction. ErrExceptionExists is returned when the day already has an
// exception; the replacement event is not kept in that case.
func (r *SeriesRepository) AddReplacement(ctx context.Context, exc *models.SeriesException, replacement *models.Event) error {
	now := r.Now()
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := insertEvent(ctx, tx, replacement, now); err != nil {
			return err
		}

		exc.ReplacementEventID = &replacement.ID
		added, err := insertException(ctx, tx, exc, r)
		if err != nil {
			return err
		}
		if !added {
			return ErrExceptionExists
		}
		return nil
	})
}

func insertException(ctx context.Context, q Queryable, exc *models.SeriesException, r *SeriesRepository) (bool, error) {
	exc.CreatedAt = r.Now()
	n, err := exec(ctx, q, `
		INSERT INTO series_exceptions (series_id, exception_date, mode, replacement_event_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (series_id, exception_date) DO NOTHING
	`, exc.SeriesID, exc.Date, exc.Mode, exc.ReplacementEventID, exc.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("inserting exception: %w", err)
	}
	return n > 0, nil
}
