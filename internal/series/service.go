// Package series implements the recurring series use cases: creation,
// occurrence listing, exceptions and deactivation.
package series

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/event"
	"github.com/event-reminders/backend/internal/logger"
	"github.com/event-reminders/backend/internal/recurrence"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/validation"
)

// Config bounds occurrence listings.
type Config struct {
	InstanceCap       int
	DefaultWindowDays int
	CacheTTL          time.Duration
}

// Service provides recurring series use cases.
type Service struct {
	series *storage.SeriesRepository
	events *storage.EventRepository
	access *event.Service
	cache  recurrence.Cache
	cfg    Config
	now    func() time.Time
	log    *logger.Logger
}

// NewService creates a new series service. A nil cache disables caching.
func NewService(
	seriesRepo *storage.SeriesRepository,
	eventRepo *storage.EventRepository,
	access *event.Service,
	cache recurrence.Cache,
	cfg Config,
) *Service {
	if cache == nil {
		cache = recurrence.NopCache{}
	}
	if cfg.InstanceCap <= 0 {
		cfg.InstanceCap = 1000
	}
	if cfg.DefaultWindowDays <= 0 {
		cfg.DefaultWindowDays = 365
	}
	return &Service{
		series: seriesRepo,
		events: eventRepo,
		access: access,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.Named("series"),
	}
}

// Detail is a series together with its template event.
type Detail struct {
	Series      *models.RecurringSeries `json:"series"`
	ParentEvent *models.Event           `json:"parent_event"`
}

// Create validates the request and stores the template event and the series
// atomically.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Detail, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if !req.StartDate.After(s.now()) {
		return nil, apperror.Validation("Request validation failed", apperror.FieldError{
			Field: "start_date",
			Error: "must be in the future",
		})
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	access := req.AccessPolicy
	if access == "" {
		access = models.AccessFree
	}
	interval := req.Recurrence.Interval
	if interval == 0 {
		interval = 1
	}

	parent := &models.Event{
		Title:        req.Title,
		Description:  req.Description,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Timezone:     tz,
		Mode:         req.Mode,
		Location:     req.Location,
		VirtualLink:  req.VirtualLink,
		Visibility:   visibility,
		AccessPolicy: access,
		Price:        req.Price,
		Currency:     req.Currency,
		RequiredTier: req.RequiredTier,
		CreatorID:    userID,
		Status:       models.EventStatusPublished,
	}
	series := &models.RecurringSeries{
		CreatorID:      userID,
		Timezone:       tz,
		Frequency:      req.Recurrence.Frequency,
		Interval:       interval,
		EndDate:        req.Recurrence.EndDate,
		MaxOccurrences: req.Recurrence.MaxOccurrences,
		Weekdays:       req.Recurrence.weekdays(),
		MonthDay:       req.Recurrence.MonthDay,
		LunarPhase:     req.Recurrence.LunarPhase,
	}

	// Catch rules the engine cannot evaluate before anything is stored.
	if _, err := recurrence.Expand(series, parent, recurrence.Window{Start: parent.StartDate}, 1, s.now()); err != nil {
		return nil, apperror.Validation(err.Error())
	}

	if err := s.series.CreateWithParent(ctx, parent, series); err != nil {
		return nil, errors.Wrap(err, "creating series")
	}
	series.Exceptions = []models.SeriesException{}

	s.log.Infow("Recurring series created", "series_id", series.ID, "frequency", series.Frequency, "creator_id", userID)
	return &Detail{Series: series, ParentEvent: parent}, nil
}

// load returns the series and its template or a not found error.
func (s *Service) load(ctx context.Context, seriesID string) (*models.RecurringSeries, *models.Event, error) {
	series, err := s.series.GetByID(ctx, seriesID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading series")
	}
	if series == nil {
		return nil, nil, apperror.NotFound("Recurring series not found")
	}
	parent, err := s.events.GetByID(ctx, series.ParentEventID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading parent event")
	}
	if parent == nil {
		return nil, nil, apperror.NotFound("Recurring series not found")
	}
	return series, parent, nil
}

// loadAccessible is load restricted to users who may see the template.
func (s *Service) loadAccessible(ctx context.Context, seriesID, userID string) (*models.RecurringSeries, *models.Event, error) {
	series, parent, err := s.load(ctx, seriesID)
	if err != nil {
		return nil, nil, err
	}
	ok, err := s.access.CanAccess(ctx, parent, userID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperror.NotFound("Recurring series not found")
	}
	return series, parent, nil
}

// loadOwned is load restricted to the series creator.
func (s *Service) loadOwned(ctx context.Context, seriesID, userID string) (*models.RecurringSeries, *models.Event, error) {
	series, parent, err := s.loadAccessible(ctx, seriesID, userID)
	if err != nil {
		return nil, nil, err
	}
	if series.CreatorID != userID {
		return nil, nil, apperror.Forbidden("Only the series creator can change it")
	}
	return series, parent, nil
}

// Get returns a series with its template event and exceptions.
func (s *Service) Get(ctx context.Context, seriesID, userID string) (*Detail, error) {
	series, parent, err := s.loadAccessible(ctx, seriesID, userID)
	if err != nil {
		return nil, err
	}
	if series.Exceptions == nil {
		series.Exceptions = []models.SeriesException{}
	}
	return &Detail{Series: series, ParentEvent: parent}, nil
}

// Load returns a series and its template for callers that already checked
// access, such as calendar export.
func (s *Service) Load(ctx context.Context, seriesID, userID string) (*models.RecurringSeries, *models.Event, error) {
	return s.loadAccessible(ctx, seriesID, userID)
}

// Replacements returns the events that replace single occurrences of a
// series.
func (s *Service) Replacements(ctx context.Context, seriesID string) ([]models.Event, error) {
	events, err := s.events.ListReplacements(ctx, seriesID)
	if err != nil {
		return nil, errors.Wrap(err, "loading replacement events")
	}
	return events, nil
}

// Deactivate stops a series from producing further occurrences. The series
// and its template are kept.
func (s *Service) Deactivate(ctx context.Context, seriesID, userID string) error {
	series, _, err := s.loadOwned(ctx, seriesID, userID)
	if err != nil {
		return err
	}
	if _, err := s.series.Deactivate(ctx, series.ID); err != nil {
		return errors.Wrap(err, "deactivating series")
	}
	s.invalidate(ctx, series.ID)
	s.log.Infow("Recurring series deactivated", "series_id", series.ID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, seriesID string) {
	if err := s.cache.Invalidate(ctx, seriesID); err != nil {
		s.log.Warnw("Failed to invalidate occurrence cache", "series_id", seriesID, "error", err)
	}
}
