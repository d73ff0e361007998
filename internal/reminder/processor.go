package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/event-reminders/backend/internal/logger"
	"github.com/event-reminders/backend/internal/recurrence"
	"github.com/event-reminders/backend/internal/storage/models"
)

// Store is the reminder persistence used by the processor. Every write is
// conditional on the reminder still being PENDING and reports whether it
// applied.
type Store interface {
	ListDue(ctx context.Context, before time.Time, maxRetries, limit int) ([]models.Reminder, error)
	GetByID(ctx context.Context, id string) (*models.Reminder, error)
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, id, reason string, maxRetries int, at time.Time) (bool, error)
	FailExhausted(ctx context.Context, maxRetries int, at time.Time) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventLookup loads the event a reminder belongs to. A missing event is
// reported as nil without an error.
type EventLookup interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
}

// Notifier delivers a due reminder. An error from
// CreatePersistedNotification fails the dispatch; PushRealtime is best
// effort and never fails it.
type Notifier interface {
	CreatePersistedNotification(ctx context.Context, userID string, ev *models.Event, rem *models.Reminder) error
	PushRealtime(userID string, payload interface{})
}

// Materializer expands active recurring series ahead of time.
type Materializer interface {
	MaterializeAll(ctx context.Context, window recurrence.Window, limit int) (int, error)
}

// Tick triggers
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// Step names used in TickResult.Errors.
const (
	StepMaterialize = "materialize"
	StepDispatch    = "dispatch"
	StepCleanup     = "cleanup"
)

// TickResult summarizes one run of the processor steps.
type TickResult struct {
	Trigger      string            `json:"trigger"`
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"-"`
	DurationMs   int64             `json:"duration_ms"`
	Materialized int               `json:"materialized"`
	Due          int               `json:"due"`
	Sent         int               `json:"sent"`
	Retried      int               `json:"retried"`
	Failed       int               `json:"failed"`
	Skipped      int               `json:"skipped"`
	Errored      int               `json:"errored"`
	Deleted      int64             `json:"deleted"`
	Errors       map[string]string `json:"errors,omitempty"`
}

func (r *TickResult) addError(step string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[step] = err.Error()
}

// DuePayload is pushed to the user's realtime connections when a reminder
// fires.
type DuePayload struct {
	ReminderID  string    `json:"reminder_id"`
	EventID     string    `json:"event_id"`
	EventTitle  string    `json:"event_title"`
	Type        string    `json:"type"`
	TriggerTime time.Time `json:"trigger_time"`
	StartDate   time.Time `json:"start_date"`
}

// Status describes the processor for the status endpoint.
type Status struct {
	Running    bool        `json:"running"`
	Config     Config      `json:"config"`
	NextRun    *time.Time  `json:"next_run,omitempty"`
	Processing int         `json:"processing"`
	Ticks      int64       `json:"ticks"`
	LastTick   *TickResult `json:"last_tick,omitempty"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeRetried
	outcomeFailed
)

// Processor periodically materializes recurring series, dispatches due
// reminders and deletes old terminal reminders.
//
// The processing set keeps a reminder from being dispatched twice by
// overlapping runs inside this process only. Processors in other processes
// are kept apart by the Claimer, when one is configured. Delivery is at
// least once: a crash between a successful notification and the status
// write sends the reminder again.
type Processor struct {
	store        Store
	events       EventLookup
	notifier     Notifier
	materializer Materializer
	claimer      Claimer

	cron *cron.Cron

	// mu guards the fields below.
	mu       sync.Mutex
	cfg      Config
	entryID  cron.EntryID
	running  bool
	ticks    int64
	lastTick *TickResult

	processingMu sync.Mutex
	processing   map[string]struct{}

	now func() time.Time
	log *logger.Logger
}

// NewProcessor creates a stopped processor. materializer may be nil.
func NewProcessor(store Store, events EventLookup, notifier Notifier, materializer Materializer, cfg Config) *Processor {
	log := logger.Named("processor")
	cl := cronLogger{log: log}
	return &Processor{
		store:        store,
		events:       events,
		notifier:     notifier,
		materializer: materializer,
		claimer:      NopClaimer{},
		cron:         cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		cfg:          cfg.withDefaults(),
		processing:   make(map[string]struct{}),
		now:          time.Now,
		log:          log,
	}
}

// SetClaimer installs a cross-process claimer. It must be called before
// Start.
func (p *Processor) SetClaimer(c Claimer) {
	if c == nil {
		c = NopClaimer{}
	}
	p.claimer = c
}

// Start schedules ticks every TickInterval. Starting a running processor
// does nothing.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if err := p.schedule(p.cfg.TickInterval); err != nil {
		return err
	}
	p.cron.Start()
	p.running = true
	p.log.Infof("Reminder processor started, ticking every %s", p.cfg.TickInterval)
	return nil
}

// Stop cancels the timer and waits for a running tick to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cron.Remove(p.entryID)
	p.mu.Unlock()

	p.log.Info("Stopping reminder processor...")
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.log.Info("Reminder processor stopped")
}

// schedule replaces the timer entry. Callers hold mu.
func (p *Processor) schedule(interval time.Duration) error {
	if p.entryID != 0 {
		p.cron.Remove(p.entryID)
		p.entryID = 0
	}
	id, err := p.cron.AddFunc("@every "+interval.String(), func() {
		p.run(context.Background(), TriggerTimer)
	})
	if err != nil {
		return errors.Wrap(err, "scheduling processor tick")
	}
	p.entryID = id
	return nil
}

// Config returns the current configuration.
func (p *Processor) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// UpdateConfig applies a partial configuration. A new tick interval takes
// effect for the next tick; the old schedule is removed before the new one
// is added, so no tick fires twice.
func (p *Processor) UpdateConfig(patch ConfigPatch) (Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := patch.apply(p.cfg)
	if err != nil {
		return p.cfg, err
	}
	if p.running && cfg.TickInterval != p.cfg.TickInterval {
		if err := p.schedule(cfg.TickInterval); err != nil {
			return p.cfg, err
		}
	}
	p.cfg = cfg
	p.log.Infow("Reminder processor reconfigured",
		"batch_size", cfg.BatchSize,
		"tick_interval", cfg.TickInterval.String(),
		"max_retries", cfg.MaxRetries,
		"look_ahead_days", cfg.LookAheadDays,
	)
	return cfg, nil
}

// Status reports the processor state and the last tick.
func (p *Processor) Status() Status {
	p.processingMu.Lock()
	processing := len(p.processing)
	p.processingMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Running:    p.running,
		Config:     p.cfg,
		Processing: processing,
		Ticks:      p.ticks,
	}
	if p.lastTick != nil {
		last := *p.lastTick
		st.LastTick = &last
	}
	if p.running && p.entryID != 0 {
		if next := p.cron.Entry(p.entryID).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

// Tick runs materialize, dispatch and cleanup once.
func (p *Processor) Tick(ctx context.Context) TickResult {
	return p.run(ctx, TriggerTimer)
}

// ProcessNow runs the same steps as Tick outside the timer. It may overlap
// a timer tick; reminders already being dispatched are skipped.
func (p *Processor) ProcessNow(ctx context.Context) TickResult {
	return p.run(ctx, TriggerManual)
}

func (p *Processor) run(ctx context.Context, trigger string) TickResult {
	cfg := p.Config()
	res := TickResult{Trigger: trigger, StartedAt: p.now()}

	p.step(StepMaterialize, &res, func() error { return p.materialize(ctx, cfg, &res) })
	p.step(StepDispatch, &res, func() error { return p.dispatch(ctx, cfg, &res) })
	p.step(StepCleanup, &res, func() error { return p.cleanup(ctx, cfg, &res) })

	res.Duration = p.now().Sub(res.StartedAt)
	res.DurationMs = res.Duration.Milliseconds()

	p.mu.Lock()
	p.ticks++
	last := res
	p.lastTick = &last
	p.mu.Unlock()

	if len(res.Errors) > 0 || res.Due > 0 || res.Deleted > 0 {
		p.log.Infow("Processor tick finished",
			"trigger", trigger,
			"due", res.Due,
			"sent", res.Sent,
			"retried", res.Retried,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"deleted", res.Deleted,
			"errors", len(res.Errors),
		)
	}
	return res
}

// step runs fn and records its error or panic without stopping later steps.
func (p *Processor) step(name string, res *TickResult, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("Processor step panicked", "step", name, "panic", r)
			res.addError(name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		p.log.Errorw("Processor step failed", "step", name, "error", err)
		res.addError(name, err)
	}
}

func (p *Processor) materialize(ctx context.Context, cfg Config, res *TickResult) error {
	if p.materializer == nil {
		return nil
	}
	now := p.now()
	window := recurrence.Window{Start: now, End: now.AddDate(0, 0, cfg.LookAheadDays)}
	n, err := p.materializer.MaterializeAll(ctx, window, cfg.MaterializeLimit)
	res.Materialized = n
	return err
}

// dispatch delivers due reminders one by one in trigger time order.
func (p *Processor) dispatch(ctx context.Context, cfg Config, res *TickResult) error {
	due, err := p.store.ListDue(ctx, p.now().Add(cfg.BatchWindow), cfg.MaxRetries, cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "listing due reminders")
	}
	res.Due = len(due)

	for i := range due {
		out, err := p.dispatchOne(ctx, cfg, due[i].ID)
		if err != nil {
			p.log.Errorw("Failed to dispatch reminder", "reminder_id", due[i].ID, "error", err)
			res.Errored++
			continue
		}
		switch out {
		case outcomeSent:
			res.Sent++
		case outcomeRetried:
			res.Retried++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	return nil
}

func (p *Processor) claim(id string) bool {
	p.processingMu.Lock()
	defer p.processingMu.Unlock()
	if _, busy := p.processing[id]; busy {
		return false
	}
	p.processing[id] = struct{}{}
	return true
}

func (p *Processor) release(id string) {
	p.processingMu.Lock()
	delete(p.processing, id)
	p.processingMu.Unlock()
}

func (p *Processor) dispatchOne(ctx context.Context, cfg Config, id string) (outcome, error) {
	if !p.claim(id) {
		return outcomeSkipped, nil
	}
	defer p.release(id)

	ok, err := p.claimer.Claim(ctx, id)
	if err != nil {
		return outcomeSkipped, errors.Wrap(err, "claiming reminder")
	}
	if !ok {
		return outcomeSkipped, nil
	}
	defer p.claimer.Release(context.Background(), id)

	// The row may have changed since it was listed.
	rem, err := p.store.GetByID(ctx, id)
	if err != nil {
		return outcomeSkipped, errors.Wrap(err, "reloading reminder")
	}
	if rem == nil || rem.Status != models.ReminderPending || rem.RetryCount >= cfg.MaxRetries {
		return outcomeSkipped, nil
	}
	if rem.TriggerTime.After(p.now()) {
		return outcomeSkipped, nil
	}

	ev, err := p.events.GetByID(ctx, rem.EventID)
	if err != nil {
		return outcomeSkipped, errors.Wrap(err, "loading event")
	}
	if ev == nil {
		return p.fail(ctx, cfg, rem, errors.New("event no longer exists"))
	}

	if err := p.notify(ctx, ev, rem); err != nil {
		return p.fail(ctx, cfg, rem, err)
	}

	p.notifier.PushRealtime(rem.UserID, DuePayload{
		ReminderID:  rem.ID,
		EventID:     ev.ID,
		EventTitle:  ev.Title,
		Type:        rem.Type,
		TriggerTime: rem.TriggerTime,
		StartDate:   ev.StartDate,
	})

	applied, err := p.store.MarkSent(ctx, rem.ID, p.now())
	if err != nil {
		return outcomeSkipped, errors.Wrap(err, "marking reminder sent")
	}
	if !applied {
		p.log.Warnw("Reminder changed state during dispatch", "reminder_id", rem.ID)
		return outcomeSkipped, nil
	}
	p.log.Debugw("Reminder sent", "reminder_id", rem.ID, "user_id", rem.UserID, "type", rem.Type)
	return outcomeSent, nil
}

// notify calls the notifier, turning a panic into an error.
func (p *Processor) notify(ctx context.Context, ev *models.Event, rem *models.Reminder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return p.notifier.CreatePersistedNotification(ctx, rem.UserID, ev, rem)
}

func (p *Processor) fail(ctx context.Context, cfg Config, rem *models.Reminder, cause error) (outcome, error) {
	applied, err := p.store.RecordFailure(ctx, rem.ID, cause.Error(), cfg.MaxRetries, p.now())
	if err != nil {
		return outcomeSkipped, errors.Wrap(err, "recording reminder failure")
	}
	if !applied {
		return outcomeSkipped, nil
	}
	if rem.RetryCount+1 >= cfg.MaxRetries {
		p.log.Warnw("Reminder failed permanently", "reminder_id", rem.ID, "attempts", rem.RetryCount+1, "error", cause)
		return outcomeFailed, nil
	}
	p.log.Infow("Reminder dispatch failed, will retry", "reminder_id", rem.ID, "attempt", rem.RetryCount+1, "error", cause)
	return outcomeRetried, nil
}

func (p *Processor) cleanup(ctx context.Context, cfg Config, res *TickResult) error {
	exhausted, err := p.store.FailExhausted(ctx, cfg.MaxRetries, p.now())
	if err != nil {
		return errors.Wrap(err, "failing exhausted reminders")
	}
	if exhausted > 0 {
		p.log.Warnw("Failed reminders that exhausted a lowered retry limit", "count", exhausted, "max_retries", cfg.MaxRetries)
		res.Failed += int(exhausted)
	}

	n, err := p.store.DeleteTerminalBefore(ctx, p.now().Add(-cfg.Retention))
	if err != nil {
		return errors.Wrap(err, "deleting terminal reminders")
	}
	res.Deleted = n
	return nil
}

// cronLogger adapts the zap logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
