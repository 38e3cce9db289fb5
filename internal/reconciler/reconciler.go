// Package reconciler runs the periodic sweeps that keep reservations and
// tables consistent with the clock.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"tableside/internal/config"
	"tableside/internal/metrics"
	"tableside/internal/models"
	"tableside/internal/store"

	"github.com/rs/zerolog"
)

// Lifecycle is the reservation state machine as seen by the sweeps.
type Lifecycle interface {
	Abandon(ctx context.Context, r *models.Reservation, reason string) error
	Overstay(ctx context.Context, r *models.Reservation) (bool, error)
	Promote(ctx context.Context, r *models.Reservation) ([]int64, error)
}

// Biller creates bills for seated parties.
type Biller interface {
	EnsureBill(ctx context.Context, r *models.Reservation) (*models.Bill, error)
}

// Holds expires lapsed table holds and provides the clock.
type Holds interface {
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
	Now() time.Time
}

// Reminder sends unpaid-bill reminders.
type Reminder interface {
	NotifyReminder(ctx context.Context, owner int64)
}

type Config struct {
	CheckInWindow time.Duration
	ReminderAfter time.Duration
	LockTTL       time.Duration

	NoShowInterval       time.Duration
	StalePendingInterval time.Duration
	FinishedInterval     time.Duration
	HoldExpiryInterval   time.Duration
	PromotionInterval    time.Duration
	ReminderInterval     time.Duration
}

func NewConfig(seating config.SeatingConfig, rc config.ReconcilerConfig) Config {
	return Config{
		CheckInWindow:        seating.CheckInWindow(),
		ReminderAfter:        seating.ReminderAfter(),
		LockTTL:              rc.LockTTL(),
		NoShowInterval:       rc.NoShowInterval(),
		StalePendingInterval: rc.NoShowInterval(),
		FinishedInterval:     rc.FinishedInterval(),
		HoldExpiryInterval:   rc.HoldExpiryInterval(),
		PromotionInterval:    rc.PromotionInterval(),
		ReminderInterval:     rc.ReminderInterval(),
	}
}

// Task is one named sweep with its own interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Reconciler struct {
	store    store.Store
	life     Lifecycle
	biller   Biller
	holds    Holds
	reminder Reminder
	locker   Locker
	cfg      Config
	logger   *zerolog.Logger
	tasks    []Task

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New builds a reconciler. A nil locker means a process-local one.
func New(
	st store.Store,
	life Lifecycle,
	biller Biller,
	holds Holds,
	reminder Reminder,
	locker Locker,
	cfg Config,
	logger *zerolog.Logger,
) *Reconciler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	l := logger.With().Str("component", "reconciler").Logger()
	r := &Reconciler{
		store:    st,
		life:     life,
		biller:   biller,
		holds:    holds,
		reminder: reminder,
		locker:   locker,
		cfg:      cfg,
		logger:   &l,
		stopCh:   make(chan struct{}),
	}
	r.tasks = []Task{
		{Name: "no_show", Interval: cfg.NoShowInterval, Run: r.sweepNoShows},
		{Name: "stale_pending", Interval: cfg.StalePendingInterval, Run: r.sweepStalePending},
		{Name: "finished", Interval: cfg.FinishedInterval, Run: r.sweepFinished},
		{Name: "hold_expiry", Interval: cfg.HoldExpiryInterval, Run: r.sweepHolds},
		{Name: "promotion", Interval: cfg.PromotionInterval, Run: r.sweepPromotions},
		{Name: "reminder", Interval: cfg.ReminderInterval, Run: r.sweepReminders},
	}
	return r
}

func (r *Reconciler) Tasks() []Task {
	return r.tasks
}

// Start launches one ticker goroutine per sweep.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	for _, t := range r.tasks {
		if t.Interval <= 0 {
			r.logger.Warn().Str("task", t.Name).Msg("sweep disabled, no interval")
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
	r.logger.Info().Int("tasks", len(r.tasks)).Msg("Reconciler started")
}

// Stop waits for running sweeps to return.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info().Msg("Reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context, t Task) {
	defer r.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			_ = r.run(ctx, t)
		}
	}
}

// RunOnce runs every sweep once in order and joins their errors.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, t := range r.tasks {
		if err := r.run(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) run(ctx context.Context, t Task) error {
	start := time.Now()

	unlock, ok, err := r.locker.TryLock(ctx, t.Name, r.cfg.LockTTL)
	if err != nil {
		metrics.ObserveSweep(t.Name, "lock_error", time.Since(start))
		r.logger.Error().Err(err).Str("task", t.Name).Msg("sweep lock failed")
		return err
	}
	if !ok {
		metrics.ObserveSweep(t.Name, "skipped", time.Since(start))
		r.logger.Debug().Str("task", t.Name).Msg("sweep held elsewhere, skipping")
		return nil
	}
	defer unlock()

	err = t.Run(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		r.logger.Error().Err(err).Str("task", t.Name).Msg("sweep failed")
	}
	metrics.ObserveSweep(t.Name, result, time.Since(start))
	return err
}

// itemOutcome labels a per-item error. Lost races and already-closed items
// are expected when a request beat the sweep.
func itemOutcome(err error) string {
	switch models.KindOf(err) {
	case models.KindRaceLost, models.KindAlreadyTerminal, models.KindAlreadyCheckedIn:
		return "skipped"
	default:
		return "failed"
	}
}
