package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tableside/internal/allocator"
	"tableside/internal/config"
	"tableside/internal/events"
	"tableside/internal/metrics"
	"tableside/internal/models"
	"tableside/internal/planner"
	"tableside/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notifier delivers guest notifications. Calls must not block.
type Notifier interface {
	NotifyTableReady(ctx context.Context, owner int64)
	NotifyCapacityWait(ctx context.Context, owner int64)
}

// Publisher emits domain events.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Config holds the seating rules.
type Config struct {
	DiningDuration time.Duration
	MinLead        time.Duration
	MaxAdvance     time.Duration
	CheckInWindow  time.Duration
	HoldDuration   time.Duration
}

// NewConfig builds a Config from the seating section.
func NewConfig(s config.SeatingConfig) Config {
	return Config{
		DiningDuration: s.DiningDuration(),
		MinLead:        s.MinLead(),
		MaxAdvance:     s.MaxAdvance(),
		CheckInWindow:  s.CheckInWindow(),
		HoldDuration:   s.HoldDuration(),
	}
}

// CreateRequest asks for a scheduled reservation.
type CreateRequest struct {
	PartySize     int
	RequestedTime time.Time
	Identity      models.Identity
}

// WaitingRequest asks for a place on the walk-in waiting list.
type WaitingRequest struct {
	PartySize int
	Identity  models.Identity
}

// View is a reservation together with its identity and tables.
type View struct {
	Reservation *models.Reservation
	Identity    *models.Identity
	Tables      []models.Table
}

// TableIDs returns the ids of the tables in the view.
func (v *View) TableIDs() []int64 {
	ids := make([]int64, 0, len(v.Tables))
	for _, t := range v.Tables {
		ids = append(ids, t.ID)
	}
	return ids
}

// Service runs reservation and waiting-list operations.
type Service struct {
	store     store.Store
	alloc     *allocator.Allocator
	fsm       *FSM
	notifier  Notifier
	publisher Publisher
	cfg       Config
	logger    *zerolog.Logger
	newCode   func() string
}

func NewService(
	st store.Store,
	alloc *allocator.Allocator,
	notifier Notifier,
	publisher Publisher,
	cfg Config,
	logger *zerolog.Logger,
) *Service {
	l := logger.With().Str("component", "lifecycle").Logger()
	return &Service{
		store:     st,
		alloc:     alloc,
		fsm:       NewFSM(),
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		logger:    &l,
		newCode:   newConfirmationCode,
	}
}

func newConfirmationCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// CreateReservation books a table for a future time if every overlapping party still fits.
func (s *Service) CreateReservation(ctx context.Context, req CreateRequest) (*models.Reservation, error) {
	now := s.alloc.Now()
	switch {
	case req.PartySize <= 0:
		return nil, models.Invalid("party size must be positive")
	case !req.Identity.Valid():
		return nil, models.Invalid("a subscriber username or guest email and phone is required")
	case req.RequestedTime.Before(now.Add(s.cfg.MinLead)):
		return nil, models.Invalid(fmt.Sprintf("reservations must be made at least %s ahead", s.cfg.MinLead))
	case req.RequestedTime.After(now.Add(s.cfg.MaxAdvance)):
		return nil, models.Invalid(fmt.Sprintf("reservations cannot be made more than %s ahead", s.cfg.MaxAdvance))
	}

	r := &models.Reservation{
		Kind:             models.KindReservation,
		PartySize:        req.PartySize,
		RequestedTime:    req.RequestedTime,
		ExpiryTime:       req.RequestedTime.Add(s.cfg.DiningDuration),
		Status:           models.StatusConfirmed,
		ConfirmationCode: s.newCode(),
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.checkSubscriber(ctx, tx, req.Identity); err != nil {
			return err
		}

		committed, err := tx.LoadOverlappingCommittedParties(ctx, r.RequestedTime, r.ExpiryTime)
		if err != nil {
			return err
		}
		all, err := tx.LoadActiveTables(ctx)
		if err != nil {
			return err
		}
		if !planner.Feasible(all, committed, r.PartySize) {
			return models.ErrNoAvailability
		}

		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, &models.Activity{ReservationID: r.ID, Identity: req.Identity})
	})
	if err != nil {
		return nil, err
	}

	metrics.IncReservationCreated(string(r.Kind))
	s.logger.Info().
		Str("code", r.ConfirmationCode).
		Int("party_size", r.PartySize).
		Time("requested_at", r.RequestedTime).
		Msg("Reservation confirmed")
	s.publish(events.ReservationCreated, r, nil, "")
	return r, nil
}

// JoinWaitingList queues a walk-in party and tries to hold tables right away.
// If nothing is free the entry stays PENDING for the promotion sweep.
func (s *Service) JoinWaitingList(ctx context.Context, req WaitingRequest) (*View, error) {
	if req.PartySize <= 0 {
		return nil, models.Invalid("party size must be positive")
	}
	if !req.Identity.Valid() {
		return nil, models.Invalid("a subscriber username or guest email and phone is required")
	}

	now := s.alloc.Now()
	r := &models.Reservation{
		Kind:             models.KindWaiting,
		PartySize:        req.PartySize,
		RequestedTime:    now,
		ExpiryTime:       now.Add(s.cfg.DiningDuration),
		Status:           models.StatusPending,
		ConfirmationCode: s.newCode(),
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.checkSubscriber(ctx, tx, req.Identity); err != nil {
			return err
		}
		all, err := tx.LoadActiveTables(ctx)
		if err != nil {
			return err
		}
		if planner.TotalSeats(all) < r.PartySize {
			return models.ErrNoAvailability
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, &models.Activity{ReservationID: r.ID, Identity: req.Identity})
	})
	if err != nil {
		return nil, err
	}
	metrics.IncReservationCreated(string(r.Kind))
	s.publish(events.ReservationCreated, r, nil, "")

	view := &View{Reservation: r, Identity: &req.Identity}
	ids, err := s.holdPending(ctx, r)
	switch {
	case err == nil:
		s.logger.Info().Str("code", r.ConfirmationCode).Ints64("tables", ids).Msg("Waiting party has tables on hold")
		s.notifier.NotifyTableReady(ctx, r.ID)
		if view.Tables, err = s.store.TablesByOwner(ctx, r.ID); err != nil {
			return nil, err
		}
	case errors.Is(err, models.ErrNoAvailability), errors.Is(err, models.ErrRaceLost),
		errors.Is(err, models.ErrAlreadyTerminal):
		s.logger.Info().Str("code", r.ConfirmationCode).Msg("Waiting party queued")
	default:
		s.logger.Error().Err(err).Str("code", r.ConfirmationCode).Msg("hold attempt for waiting party failed")
	}
	return view, nil
}

func (s *Service) checkSubscriber(ctx context.Context, tx store.Tx, id models.Identity) error {
	if !id.IsSubscriber() {
		return nil
	}
	sub, err := tx.SubscriberByUsername(ctx, id.SubscriberUsername)
	if err != nil {
		return err
	}
	if sub == nil {
		return models.Invalid(fmt.Sprintf("unknown subscriber %q", id.SubscriberUsername))
	}
	return nil
}

// CheckIn seats an arriving party. A CONFIRMED party that finds no room becomes
// PENDING and the returned view says so with a nil error.
func (s *Service) CheckIn(ctx context.Context, code string) (*View, error) {
	r, err := s.store.ReservationByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	var view *View
	switch r.Status {
	case models.StatusConfirmed:
		view, err = s.checkInConfirmed(ctx, r)
	case models.StatusPending:
		view, err = s.checkInPending(ctx, r)
	case models.StatusArrived:
		err = models.ErrAlreadyCheckedIn
	default:
		err = models.ErrAlreadyTerminal
	}

	if err != nil {
		metrics.IncCheckIn(string(models.KindOf(err)))
		return nil, err
	}
	metrics.IncCheckIn(strings.ToLower(string(view.Reservation.Status)))
	return view, nil
}

func (s *Service) checkInConfirmed(ctx context.Context, r *models.Reservation) (*View, error) {
	now := s.alloc.Now()
	if now.Before(r.RequestedTime) {
		return nil, models.ErrTooEarly
	}

	if now.After(r.RequestedTime.Add(s.cfg.CheckInWindow)) {
		if err := s.cancel(ctx, r, "no_show"); err != nil {
			return nil, err
		}
		return nil, models.ErrTooLate
	}

	ids, err := s.alloc.Plan(ctx, r.PartySize)
	if errors.Is(err, models.ErrNoAvailability) {
		return s.toPending(ctx, r)
	}
	if err != nil {
		return nil, err
	}

	var tables []models.Table
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.alloc.HoldTx(ctx, tx, ids, r.ID, now.Add(s.cfg.HoldDuration)); err != nil {
			return err
		}
		n, err := s.alloc.OccupyTx(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if n != len(ids) {
			return fmt.Errorf("occupied %d of %d tables: %w", n, len(ids), models.ErrRaceLost)
		}
		if err := s.transition(ctx, tx, r, models.StatusArrived); err != nil {
			return err
		}
		tables, err = s.openVisits(ctx, tx, r.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.alloc.Refresh(ctx)
	s.logger.Info().Str("code", r.ConfirmationCode).Ints64("tables", ids).Msg("Party seated")
	s.publish(events.ReservationCheckedIn, r, ids, "")
	return s.view(ctx, r, tables)
}

func (s *Service) toPending(ctx context.Context, r *models.Reservation) (*View, error) {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return s.transition(ctx, tx, r, models.StatusPending)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("code", r.ConfirmationCode).Msg("No tables free at arrival, party is waiting")
	s.notifier.NotifyCapacityWait(ctx, r.ID)
	s.publish(events.ReservationPending, r, nil, "capacity_wait")
	return s.view(ctx, r, nil)
}

func (s *Service) checkInPending(ctx context.Context, r *models.Reservation) (*View, error) {
	now := s.alloc.Now()

	var tables []models.Table
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		n, err := s.alloc.OccupyTx(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return models.ErrStillWaiting
		}
		if err := s.transition(ctx, tx, r, models.StatusArrived); err != nil {
			return err
		}
		tables, err = s.openVisits(ctx, tx, r.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.alloc.Refresh(ctx)
	view, err := s.view(ctx, r, tables)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("code", r.ConfirmationCode).Ints64("tables", view.TableIDs()).Msg("Waiting party seated")
	s.publish(events.ReservationCheckedIn, r, view.TableIDs(), "")
	return view, nil
}

// openVisits records one visit per table owner occupies.
func (s *Service) openVisits(ctx context.Context, tx store.Tx, owner int64, at time.Time) ([]models.Table, error) {
	tables, err := tx.TablesByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if t.State != models.TableOccupied {
			continue
		}
		if err := tx.InsertVisit(ctx, &models.Visit{ReservationID: owner, TableID: t.ID, StartTime: at}); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// Cancel cancels a CONFIRMED or PENDING reservation and frees its tables.
func (s *Service) Cancel(ctx context.Context, code string) (*models.Reservation, error) {
	r, err := s.store.ReservationByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.cancel(ctx, r, "guest"); err != nil {
		return nil, err
	}
	return r, nil
}

// Abandon cancels r on behalf of a sweep. reason ends up in the event.
func (s *Service) Abandon(ctx context.Context, r *models.Reservation, reason string) error {
	return s.cancel(ctx, r, reason)
}

func (s *Service) cancel(ctx context.Context, r *models.Reservation, reason string) error {
	if err := s.fsm.Check(r.Status, models.StatusCanceled); err != nil {
		return err
	}

	var released int
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.transition(ctx, tx, r, models.StatusCanceled); err != nil {
			return err
		}
		var err error
		released, err = s.alloc.ReleaseTx(ctx, tx, r.ID)
		return err
	})
	if err != nil {
		return err
	}

	if released > 0 {
		s.alloc.Refresh(ctx)
	}
	s.logger.Info().
		Str("code", r.ConfirmationCode).
		Str("reason", reason).
		Int("tables_released", released).
		Msg("Reservation canceled")
	s.publish(events.ReservationCanceled, r, nil, reason)
	return nil
}

// Overstay expires an ARRIVED party whose dining window has passed without payment.
// Visits are closed and tables released; the bill stays unpaid. It reports false
// when the bill turned out to be paid already.
func (s *Service) Overstay(ctx context.Context, r *models.Reservation) (bool, error) {
	now := s.alloc.Now()
	expired := false
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		bill, err := tx.BillByReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		if bill != nil && bill.Paid {
			return nil
		}
		if err := s.transition(ctx, tx, r, models.StatusExpired); err != nil {
			return err
		}
		if _, err := tx.CloseVisits(ctx, r.ID, now); err != nil {
			return err
		}
		if _, err := s.alloc.ReleaseTx(ctx, tx, r.ID); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	s.alloc.Refresh(ctx)
	s.logger.Warn().Str("code", r.ConfirmationCode).Msg("Dining window elapsed without payment")
	s.publish(events.ReservationExpired, r, nil, "billing_overdue")
	return true, nil
}

// Promote tries to hold tables for a PENDING entry and tells the guest on success.
func (s *Service) Promote(ctx context.Context, r *models.Reservation) ([]int64, error) {
	switch {
	case r.Status.IsTerminal():
		return nil, models.ErrAlreadyTerminal
	case r.Status != models.StatusPending:
		return nil, models.Invalid(fmt.Sprintf("%s reservations are not promoted", r.Status))
	}
	ids, err := s.holdPending(ctx, r)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("code", r.ConfirmationCode).Ints64("tables", ids).Msg("Pending party promoted")
	s.notifier.NotifyTableReady(ctx, r.ID)
	s.publish(events.ReservationPromoted, r, ids, "")
	return ids, nil
}

// holdPending claims tables for a PENDING entry. The entry's status is re-read
// inside the claiming transaction, so a canceled or seated entry gets nothing.
func (s *Service) holdPending(ctx context.Context, r *models.Reservation) ([]int64, error) {
	return s.alloc.Hold(ctx, r.PartySize, r.ID, s.cfg.HoldDuration, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.ReservationByID(ctx, r.ID)
		if err != nil {
			return err
		}
		switch {
		case cur.Status.IsTerminal():
			return models.ErrAlreadyTerminal
		case cur.Status != models.StatusPending:
			return fmt.Errorf("reservation %s is %s: %w", cur.ConfirmationCode, cur.Status, models.ErrRaceLost)
		}
		return nil
	})
}

// Get returns the reservation with its identity and current tables.
func (s *Service) Get(ctx context.Context, code string) (*View, error) {
	r, err := s.store.ReservationByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, r, nil)
}

func (s *Service) view(ctx context.Context, r *models.Reservation, tables []models.Table) (*View, error) {
	v := &View{Reservation: r, Tables: tables}
	activity, err := s.store.ActivityByReservation(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if activity != nil {
		v.Identity = &activity.Identity
	}
	if v.Tables == nil {
		if v.Tables, err = s.store.TablesByOwner(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// transition checks the FSM and applies a status CAS inside tx.
func (s *Service) transition(ctx context.Context, tx store.Tx, r *models.Reservation, to models.Status) error {
	if err := s.fsm.Check(r.Status, to); err != nil {
		return err
	}
	if err := tx.TransitionReservation(ctx, r.ID, r.Status, to); err != nil {
		return err
	}
	r.Status = to
	return nil
}

func (s *Service) publish(eventType string, r *models.Reservation, tables []int64, reason string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishJSON(eventType, events.ReservationPayload{
		ReservationID: r.ID,
		Code:          r.ConfirmationCode,
		Kind:          string(r.Kind),
		Status:        string(r.Status),
		PartySize:     r.PartySize,
		Tables:        tables,
		Reason:        reason,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}
