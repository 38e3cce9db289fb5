// Package settlement bills seated parties and closes them out on payment.
package settlement

import (
	"context"
	"fmt"

	"tableside/internal/allocator"
	"tableside/internal/events"
	"tableside/internal/lifecycle"
	"tableside/internal/metrics"
	"tableside/internal/models"
	"tableside/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Quoter prices a visit in minor currency units.
type Quoter interface {
	Quote(ctx context.Context, partySize, diningMinutes int) (int64, error)
}

// Payer charges the guest. ref is an idempotency key that also becomes the
// bill's payment reference.
type Payer interface {
	Charge(ctx context.Context, ref, code string, amount int64) error
}

// Publisher emits domain events.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

type Config struct {
	DiningMinutes      int
	SubscriberDiscount int
}

type Service struct {
	store     store.Store
	alloc     *allocator.Allocator
	fsm       *lifecycle.FSM
	quoter    Quoter
	payer     Payer
	publisher Publisher
	cfg       Config
	logger    *zerolog.Logger
}

func NewService(
	st store.Store,
	alloc *allocator.Allocator,
	quoter Quoter,
	payer Payer,
	publisher Publisher,
	cfg Config,
	logger *zerolog.Logger,
) *Service {
	l := logger.With().Str("component", "settlement").Logger()
	return &Service{
		store:     st,
		alloc:     alloc,
		fsm:       lifecycle.NewFSM(),
		quoter:    quoter,
		payer:     payer,
		publisher: publisher,
		cfg:       cfg,
		logger:    &l,
	}
}

// BillFor returns the bill for code, creating it on first lookup after arrival.
func (s *Service) BillFor(ctx context.Context, code string) (*models.Bill, error) {
	r, err := s.store.ReservationByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.EnsureBill(ctx, r)
}

// EnsureBill returns r's bill, creating it if r is seated and has none yet.
func (s *Service) EnsureBill(ctx context.Context, r *models.Reservation) (*models.Bill, error) {
	bill, err := s.store.BillByReservation(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if bill != nil {
		return bill, nil
	}
	if r.Status != models.StatusArrived {
		return nil, models.ErrNotCheckedIn
	}

	subtotal, err := s.quoter.Quote(ctx, r.PartySize, s.cfg.DiningMinutes)
	if err != nil {
		return nil, fmt.Errorf("quote bill for %s: %w", r.ConfirmationCode, err)
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		bill, err = s.createBillTx(ctx, tx, r.ID, subtotal)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// createBillTx inserts a bill unless another caller got there first.
func (s *Service) createBillTx(ctx context.Context, tx store.Tx, reservationID, subtotal int64) (*models.Bill, error) {
	existing, err := tx.BillByReservation(ctx, reservationID)
	if err != nil || existing != nil {
		return existing, err
	}
	visits, err := tx.OpenVisits(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if len(visits) == 0 {
		return nil, models.ErrNotCheckedIn
	}

	bill := &models.Bill{
		ReservationID: reservationID,
		VisitID:       visits[0].ID,
		Subtotal:      subtotal,
		Total:         subtotal,
	}
	if err := tx.InsertBill(ctx, bill); err != nil {
		return nil, err
	}
	return bill, nil
}

func payable(r *models.Reservation, bill *models.Bill) error {
	if bill != nil && bill.Paid {
		return models.ErrAlreadyPaid
	}
	switch {
	case r.Status.IsTerminal():
		return models.ErrAlreadyTerminal
	case r.Status != models.StatusArrived:
		return models.ErrNotCheckedIn
	}
	return nil
}

// Pay settles the bill for code. In one transaction it marks the bill paid,
// closes the visits, frees the tables, expires the reservation and charges the
// guest. Any failure leaves all of it untouched.
func (s *Service) Pay(ctx context.Context, code string) (*models.Receipt, error) {
	receipt, err := s.pay(ctx, code)
	if err != nil {
		metrics.IncPayment(string(models.KindOf(err)))
		return nil, err
	}
	metrics.IncPayment("ok")
	return receipt, nil
}

func (s *Service) pay(ctx context.Context, code string) (*models.Receipt, error) {
	r, err := s.store.ReservationByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	bill, err := s.store.BillByReservation(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if err := payable(r, bill); err != nil {
		return nil, err
	}

	// Quote outside the write transaction; the bill itself is created inside it.
	var subtotal int64
	if bill == nil {
		if subtotal, err = s.quoter.Quote(ctx, r.PartySize, s.cfg.DiningMinutes); err != nil {
			return nil, fmt.Errorf("quote bill for %s: %w", code, err)
		}
	}

	percent, err := s.discountFor(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	now := s.alloc.Now()
	ref := "pay_" + uuid.NewString()
	var released int

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.ReservationByID(ctx, r.ID)
		if err != nil {
			return err
		}
		b, err := tx.BillByReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		if err := payable(current, b); err != nil {
			return err
		}

		visits, err := tx.OpenVisits(ctx, r.ID)
		if err != nil {
			return err
		}
		if len(visits) == 0 {
			return models.ErrNotCheckedIn
		}

		if b == nil {
			if b, err = s.createBillTx(ctx, tx, r.ID, subtotal); err != nil {
				return err
			}
		}

		b.ApplyDiscount(percent)
		b.PaidAt = &now
		b.PaymentRef = ref
		n, err := tx.MarkBillPaid(ctx, b)
		if err != nil {
			return err
		}
		if n == 0 {
			return models.ErrAlreadyPaid
		}
		b.Paid = true

		if _, err := tx.CloseVisits(ctx, r.ID, now); err != nil {
			return err
		}
		if released, err = s.alloc.ReleaseTx(ctx, tx, r.ID); err != nil {
			return err
		}
		if err := s.fsm.Check(current.Status, models.StatusExpired); err != nil {
			return err
		}
		if err := tx.TransitionReservation(ctx, r.ID, current.Status, models.StatusExpired); err != nil {
			return err
		}

		if err := s.payer.Charge(ctx, ref, code, b.Total); err != nil {
			return fmt.Errorf("charge %s: %w", code, err)
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.Status = models.StatusExpired
	s.alloc.Refresh(ctx)
	s.logger.Info().
		Str("code", code).
		Int64("total", bill.Total).
		Int64("discount", bill.Discount).
		Int("tables_released", released).
		Msg("Bill paid")
	s.publish(r, bill)

	return &models.Receipt{
		Code:           code,
		BillID:         bill.ID,
		Subtotal:       bill.Subtotal,
		Discount:       bill.Discount,
		Total:          bill.Total,
		PaymentRef:     bill.PaymentRef,
		TablesReleased: released,
		PaidAt:         now,
	}, nil
}

// discountFor returns the discount percent for the identity behind reservationID.
func (s *Service) discountFor(ctx context.Context, reservationID int64) (int, error) {
	activity, err := s.store.ActivityByReservation(ctx, reservationID)
	if err != nil {
		return 0, err
	}
	if activity == nil || !activity.Identity.IsSubscriber() {
		return 0, nil
	}
	return s.cfg.SubscriberDiscount, nil
}

func (s *Service) publish(r *models.Reservation, bill *models.Bill) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJSON(events.BillPaid, events.BillPayload{
		ReservationID: r.ID,
		Code:          r.ConfirmationCode,
		BillID:        bill.ID,
		Total:         bill.Total,
		Discount:      bill.Discount,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("event publish failed")
	}
	if err := s.publisher.PublishJSON(events.ReservationExpired, events.ReservationPayload{
		ReservationID: r.ID,
		Code:          r.ConfirmationCode,
		Kind:          string(r.Kind),
		Status:        string(r.Status),
		PartySize:     r.PartySize,
		Reason:        "paid",
	}); err != nil {
		s.logger.Warn().Err(err).Msg("event publish failed")
	}
}
