package reconciler

import (
	"context"
	"fmt"

	"tableside/internal/metrics"
	"tableside/internal/models"
)

// sweepNoShows cancels CONFIRMED reservations whose check-in window closed.
func (r *Reconciler) sweepNoShows(ctx context.Context) error {
	now := r.holds.Now()
	list, err := r.store.ListRequestedBefore(ctx, models.StatusConfirmed, now.Add(-r.cfg.CheckInWindow))
	if err != nil {
		return fmt.Errorf("list no-shows: %w", err)
	}
	r.abandonAll(ctx, "no_show", "no_show", list)
	return nil
}

// sweepStalePending cancels PENDING entries whose dining window is already over.
func (r *Reconciler) sweepStalePending(ctx context.Context) error {
	list, err := r.store.ListExpiringBefore(ctx, models.StatusPending, r.holds.Now())
	if err != nil {
		return fmt.Errorf("list stale pending: %w", err)
	}
	r.abandonAll(ctx, "stale_pending", "stale", list)
	return nil
}

func (r *Reconciler) abandonAll(ctx context.Context, task, reason string, list []models.Reservation) {
	outcomes := map[string]int{}
	for i := range list {
		res := &list[i]
		if err := r.life.Abandon(ctx, res, reason); err != nil {
			outcome := itemOutcome(err)
			outcomes[outcome]++
			if outcome == "failed" {
				r.logger.Error().Err(err).Str("task", task).Str("code", res.ConfirmationCode).Msg("cannot cancel")
			}
			continue
		}
		outcomes["canceled"]++
	}
	for outcome, n := range outcomes {
		metrics.AddSweepItems(task, outcome, n)
	}
}

// sweepFinished expires seated parties past their dining window that have not
// paid. A bill is created first so the debt stays on record.
func (r *Reconciler) sweepFinished(ctx context.Context) error {
	list, err := r.store.ListExpiringBefore(ctx, models.StatusArrived, r.holds.Now())
	if err != nil {
		return fmt.Errorf("list finished visits: %w", err)
	}

	outcomes := map[string]int{}
	for i := range list {
		res := &list[i]
		if _, err := r.biller.EnsureBill(ctx, res); err != nil {
			r.logger.Warn().Err(err).Str("code", res.ConfirmationCode).Msg("cannot create overdue bill")
		}
		expired, err := r.life.Overstay(ctx, res)
		switch {
		case err != nil:
			outcome := itemOutcome(err)
			outcomes[outcome]++
			if outcome == "failed" {
				r.logger.Error().Err(err).Str("code", res.ConfirmationCode).Msg("cannot expire visit")
			}
		case expired:
			outcomes["expired"]++
		default:
			outcomes["paid"]++
		}
	}
	for outcome, n := range outcomes {
		metrics.AddSweepItems("finished", outcome, n)
	}
	return nil
}

func (r *Reconciler) sweepHolds(ctx context.Context) error {
	n, err := r.holds.ExpireHolds(ctx, r.holds.Now())
	if err != nil {
		return err
	}
	metrics.AddSweepItems("hold_expiry", "released", n)
	return nil
}

// sweepPromotions seats at most one waiting party per run, oldest first.
func (r *Reconciler) sweepPromotions(ctx context.Context) error {
	list, err := r.store.ListPendingWithoutHold(ctx, r.holds.Now())
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for i := range list {
		res := &list[i]
		ids, err := r.life.Promote(ctx, res)
		if err == nil {
			metrics.AddSweepItems("promotion", "promoted", 1)
			r.logger.Info().Str("code", res.ConfirmationCode).Ints64("tables", ids).Msg("Promoted waiting party")
			return nil
		}
		switch models.KindOf(err) {
		case models.KindNoAvailability, models.KindRaceLost:
			metrics.AddSweepItems("promotion", "no_room", 1)
		case models.KindAlreadyTerminal:
			metrics.AddSweepItems("promotion", "skipped", 1)
		default:
			metrics.AddSweepItems("promotion", "failed", 1)
			r.logger.Error().Err(err).Str("code", res.ConfirmationCode).Msg("promotion failed")
		}
	}
	return nil
}

// sweepReminders flags long-running unpaid bills and notifies the guest once.
func (r *Reconciler) sweepReminders(ctx context.Context) error {
	list, err := r.store.ListReminderCandidates(ctx, r.holds.Now().Add(-r.cfg.ReminderAfter))
	if err != nil {
		return fmt.Errorf("list reminder candidates: %w", err)
	}

	sent := 0
	for _, c := range list {
		billID := c.BillID
		if billID == 0 {
			res, err := r.store.ReservationByID(ctx, c.ReservationID)
			if err != nil {
				r.logger.Error().Err(err).Str("code", c.Code).Msg("cannot load reservation for reminder")
				continue
			}
			bill, err := r.biller.EnsureBill(ctx, res)
			if err != nil {
				r.logger.Error().Err(err).Str("code", c.Code).Msg("cannot create bill for reminder")
				continue
			}
			billID = bill.ID
		}

		flipped, err := r.store.MarkReminderSent(ctx, billID)
		if err != nil {
			r.logger.Error().Err(err).Int64("bill_id", billID).Msg("cannot flag reminder")
			continue
		}
		if !flipped {
			continue
		}
		r.reminder.NotifyReminder(ctx, c.ReservationID)
		sent++
	}
	metrics.AddSweepItems("reminder", "sent", sent)
	return nil
}
