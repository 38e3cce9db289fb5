// Package allocator applies planner decisions to the table inventory.
//
// Planning reads the free tables outside any write transaction. Claims are
// compare-and-swap row updates inside one, so two owners planning the same
// table resolve to one success and one ErrRaceLost.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tableside/internal/metrics"
	"tableside/internal/models"
	"tableside/internal/planner"
	"tableside/internal/store"

	"github.com/rs/zerolog"
)

// Refresher is told when table states changed.
type Refresher interface {
	Refresh(ctx context.Context)
}

type Option func(*Allocator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithRefresher registers a hook that runs after every committed change.
func WithRefresher(r Refresher) Option {
	return func(a *Allocator) { a.refresher = r }
}

type Allocator struct {
	store     store.Store
	logger    *zerolog.Logger
	now       func() time.Time
	refresher Refresher
}

func New(st store.Store, logger *zerolog.Logger, opts ...Option) *Allocator {
	l := logger.With().Str("component", "allocator").Logger()
	a := &Allocator{store: st, logger: &l, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Now returns the allocator's clock reading.
func (a *Allocator) Now() time.Time {
	return a.now()
}

// Refresh runs the refresher, if any. Callers composing the Tx variants call it after commit.
func (a *Allocator) Refresh(ctx context.Context) {
	if a.refresher != nil {
		a.refresher.Refresh(ctx)
	}
}

// Plan picks tables for partySize from the current free set without claiming them.
func (a *Allocator) Plan(ctx context.Context, partySize int) ([]int64, error) {
	return a.PlanTx(ctx, a.store, partySize)
}

// PlanTx is Plan over the free set as seen by tx.
func (a *Allocator) PlanTx(ctx context.Context, tx store.Tx, partySize int) ([]int64, error) {
	free, err := tx.LoadFreeTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("load free tables: %w", err)
	}

	ids, err := planner.Pack(free, partySize)
	switch {
	case errors.Is(err, planner.ErrInvalidParty):
		return nil, models.Invalid(err.Error())
	case errors.Is(err, planner.ErrInfeasible):
		return nil, models.ErrNoAvailability
	case err != nil:
		return nil, err
	}
	return ids, nil
}

// Guard vetoes a claim from inside the claiming transaction.
type Guard func(ctx context.Context, tx store.Tx) error

// Hold plans and claims tables for owner until now+holdFor, all or nothing.
// Guards run first in the same transaction. An owner whose hold is still live
// loses with ErrRaceLost, and a lapsed hold it still carries is released before
// planning, so an owner never holds two allocations at once.
func (a *Allocator) Hold(ctx context.Context, partySize int, owner int64, holdFor time.Duration, guards ...Guard) ([]int64, error) {
	now := a.now()

	var ids []int64
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		for _, guard := range guards {
			if err := guard(ctx, tx); err != nil {
				return err
			}
		}

		held, err := a.HasActiveHold(ctx, tx, owner, now)
		if err != nil {
			return err
		}
		if held {
			return fmt.Errorf("owner %d already holds tables: %w", owner, models.ErrRaceLost)
		}
		if _, err := tx.CommitReleaseExpired(ctx, owner, now); err != nil {
			return err
		}

		ids, err = a.PlanTx(ctx, tx, partySize)
		if err != nil {
			return err
		}
		return a.HoldTx(ctx, tx, ids, owner, now.Add(holdFor))
	})
	if err != nil {
		metrics.IncHold(string(models.KindOf(err)))
		return nil, err
	}

	metrics.IncHold("ok")
	a.logger.Debug().Int64("owner", owner).Ints64("tables", ids).Time("until", now.Add(holdFor)).Msg("tables held")
	a.Refresh(ctx)
	return ids, nil
}

// HoldTx claims every table in tableIDs for owner inside tx. A table that is no
// longer FREE fails the whole claim with ErrRaceLost; the caller's rollback
// undoes the earlier claims.
func (a *Allocator) HoldTx(ctx context.Context, tx store.Tx, tableIDs []int64, owner int64, until time.Time) error {
	if len(tableIDs) == 0 {
		return models.ErrNoAvailability
	}
	for _, id := range tableIDs {
		n, err := tx.CommitHold(ctx, id, owner, until)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("table %d: %w", id, models.ErrRaceLost)
		}
	}
	return nil
}

// Occupy converts owner's unexpired holds to OCCUPIED. Zero means the hold lapsed.
func (a *Allocator) Occupy(ctx context.Context, owner int64) (int, error) {
	var n int
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = a.OccupyTx(ctx, tx, owner)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.Refresh(ctx)
	}
	return n, nil
}

func (a *Allocator) OccupyTx(ctx context.Context, tx store.Tx, owner int64) (int, error) {
	n, err := tx.CommitOccupy(ctx, owner, a.now())
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Release frees every table attributed to owner.
func (a *Allocator) Release(ctx context.Context, owner int64) (int, error) {
	var n int
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = a.ReleaseTx(ctx, tx, owner)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.Refresh(ctx)
	}
	return n, nil
}

func (a *Allocator) ReleaseTx(ctx context.Context, tx store.Tx, owner int64) (int, error) {
	n, err := tx.CommitRelease(ctx, owner)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ExpireHolds frees RESERVED tables whose hold ended before now.
func (a *Allocator) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	n, err := a.store.CommitExpire(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.Info().Int64("tables", n).Msg("expired holds released")
		a.Refresh(ctx)
	}
	return int(n), nil
}

// HasActiveHold reports whether owner still holds at least one unexpired table.
func (a *Allocator) HasActiveHold(ctx context.Context, tx store.Tx, owner int64, now time.Time) (bool, error) {
	n, err := tx.CountActiveHolds(ctx, owner, now)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
