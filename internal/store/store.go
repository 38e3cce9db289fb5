// Package store defines the persistence operations the seating core depends on.
package store

import (
	"context"
	"time"

	"tableside/internal/models"
)

// ErrRaceLost is returned when a compare-and-swap update matched no rows.
var ErrRaceLost = models.ErrRaceLost

// Tables covers the table inventory.
type Tables interface {
	ListTables(ctx context.Context) ([]models.Table, error)
	LoadFreeTables(ctx context.Context) ([]models.TableCandidate, error)
	LoadActiveTables(ctx context.Context) ([]models.TableCandidate, error)
	TablesByOwner(ctx context.Context, owner int64) ([]models.Table, error)

	// CommitHold claims one FREE table for owner and returns the number of rows changed (0 or 1).
	CommitHold(ctx context.Context, tableID, owner int64, holdUntil time.Time) (int64, error)
	// CommitOccupy converts owner's unexpired RESERVED tables to OCCUPIED.
	CommitOccupy(ctx context.Context, owner int64, now time.Time) (int64, error)
	// CommitRelease frees every RESERVED or OCCUPIED table of owner.
	CommitRelease(ctx context.Context, owner int64) (int64, error)
	// CommitReleaseExpired frees owner's RESERVED tables whose hold ended before now.
	CommitReleaseExpired(ctx context.Context, owner int64, now time.Time) (int64, error)
	// CommitExpire frees RESERVED tables whose hold ended before now.
	CommitExpire(ctx context.Context, now time.Time) (int64, error)
	CountActiveHolds(ctx context.Context, owner int64, now time.Time) (int, error)

	UpsertTable(ctx context.Context, t models.Table) error
	DeactivateMissingTables(ctx context.Context, keep []int64) (int64, error)
}

// Reservations covers reservations and waiting-list entries.
type Reservations interface {
	InsertReservation(ctx context.Context, r *models.Reservation) error
	ReservationByCode(ctx context.Context, code string) (*models.Reservation, error)
	ReservationByID(ctx context.Context, id int64) (*models.Reservation, error)
	// TransitionReservation moves id from one status to another and fails with
	// ErrRaceLost when the stored status is not from.
	TransitionReservation(ctx context.Context, id int64, from, to models.Status) error
	LoadOverlappingCommittedParties(ctx context.Context, from, to time.Time) ([]int, error)
	ListRequestedBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Reservation, error)
	ListExpiringBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Reservation, error)
	// ListPendingWithoutHold returns PENDING entries with no unexpired hold, oldest request first.
	ListPendingWithoutHold(ctx context.Context, now time.Time) ([]models.Reservation, error)
}

// Activities covers identities linked to reservations.
type Activities interface {
	InsertActivity(ctx context.Context, a *models.Activity) error
	ActivityByReservation(ctx context.Context, reservationID int64) (*models.Activity, error)
	UpsertSubscriber(ctx context.Context, s *models.Subscriber) error
	SubscriberByUsername(ctx context.Context, username string) (*models.Subscriber, error)
}

// Visits covers seated parties.
type Visits interface {
	InsertVisit(ctx context.Context, v *models.Visit) error
	OpenVisits(ctx context.Context, reservationID int64) ([]models.Visit, error)
	CloseVisits(ctx context.Context, reservationID int64, at time.Time) (int64, error)
}

// Bills covers billing and the reminder flag.
type Bills interface {
	BillByReservation(ctx context.Context, reservationID int64) (*models.Bill, error)
	InsertBill(ctx context.Context, b *models.Bill) error
	// MarkBillPaid sets the bill paid only if it is still unpaid.
	MarkBillPaid(ctx context.Context, b *models.Bill) (int64, error)
	ListReminderCandidates(ctx context.Context, startedBefore time.Time) ([]models.ReminderCandidate, error)
	// MarkReminderSent flips reminder_sent from 0 to 1 and reports whether it did.
	MarkReminderSent(ctx context.Context, billID int64) (bool, error)
}

// Tx is the full set of operations, bound either to a transaction or to autocommit.
type Tx interface {
	Tables
	Reservations
	Activities
	Visits
	Bills
}

// Store runs operations outside or inside a transaction.
type Store interface {
	Tx
	// WithTx runs fn in one transaction. Any error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
