package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tableside/internal/models"
)

const reservationColumns = `id, kind, party_size, requested_at, expires_at, status, code, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                    models.Reservation
		requested, expires   int64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.Kind, &r.PartySize, &requested, &expires, &r.Status,
		&r.ConfirmationCode, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.RequestedTime = fromMillis(requested)
	r.ExpiryTime = fromMillis(expires)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

func (q *Queries) queryReservations(ctx context.Context, query string, args ...any) ([]models.Reservation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// InsertReservation stores r and sets its ID and timestamps.
func (q *Queries) InsertReservation(ctx context.Context, r *models.Reservation) error {
	now := q.now()
	if r.Kind == "" {
		r.Kind = models.KindReservation
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO reservations (kind, party_size, requested_at, expires_at, status, code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Kind, r.PartySize, toMillis(r.RequestedTime), toMillis(r.ExpiryTime), r.Status,
		r.ConfirmationCode, toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	r.CreatedAt = fromMillis(toMillis(now))
	r.UpdatedAt = r.CreatedAt
	return nil
}

// ReservationByCode returns models.ErrNotFound for an unknown code.
func (q *Queries) ReservationByCode(ctx context.Context, code string) (*models.Reservation, error) {
	r, err := scanReservation(q.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (q *Queries) ReservationByID(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := scanReservation(q.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (q *Queries) TransitionReservation(ctx context.Context, id int64, from, to models.Status) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, toMillis(q.now()), id, from,
	)
	if err != nil {
		return fmt.Errorf("transition reservation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transition reservation %d %s->%s: %w", id, from, to, models.ErrRaceLost)
	}
	return nil
}

// LoadOverlappingCommittedParties returns party sizes that claim capacity in [from, to).
// Pending waiting-list entries do not claim future capacity.
func (q *Queries) LoadOverlappingCommittedParties(ctx context.Context, from, to time.Time) ([]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT party_size FROM reservations
		WHERE requested_at < ? AND expires_at > ?
		  AND (status IN ('CONFIRMED', 'ARRIVED') OR (status = 'PENDING' AND kind = 'reservation'))`,
		toMillis(to), toMillis(from),
	)
	if err != nil {
		return nil, fmt.Errorf("load overlapping parties: %w", err)
	}
	defer rows.Close()

	var sizes []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		sizes = append(sizes, n)
	}
	return sizes, rows.Err()
}

func (q *Queries) ListRequestedBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Reservation, error) {
	return q.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ? AND requested_at < ?
		ORDER BY requested_at, id`,
		status, toMillis(before),
	)
}

func (q *Queries) ListExpiringBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Reservation, error) {
	return q.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at, id`,
		status, toMillis(before),
	)
}

func (q *Queries) ListPendingWithoutHold(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	return q.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations r
		WHERE r.status = 'PENDING'
		  AND NOT EXISTS (
			SELECT 1 FROM dining_tables t
			WHERE t.hold_owner = r.id
			  AND (t.state = 'OCCUPIED' OR (t.state = 'RESERVED' AND t.hold_expiry >= ?))
		  )
		ORDER BY r.requested_at, r.id`,
		toMillis(now),
	)
}
