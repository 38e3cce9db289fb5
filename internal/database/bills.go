package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tableside/internal/models"
)

// BillByReservation returns nil without error when no bill exists yet.
func (q *Queries) BillByReservation(ctx context.Context, reservationID int64) (*models.Bill, error) {
	var (
		b              models.Bill
		paid, reminder int
		paidAt         sql.NullInt64
		createdAt      int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, reservation_id, visit_id, subtotal, discount, total, paid, paid_at, payment_ref, reminder_sent, created_at
		FROM bills WHERE reservation_id = ?`, reservationID,
	).Scan(&b.ID, &b.ReservationID, &b.VisitID, &b.Subtotal, &b.Discount, &b.Total,
		&paid, &paidAt, &b.PaymentRef, &reminder, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Paid = paid == 1
	b.ReminderSent = reminder == 1
	b.PaidAt = nullableTime(paidAt)
	b.CreatedAt = fromMillis(createdAt)
	return &b, nil
}

func (q *Queries) InsertBill(ctx context.Context, b *models.Bill) error {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO bills (reservation_id, visit_id, subtotal, discount, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ReservationID, b.VisitID, b.Subtotal, b.Discount, b.Total, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert bill for %d: %w", b.ReservationID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	b.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (q *Queries) MarkBillPaid(ctx context.Context, b *models.Bill) (int64, error) {
	paidAt := q.now()
	if b.PaidAt != nil {
		paidAt = *b.PaidAt
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE bills SET paid = 1, paid_at = ?, discount = ?, total = ?, payment_ref = ?
		WHERE id = ? AND paid = 0`,
		toMillis(paidAt), b.Discount, b.Total, b.PaymentRef, b.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark bill %d paid: %w", b.ID, err)
	}
	return res.RowsAffected()
}

// ListReminderCandidates returns seated parties whose first open visit started
// before startedBefore and whose bill is missing or unpaid without a reminder.
// BillID is zero when the bill has not been created yet.
func (q *Queries) ListReminderCandidates(ctx context.Context, startedBefore time.Time) ([]models.ReminderCandidate, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT COALESCE(b.id, 0), r.id, r.code, MIN(v.started_at) AS first_start
		FROM reservations r
		JOIN visits v ON v.reservation_id = r.id AND v.ended_at IS NULL
		LEFT JOIN bills b ON b.reservation_id = r.id
		WHERE r.status = 'ARRIVED'
		  AND (b.id IS NULL OR (b.paid = 0 AND b.reminder_sent = 0))
		GROUP BY r.id
		HAVING MIN(v.started_at) <= ?
		ORDER BY first_start, r.id`,
		toMillis(startedBefore),
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	defer rows.Close()

	var out []models.ReminderCandidate
	for rows.Next() {
		var (
			c       models.ReminderCandidate
			started int64
		)
		if err := rows.Scan(&c.BillID, &c.ReservationID, &c.Code, &started); err != nil {
			return nil, err
		}
		c.VisitStart = fromMillis(started)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) MarkReminderSent(ctx context.Context, billID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bills SET reminder_sent = 1 WHERE id = ? AND reminder_sent = 0 AND paid = 0`, billID)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent for bill %d: %w", billID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
