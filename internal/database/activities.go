package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tableside/internal/models"
)

func (q *Queries) InsertActivity(ctx context.Context, a *models.Activity) error {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO activities (reservation_id, subscriber_username, guest_email, guest_phone, created_at)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)`,
		a.ReservationID, a.Identity.SubscriberUsername, a.Identity.GuestEmail, a.Identity.GuestPhone, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	a.CreatedAt = fromMillis(toMillis(now))
	return nil
}

// ActivityByReservation returns nil without error when the reservation has no activity.
func (q *Queries) ActivityByReservation(ctx context.Context, reservationID int64) (*models.Activity, error) {
	var (
		a                   models.Activity
		username, email, ph sql.NullString
		createdAt           int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, reservation_id, subscriber_username, guest_email, guest_phone, created_at
		FROM activities WHERE reservation_id = ?`, reservationID,
	).Scan(&a.ID, &a.ReservationID, &username, &email, &ph, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Identity = models.Identity{
		SubscriberUsername: username.String,
		GuestEmail:         email.String,
		GuestPhone:         ph.String,
	}
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

func (q *Queries) UpsertSubscriber(ctx context.Context, s *models.Subscriber) error {
	now := q.now()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO subscribers (username, display_name, telegram_chat_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			display_name = excluded.display_name,
			telegram_chat_id = excluded.telegram_chat_id`,
		s.Username, s.DisplayName, s.TelegramChatID, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber %s: %w", s.Username, err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = fromMillis(toMillis(now))
	}
	return nil
}

// SubscriberByUsername returns nil without error for an unknown username.
func (q *Queries) SubscriberByUsername(ctx context.Context, username string) (*models.Subscriber, error) {
	var (
		s         models.Subscriber
		createdAt int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT username, display_name, telegram_chat_id, created_at
		FROM subscribers WHERE username = ?`, username,
	).Scan(&s.Username, &s.DisplayName, &s.TelegramChatID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	return &s, nil
}
