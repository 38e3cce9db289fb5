package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tableside/internal/models"
)

func (q *Queries) InsertVisit(ctx context.Context, v *models.Visit) error {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO visits (reservation_id, table_id, started_at) VALUES (?, ?, ?)`,
		v.ReservationID, v.TableID, toMillis(v.StartTime),
	)
	if err != nil {
		return fmt.Errorf("insert visit for table %d: %w", v.TableID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

func (q *Queries) OpenVisits(ctx context.Context, reservationID int64) ([]models.Visit, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, reservation_id, table_id, started_at, ended_at
		FROM visits WHERE reservation_id = ? AND ended_at IS NULL
		ORDER BY id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Visit
	for rows.Next() {
		var (
			v       models.Visit
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&v.ID, &v.ReservationID, &v.TableID, &started, &ended); err != nil {
			return nil, err
		}
		v.StartTime = fromMillis(started)
		v.EndTime = nullableTime(ended)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CloseVisits ends every open visit of the reservation.
func (q *Queries) CloseVisits(ctx context.Context, reservationID int64, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE visits SET ended_at = ? WHERE reservation_id = ? AND ended_at IS NULL`,
		toMillis(at), reservationID,
	)
	if err != nil {
		return 0, fmt.Errorf("close visits of %d: %w", reservationID, err)
	}
	return res.RowsAffected()
}
