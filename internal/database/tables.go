package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tableside/internal/models"
)

const tableColumns = `id, name, seats, is_active, state, hold_owner, hold_expiry, updated_at`

func scanTable(rows *sql.Rows) (models.Table, error) {
	var (
		t         models.Table
		active    int
		owner     sql.NullInt64
		expiry    sql.NullInt64
		updatedAt int64
	)
	if err := rows.Scan(&t.ID, &t.Name, &t.Seats, &active, &t.State, &owner, &expiry, &updatedAt); err != nil {
		return t, err
	}
	t.Active = active == 1
	if owner.Valid {
		id := owner.Int64
		t.HoldOwner = &id
	}
	t.HoldExpiry = nullableTime(expiry)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

func (q *Queries) queryTables(ctx context.Context, query string, args ...any) ([]models.Table, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) queryCandidates(ctx context.Context, query string, args ...any) ([]models.TableCandidate, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TableCandidate
	for rows.Next() {
		var c models.TableCandidate
		if err := rows.Scan(&c.ID, &c.Seats); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTables returns the whole inventory including inactive tables.
func (q *Queries) ListTables(ctx context.Context) ([]models.Table, error) {
	return q.queryTables(ctx, `SELECT `+tableColumns+` FROM dining_tables ORDER BY id`)
}

// LoadFreeTables returns active tables nobody holds.
func (q *Queries) LoadFreeTables(ctx context.Context) ([]models.TableCandidate, error) {
	return q.queryCandidates(ctx, `
		SELECT id, seats FROM dining_tables
		WHERE state = 'FREE' AND is_active = 1
		ORDER BY seats, id`)
}

// LoadActiveTables returns every active table regardless of state.
func (q *Queries) LoadActiveTables(ctx context.Context) ([]models.TableCandidate, error) {
	return q.queryCandidates(ctx, `
		SELECT id, seats FROM dining_tables
		WHERE is_active = 1
		ORDER BY seats, id`)
}

// TablesByOwner returns the tables currently attributed to owner.
func (q *Queries) TablesByOwner(ctx context.Context, owner int64) ([]models.Table, error) {
	return q.queryTables(ctx, `SELECT `+tableColumns+` FROM dining_tables WHERE hold_owner = ? ORDER BY id`, owner)
}

func (q *Queries) CommitHold(ctx context.Context, tableID, owner int64, holdUntil time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dining_tables
		SET state = 'RESERVED', hold_owner = ?, hold_expiry = ?, updated_at = ?
		WHERE id = ? AND state = 'FREE' AND is_active = 1`,
		owner, toMillis(holdUntil), toMillis(q.now()), tableID,
	)
	if err != nil {
		return 0, fmt.Errorf("hold table %d: %w", tableID, err)
	}
	return res.RowsAffected()
}

func (q *Queries) CommitOccupy(ctx context.Context, owner int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dining_tables
		SET state = 'OCCUPIED', hold_expiry = NULL, updated_at = ?
		WHERE hold_owner = ? AND state = 'RESERVED' AND hold_expiry >= ?`,
		toMillis(now), owner, toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("occupy tables of %d: %w", owner, err)
	}
	return res.RowsAffected()
}

func (q *Queries) CommitRelease(ctx context.Context, owner int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dining_tables
		SET state = 'FREE', hold_owner = NULL, hold_expiry = NULL, updated_at = ?
		WHERE hold_owner = ? AND state IN ('RESERVED', 'OCCUPIED')`,
		toMillis(q.now()), owner,
	)
	if err != nil {
		return 0, fmt.Errorf("release tables of %d: %w", owner, err)
	}
	return res.RowsAffected()
}

func (q *Queries) CommitReleaseExpired(ctx context.Context, owner int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dining_tables
		SET state = 'FREE', hold_owner = NULL, hold_expiry = NULL, updated_at = ?
		WHERE hold_owner = ? AND state = 'RESERVED' AND hold_expiry < ?`,
		toMillis(now), owner, toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("release lapsed holds of %d: %w", owner, err)
	}
	return res.RowsAffected()
}

func (q *Queries) CommitExpire(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dining_tables
		SET state = 'FREE', hold_owner = NULL, hold_expiry = NULL, updated_at = ?
		WHERE state = 'RESERVED' AND hold_expiry < ?`,
		toMillis(now), toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expire holds: %w", err)
	}
	return res.RowsAffected()
}

// CountActiveHolds counts owner's RESERVED tables whose hold has not lapsed.
func (q *Queries) CountActiveHolds(ctx context.Context, owner int64, now time.Time) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dining_tables
		WHERE hold_owner = ? AND state = 'RESERVED' AND hold_expiry >= ?`,
		owner, toMillis(now),
	).Scan(&n)
	return n, err
}

// UpsertTable creates or updates a table. Seats and the active flag of a table
// in use are left alone until it is free again.
func (q *Queries) UpsertTable(ctx context.Context, t models.Table) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dining_tables (id, name, seats, is_active, state, updated_at)
		VALUES (?, ?, ?, ?, 'FREE', ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			seats = CASE WHEN state = 'FREE' THEN excluded.seats ELSE seats END,
			is_active = CASE WHEN state = 'FREE' THEN excluded.is_active ELSE is_active END,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Seats, boolToInt(t.Active), toMillis(q.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert table %d: %w", t.ID, err)
	}
	return nil
}

// DeactivateMissingTables deactivates free tables whose id is not in keep.
func (q *Queries) DeactivateMissingTables(ctx context.Context, keep []int64) (int64, error) {
	query := `UPDATE dining_tables SET is_active = 0, updated_at = ? WHERE state = 'FREE' AND is_active = 1`
	args := []any{toMillis(q.now())}
	if len(keep) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
		query += ` AND id NOT IN (` + placeholders + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate tables: %w", err)
	}
	return res.RowsAffected()
}
