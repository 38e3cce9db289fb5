// Package inventory keeps the table inventory in step with tables.yaml and reports its state.
package inventory

import (
	"context"
	"fmt"

	"tableside/internal/config"
	"tableside/internal/metrics"
	"tableside/internal/models"
	"tableside/internal/store"

	"github.com/rs/zerolog"
)

// Snapshot is a point-in-time view of the inventory.
type Snapshot struct {
	Tables       []models.Table            `json:"tables"`
	TotalSeats   int                       `json:"total_seats"`
	TablesCount  map[models.TableState]int `json:"tables_by_state"`
	SeatsByState map[models.TableState]int `json:"seats_by_state"`
}

// Inventory syncs configured tables into the store and exposes snapshots.
type Inventory struct {
	store  store.Store
	logger *zerolog.Logger
}

func New(st store.Store, logger *zerolog.Logger) *Inventory {
	l := logger.With().Str("component", "inventory").Logger()
	return &Inventory{store: st, logger: &l}
}

// Sync applies cfg to the store in one transaction. Tables missing from cfg are
// deactivated; a table in use keeps its seats and active flag until it is free.
func (inv *Inventory) Sync(ctx context.Context, cfg *config.TablesConfig) error {
	if cfg == nil {
		return fmt.Errorf("tables config is nil")
	}

	var deactivated int64
	err := inv.store.WithTx(ctx, func(tx store.Tx) error {
		keep := make([]int64, 0, len(cfg.Tables))
		for _, t := range cfg.Tables {
			if err := tx.UpsertTable(ctx, models.Table{
				ID:     t.ID,
				Name:   t.Name,
				Seats:  t.Seats,
				Active: t.Active(),
			}); err != nil {
				return err
			}
			keep = append(keep, t.ID)
		}

		n, err := tx.DeactivateMissingTables(ctx, keep)
		if err != nil {
			return err
		}
		deactivated = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync tables: %w", err)
	}

	inv.logger.Info().
		Int("tables", len(cfg.Tables)).
		Int64("deactivated", deactivated).
		Msg("Table inventory synced")

	inv.Refresh(ctx)
	return nil
}

// Snapshot returns all tables with totals over the active ones.
func (inv *Inventory) Snapshot(ctx context.Context) (*Snapshot, error) {
	tables, err := inv.store.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	snap := &Snapshot{
		Tables:       tables,
		TablesCount:  map[models.TableState]int{},
		SeatsByState: map[models.TableState]int{},
	}
	if snap.Tables == nil {
		snap.Tables = []models.Table{}
	}
	for _, t := range tables {
		if !t.Active {
			continue
		}
		snap.TotalSeats += t.Seats
		snap.TablesCount[t.State]++
		snap.SeatsByState[t.State] += t.Seats
	}
	return snap, nil
}

// Refresh updates the tables_by_state gauges. Errors are logged only.
func (inv *Inventory) Refresh(ctx context.Context) {
	snap, err := inv.Snapshot(ctx)
	if err != nil {
		inv.logger.Warn().Err(err).Msg("failed to refresh table gauges")
		return
	}
	counts := make(map[string]int, len(snap.TablesCount))
	for state, n := range snap.TablesCount {
		counts[string(state)] = n
	}
	metrics.SetTablesByState(counts)
}
