package inventory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tableside/internal/config"
	"tableside/internal/database"
	"tableside/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInventory(t *testing.T) (*Inventory, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "inv.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, &logger), db
}

func tablesConfig(tables ...config.TableConfig) *config.TablesConfig {
	return &config.TablesConfig{Tables: tables}
}

func TestSyncAndSnapshot(t *testing.T) {
	inv, db := newInventory(t)
	ctx := context.Background()
	off := false

	require.NoError(t, inv.Sync(ctx, tablesConfig(
		config.TableConfig{ID: 1, Name: "T1", Seats: 2},
		config.TableConfig{ID: 2, Name: "T2", Seats: 4},
		config.TableConfig{ID: 3, Name: "T3", Seats: 4},
		config.TableConfig{ID: 4, Name: "Patio", Seats: 6, IsActive: &off},
	)))

	snap, err := inv.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Tables, 4)
	assert.Equal(t, 10, snap.TotalSeats)
	assert.Equal(t, 3, snap.TablesCount[models.TableFree])

	_, err = db.CommitHold(ctx, 2, 9, time.Now().Add(time.Hour))
	require.NoError(t, err)

	snap, err = inv.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TablesCount[models.TableReserved])
	assert.Equal(t, 4, snap.SeatsByState[models.TableReserved])
	assert.Equal(t, 6, snap.SeatsByState[models.TableFree])
}

func TestSyncRemovesTables(t *testing.T) {
	inv, db := newInventory(t)
	ctx := context.Background()

	require.NoError(t, inv.Sync(ctx, tablesConfig(
		config.TableConfig{ID: 1, Name: "T1", Seats: 2},
		config.TableConfig{ID: 2, Name: "T2", Seats: 4},
		config.TableConfig{ID: 3, Name: "T3", Seats: 6},
	)))

	_, err := db.CommitHold(ctx, 3, 11, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, inv.Sync(ctx, tablesConfig(
		config.TableConfig{ID: 1, Name: "T1", Seats: 2},
	)))

	active, err := db.LoadActiveTables(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(active))
	for _, c := range active {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids, "held table stays active until released")

	_, err = db.CommitRelease(ctx, 11)
	require.NoError(t, err)
	require.NoError(t, inv.Sync(ctx, tablesConfig(
		config.TableConfig{ID: 1, Name: "T1", Seats: 2},
	)))

	active, err = db.LoadActiveTables(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)
}

func TestSyncNilConfig(t *testing.T) {
	inv, _ := newInventory(t)
	assert.Error(t, inv.Sync(context.Background(), nil))
}
