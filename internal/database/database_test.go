package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tableside/internal/config"
	"tableside/internal/models"
	"tableside/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedTables(t *testing.T, db *DB, seats ...int) {
	t.Helper()
	for i, s := range seats {
		require.NoError(t, db.UpsertTable(context.Background(), models.Table{
			ID: int64(i + 1), Name: "T", Seats: s, Active: true,
		}))
	}
}

func insertReservation(t *testing.T, db *DB, code string, party int, at time.Time, status models.Status) *models.Reservation {
	t.Helper()
	r := &models.Reservation{
		Kind:             models.KindReservation,
		PartySize:        party,
		RequestedTime:    at,
		ExpiryTime:       at.Add(2 * time.Hour),
		Status:           status,
		ConfirmationCode: code,
	}
	require.NoError(t, db.InsertReservation(context.Background(), r))
	return r
}

func TestTableHoldLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db, 2, 4, 4)
	now := time.Now()

	free, err := db.LoadFreeTables(ctx)
	require.NoError(t, err)
	assert.Len(t, free, 3)

	n, err := db.CommitHold(ctx, 2, 100, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	t.Run("second claim on the same table changes nothing", func(t *testing.T) {
		n, err := db.CommitHold(ctx, 2, 200, now.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("held table is not free", func(t *testing.T) {
		free, err := db.LoadFreeTables(ctx)
		require.NoError(t, err)
		assert.Len(t, free, 2)

		held, err := db.CountActiveHolds(ctx, 100, now)
		require.NoError(t, err)
		assert.Equal(t, 1, held)
	})

	t.Run("occupy is idempotent", func(t *testing.T) {
		n, err := db.CommitOccupy(ctx, 100, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = db.CommitOccupy(ctx, 100, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		tables, err := db.TablesByOwner(ctx, 100)
		require.NoError(t, err)
		require.Len(t, tables, 1)
		assert.Equal(t, models.TableOccupied, tables[0].State)
		assert.Nil(t, tables[0].HoldExpiry)
	})

	t.Run("release frees the table", func(t *testing.T) {
		n, err := db.CommitRelease(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = db.CommitRelease(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestCommitExpireAndLapsedOccupy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db, 4, 4)
	now := time.Now()

	_, err := db.CommitHold(ctx, 1, 7, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = db.CommitHold(ctx, 2, 8, now.Add(time.Hour))
	require.NoError(t, err)

	n, err := db.CommitOccupy(ctx, 7, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "lapsed hold cannot be occupied")

	n, err = db.CommitExpire(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tables, err := db.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, tables[0].State)
	assert.Nil(t, tables[0].HoldOwner)
	assert.Equal(t, models.TableReserved, tables[1].State)
}

func TestCommitReleaseExpiredIsPerOwner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db, 4, 4, 4)
	now := time.Now()

	_, err := db.CommitHold(ctx, 1, 7, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = db.CommitHold(ctx, 2, 7, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = db.CommitHold(ctx, 3, 8, now.Add(-time.Minute))
	require.NoError(t, err)

	n, err := db.CommitReleaseExpired(ctx, 7, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tables, err := db.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, tables[0].State)
	assert.Equal(t, models.TableReserved, tables[1].State, "live hold kept")
	assert.Equal(t, models.TableReserved, tables[2].State, "other owner untouched")
}

func TestUpsertAndDeactivateTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db, 2, 4, 6)

	_, err := db.CommitHold(ctx, 3, 1, time.Now().Add(time.Hour))
	require.NoError(t, err)

	t.Run("in-use table keeps seats and stays active", func(t *testing.T) {
		require.NoError(t, db.UpsertTable(ctx, models.Table{ID: 3, Name: "Big", Seats: 8, Active: false}))
		tables, err := db.ListTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Big", tables[2].Name)
		assert.Equal(t, 6, tables[2].Seats)
		assert.True(t, tables[2].Active)
	})

	t.Run("missing free tables are deactivated", func(t *testing.T) {
		n, err := db.DeactivateMissingTables(ctx, []int64{1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "table 2 is deactivated, table 3 is in use")

		active, err := db.LoadActiveTables(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})
}

func TestTransitionReservation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r := insertReservation(t, db, "ABC123", 4, time.Now().Add(time.Hour), models.StatusConfirmed)

	require.NoError(t, db.TransitionReservation(ctx, r.ID, models.StatusConfirmed, models.StatusArrived))

	err := db.TransitionReservation(ctx, r.ID, models.StatusConfirmed, models.StatusCanceled)
	assert.ErrorIs(t, err, models.ErrRaceLost)

	got, err := db.ReservationByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusArrived, got.Status)
	assert.Equal(t, 4, got.PartySize)

	_, err = db.ReservationByCode(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLoadOverlappingCommittedParties(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)

	insertReservation(t, db, "A", 2, base, models.StatusConfirmed)
	insertReservation(t, db, "B", 4, base.Add(time.Hour), models.StatusArrived)
	insertReservation(t, db, "C", 6, base, models.StatusCanceled)
	insertReservation(t, db, "D", 3, base.Add(3*time.Hour), models.StatusConfirmed)
	insertReservation(t, db, "E", 5, base.Add(-2*time.Hour), models.StatusConfirmed)
	insertReservation(t, db, "F", 8, base, models.StatusPending)

	sizes, err := db.LoadOverlappingCommittedParties(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 4, 8}, sizes)
}

func TestListQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db, 4)
	now := time.Now()

	old := insertReservation(t, db, "OLD", 2, now.Add(-time.Hour), models.StatusPending)
	young := insertReservation(t, db, "NEW", 2, now.Add(-time.Minute), models.StatusPending)
	insertReservation(t, db, "CONF", 2, now.Add(-30*time.Minute), models.StatusConfirmed)

	t.Run("requested before", func(t *testing.T) {
		list, err := db.ListRequestedBefore(ctx, models.StatusConfirmed, now)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "CONF", list[0].ConfirmationCode)
	})

	t.Run("pending without hold is oldest first", func(t *testing.T) {
		list, err := db.ListPendingWithoutHold(ctx, now)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, old.ID, list[0].ID)
		assert.Equal(t, young.ID, list[1].ID)
	})

	t.Run("active hold excludes the entry", func(t *testing.T) {
		_, err := db.CommitHold(ctx, 1, old.ID, now.Add(5*time.Minute))
		require.NoError(t, err)

		list, err := db.ListPendingWithoutHold(ctx, now)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, young.ID, list[0].ID)
	})
}

func TestWithTxRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db, 4)
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.CommitHold(ctx, 1, 42, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	free, err := db.LoadFreeTables(ctx)
	require.NoError(t, err)
	assert.Len(t, free, 1, "hold rolled back")
}

func TestVisitsBillsAndReminders(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTables(t, db, 4, 4)
	now := time.Now()

	r := insertReservation(t, db, "VISIT", 6, now.Add(-time.Hour), models.StatusArrived)
	for _, table := range []int64{1, 2} {
		require.NoError(t, db.InsertVisit(ctx, &models.Visit{ReservationID: r.ID, TableID: table, StartTime: now.Add(-time.Hour)}))
	}

	t.Run("one open visit per table", func(t *testing.T) {
		err := db.InsertVisit(ctx, &models.Visit{ReservationID: r.ID, TableID: 1, StartTime: now})
		assert.Error(t, err)
	})

	t.Run("candidate without a bill", func(t *testing.T) {
		list, err := db.ListReminderCandidates(ctx, now.Add(-30*time.Minute))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, int64(0), list[0].BillID)
		assert.Equal(t, "VISIT", list[0].Code)
	})

	bill := &models.Bill{ReservationID: r.ID, VisitID: 1, Subtotal: 10000, Total: 10000}
	require.NoError(t, db.InsertBill(ctx, bill))

	t.Run("reminder flag flips once", func(t *testing.T) {
		ok, err := db.MarkReminderSent(ctx, bill.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.MarkReminderSent(ctx, bill.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		list, err := db.ListReminderCandidates(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("bill paid once", func(t *testing.T) {
		bill.ApplyDiscount(10)
		n, err := db.MarkBillPaid(ctx, bill)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = db.MarkBillPaid(ctx, bill)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		got, err := db.BillByReservation(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, got.Paid)
		assert.Equal(t, int64(9000), got.Total)
		assert.NotNil(t, got.PaidAt)
	})

	t.Run("close visits", func(t *testing.T) {
		n, err := db.CloseVisits(ctx, r.ID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		open, err := db.OpenVisits(ctx, r.ID)
		require.NoError(t, err)
		assert.Empty(t, open)
	})
}

func TestActivitiesAndSubscribers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertSubscriber(ctx, &models.Subscriber{Username: "ana", DisplayName: "Ana", TelegramChatID: 77}))
	sub, err := db.SubscriberByUsername(ctx, "ana")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, int64(77), sub.TelegramChatID)

	missing, err := db.SubscriberByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, missing)

	r := insertReservation(t, db, "ACT", 2, time.Now().Add(time.Hour), models.StatusConfirmed)
	require.NoError(t, db.InsertActivity(ctx, &models.Activity{
		ReservationID: r.ID,
		Identity:      models.Identity{GuestEmail: "g@example.com", GuestPhone: "+1555"},
	}))

	a, err := db.ActivityByReservation(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.False(t, a.Identity.IsSubscriber())
	assert.Equal(t, "+1555", a.Identity.GuestPhone)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	seedTables(t, db, 4)
	logger := zerolog.Nop()

	dir := filepath.Join(t.TempDir(), "backups")
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Path: dir, RetentionDays: 1}, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	old := filepath.Join(dir, "tableside_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	past := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(old, past, past))

	deleted, err := svc.CleanupOldBackups()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)
}
