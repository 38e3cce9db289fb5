package settlement

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tableside/internal/allocator"
	"tableside/internal/database"
	"tableside/internal/events"
	"tableside/internal/models"
	"tableside/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQuoter struct {
	mock.Mock
}

func (m *mockQuoter) Quote(ctx context.Context, partySize, diningMinutes int) (int64, error) {
	args := m.Called(partySize, diningMinutes)
	return args.Get(0).(int64), args.Error(1)
}

type mockPayer struct {
	mock.Mock
}

func (m *mockPayer) Charge(ctx context.Context, ref, code string, amount int64) error {
	return m.Called(ref, code, amount).Error(0)
}

var errInjected = errors.New("injected failure")

// faultyStore fails one tx operation on demand.
type faultyStore struct {
	store.Store
	failOn string
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, failOn: s.failOn})
	})
}

type faultyTx struct {
	store.Tx
	failOn string
}

func (t *faultyTx) CloseVisits(ctx context.Context, reservationID int64, at time.Time) (int64, error) {
	if t.failOn == "close_visits" {
		return 0, errInjected
	}
	return t.Tx.CloseVisits(ctx, reservationID, at)
}

func (t *faultyTx) CommitRelease(ctx context.Context, owner int64) (int64, error) {
	if t.failOn == "release" {
		return 0, errInjected
	}
	return t.Tx.CommitRelease(ctx, owner)
}

func (t *faultyTx) TransitionReservation(ctx context.Context, id int64, from, to models.Status) error {
	if t.failOn == "transition" {
		return errInjected
	}
	return t.Tx.TransitionReservation(ctx, id, from, to)
}

type fixture struct {
	db     *database.DB
	quoter *mockQuoter
	payer  *mockPayer
	paid   []string
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "settle.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for i, s := range []int{2, 4, 4} {
		require.NoError(t, db.UpsertTable(ctx, models.Table{ID: int64(i + 1), Name: "T", Seats: s, Active: true}))
	}
	return &fixture{
		db:     db,
		quoter: &mockQuoter{},
		payer:  &mockPayer{},
		now:    time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) service(st store.Store) *Service {
	logger := zerolog.Nop()
	bus := events.NewEventBus()
	bus.Subscribe(events.BillPaid, func(e events.Event) error {
		f.paid = append(f.paid, string(e.Payload))
		return nil
	})
	alloc := allocator.New(st, &logger, allocator.WithClock(func() time.Time { return f.now }))
	return NewService(st, alloc, f.quoter, f.payer, bus, Config{DiningMinutes: 120, SubscriberDiscount: 10}, &logger)
}

// seat stores a reservation in status with the given tables occupied and visits open.
func (f *fixture) seat(t *testing.T, code string, status models.Status, id models.Identity, tables ...int64) *models.Reservation {
	t.Helper()
	ctx := context.Background()
	r := &models.Reservation{
		Kind:             models.KindReservation,
		PartySize:        6,
		RequestedTime:    f.now.Add(-time.Hour),
		ExpiryTime:       f.now.Add(time.Hour),
		Status:           status,
		ConfirmationCode: code,
	}
	require.NoError(t, f.db.InsertReservation(ctx, r))
	require.NoError(t, f.db.InsertActivity(ctx, &models.Activity{ReservationID: r.ID, Identity: id}))

	for _, tb := range tables {
		n, err := f.db.CommitHold(ctx, tb, r.ID, f.now.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		require.NoError(t, f.db.InsertVisit(ctx, &models.Visit{ReservationID: r.ID, TableID: tb, StartTime: f.now.Add(-time.Hour)}))
	}
	if len(tables) > 0 {
		_, err := f.db.CommitOccupy(ctx, r.ID, f.now)
		require.NoError(t, err)
	}
	return r
}

var guest = models.Identity{GuestEmail: "g@example.com", GuestPhone: "+15550100"}

func TestBillForIsLazy(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.db)
	ctx := context.Background()

	f.seat(t, "WAIT", models.StatusConfirmed, guest)
	_, err := svc.BillFor(ctx, "WAIT")
	assert.ErrorIs(t, err, models.ErrNotCheckedIn)

	f.seat(t, "SEAT", models.StatusArrived, guest, 2, 3)
	f.quoter.On("Quote", 6, 120).Return(int64(15000), nil).Once()

	bill, err := svc.BillFor(ctx, "SEAT")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), bill.Subtotal)
	assert.Equal(t, int64(15000), bill.Total)
	assert.False(t, bill.Paid)

	again, err := svc.BillFor(ctx, "SEAT")
	require.NoError(t, err)
	assert.Equal(t, bill.ID, again.ID)

	_, err = svc.BillFor(ctx, "NONE")
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.quoter.AssertExpectations(t)
}

func TestPayTwice(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.db)
	ctx := context.Background()

	r := f.seat(t, "PAY", models.StatusArrived, guest, 2, 3)
	f.quoter.On("Quote", 6, 120).Return(int64(20000), nil).Once()
	f.payer.On("Charge", mock.MatchedBy(func(ref string) bool { return strings.HasPrefix(ref, "pay_") }), "PAY", int64(20000)).Return(nil).Once()

	receipt, err := svc.Pay(ctx, "PAY")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), receipt.Total)
	assert.Zero(t, receipt.Discount)
	assert.Equal(t, 2, receipt.TablesReleased)
	assert.NotEmpty(t, receipt.PaymentRef)

	stored, err := f.db.ReservationByCode(ctx, "PAY")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)

	visits, err := f.db.OpenVisits(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, visits)

	free, err := f.db.LoadFreeTables(ctx)
	require.NoError(t, err)
	assert.Len(t, free, 3)

	_, err = svc.Pay(ctx, "PAY")
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)
	assert.False(t, models.Retryable(err))

	bill, err := f.db.BillByReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, bill.Paid)
	assert.Equal(t, receipt.PaymentRef, bill.PaymentRef)
	assert.Len(t, f.paid, 1)

	f.payer.AssertExpectations(t)
}

func TestPaySubscriberDiscount(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.db)
	ctx := context.Background()

	require.NoError(t, f.db.UpsertSubscriber(ctx, &models.Subscriber{Username: "ana"}))
	f.seat(t, "SUB", models.StatusArrived, models.Identity{SubscriberUsername: "ana"}, 1)
	f.quoter.On("Quote", 6, 120).Return(int64(12345), nil)
	f.payer.On("Charge", mock.Anything, "SUB", int64(11111)).Return(nil)

	receipt, err := svc.Pay(ctx, "SUB")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), receipt.Subtotal)
	assert.Equal(t, int64(1234), receipt.Discount)
	assert.Equal(t, int64(11111), receipt.Total)
}

func TestPayPreconditions(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.db)
	ctx := context.Background()

	f.seat(t, "CONF", models.StatusConfirmed, guest)
	f.seat(t, "PEND", models.StatusPending, guest)
	f.seat(t, "GONE", models.StatusCanceled, guest)
	f.seat(t, "NOVISIT", models.StatusArrived, guest)
	f.quoter.On("Quote", 6, 120).Return(int64(1000), nil)

	tests := []struct {
		code string
		want error
	}{
		{"MISSING", models.ErrNotFound},
		{"CONF", models.ErrNotCheckedIn},
		{"PEND", models.ErrNotCheckedIn},
		{"GONE", models.ErrAlreadyTerminal},
		{"NOVISIT", models.ErrNotCheckedIn},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := svc.Pay(ctx, tt.code)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	f.payer.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything)
}

func TestPayIsAtomicUnderFailure(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
		charge error
	}{
		{"close visits fails", "close_visits", nil},
		{"release fails", "release", nil},
		{"transition fails", "transition", nil},
		{"charge fails", "", errors.New("card declined")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			svc := f.service(&faultyStore{Store: f.db, failOn: tt.failOn})
			ctx := context.Background()

			r := f.seat(t, "ATOM", models.StatusArrived, guest, 2, 3)
			f.quoter.On("Quote", 6, 120).Return(int64(5000), nil)
			f.payer.On("Charge", mock.Anything, "ATOM", int64(5000)).Return(tt.charge)

			_, err := svc.Pay(ctx, "ATOM")
			require.Error(t, err)
			assert.Equal(t, models.KindInternal, models.KindOf(err))

			bill, err := f.db.BillByReservation(ctx, r.ID)
			require.NoError(t, err)
			if bill != nil {
				assert.False(t, bill.Paid)
			}

			visits, err := f.db.OpenVisits(ctx, r.ID)
			require.NoError(t, err)
			assert.Len(t, visits, 2)

			tables, err := f.db.TablesByOwner(ctx, r.ID)
			require.NoError(t, err)
			require.Len(t, tables, 2)
			for _, tb := range tables {
				assert.Equal(t, models.TableOccupied, tb.State)
			}

			stored, err := f.db.ReservationByCode(ctx, "ATOM")
			require.NoError(t, err)
			assert.Equal(t, models.StatusArrived, stored.Status)
			assert.Empty(t, f.paid)
		})
	}
}
