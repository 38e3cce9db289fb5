package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var typed, all []Event
	bus.Subscribe(ReservationCreated, func(e Event) error {
		typed = append(typed, e)
		return nil
	})
	bus.SubscribeAll(func(e Event) error {
		all = append(all, e)
		return nil
	})

	require.NoError(t, bus.PublishJSON(ReservationCreated, ReservationPayload{ReservationID: 1, Code: "ABC", PartySize: 4}))
	require.NoError(t, bus.PublishJSON(BillPaid, BillPayload{ReservationID: 1, Total: 900}))

	require.Len(t, typed, 1)
	require.Len(t, all, 2)
	assert.NotZero(t, typed[0].ID)
	assert.False(t, typed[0].CreatedAt.IsZero())
	assert.NotEqual(t, all[0].ID, all[1].ID)

	var p ReservationPayload
	require.NoError(t, json.Unmarshal(typed[0].Payload, &p))
	assert.Equal(t, "ABC", p.Code)
}

func TestEventBusReturnsFirstHandlerError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	calls := 0
	bus.Subscribe(BillPaid, func(Event) error { calls++; return boom })
	bus.Subscribe(BillPaid, func(Event) error { calls++; return nil })

	assert.ErrorIs(t, bus.Publish(Event{Type: BillPaid}), boom)
	assert.Equal(t, 2, calls, "later handlers still run")
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestAMQPForwarder(t *testing.T) {
	logger := zerolog.Nop()
	ch := &mockChannel{}
	ch.On("ExchangeDeclare", "tableside.events", "topic", true).Return(nil)
	ch.On("PublishWithContext", "tableside.events", ReservationCanceled, mock.MatchedBy(func(msg amqp.Publishing) bool {
		return msg.DeliveryMode == amqp.Persistent && msg.ContentType == "application/json" && string(msg.Body) == `{"x":1}`
	})).Return(nil)
	ch.On("Close").Return(nil)

	f, err := NewAMQPForwarder(ch, "tableside.events", &logger)
	require.NoError(t, err)

	bus := NewEventBus()
	bus.SubscribeAll(f.Handle)
	require.NoError(t, bus.Publish(Event{Type: ReservationCanceled, Payload: []byte(`{"x":1}`)}))
	require.NoError(t, f.Close())

	ch.AssertExpectations(t)
}

func TestAMQPForwarderDeclareFailure(t *testing.T) {
	logger := zerolog.Nop()
	ch := &mockChannel{}
	ch.On("ExchangeDeclare", "x", "topic", true).Return(errors.New("denied"))

	_, err := NewAMQPForwarder(ch, "x", &logger)
	assert.Error(t, err)
}
