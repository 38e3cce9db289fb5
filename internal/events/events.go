package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Domain event types.
const (
	ReservationCreated   = "reservation.created"
	ReservationCheckedIn = "reservation.checked_in"
	ReservationPending   = "reservation.pending"
	ReservationCanceled  = "reservation.canceled"
	ReservationExpired   = "reservation.expired"
	ReservationPromoted  = "reservation.promoted"
	BillPaid             = "bill.paid"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// ReservationPayload is the body of reservation.* events.
type ReservationPayload struct {
	ReservationID int64   `json:"reservation_id"`
	Code          string  `json:"code"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	PartySize     int     `json:"party_size"`
	Tables        []int64 `json:"tables,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// BillPayload is the body of bill.* events.
type BillPayload struct {
	ReservationID int64  `json:"reservation_id"`
	Code          string `json:"code"`
	BillID        int64  `json:"bill_id"`
	Total         int64  `json:"total"`
	Discount      int64  `json:"discount"`
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	all         []EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish notifies subscribers of the event type and returns the first handler error.
func (b *EventBus) Publish(event Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var first error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishJSON marshals payload and publishes it under eventType.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return b.Publish(Event{Type: eventType, Payload: body})
}
