package models

import "time"

// TableState is the occupancy state of a physical table.
type TableState string

const (
	TableFree     TableState = "FREE"
	TableReserved TableState = "RESERVED"
	TableOccupied TableState = "OCCUPIED"
)

// Status is the lifecycle status of a reservation or waiting-list entry.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusPending   Status = "PENDING"
	StatusArrived   Status = "ARRIVED"
	StatusExpired   Status = "EXPIRED"
	StatusCanceled  Status = "CANCELED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusCanceled
}

// Kind distinguishes scheduled reservations from walk-in waiting-list entries.
type Kind string

const (
	KindReservation Kind = "reservation"
	KindWaiting     Kind = "waiting"
)

// Table is a physical table from the inventory.
type Table struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Seats      int        `json:"seats"`
	Active     bool       `json:"active"`
	State      TableState `json:"state"`
	HoldOwner  *int64     `json:"hold_owner,omitempty"`
	HoldExpiry *time.Time `json:"hold_expiry,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableCandidate is the planner's view of a table.
type TableCandidate struct {
	ID    int64
	Seats int
}

// Reservation is either a scheduled reservation or a waiting-list entry.
// Waiting entries use the join time as RequestedTime.
type Reservation struct {
	ID               int64     `json:"id"`
	Kind             Kind      `json:"kind"`
	PartySize        int       `json:"party_size"`
	RequestedTime    time.Time `json:"requested_time"`
	ExpiryTime       time.Time `json:"expiry_time"`
	Status           Status    `json:"status"`
	ConfirmationCode string    `json:"confirmation_code"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Identity is who a reservation belongs to: a subscriber or a guest.
type Identity struct {
	SubscriberUsername string `json:"subscriber_username,omitempty"`
	GuestEmail         string `json:"guest_email,omitempty"`
	GuestPhone         string `json:"guest_phone,omitempty"`
}

// IsSubscriber reports whether the identity refers to a registered subscriber.
func (i Identity) IsSubscriber() bool {
	return i.SubscriberUsername != ""
}

// Valid reports whether the identity names a subscriber or a complete guest contact.
func (i Identity) Valid() bool {
	if i.IsSubscriber() {
		return true
	}
	return i.GuestEmail != "" && i.GuestPhone != ""
}

// Activity links a reservation to an identity.
type Activity struct {
	ID            int64     `json:"id"`
	ReservationID int64     `json:"reservation_id"`
	Identity      Identity  `json:"identity"`
	CreatedAt     time.Time `json:"created_at"`
}

// Subscriber is a registered guest eligible for discounts and chat notifications.
type Subscriber struct {
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Visit is one table's share of a seated party.
type Visit struct {
	ID            int64      `json:"id"`
	ReservationID int64      `json:"reservation_id"`
	TableID       int64      `json:"table_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
}

// Bill amounts are in minor currency units.
type Bill struct {
	ID            int64      `json:"id"`
	ReservationID int64      `json:"reservation_id"`
	VisitID       int64      `json:"visit_id"`
	Subtotal      int64      `json:"subtotal"`
	Discount      int64      `json:"discount"`
	Total         int64      `json:"total"`
	Paid          bool       `json:"paid"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	PaymentRef    string     `json:"payment_ref,omitempty"`
	ReminderSent  bool       `json:"reminder_sent"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ApplyDiscount recomputes discount and total for the given percentage.
func (b *Bill) ApplyDiscount(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	b.Discount = b.Subtotal * int64(percent) / 100
	b.Total = b.Subtotal - b.Discount
}

// ReminderCandidate is an unpaid bill whose visit has been running for a while.
type ReminderCandidate struct {
	BillID        int64
	ReservationID int64
	Code          string
	VisitStart    time.Time
}

// Receipt is returned by a successful payment.
type Receipt struct {
	Code           string    `json:"code"`
	BillID         int64     `json:"bill_id"`
	Subtotal       int64     `json:"subtotal"`
	Discount       int64     `json:"discount"`
	Total          int64     `json:"total"`
	PaymentRef     string    `json:"payment_ref,omitempty"`
	TablesReleased int       `json:"tables_released"`
	PaidAt         time.Time `json:"paid_at"`
}
