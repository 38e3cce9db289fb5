package api

import (
	"net/http"
	"strings"
	"time"

	"tableside/internal/lifecycle"
	"tableside/internal/models"

	"github.com/labstack/echo/v4"
)

// IdentityFields identify the guest behind a request: a subscriber username
// or a guest email and phone.
type IdentityFields struct {
	SubscriberUsername string `json:"subscriber_username,omitempty" validate:"omitempty,min=3,max=32"`
	GuestEmail         string `json:"guest_email,omitempty" validate:"omitempty,email"`
	GuestPhone         string `json:"guest_phone,omitempty" validate:"omitempty,min=5,max=32"`
}

func (f IdentityFields) identity() models.Identity {
	return models.Identity{
		SubscriberUsername: strings.TrimSpace(f.SubscriberUsername),
		GuestEmail:         strings.TrimSpace(f.GuestEmail),
		GuestPhone:         strings.TrimSpace(f.GuestPhone),
	}
}

// CreateReservationRequest is the body of POST /api/v1/reservations.
type CreateReservationRequest struct {
	PartySize     int       `json:"party_size" validate:"gt=0"`
	RequestedTime time.Time `json:"requested_time"`
	IdentityFields
}

// JoinWaitingRequest is the body of POST /api/v1/waiting.
type JoinWaitingRequest struct {
	PartySize int `json:"party_size" validate:"gt=0"`
	IdentityFields
}

// RegisterSubscriberRequest is the body of POST /api/v1/subscribers.
type RegisterSubscriberRequest struct {
	Username       string `json:"username" validate:"required,alphanum,min=3,max=32"`
	DisplayName    string `json:"display_name" validate:"max=64"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
}

// ReservationResponse describes a reservation or waiting-list entry.
type ReservationResponse struct {
	Code          string           `json:"confirmation_code"`
	Kind          models.Kind      `json:"kind"`
	Status        models.Status    `json:"status"`
	PartySize     int              `json:"party_size"`
	RequestedTime time.Time        `json:"requested_time"`
	ExpiryTime    time.Time        `json:"expiry_time"`
	Identity      *models.Identity `json:"identity,omitempty"`
	Tables        []TableResponse  `json:"tables"`
}

type TableResponse struct {
	ID    int64             `json:"id"`
	Name  string            `json:"name"`
	Seats int               `json:"seats"`
	State models.TableState `json:"state"`
}

// BillResponse is the body of GET /api/v1/reservations/:code/bill.
type BillResponse struct {
	Code     string     `json:"confirmation_code"`
	BillID   int64      `json:"bill_id"`
	Subtotal int64      `json:"subtotal"`
	Discount int64      `json:"discount"`
	Total    int64      `json:"total"`
	Paid     bool       `json:"paid"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`
}

func reservationResponse(r *models.Reservation, id *models.Identity, tables []models.Table) ReservationResponse {
	resp := ReservationResponse{
		Code:          r.ConfirmationCode,
		Kind:          r.Kind,
		Status:        r.Status,
		PartySize:     r.PartySize,
		RequestedTime: r.RequestedTime,
		ExpiryTime:    r.ExpiryTime,
		Identity:      id,
		Tables:        make([]TableResponse, 0, len(tables)),
	}
	for _, t := range tables {
		resp.Tables = append(resp.Tables, TableResponse{ID: t.ID, Name: t.Name, Seats: t.Seats, State: t.State})
	}
	return resp
}

func viewResponse(v *lifecycle.View) ReservationResponse {
	return reservationResponse(v.Reservation, v.Identity, v.Tables)
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return models.Invalid("malformed request body")
	}
	return c.Validate(req)
}

func (s *Server) createReservation(c echo.Context) error {
	var req CreateReservationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	r, err := s.lifecycle.CreateReservation(c.Request().Context(), lifecycle.CreateRequest{
		PartySize:     req.PartySize,
		RequestedTime: req.RequestedTime,
		Identity:      req.identity(),
	})
	if err != nil {
		return err
	}
	id := req.identity()
	return c.JSON(http.StatusCreated, reservationResponse(r, &id, nil))
}

func (s *Server) joinWaitingList(c echo.Context) error {
	var req JoinWaitingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	v, err := s.lifecycle.JoinWaitingList(c.Request().Context(), lifecycle.WaitingRequest{
		PartySize: req.PartySize,
		Identity:  req.identity(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewResponse(v))
}

func (s *Server) getReservation(c echo.Context) error {
	v, err := s.lifecycle.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewResponse(v))
}

// checkIn answers 202 when the party was moved to the waiting list.
func (s *Server) checkIn(c echo.Context) error {
	v, err := s.lifecycle.CheckIn(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	status := http.StatusOK
	if v.Reservation.Status == models.StatusPending {
		status = http.StatusAccepted
	}
	return c.JSON(status, viewResponse(v))
}

func (s *Server) cancel(c echo.Context) error {
	r, err := s.lifecycle.Cancel(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reservationResponse(r, nil, nil))
}

func (s *Server) bill(c echo.Context) error {
	code := c.Param("code")
	b, err := s.settlement.BillFor(c.Request().Context(), code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BillResponse{
		Code:     code,
		BillID:   b.ID,
		Subtotal: b.Subtotal,
		Discount: b.Discount,
		Total:    b.Total,
		Paid:     b.Paid,
		PaidAt:   b.PaidAt,
	})
}

func (s *Server) pay(c echo.Context) error {
	receipt, err := s.settlement.Pay(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}

func (s *Server) tables(c echo.Context) error {
	snap, err := s.inventory.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) registerSubscriber(c echo.Context) error {
	var req RegisterSubscriberRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sub := &models.Subscriber{
		Username:       req.Username,
		DisplayName:    req.DisplayName,
		TelegramChatID: req.TelegramChatID,
	}
	if err := s.subscribers.UpsertSubscriber(c.Request().Context(), sub); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sub)
}
