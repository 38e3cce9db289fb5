// Package lifecycle implements the reservation and waiting-list state machine.
package lifecycle

import (
	"fmt"

	"tableside/internal/models"
)

// FSM manages status transitions for reservations and waiting-list entries.
type FSM struct {
	transitions map[models.Status][]models.Status
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.Status][]models.Status{
			models.StatusConfirmed: {models.StatusArrived, models.StatusPending, models.StatusCanceled},
			models.StatusPending:   {models.StatusArrived, models.StatusCanceled},
			models.StatusArrived:   {models.StatusExpired},
			models.StatusCanceled:  {},
			models.StatusExpired:   {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.Status) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns the business error for a disallowed transition, or nil.
func (f *FSM) Check(from, to models.Status) error {
	if f.CanTransition(from, to) {
		return nil
	}
	switch {
	case from.IsTerminal():
		return models.ErrAlreadyTerminal
	case from == models.StatusArrived:
		return models.ErrAlreadyCheckedIn
	default:
		return models.Invalid(fmt.Sprintf("cannot move reservation from %s to %s", from, to))
	}
}
