// Package model defines the core domain types for the club roster.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RegistrationState is the position of a registration on an event roster.
// The numeric values order Confirmed before Waitlisted.
type RegistrationState int

const (
	Confirmed  RegistrationState = 0
	Waitlisted RegistrationState = 1
)

func (s RegistrationState) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Waitlisted:
		return "waitlisted"
	default:
		return fmt.Sprintf("RegistrationState(%d)", int(s))
	}
}

// MarshalJSON encodes the state by name.
func (s RegistrationState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the names produced by MarshalJSON.
func (s *RegistrationState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "confirmed":
		*s = Confirmed
	case "waitlisted":
		*s = Waitlisted
	default:
		return fmt.Errorf("unknown registration state %q", name)
	}
	return nil
}

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	StatusOpen   EventStatus = "open"
	StatusLocked EventStatus = "locked"
)

// Event represents a club event that members can sign up for.
//
// Locked holds the stored admin flag until Resolve replaces it with the
// effective lock, which also covers a date in the past.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	Capacity  int       `json:"capacity"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`

	// Derived from the roster when the event is read.
	ConfirmedCount  int                `json:"confirmed_count"`
	WaitlistedCount int                `json:"waitlisted_count"`
	ViewerState     *RegistrationState `json:"viewer_state,omitempty"`

	// Derived from the clock by Resolve.
	Status    EventStatus `json:"status"`
	Available int         `json:"available"`
}

// IsLocked reports whether registration changes are closed at now: either an
// admin locked the event or its date has passed.
func (e *Event) IsLocked(now time.Time) bool {
	return e.Locked || e.Date.Before(now)
}

// Resolve fills the fields that depend on now. Calling it again with a later
// now never reopens the event.
func (e *Event) Resolve(now time.Time) {
	e.Locked = e.IsLocked(now)
	e.Status = StatusOpen
	if e.Locked {
		e.Status = StatusLocked
	}
	e.Available = max(e.Capacity-e.ConfirmedCount, 0)
}

// Registration is one member's entry on an event roster.
type Registration struct {
	EventID      string            `json:"event_id"`
	UserID       string            `json:"user_id"`
	UserName     string            `json:"user_name"`
	Comment      string            `json:"comment"`
	RegisteredAt time.Time         `json:"registered_at"`
	State        RegistrationState `json:"state"`
}

// User is a club member account.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Viewer identifies who is making a request.
type Viewer struct {
	UserID  string
	IsAdmin bool
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Capacity int       `json:"capacity"`
}

// UpdateEventRequest is the payload for editing an event. Changing the
// capacity reconciles the roster.
type UpdateEventRequest struct {
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Capacity int       `json:"capacity"`
}

// RegisterRequest is the payload for signing up for an event. UserID is only
// honoured for admins registering someone else.
type RegisterRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Comment string `json:"comment"`
}

// CommentRequest is the payload for editing a registration comment.
type CommentRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Comment string `json:"comment"`
}

// CreateUserRequest is the payload for creating a member account.
type CreateUserRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// RegisterResponse reports where a registration landed.
type RegisterResponse struct {
	EventID string            `json:"event_id"`
	UserID  string            `json:"user_id"`
	State   RegistrationState `json:"state"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
