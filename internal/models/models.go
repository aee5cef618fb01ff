package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the booking lifecycle state as reported by the backend.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusArrived   Status = "ARRIVED"
	StatusInService Status = "IN_SERVICE"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every value the backend accepts, in lifecycle order.
var Statuses = []Status{
	StatusScheduled,
	StatusArrived,
	StatusInService,
	StatusCompleted,
	StatusNoShow,
	StatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus accepts the wire value in any case, with '-' or ' ' in place of '_'.
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	s := Status(norm)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Label is the short human caption used on action buttons.
func (s Status) Label() string {
	switch s {
	case StatusScheduled:
		return "Scheduled"
	case StatusArrived:
		return "Arrived"
	case StatusInService:
		return "In Service"
	case StatusCompleted:
		return "Completed"
	case StatusNoShow:
		return "No-show"
	case StatusCancelled:
		return "Cancel"
	default:
		return string(s)
	}
}

// Actions are the statuses a staff member may request from the detail pane.
// Whether a given transition is legal is decided by the backend.
var Actions = []Status{
	StatusArrived,
	StatusInService,
	StatusCompleted,
	StatusNoShow,
	StatusCancelled,
}

// User is the staff account returned by /auth/me.
type User struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	StoreID *int64 `json:"store_id"`
}

// TokenPair is the /auth/login response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// Session is an authenticated staff session. It lives in memory only.
type Session struct {
	Token        string
	RefreshToken string
	User         User
	ExpiresAt    time.Time // zero when the token carries no exp claim
}

// Store is reference data listed by /stores.
type Store struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	City   string `json:"city"`
	Region string `json:"region,omitempty"`
	Brand  string `json:"brand,omitempty"`
}

// Booking is a scheduled customer service slot.
type Booking struct {
	ID               string     `json:"id"`
	BookingCode      string     `json:"booking_code"`
	ScheduledStartAt time.Time  `json:"scheduled_start_at"`
	ScheduledEndAt   *time.Time `json:"scheduled_end_at,omitempty"`
	Status           Status     `json:"status"`
	StoreID          int64      `json:"store_id"`
	ServiceID        int64      `json:"service_id"`
	ConsultantID     *int64     `json:"consultant_id"`
	SourceChannel    string     `json:"source_channel"`
}

// UnmarshalJSON accepts timestamps with or without a zone offset; the backend
// emits naive UTC datetimes.
func (b *Booking) UnmarshalJSON(data []byte) error {
	type alias Booking
	var raw struct {
		alias
		ScheduledStartAt Timestamp  `json:"scheduled_start_at"`
		ScheduledEndAt   *Timestamp `json:"scheduled_end_at,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Booking(raw.alias)
	b.ScheduledStartAt = raw.ScheduledStartAt.Time
	if raw.ScheduledEndAt != nil && !raw.ScheduledEndAt.IsZero() {
		end := raw.ScheduledEndAt.Time
		b.ScheduledEndAt = &end
	}
	return nil
}

// KPISnapshot holds daily booking outcome counts for one store.
type KPISnapshot struct {
	StoreID   int64  `json:"store_id"`
	Date      string `json:"date"`
	Bookings  int    `json:"bookings"`
	Completed int    `json:"completed"`
	NoShow    int    `json:"no_show"`
	Cancelled int    `json:"cancelled"`
}

// StatusResult is the PATCH /bookings/{id}/status response.
type StatusResult struct {
	OK     bool   `json:"ok"`
	Status Status `json:"status"`
}

// Incident is a staff note raised against a booking.
type Incident struct {
	BookingID string `json:"booking_id"`
	Severity  string `json:"severity"`
	Category  string `json:"category"`
	Note      string `json:"note"`
}

// FindBooking returns the booking with id from list.
func FindBooking(list []Booking, id string) (Booking, bool) {
	for _, b := range list {
		if b.ID == id {
			return b, true
		}
	}
	return Booking{}, false
}
