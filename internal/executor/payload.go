package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// text is a payload string that also accepts JSON numbers, since models
// often emit phone numbers and codes unquoted.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*t = text(n.String())
	return nil
}

func (t text) String() string { return string(t) }

type userFields struct {
	Name  text `json:"name"`
	Email text `json:"email"`
	Phone text `json:"phone"`
}

type sendOTPPayload struct {
	Phone text `json:"phone" validate:"required"`
}

type verifyOTPPayload struct {
	Phone text `json:"phone" validate:"required"`
	OTP   text `json:"otp" validate:"required"`
}

type fetchSlotsPayload struct {
	ServiceID text `json:"service_id" validate:"required"`
	Date      text `json:"date" validate:"required"`
}

type createBookingPayload struct {
	ServiceID      text        `json:"service_id" validate:"required"`
	Date           text        `json:"date" validate:"required"`
	Time           text        `json:"time" validate:"required"`
	SlotID         text        `json:"slot_id"`
	Name           text        `json:"name" validate:"required"`
	Email          text        `json:"email" validate:"required,email"`
	Phone          text        `json:"phone" validate:"required"`
	IdempotencyKey text        `json:"idempotency_key"`
	User           *userFields `json:"user"`
	UserDetails    *userFields `json:"userDetails"`
}

// normalize folds the nested user shapes and slot_id into the flat fields.
func (p *createBookingPayload) normalize() {
	for _, u := range []*userFields{p.User, p.UserDetails} {
		if u == nil {
			continue
		}
		if p.Name == "" {
			p.Name = u.Name
		}
		if p.Email == "" {
			p.Email = u.Email
		}
		if p.Phone == "" {
			p.Phone = u.Phone
		}
	}
	if p.Time == "" {
		p.Time = p.SlotID
	}
}

type fetchBookingsPayload struct {
	Email text `json:"email" validate:"required"`
}

func (p *fetchBookingsPayload) normalize() {
	if strings.EqualFold(string(p.Email), "unknown") {
		p.Email = ""
	}
}

type reschedulePayload struct {
	BookingID text `json:"booking_id" validate:"required"`
	Date      text `json:"date" validate:"required"`
	Time      text `json:"time" validate:"required"`
	SlotID    text `json:"slot_id"`
}

func (p *reschedulePayload) normalize() {
	if p.Time == "" {
		p.Time = p.SlotID
	}
}

type cancelPayload struct {
	BookingID text `json:"booking_id" validate:"required"`
}
