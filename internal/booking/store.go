// Package booking holds the authoritative booking state: the service
// catalog, availability, OTP challenges and bookings.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"booking-assistant/internal/domain"
)

var (
	ErrNotFound          = errors.New("booking: not found")
	ErrSlotUnavailable   = errors.New("booking: slot unavailable")
	ErrInvalidTransition = errors.New("booking: invalid status transition")
	ErrUnknownService    = errors.New("booking: unknown service")
	ErrInvalidSlot       = errors.New("booking: invalid slot")
	ErrInvalidDate       = errors.New("booking: invalid date")
)

// Store is the booking backend consumed by the action executor.
type Store interface {
	ListServices(ctx context.Context) ([]domain.Service, error)
	GetAvailability(ctx context.Context, date, serviceID string) ([]domain.TimeSlot, error)
	IssueOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) (bool, error)
	CreateBooking(ctx context.Context, draft domain.BookingDraft) (domain.Booking, error)
	RescheduleBooking(ctx context.Context, id, date, slot string) (domain.Booking, error)
	CancelBooking(ctx context.Context, id string) (bool, error)
	FindBookings(ctx context.Context, email string) ([]domain.Booking, error)
	ListAll(ctx context.Context) ([]domain.Booking, error)
}

// DateLayout is the wire format for booking dates.
const DateLayout = "2006-01-02"

// SlotGrid is the daily set of bookable start times.
var SlotGrid = []string{
	"09:00 AM", "09:30 AM", "10:00 AM", "10:30 AM",
	"11:00 AM", "01:00 PM", "01:30 PM", "02:00 PM",
	"03:30 PM", "04:00 PM",
}

// DefaultCatalog is the static service catalog.
func DefaultCatalog() []domain.Service {
	return []domain.Service{
		{
			ID:              "s1",
			Name:            "General Consultation",
			Description:     "A standard check-up to assess your overall health and vitals.",
			DurationMinutes: 30,
			Price:           50,
			ImageURL:        "https://images.unsplash.com/photo-1666214280557-f1b5022eb634?auto=format&fit=crop&w=400&h=200&q=80",
		},
		{
			ID:              "s2",
			Name:            "Specialist Referral",
			Description:     "Consultation to determine if you need a specialist surgeon or therapy.",
			DurationMinutes: 45,
			Price:           120,
			ImageURL:        "https://images.unsplash.com/photo-1537368910025-4003508ce487?auto=format&fit=crop&w=400&h=200&q=80",
		},
		{
			ID:              "s3",
			Name:            "Telehealth Session",
			Description:     "Remote video consultation via secure HIPAA-compliant link.",
			DurationMinutes: 20,
			Price:           40,
			ImageURL:        "https://images.unsplash.com/photo-1576091160550-217358c7db81?auto=format&fit=crop&w=400&h=200&q=80",
		},
	}
}

// ResolveService finds a service by id or, failing that, by name.
func ResolveService(catalog []domain.Service, ref string) (domain.Service, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Service{}, false
	}
	for _, s := range catalog {
		if strings.EqualFold(s.ID, ref) {
			return s, true
		}
	}
	for _, s := range catalog {
		if strings.EqualFold(s.Name, ref) {
			return s, true
		}
	}
	return domain.Service{}, false
}

// NormalizeDate validates a YYYY-MM-DD date. Full timestamps are truncated
// to their date part.
func NormalizeDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > len(DateLayout) {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t.Format(DateLayout), nil
}

var slotLayouts = []string{"03:04 PM", "3:04 PM", "3:04PM", "03:04PM", "3 PM", "3PM", "15:04"}

// NormalizeSlot maps the time spellings a model produces ("10:00 AM",
// "10am", "14:00", "slot_1400") onto a SlotGrid label.
func NormalizeSlot(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if rest, ok := strings.CutPrefix(s, "SLOT_"); ok && len(rest) == 4 {
		if _, err := strconv.Atoi(rest); err == nil {
			s = rest[:2] + ":" + rest[2:]
		}
	}
	for _, layout := range slotLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		label := t.Format("03:04 PM")
		for _, g := range SlotGrid {
			if g == label {
				return label, nil
			}
		}
		return "", fmt.Errorf("%w: %q is not on the schedule", ErrInvalidSlot, raw)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSlot, raw)
}
