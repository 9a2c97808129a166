package domain

import (
	"fmt"
	"time"
)

// Service is a bookable catalog entry.
type Service struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DurationMinutes int     `json:"durationMinutes"`
	Price           float64 `json:"price"`
	ImageURL        string  `json:"imageUrl"`
}

// TimeSlot is one entry of an availability grid. Time uses the grid label
// format, e.g. "10:00 AM".
type TimeSlot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type UserDetails struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

// CanTransition reports whether a booking may move from one status to
// another. Cancelled is terminal. Confirmed to confirmed is the reschedule
// path: date and time change, status does not.
func CanTransition(from, to BookingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusConfirmed || to == StatusCancelled
	default:
		return false
	}
}

// Booking is a stored appointment. Date is YYYY-MM-DD, Time a grid label.
type Booking struct {
	ID          string        `json:"id"`
	ServiceID   string        `json:"serviceId"`
	ServiceName string        `json:"serviceName"`
	Date        string        `json:"date"`
	Time        string        `json:"time"`
	UserDetails UserDetails   `json:"userDetails"`
	Status      BookingStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Transition moves the booking to status to, enforcing the lifecycle.
func (b *Booking) Transition(to BookingStatus) error {
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("booking %s: cannot move from %s to %s", b.ID, b.Status, to)
	}
	b.Status = to
	return nil
}

// Holds reports whether the booking occupies the given slot.
func (b Booking) Holds(serviceID, date, slot string) bool {
	return b.Status == StatusConfirmed && b.ServiceID == serviceID && b.Date == date && b.Time == slot
}

// BookingDraft is the validated input for creating a booking.
type BookingDraft struct {
	IdempotencyKey string
	ServiceID      string
	Date           string
	Time           string
	UserDetails    UserDetails
}
