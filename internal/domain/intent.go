package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the closed set of operations the model may request.
type Action string

const (
	ActionNone              Action = "none"
	ActionCollectInfo       Action = "collect_info"
	ActionShowServices      Action = "show_services"
	ActionSendOTP           Action = "send_otp"
	ActionVerifyOTP         Action = "verify_otp"
	ActionFetchSlots        Action = "fetch_slots"
	ActionCreateBooking     Action = "create_booking"
	ActionFetchBookings     Action = "fetch_bookings"
	ActionRescheduleBooking Action = "reschedule_booking"
	ActionCancelBooking     Action = "cancel_booking"
	ActionCreatePayment     Action = "create_payment"
	ActionSendEmail         Action = "send_email"
	ActionHandoffToAgent    Action = "handoff_to_agent"
	ActionFallback          Action = "fallback"
	ActionError             Action = "error"
)

var knownActions = map[Action]struct{}{
	ActionNone: {}, ActionCollectInfo: {}, ActionShowServices: {}, ActionSendOTP: {},
	ActionVerifyOTP: {}, ActionFetchSlots: {}, ActionCreateBooking: {}, ActionFetchBookings: {},
	ActionRescheduleBooking: {}, ActionCancelBooking: {}, ActionCreatePayment: {},
	ActionSendEmail: {}, ActionHandoffToAgent: {}, ActionFallback: {}, ActionError: {},
}

// ParseAction maps a model-supplied name onto the closed action set.
func ParseAction(name string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(name)))
	if a == "" {
		return ActionNone, true
	}
	_, ok := knownActions[a]
	return a, ok
}

// Mutating reports whether the action changes booking state.
func (a Action) Mutating() bool {
	switch a {
	case ActionCreateBooking, ActionRescheduleBooking, ActionCancelBooking:
		return true
	}
	return false
}

// Unsupported lists the actions the model may name but the backend does not
// implement.
func (a Action) Unsupported() bool {
	switch a {
	case ActionCreatePayment, ActionSendEmail, ActionHandoffToAgent:
		return true
	}
	return false
}

// Intent is the model's structured decision for one invocation.
type Intent struct {
	ResponseText string          `json:"response_text"`
	Action       Action          `json:"action"`
	Payload      json.RawMessage `json:"action_payload"`
	Suggestions  []string        `json:"suggestions"`
	Confidence   float64         `json:"confidence"`

	// Reason explains why a synthetic intent was produced instead of the
	// model's own; empty for intents parsed from the model.
	Reason string `json:"-"`
	// Neutralized lists payload keys removed because they asserted a status
	// absent from the known facts.
	Neutralized []string `json:"-"`
}

// Facts is the ground truth computed by the action executor and injected
// into the next model call.
type Facts struct {
	Services     []Service      `json:"services,omitempty"`
	Availability *Availability  `json:"availability,omitempty"`
	OTPSent      *OTPDispatch   `json:"otpSent,omitempty"`
	Verification *Verification  `json:"verification,omitempty"`
	Booking      *Booking       `json:"booking,omitempty"`
	Lookup       *BookingLookup `json:"lookup,omitempty"`
	Cancellation *Cancellation  `json:"cancellation,omitempty"`
	NotFound     *NotFound      `json:"notFound,omitempty"`
	Missing      *MissingFields `json:"missing,omitempty"`
	Unavailable  *Unavailable   `json:"unavailable,omitempty"`
	Unsupported  Action         `json:"unsupported,omitempty"`
	Unverified   string         `json:"unverified,omitempty"`
	Failure      string         `json:"failure,omitempty"`
}

type Availability struct {
	ServiceID string     `json:"serviceId"`
	Date      string     `json:"date"`
	Slots     []TimeSlot `json:"slots"`
}

type OTPDispatch struct {
	Phone string `json:"phone"`
}

type Verification struct {
	Phone   string `json:"phone"`
	Success bool   `json:"success"`
}

type BookingLookup struct {
	Email    string    `json:"email"`
	Bookings []Booking `json:"bookings"`
}

type Cancellation struct {
	BookingID string `json:"bookingId"`
	Success   bool   `json:"success"`
}

type NotFound struct {
	BookingID string `json:"bookingId"`
}

type MissingFields struct {
	Action Action   `json:"action"`
	Fields []string `json:"fields"`
}

type Unavailable struct {
	ServiceID string `json:"serviceId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Reason    string `json:"reason"`
}

// Empty reports whether no fact was recorded.
func (f Facts) Empty() bool {
	return len(f.Lines()) == 0
}

// Lines renders the facts as "System:"-style statements for the model.
func (f Facts) Lines() []string {
	var out []string
	if len(f.Services) > 0 {
		type brief struct {
			ID    string  `json:"id"`
			Name  string  `json:"name"`
			Price float64 `json:"price"`
		}
		list := make([]brief, 0, len(f.Services))
		for _, s := range f.Services {
			list = append(list, brief{ID: s.ID, Name: s.Name, Price: s.Price})
		}
		out = append(out, "Available Services: "+mustJSON(list))
	}
	if f.Availability != nil {
		out = append(out, fmt.Sprintf("Available Time Slots for service %s on %s: %s",
			f.Availability.ServiceID, f.Availability.Date, mustJSON(f.Availability.Slots)))
	}
	if f.OTPSent != nil {
		out = append(out, fmt.Sprintf("OTP Sent: verification code sent to %s (status: pending)", f.OTPSent.Phone))
	}
	if f.Verification != nil {
		result := "FAILED"
		if f.Verification.Success {
			result = "SUCCESS"
		}
		out = append(out, fmt.Sprintf("OTP Verification Result for %s: %s", f.Verification.Phone, result))
	}
	if f.Booking != nil {
		out = append(out, fmt.Sprintf("Booking Status: %s %s", f.Booking.Status, mustJSON(f.Booking)))
	}
	if f.Lookup != nil {
		out = append(out, fmt.Sprintf("Found Bookings for %s: %s", f.Lookup.Email, mustJSON(f.Lookup.Bookings)))
	}
	if f.Cancellation != nil {
		result := "FAILED"
		if f.Cancellation.Success {
			result = "SUCCESS"
		}
		out = append(out, fmt.Sprintf("Cancellation Result for %s: %s", f.Cancellation.BookingID, result))
	}
	if f.NotFound != nil {
		out = append(out, fmt.Sprintf("Booking Not Found: %s", f.NotFound.BookingID))
	}
	if f.Missing != nil {
		out = append(out, fmt.Sprintf("Missing Fields for %s: %s", f.Missing.Action, strings.Join(f.Missing.Fields, ", ")))
	}
	if f.Unavailable != nil {
		out = append(out, fmt.Sprintf("Slot Unavailable: %s %s for service %s (%s)",
			f.Unavailable.Date, f.Unavailable.Time, f.Unavailable.ServiceID, f.Unavailable.Reason))
	}
	if f.Unsupported != "" {
		out = append(out, fmt.Sprintf("Action Not Available: %s is not supported", f.Unsupported))
	}
	if f.Unverified != "" {
		out = append(out, fmt.Sprintf("Phone Not Verified: %s (status: unverified). Verify it with send_otp and verify_otp before booking.", f.Unverified))
	}
	if f.Failure != "" {
		out = append(out, "Backend Failure: "+f.Failure)
	}
	return out
}

// KnownStatuses lists every status value the facts establish. The model may
// only assert one of these.
func (f Facts) KnownStatuses() []string {
	var out []string
	if f.OTPSent != nil {
		out = append(out, "pending", "sent")
	}
	if f.Verification != nil {
		if f.Verification.Success {
			out = append(out, "verified", "success")
		} else {
			out = append(out, "failed")
		}
	}
	if f.Booking != nil {
		out = append(out, string(f.Booking.Status))
	}
	if f.Lookup != nil {
		for _, b := range f.Lookup.Bookings {
			out = append(out, string(b.Status))
		}
	}
	if f.Cancellation != nil {
		if f.Cancellation.Success {
			out = append(out, string(StatusCancelled), "success")
		} else {
			out = append(out, "failed")
		}
	}
	if f.Unverified != "" {
		out = append(out, "unverified")
	}
	if f.NotFound != nil || f.Unavailable != nil || f.Failure != "" {
		out = append(out, "failed")
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
