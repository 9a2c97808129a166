package usecase

import (
	"fmt"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/executor"
)

const (
	apologyText       = "Sorry, I encountered a connection error. Please try again."
	moderatedText     = "I can only help with booking, rescheduling or cancelling appointments. What would you like to do?"
	unsupportedText   = "Sorry, I can't do that here yet. I can help you book, reschedule or cancel an appointment."
	verifiedText      = "Verified! ✅"
	wrongCodeText     = "Incorrect code. Please try again."
	cancelledText     = "Booking cancelled successfully."
	cancelFailedText  = "Failed to cancel booking. It may not exist."
	rescheduleFailed  = "Failed to reschedule. The booking might not exist or the slot is taken."
	checkingSlotsText = "Checking availability for %s..."
)

func textMessage(text string, replies []string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Text: text, Type: domain.MessageText, QuickReplies: replies}
}

// feedback is what the user sees while the turn keeps looping.
func feedback(action domain.Action, res executor.Result) []domain.Message {
	if action != domain.ActionVerifyOTP || res.Kind != executor.KindOK || res.Facts.Verification == nil {
		return nil
	}
	if res.Facts.Verification.Success {
		return []domain.Message{textMessage(verifiedText, nil)}
	}
	return []domain.Message{textMessage(wrongCodeText, nil)}
}

// render turns the final intent of a turn and its executor result into the
// messages handed to the chat widget.
func render(intent domain.Intent, res executor.Result) []domain.Message {
	main := textMessage(intent.ResponseText, intent.Suggestions)
	var out []domain.Message

	switch intent.Action {
	case domain.ActionShowServices:
		if res.Kind == executor.KindOK {
			main.Type = domain.MessageServiceCarousel
			main.Payload = res.Facts.Services
		}
	case domain.ActionFetchSlots:
		if res.Kind == executor.KindOK && res.Facts.Availability != nil {
			main.Type = domain.MessageTimePicker
			main.Payload = res.Facts.Availability
			if main.Text == "" {
				main.Text = fmt.Sprintf(checkingSlotsText, res.Facts.Availability.Date)
			}
		}
	case domain.ActionSendOTP:
		if res.Kind == executor.KindOK && res.Facts.OTPSent != nil {
			main.Type = domain.MessageOTPInput
			main.Payload = res.Facts.OTPSent
		}
	case domain.ActionCreateBooking:
		if res.Kind == executor.KindOK && res.Facts.Booking != nil {
			main.Type = domain.MessageConfirmation
			main.Payload = res.Facts.Booking
		}
	case domain.ActionRescheduleBooking:
		if res.Kind == executor.KindOK && res.Facts.Booking != nil {
			main.Type = domain.MessageConfirmation
			main.Payload = res.Facts.Booking
		} else {
			// The model's text was written before the outcome was known.
			return []domain.Message{textMessage(rescheduleFailed, intent.Suggestions)}
		}
	case domain.ActionCancelBooking:
		if res.Kind != executor.KindOK {
			return []domain.Message{textMessage(cancelFailedText, intent.Suggestions)}
		}
		out = append(out, textMessage(cancelledText, nil))
	}

	if res.Kind == executor.KindFailed && main.Type == domain.MessageText {
		// The model's text assumed success; replace it.
		main = apology()
	}
	if main.Text == "" && main.Payload == nil {
		return out
	}
	return append(out, main)
}
