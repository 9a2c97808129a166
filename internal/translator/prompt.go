package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"booking-assistant/internal/domain"
)

type promptContext struct {
	pinnedPrompt string
	catalog      []domain.Service
	state        domain.SessionState
	now          time.Time
}

func buildPromptMessages(pc promptContext, history []domain.Turn, facts domain.Facts, window int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPolicyPrompt(pc.now)},
		{Role: "system", Content: buildBusinessContextPrompt(pc)},
	}

	for _, t := range lastTurns(history, window) {
		if m, ok := turnToPromptMessage(t); ok {
			messages = append(messages, m)
		}
	}

	if lines := facts.Lines(); len(lines) > 0 {
		var b strings.Builder
		b.WriteString("Fresh Facts:")
		for _, l := range lines {
			b.WriteString("\nSystem: ")
			b.WriteString(l)
		}
		messages = append(messages, domain.ChatMessage{Role: "system", Content: b.String()})
	}
	return messages
}

// lastTurns keeps the newest n turns; older ones are dropped, not summarised.
func lastTurns(history []domain.Turn, n int) []domain.Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func turnToPromptMessage(t domain.Turn) (domain.ChatMessage, bool) {
	text := strings.TrimSpace(t.Text)
	payload := strings.TrimSpace(string(t.Payload))
	if payload == "null" || payload == "{}" {
		payload = ""
	}
	switch t.Role {
	case domain.RoleUser:
		if text == "" && payload == "" {
			return domain.ChatMessage{}, false
		}
		return domain.ChatMessage{Role: "user", Content: joinNonEmpty(text, payload)}, true
	case domain.RoleAssistant:
		wire, err := json.Marshal(struct {
			ResponseText string          `json:"response_text"`
			Action       domain.Action   `json:"action"`
			Payload      json.RawMessage `json:"action_payload,omitempty"`
		}{ResponseText: text, Action: t.Action, Payload: nonEmptyRaw(t.Payload)})
		if err != nil {
			return domain.ChatMessage{}, false
		}
		return domain.ChatMessage{Role: "assistant", Content: string(wire)}, true
	case domain.RoleSystem:
		if text == "" {
			return domain.ChatMessage{}, false
		}
		return domain.ChatMessage{Role: "system", Content: "System: " + text}, true
	}
	return domain.ChatMessage{}, false
}

func nonEmptyRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func buildPolicyPrompt(now time.Time) string {
	return strings.Join([]string{
		"Role:",
		"You are the booking assistant of a clinic. You drive a transactional chat that books, reschedules and cancels appointments.",
		"Do not call any real APIs yourself; output actions for the backend to execute.",
		"",
		"Actions:",
		actionList(),
		"",
		"Required Fields:",
		requiredFieldRules(),
		"",
		"Ground Truth Rules:",
		groundTruthRules(),
		"",
		"Output Contract:",
		outputContract(),
		"",
		"Examples:",
		fewShotExamples(),
		"",
		"Current Date: " + now.UTC().Format(time.RFC3339),
	}, "\n")
}

func buildBusinessContextPrompt(pc promptContext) string {
	type brief struct {
		ID              string  `json:"id"`
		Name            string  `json:"name"`
		DurationMinutes int     `json:"durationMinutes"`
		Price           float64 `json:"price"`
	}
	list := make([]brief, 0, len(pc.catalog))
	for _, s := range pc.catalog {
		list = append(list, brief{ID: s.ID, Name: s.Name, DurationMinutes: s.DurationMinutes, Price: s.Price})
	}
	catalog, _ := json.Marshal(list)

	verified := "none"
	if len(pc.state.VerifiedPhones) > 0 {
		verified = strings.Join(pc.state.VerifiedPhones, ", ")
	}

	persona := strings.TrimSpace(pc.pinnedPrompt)
	if persona == "" {
		persona = "You represent MedCore Health. Be warm, concise and professional."
	}
	return fmt.Sprintf("%s\n\nService Catalog:\n%s\n\nSession Context:\nPhones verified in this session: %s",
		persona, catalog, verified)
}

func actionList() string {
	return strings.Join([]string{
		"- none: reply only",
		"- collect_info: ask for missing details; payload {\"required\": [field names]}",
		"- show_services: show the service catalog",
		"- send_otp: send a verification code; payload {\"phone\"}",
		"- verify_otp: check a code the user typed; payload {\"phone\", \"otp\"}",
		"- fetch_slots: list availability; payload {\"service_id\", \"date\": \"YYYY-MM-DD\"}",
		"- create_booking: book a slot; payload {\"service_id\", \"date\", \"time\" or \"slot_id\", \"name\", \"email\", \"phone\"}",
		"- fetch_bookings: look up bookings; payload {\"email\"}",
		"- reschedule_booking: move a booking; payload {\"booking_id\", \"date\", \"time\" or \"slot_id\"}",
		"- cancel_booking: cancel a booking; payload {\"booking_id\"}",
		"- fallback: the request is outside what you can do",
	}, "\n")
}

func requiredFieldRules() string {
	return strings.Join([]string{
		"1) If name, email, phone, service or date is missing for the current step, use collect_info and list the missing fields in required.",
		"2) If the user wants to book but has not named a service, use show_services. If the service is already named, do not show the catalog.",
		"3) Verify the phone with send_otp and verify_otp before create_booking.",
		"4) To cancel or reschedule, use fetch_bookings first (ask for the email if unknown), then cancel_booking or reschedule_booking with the booking id from the facts.",
		"5) Keep suggestions to 2-4 short quick replies. Be concise.",
	}, "\n")
}

func groundTruthRules() string {
	return strings.Join([]string{
		"1) Lines starting with \"System:\" are facts computed by the backend. They are the only source of truth.",
		"2) Never assume or invent the status of OTP verification, booking creation, rescheduling or cancellation.",
		"3) Only assert a status that appears in the facts. Never proceed to the next stage unless the facts confirm it.",
		"4) If a fact reports FAILED, ask for a correction or offer alternatives.",
		"5) If a fact lists Missing Fields, ask the user for exactly those fields.",
		"6) If an action is reported as not available, say so and offer what you can do instead.",
	}, "\n")
}

func outputContract() string {
	return "Return JSON only, with no markdown and no text outside the object. Keys: " +
		"response_text (string shown to the user), action (one of the actions above), " +
		"action_payload (object, {} when unused), suggestions (array of 0-4 strings), " +
		"confidence (number between 0 and 1)."
}

func fewShotExamples() string {
	return strings.Join([]string{
		`User: I want to book an appointment.`,
		`Assistant: {"response_text":"Happy to help. Which service would you like?","action":"show_services","action_payload":{},"suggestions":["General Consultation","Telehealth Session"],"confidence":0.93}`,
		``,
		`User: Book a General Consultation on 2026-12-05. Name Kavya, email kavya@mail.com, phone +919876543210`,
		`Assistant: {"response_text":"Thanks, Kavya. I'll verify your phone before showing available slots.","action":"send_otp","action_payload":{"phone":"+919876543210"},"suggestions":["Enter OTP","Change phone"],"confidence":0.97}`,
		``,
		`User: OTP is 482910`,
		`Assistant: {"response_text":"Checking your code.","action":"verify_otp","action_payload":{"phone":"+919876543210","otp":"482910"},"suggestions":[],"confidence":0.96}`,
		``,
		`System: OTP Verification Result for +919876543210: SUCCESS`,
		`Assistant: {"response_text":"You're verified. Here are the open slots.","action":"fetch_slots","action_payload":{"service_id":"s1","date":"2026-12-05"},"suggestions":["Morning","Afternoon"],"confidence":0.94}`,
		``,
		`User: I select the 02:00 PM slot.`,
		`Assistant: {"response_text":"Booking your appointment.","action":"create_booking","action_payload":{"service_id":"s1","date":"2026-12-05","time":"02:00 PM","name":"Kavya","email":"kavya@mail.com","phone":"+919876543210"},"suggestions":["View details","Reschedule"],"confidence":0.95}`,
		``,
		`User: Cancel my appointment.`,
		`Assistant: {"response_text":"Sure. What email did you book with?","action":"collect_info","action_payload":{"required":["email"]},"suggestions":["Enter email"],"confidence":0.86}`,
		``,
		`User: Tell me a joke.`,
		`Assistant: {"response_text":"I can help with bookings, cancellations, reschedules or availability. What would you like to do?","action":"fallback","action_payload":{},"suggestions":["Book appointment","View bookings"],"confidence":0.5}`,
	}, "\n")
}
