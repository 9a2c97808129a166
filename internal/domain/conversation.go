package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single entry of a session history. System turns carry
// machine-generated facts; they are fed back to the model but never rendered.
type Turn struct {
	Role      Role            `json:"role"`
	Text      string          `json:"text"`
	Action    Action          `json:"action,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionState is the orchestrator-owned ground truth that outlives the
// bounded history window.
type SessionState struct {
	VerifiedPhones []string `json:"verifiedPhones,omitempty"`
	Turns          int      `json:"turns"`
}

// IsVerified reports whether phone passed OTP verification in this session.
func (s SessionState) IsVerified(phone string) bool {
	want := NormalizePhone(phone)
	if want == "" {
		return false
	}
	for _, p := range s.VerifiedPhones {
		if NormalizePhone(p) == want {
			return true
		}
	}
	return false
}

// MarkVerified records a successful verification for phone.
func (s *SessionState) MarkVerified(phone string) {
	if s.IsVerified(phone) || NormalizePhone(phone) == "" {
		return
	}
	s.VerifiedPhones = append(s.VerifiedPhones, phone)
}

// Session is a loaded conversation: the most recent turns plus state.
type Session struct {
	ID    string
	Turns []Turn
	State SessionState
}

// MessageType tells the presentation layer how to render a message.
type MessageType string

const (
	MessageText            MessageType = "text"
	MessageServiceCarousel MessageType = "serviceCarousel"
	MessageTimePicker      MessageType = "timePicker"
	MessageOTPInput        MessageType = "otpInput"
	MessageConfirmation    MessageType = "confirmation"
)

// Message is a renderable unit handed to the chat presentation layer.
type Message struct {
	Role         Role        `json:"role"`
	Text         string      `json:"text"`
	Type         MessageType `json:"messageType"`
	Payload      any         `json:"payload,omitempty"`
	QuickReplies []string    `json:"quickReplies,omitempty"`
}

// NormalizePhone keeps the digits of a phone number and a leading plus sign.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	out := make([]rune, 0, len(phone))
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			out = append(out, r)
		case r == '+' && i == 0:
			out = append(out, r)
		}
	}
	return string(out)
}
