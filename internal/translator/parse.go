package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"booking-assistant/internal/domain"
)

const maxSuggestions = 4

// Reasons attached to synthetic intents.
const (
	ReasonMalformed   = "malformed_response"
	ReasonEmpty       = "empty_response"
	ReasonProvider    = "provider_error"
	ReasonRateLimited = "provider_rate_limited"
	ReasonTimeout     = "provider_timeout"
	ReasonConfig      = "config_error"
)

const (
	fallbackText = "I'm having trouble processing that request. Could you try again?"
	emptyText    = "I didn't get a reply just now. Could you say that again?"
	errorText    = "I'm currently experiencing high traffic. Please try again in a moment."
)

var emptyPayload = json.RawMessage(`{}`)

type intentResponse struct {
	ResponseText string          `json:"response_text"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"action_payload"`
	Suggestions  []string        `json:"suggestions"`
	Confidence   *float64        `json:"confidence"`
}

// FallbackIntent is returned when the model's reply cannot be used.
func FallbackIntent(reason string) domain.Intent {
	text := fallbackText
	if reason == ReasonEmpty {
		text = emptyText
	}
	return domain.Intent{
		ResponseText: text,
		Action:       domain.ActionFallback,
		Payload:      emptyPayload,
		Suggestions:  []string{"Start Over"},
		Reason:       reason,
	}
}

// ErrorIntent is returned when the provider could not be reached.
func ErrorIntent(reason string) domain.Intent {
	return domain.Intent{
		ResponseText: errorText,
		Action:       domain.ActionError,
		Payload:      emptyPayload,
		Suggestions:  []string{"Retry"},
		Reason:       reason,
	}
}

// ParseIntent decodes a model reply into an Intent. It accepts one JSON
// object, optionally wrapped in a markdown code fence, and rejects unknown
// keys, unknown actions, non-object payloads and out-of-range confidence.
func ParseIntent(raw string) (domain.Intent, error) {
	body := stripCodeFence(strings.TrimSpace(raw))
	if body == "" {
		return domain.Intent{}, errors.New("translator: empty intent")
	}

	var out intentResponse
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return domain.Intent{}, fmt.Errorf("translator: decode intent: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return domain.Intent{}, errors.New("translator: decode intent: multiple JSON values")
		}
		return domain.Intent{}, fmt.Errorf("translator: decode intent trailing data: %w", err)
	}

	action, ok := domain.ParseAction(out.Action)
	if !ok {
		return domain.Intent{}, fmt.Errorf("translator: unknown action %q", out.Action)
	}

	payload := bytes.TrimSpace(out.Payload)
	switch {
	case len(payload) == 0 || bytes.Equal(payload, []byte("null")):
		payload = emptyPayload
	case payload[0] != '{':
		return domain.Intent{}, fmt.Errorf("translator: action_payload must be an object, got %s", truncate(string(payload), 40))
	}

	confidence := 0.0
	if out.Confidence != nil {
		confidence = *out.Confidence
		if confidence < 0 || confidence > 1 {
			return domain.Intent{}, fmt.Errorf("translator: confidence %v outside [0,1]", confidence)
		}
	}

	suggestions := make([]string, 0, len(out.Suggestions))
	for _, s := range out.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
		if len(suggestions) == maxSuggestions {
			break
		}
	}

	return domain.Intent{
		ResponseText: strings.TrimSpace(out.ResponseText),
		Action:       action,
		Payload:      json.RawMessage(payload),
		Suggestions:  suggestions,
		Confidence:   confidence,
	}, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// guardStatuses removes payload keys that assert a status the backend never
// reported. known holds the lower-cased statuses established by the facts.
func guardStatuses(intent domain.Intent, known map[string]struct{}) domain.Intent {
	if len(intent.Payload) == 0 {
		return intent
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(intent.Payload, &fields); err != nil {
		return intent
	}

	var removed []string
	for key, value := range fields {
		if !isStatusKey(key) {
			continue
		}
		if asserted, ok := statusValue(key, value); ok {
			if _, allowed := known[asserted]; allowed {
				continue
			}
		}
		removed = append(removed, key)
		delete(fields, key)
	}
	if len(removed) == 0 {
		return intent
	}
	sort.Strings(removed)
	if b, err := json.Marshal(fields); err == nil {
		intent.Payload = b
	}
	intent.Neutralized = append(intent.Neutralized, removed...)
	return intent
}

func isStatusKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "status") || k == "verified" || k == "is_verified"
}

// statusValue maps a status assertion onto a comparable status word. A bare
// true for verified asserts "verified"; false asserts "failed".
func statusValue(key string, value json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return strings.ToLower(strings.TrimSpace(s)), true
	}
	var b bool
	if err := json.Unmarshal(value, &b); err == nil {
		k := strings.ToLower(key)
		if b && (k == "verified" || k == "is_verified") {
			return "verified", true
		}
		if b {
			return "success", true
		}
		return "failed", true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
