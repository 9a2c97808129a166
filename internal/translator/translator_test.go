package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking-assistant/internal/domain"
)

type fakeLLM struct {
	mu        sync.Mutex
	replies   []string
	err       error
	calls     int
	lastMsgs  []domain.ChatMessage
	lastModel string
}

func (f *fakeLLM) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastMsgs = messages
	f.lastModel = model
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

type fakeParams struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, n := range names {
		if v, ok := f.values[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func defaultParams() *fakeParams {
	return &fakeParams{values: map[string]string{
		"/booking/config/model":  "test-model",
		"/booking/pinned_prompt": "You are MedCore's assistant.",
	}}
}

func newTestTranslator(t *testing.T, llm LLMClient, params ParamGetter, opts ...Option) *Translator {
	t.Helper()
	tr, err := New(llm, params, "/booking/", opts...)
	require.NoError(t, err)
	return tr
}

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(nil, defaultParams(), "/p")
	require.Error(t, err)
	_, err = New(&fakeLLM{}, nil, "/p")
	require.Error(t, err)
	_, err = New(&fakeLLM{}, defaultParams(), " ")
	require.Error(t, err)
}

func TestParseIntent_Valid(t *testing.T) {
	intent, err := ParseIntent(`{"response_text":"Pick a service","action":"show_services","action_payload":{},"suggestions":["a","b","c","d","e"],"confidence":0.9}`)
	require.NoError(t, err)
	require.Equal(t, domain.ActionShowServices, intent.Action)
	require.Equal(t, "Pick a service", intent.ResponseText)
	require.Len(t, intent.Suggestions, 4)
	require.InDelta(t, 0.9, intent.Confidence, 1e-9)
}

func TestParseIntent_CodeFenceAndNullPayload(t *testing.T) {
	intent, err := ParseIntent("```json\n{\"response_text\":\"hi\",\"action\":\"none\",\"action_payload\":null,\"suggestions\":[],\"confidence\":1}\n```")
	require.NoError(t, err)
	require.Equal(t, domain.ActionNone, intent.Action)
	require.JSONEq(t, `{}`, string(intent.Payload))
}

func TestParseIntent_EmptyActionIsNone(t *testing.T) {
	intent, err := ParseIntent(`{"response_text":"hi","action":""}`)
	require.NoError(t, err)
	require.Equal(t, domain.ActionNone, intent.Action)
}

func TestParseIntent_Rejects(t *testing.T) {
	cases := map[string]string{
		"truncated":        `{"response_text":"hi","action":"no`,
		"not json":         `Sure! I can help with that.`,
		"unknown action":   `{"response_text":"hi","action":"select_slot","action_payload":{}}`,
		"unknown field":    `{"response_text":"hi","action":"none","mood":"happy"}`,
		"array payload":    `{"response_text":"hi","action":"none","action_payload":[1]}`,
		"confidence range": `{"response_text":"hi","action":"none","confidence":1.5}`,
		"two values":       `{"response_text":"a","action":"none"}{"response_text":"b","action":"none"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseIntent(raw)
			require.Error(t, err)
		})
	}
}

func TestTranslate_HappyPath(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"response_text":"Here you go","action":"show_services","action_payload":{},"suggestions":["Book"],"confidence":0.8}`}}
	tr := newTestTranslator(t, llm, defaultParams())

	intent := tr.Translate(context.Background(), Input{
		History: []domain.Turn{{Role: domain.RoleUser, Text: "what do you offer?"}},
		Now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.Equal(t, domain.ActionShowServices, intent.Action)
	require.Empty(t, intent.Reason)
	require.Equal(t, "test-model", llm.lastModel)

	require.GreaterOrEqual(t, len(llm.lastMsgs), 3)
	require.Contains(t, llm.lastMsgs[0].Content, "Current Date: 2026-03-01T09:00:00Z")
	require.Contains(t, llm.lastMsgs[1].Content, "You are MedCore's assistant.")
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "what do you offer?"}, llm.lastMsgs[2])
}

func TestTranslate_MalformedYieldsFallback(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"response_text":"Booking your`}}
	tr := newTestTranslator(t, llm, defaultParams())

	intent := tr.Translate(context.Background(), Input{})
	require.Equal(t, domain.ActionFallback, intent.Action)
	require.Equal(t, ReasonMalformed, intent.Reason)
	require.Equal(t, []string{"Start Over"}, intent.Suggestions)
	require.Equal(t, 1, llm.calls, "malformed output is not retried")
}

func TestTranslate_EmptyYieldsDistinctFallback(t *testing.T) {
	tr := newTestTranslator(t, &fakeLLM{replies: []string{"   "}}, defaultParams())

	intent := tr.Translate(context.Background(), Input{})
	require.Equal(t, domain.ActionFallback, intent.Action)
	require.Equal(t, ReasonEmpty, intent.Reason)
	require.NotEqual(t, FallbackIntent(ReasonMalformed).ResponseText, intent.ResponseText)
}

func TestTranslate_ProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason string
	}{
		{name: "transport", err: errors.New("connection reset"), reason: ReasonProvider},
		{name: "quota", err: fmt.Errorf("openai: request failed: %w", statusErr{code: 429}), reason: ReasonRateLimited},
		{name: "timeout", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), reason: ReasonTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTranslator(t, &fakeLLM{err: tc.err}, defaultParams())
			intent := tr.Translate(context.Background(), Input{})
			require.Equal(t, domain.ActionError, intent.Action)
			require.Equal(t, tc.reason, intent.Reason)
			require.Equal(t, []string{"Retry"}, intent.Suggestions)
		})
	}
}

func TestTranslate_ConfigFailureRetriedNextCall(t *testing.T) {
	params := defaultParams()
	params.err = errors.New("ssm down")
	llm := &fakeLLM{replies: []string{`{"response_text":"ok","action":"none"}`}}
	tr := newTestTranslator(t, llm, params)

	intent := tr.Translate(context.Background(), Input{})
	require.Equal(t, domain.ActionError, intent.Action)
	require.Equal(t, ReasonConfig, intent.Reason)
	require.Zero(t, llm.calls)

	params.err = nil
	intent = tr.Translate(context.Background(), Input{})
	require.Equal(t, domain.ActionNone, intent.Action)

	tr.Translate(context.Background(), Input{})
	require.Equal(t, 2, params.calls, "config is cached after the first success")
}

func TestTranslate_MissingModelParameter(t *testing.T) {
	params := &fakeParams{values: map[string]string{}}
	tr := newTestTranslator(t, &fakeLLM{}, params)

	intent := tr.Translate(context.Background(), Input{})
	require.Equal(t, ReasonConfig, intent.Reason)
}

func TestTranslate_WindowDropsOldTurns(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"response_text":"ok","action":"none"}`}}
	tr := newTestTranslator(t, llm, defaultParams(), WithWindow(10))

	var history []domain.Turn
	for i := 0; i < 15; i++ {
		history = append(history, domain.Turn{Role: domain.RoleUser, Text: fmt.Sprintf("msg-%d", i)})
	}
	tr.Translate(context.Background(), Input{History: history})

	var turns []string
	for _, m := range llm.lastMsgs {
		if m.Role == "user" {
			turns = append(turns, m.Content)
		}
	}
	require.Len(t, turns, 10)
	require.Equal(t, "msg-5", turns[0])
	require.Equal(t, "msg-14", turns[9])
}

func TestTranslate_FreshFactsRenderedLast(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"response_text":"ok","action":"none"}`}}
	tr := newTestTranslator(t, llm, defaultParams())

	tr.Translate(context.Background(), Input{
		History: []domain.Turn{
			{Role: domain.RoleAssistant, Text: "Checking", Action: domain.ActionVerifyOTP, Payload: json.RawMessage(`{"otp":"123456"}`)},
			{Role: domain.RoleSystem, Text: "OTP Verification Result for 555: SUCCESS"},
		},
		Facts: domain.Facts{Verification: &domain.Verification{Phone: "555", Success: true}},
	})

	last := llm.lastMsgs[len(llm.lastMsgs)-1]
	require.Equal(t, "system", last.Role)
	require.True(t, strings.HasPrefix(last.Content, "Fresh Facts:"))
	require.Contains(t, last.Content, "System: OTP Verification Result for 555: SUCCESS")

	assistant := llm.lastMsgs[2]
	require.Equal(t, "assistant", assistant.Role)
	require.JSONEq(t, `{"response_text":"Checking","action":"verify_otp","action_payload":{"otp":"123456"}}`, assistant.Content)
	require.Equal(t, domain.ChatMessage{Role: "system", Content: "System: OTP Verification Result for 555: SUCCESS"}, llm.lastMsgs[3])
}

func TestTranslate_NeutralizesUnbackedStatus(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"response_text":"Booked!","action":"none","action_payload":{"booking_status":"confirmed","verified":true,"note":"x"}}`,
	}}
	tr := newTestTranslator(t, llm, defaultParams())

	intent := tr.Translate(context.Background(), Input{})
	require.Equal(t, []string{"booking_status", "verified"}, intent.Neutralized)
	require.JSONEq(t, `{"note":"x"}`, string(intent.Payload))
}

func TestTranslate_KeepsStatusBackedByFacts(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"response_text":"Done","action":"none","action_payload":{"status":"confirmed","verified":true}}`,
	}}
	tr := newTestTranslator(t, llm, defaultParams())

	intent := tr.Translate(context.Background(), Input{
		Facts: domain.Facts{Booking: &domain.Booking{ID: "b-1", Status: domain.StatusConfirmed}},
		State: domain.SessionState{VerifiedPhones: []string{"555"}},
	})
	require.Empty(t, intent.Neutralized)
	require.JSONEq(t, `{"status":"confirmed","verified":true}`, string(intent.Payload))
}

func TestTranslate_RateLimiterHonoursContext(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"response_text":"ok","action":"none"}`}}
	tr := newTestTranslator(t, llm, defaultParams(), WithRateLimit(0.001, 1))

	require.Equal(t, domain.ActionNone, tr.Translate(context.Background(), Input{}).Action)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	intent := tr.Translate(ctx, Input{})
	require.Equal(t, domain.ActionError, intent.Action)
	require.Equal(t, 1, llm.calls)
}
