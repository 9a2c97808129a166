// Package gemini adapts Google's Gemini API to the chat interface used by the
// intent translator.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/integrations/paramstore"
)

const (
	roleUser  = "user"
	roleModel = "model"

	openingPrompt = "Start the conversation."
)

// generator is the one genai call the client makes. It is swapped out in
// tests.
type generator interface {
	generate(ctx context.Context, model string, system *genai.Content, history []*genai.Content, parts []genai.Part) (*genai.GenerateContentResponse, error)
	Close() error
}

// StatusError carries the HTTP status of a failed Gemini call so callers can
// tell throttling from other failures.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.Code }

type Client struct {
	getter      paramstore.Getter
	paramPrefix string
	temperature float32

	mu  sync.Mutex
	gen generator
	// dial is replaced in tests.
	dial func(ctx context.Context, apiKey string, temperature float32) (generator, error)
}

type Option func(*Client)

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// NewClient creates a Client that reads its API key from
// <paramPrefix>/gemini-token on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		getter:      ps,
		paramPrefix: paramPrefix,
		temperature: 0.3,
		dial:        dialGenAI,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveGenerator(ctx context.Context) (generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != nil {
		return c.gen, nil
	}
	key, err := paramstore.Token(ctx, c.getter, c.paramPrefix+"/gemini-token")
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	gen, err := c.dial(ctx, key, c.temperature)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.gen = gen
	return gen, nil
}

// Chat sends the prompt as a Gemini chat session and returns the text of the
// first candidate.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	gen, err := c.resolveGenerator(ctx)
	if err != nil {
		return "", err
	}

	system, contents := flattenMessages(messages)
	last := contents[len(contents)-1]
	resp, err := gen.generate(ctx, model, system, contents[:len(contents)-1], last.Parts)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{Code: apiErr.Code, Err: err}
		}
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return textFromResponse(resp)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == nil {
		return nil
	}
	err := c.gen.Close()
	c.gen = nil
	return err
}

// flattenMessages maps chat messages onto Gemini contents. Leading system
// messages become the system instruction; later ones are sent as user text.
// Adjacent turns of the same role are merged, and the result always ends with
// a user turn.
func flattenMessages(messages []domain.ChatMessage) (*genai.Content, []*genai.Content) {
	var systemParts []genai.Part
	var contents []*genai.Content
	leading := true
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := roleUser
		switch m.Role {
		case "system":
			if leading {
				systemParts = append(systemParts, genai.Text(text))
				continue
			}
		case "assistant", roleModel:
			role = roleModel
		}
		leading = false

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(text))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != roleUser {
		contents = append(contents, &genai.Content{Role: roleUser, Parts: []genai.Part{genai.Text(openingPrompt)}})
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return system, contents
}

func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil {
			return "", fmt.Errorf("gemini: prompt blocked: %v", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", nil
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

type genaiGenerator struct {
	client      *genai.Client
	temperature float32
}

func dialGenAI(ctx context.Context, apiKey string, temperature float32) (generator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &genaiGenerator{client: client, temperature: temperature}, nil
}

func (g *genaiGenerator) generate(ctx context.Context, model string, system *genai.Content, history []*genai.Content, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(model)
	m.SystemInstruction = system
	m.ResponseMIMEType = "application/json"
	if g.temperature > 0 {
		m.SetTemperature(g.temperature)
	}
	session := m.StartChat()
	session.History = history
	return session.SendMessage(ctx, parts...)
}

func (g *genaiGenerator) Close() error {
	return g.client.Close()
}
