// Package translator turns bounded conversation history plus fresh facts
// into one structured Intent per model call.
package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/metrics"
)

const (
	defaultWindow  = 10
	defaultTimeout = 20 * time.Second
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// ParamGetter returns the values of the named parameters that exist.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Input is everything one model call sees.
type Input struct {
	History []domain.Turn
	Facts   domain.Facts
	Catalog []domain.Service
	State   domain.SessionState
	Now     time.Time
}

type Translator struct {
	llm         LLMClient
	params      ParamGetter
	paramPrefix string
	window      int
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
	metrics     *metrics.Metrics

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	model        string
	pinnedPrompt string
}

type Option func(*Translator)

// WithWindow sets how many of the newest turns are sent to the model.
func WithWindow(n int) Option {
	return func(t *Translator) {
		if n > 0 {
			t.window = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(t *Translator) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithRateLimit throttles model calls process-wide.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Translator) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Translator) {
		t.metrics = m
	}
}

func New(llm LLMClient, params ParamGetter, paramPrefix string, opts ...Option) (*Translator, error) {
	if llm == nil {
		return nil, errors.New("translator: llm client must not be nil")
	}
	if params == nil {
		return nil, errors.New("translator: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("translator: parameter prefix must not be empty")
	}
	t := &Translator{
		llm:         llm,
		params:      params,
		paramPrefix: paramPrefix,
		window:      defaultWindow,
		timeout:     defaultTimeout,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Translate never fails: provider problems and unusable replies come back as
// synthetic fallback or error intents with Reason set.
func (t *Translator) Translate(ctx context.Context, in Input) domain.Intent {
	if err := t.ensureConfig(ctx); err != nil {
		t.logger.Error("load model config", zap.Error(err))
		return t.synthetic(ErrorIntent(ReasonConfig))
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	messages := buildPromptMessages(promptContext{
		pinnedPrompt: t.pinnedPrompt,
		catalog:      in.Catalog,
		state:        in.State,
		now:          in.Now,
	}, in.History, in.Facts, t.window)

	if err := t.limiter.Wait(ctx); err != nil {
		t.logger.Warn("model call throttled", zap.Error(err))
		return t.synthetic(ErrorIntent(ReasonRateLimited))
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	started := time.Now()
	raw, err := t.llm.Chat(callCtx, t.model, messages)
	if err != nil {
		reason := classifyProviderError(err)
		t.metrics.ObserveModel(reason, started)
		t.logger.Warn("model call failed", zap.String("reason", reason), zap.Error(err))
		return t.synthetic(ErrorIntent(reason))
	}
	t.metrics.ObserveModel("ok", started)

	if strings.TrimSpace(raw) == "" {
		t.logger.Warn("model returned empty response")
		return t.synthetic(FallbackIntent(ReasonEmpty))
	}

	intent, err := ParseIntent(raw)
	if err != nil {
		t.logger.Warn("model returned malformed intent", zap.Error(err), zap.String("raw", truncate(raw, 512)))
		return t.synthetic(FallbackIntent(ReasonMalformed))
	}

	intent = guardStatuses(intent, knownStatuses(in.Facts, in.State))
	if len(intent.Neutralized) > 0 {
		t.logger.Info("neutralized unsupported status claims",
			zap.String("action", string(intent.Action)),
			zap.Strings("keys", intent.Neutralized))
	}
	return intent
}

func (t *Translator) synthetic(intent domain.Intent) domain.Intent {
	t.metrics.CountFallback(intent.Reason)
	return intent
}

func knownStatuses(facts domain.Facts, state domain.SessionState) map[string]struct{} {
	known := make(map[string]struct{})
	for _, s := range facts.KnownStatuses() {
		known[strings.ToLower(s)] = struct{}{}
	}
	if len(state.VerifiedPhones) > 0 {
		known["verified"] = struct{}{}
	}
	return known
}

func classifyProviderError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 429 {
		return ReasonRateLimited
	}
	return ReasonProvider
}

func (t *Translator) ensureConfig(ctx context.Context) error {
	t.cacheMu.RLock()
	if t.cacheLoaded {
		t.cacheMu.RUnlock()
		return nil
	}
	t.cacheMu.RUnlock()

	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if t.cacheLoaded {
		return nil
	}

	modelName := t.paramPrefix + "/config/model"
	promptName := t.paramPrefix + "/pinned_prompt"
	values, err := t.params.GetParameters(ctx, modelName, promptName)
	if err != nil {
		return fmt.Errorf("translator: load parameters: %w", err)
	}
	model := strings.TrimSpace(values[modelName])
	if model == "" {
		return fmt.Errorf("translator: parameter %s is not set", modelName)
	}

	t.model = model
	t.pinnedPrompt = values[promptName]
	t.cacheLoaded = true
	return nil
}
