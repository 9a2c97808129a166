package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/executor"
	"booking-assistant/internal/lock"
	"booking-assistant/internal/metrics"
	"booking-assistant/internal/translator"
)

const (
	defaultHistoryLimit  = 50
	defaultMaxLoops      = 5
	defaultMaxMessageLen = 500
	defaultQueueTimeout  = 30 * time.Second
	persistTimeout       = 5 * time.Second

	reasonLoopCap     = "loop_cap"
	reasonUnsupported = "unsupported_action"
)

type Translator interface {
	Translate(ctx context.Context, in translator.Input) domain.Intent
}

type Executor interface {
	Execute(ctx context.Context, req executor.Request) executor.Result
}

type SessionStore interface {
	LoadSession(ctx context.Context, sessionID string, limit int) (domain.Session, error)
	AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn, state domain.SessionState) error
	ResetSession(ctx context.Context, sessionID string) error
}

// Catalog supplies the services listed in the model's business context.
type Catalog interface {
	ListServices(ctx context.Context) ([]domain.Service, error)
}

// Moderator screens user text before it reaches the model.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// Selection is a structured reply produced by the chat widget, e.g. a
// service card click. It rides on the user turn next to its text.
type Selection struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ChatInput struct {
	SessionID string
	Message   string
	Selection *Selection
}

type ChatOutput struct {
	SessionID string
	Messages  []domain.Message
}

// ChatService drives one user turn through as many model and executor
// rounds as it takes to reach a message worth showing.
type ChatService struct {
	translator Translator
	executor   Executor
	sessions   SessionStore
	catalog    Catalog
	locker     lock.Locker
	moderator  Moderator

	historyLimit  int
	maxLoops      int
	maxMessageLen int
	queueTimeout  time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]*inflightTurn
}

type inflightTurn struct {
	cancel context.CancelFunc
}

type Option func(*ChatService)

func WithModerator(m Moderator) Option {
	return func(s *ChatService) {
		s.moderator = m
	}
}

// WithHistoryLimit bounds how many stored turns are loaded per turn.
func WithHistoryLimit(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithMaxLoops caps model calls made for a single user turn.
func WithMaxLoops(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.maxLoops = n
		}
	}
}

func WithMaxMessageLength(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.maxMessageLen = n
		}
	}
}

// WithQueueTimeout sets how long a turn waits behind another turn of the
// same session before giving up with SESSION_BUSY.
func WithQueueTimeout(d time.Duration) Option {
	return func(s *ChatService) {
		if d > 0 {
			s.queueTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ChatService) {
		s.metrics = m
	}
}

func NewChatService(t Translator, e Executor, sessions SessionStore, catalog Catalog, locker lock.Locker, opts ...Option) (*ChatService, error) {
	if t == nil {
		return nil, errors.New("usecase: translator must not be nil")
	}
	if e == nil {
		return nil, errors.New("usecase: executor must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if locker == nil {
		return nil, errors.New("usecase: locker must not be nil")
	}
	s := &ChatService{
		translator:    t,
		executor:      e,
		sessions:      sessions,
		catalog:       catalog,
		locker:        locker,
		historyLimit:  defaultHistoryLimit,
		maxLoops:      defaultMaxLoops,
		maxMessageLen: defaultMaxMessageLen,
		queueTimeout:  defaultQueueTimeout,
		logger:        zap.NewNop(),
		now:           time.Now,
		inflight:      make(map[string]*inflightTurn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Chat runs one user turn. Model, executor and storage failures surface as
// messages; the returned error only reports input, queueing and
// cancellation problems.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}
	logger := s.logger.With(zap.String("session_id", sessionID))

	if message != "" && s.moderator != nil {
		flagged, err := s.moderator.Moderate(ctx, message)
		switch {
		case err != nil:
			logger.Warn("moderation unavailable, continuing", zap.Error(err))
		case flagged:
			s.metrics.CountTurn("moderated")
			return ChatOutput{SessionID: sessionID, Messages: []domain.Message{textMessage(moderatedText, nil)}}, nil
		}
	}

	release, err := s.acquire(ctx, sessionID)
	if err != nil {
		return ChatOutput{}, err
	}
	defer release()

	turnCtx, done := s.track(ctx, sessionID)
	defer done()

	t, err := s.runTurn(turnCtx, logger, sessionID, message, in.Selection)
	if err != nil {
		s.metrics.CountTurn("rejected")
		return ChatOutput{}, err
	}
	if turnCtx.Err() != nil {
		s.metrics.CountTurn("abandoned")
		logger.Info("turn abandoned", zap.Error(turnCtx.Err()))
		return ChatOutput{}, newError(ErrorTurnAbandoned, "turn_cancelled", turnCtx.Err())
	}

	if t.persist {
		t.state.Turns++
		pctx, cancel := context.WithTimeout(context.WithoutCancel(turnCtx), persistTimeout)
		if err := s.sessions.AppendTurns(pctx, sessionID, t.added, t.state); err != nil {
			logger.Error("persist turn", zap.Int("turns", len(t.added)), zap.Error(err))
		}
		cancel()
	}
	s.metrics.CountTurn(t.outcome)
	return ChatOutput{SessionID: sessionID, Messages: t.messages}, nil
}

// Reset abandons the session's running turn, waits for it to unwind and
// clears the history. The next turn starts from an empty session.
func (s *ChatService) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidInput, "missing_session_id", nil)
	}

	s.inflightMu.Lock()
	if cur, ok := s.inflight[sessionID]; ok {
		cur.cancel()
	}
	s.inflightMu.Unlock()

	release, err := s.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.sessions.ResetSession(ctx, sessionID); err != nil {
		return newError(ErrorInternal, "session_reset_error", err)
	}
	s.logger.Info("session reset", zap.String("session_id", sessionID))
	return nil
}

func (s *ChatService) acquire(ctx context.Context, sessionID string) (func(), error) {
	qctx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()
	release, err := s.locker.Acquire(qctx, sessionID)
	if err == nil {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, newError(ErrorTurnAbandoned, "client_gone", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, newError(ErrorSessionBusy, "session_queue_timeout", err)
	}
	return nil, newError(ErrorInternal, "session_lock_error", err)
}

// track registers a cancellable context for the running turn so Reset can
// abandon it.
func (s *ChatService) track(ctx context.Context, sessionID string) (context.Context, func()) {
	turnCtx, cancel := context.WithCancel(ctx)
	entry := &inflightTurn{cancel: cancel}
	s.inflightMu.Lock()
	s.inflight[sessionID] = entry
	s.inflightMu.Unlock()
	return turnCtx, func() {
		s.inflightMu.Lock()
		if s.inflight[sessionID] == entry {
			delete(s.inflight, sessionID)
		}
		s.inflightMu.Unlock()
		cancel()
	}
}

// turn accumulates everything one Chat call produces.
type turn struct {
	history  []domain.Turn
	added    []domain.Turn
	state    domain.SessionState
	messages []domain.Message
	outcome  string
	persist  bool
	now      func() time.Time
}

func (t *turn) record(role domain.Role, text string, action domain.Action, payload json.RawMessage) {
	entry := domain.Turn{Role: role, Text: text, Action: action, Payload: payload, Timestamp: t.now()}
	t.history = append(t.history, entry)
	t.added = append(t.added, entry)
}

func (t *turn) say(m ...domain.Message) {
	t.messages = append(t.messages, m...)
}

func (s *ChatService) runTurn(ctx context.Context, logger *zap.Logger, sessionID, message string, sel *Selection) (t *turn, err error) {
	t = &turn{outcome: "ok", now: s.now}

	session, loadErr := s.sessions.LoadSession(ctx, sessionID, s.historyLimit)
	if loadErr != nil {
		logger.Error("load session", zap.Error(loadErr))
		t.outcome = "failed"
		t.say(apology())
		return t, nil
	}
	t.history = session.Turns
	t.state = session.State

	switch {
	case message == "" && sel == nil && len(t.history) > 0:
		return nil, newError(ErrorInvalidInput, "empty_message", nil)
	case message == "" && sel == nil:
		// bootstrap: the model greets an empty session
	default:
		var action domain.Action
		var payload json.RawMessage
		if sel != nil {
			action = domain.Action(strings.TrimSpace(sel.Action))
			payload = sel.Payload
		}
		t.record(domain.RoleUser, message, action, payload)
	}
	t.persist = true

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", zap.Any("panic", r), zap.Stack("stack"))
			t.outcome = "failed"
			msg := apology()
			t.messages = nil
			t.say(msg)
			t.record(domain.RoleAssistant, msg.Text, domain.ActionError, nil)
			err = nil
		}
	}()

	catalog, catErr := s.catalog.ListServices(ctx)
	if catErr != nil {
		logger.Warn("load catalog", zap.Error(catErr))
	}

	s.loop(ctx, logger, sessionID, catalog, t)
	return t, nil
}

// loop alternates model calls and executor dispatches until an action
// yields to the user or the loop cap is hit.
func (s *ChatService) loop(ctx context.Context, logger *zap.Logger, sessionID string, catalog []domain.Service, t *turn) {
	var facts domain.Facts
	for n := 1; ; n++ {
		intent := s.translator.Translate(ctx, translator.Input{
			History: t.history,
			Facts:   facts,
			Catalog: catalog,
			State:   t.state,
			Now:     s.now(),
		})
		if ctx.Err() != nil {
			return
		}

		res := s.executor.Execute(ctx, executor.Request{
			SessionID: sessionID,
			Action:    intent.Action,
			Payload:   intent.Payload,
			State:     t.state,
		})
		if ctx.Err() != nil {
			if intent.Action.Mutating() {
				logger.Warn("turn cancelled after mutation", zap.String("action", string(intent.Action)), zap.String("result", string(res.Kind)))
			}
			return
		}
		if res.Verified != "" {
			t.state.MarkVerified(res.Verified)
		}
		if res.Kind == executor.KindUnsupported {
			logger.Info("unsupported action requested", zap.String("action", string(intent.Action)))
			s.metrics.CountFallback(reasonUnsupported)
			intent = unsupportedIntent()
		}
		if intent.Reason != "" {
			t.outcome = intent.Reason
		}

		t.record(domain.RoleAssistant, intent.ResponseText, intent.Action, intent.Payload)
		if !res.Facts.Empty() {
			t.record(domain.RoleSystem, strings.Join(res.Facts.Lines(), "\n"), "", nil)
		}

		if !continues(intent.Action, res.Kind) {
			t.say(render(intent, res)...)
			return
		}
		t.say(feedback(intent.Action, res)...)

		if n >= s.maxLoops {
			s.metrics.CountLoopCap()
			logger.Warn("loop cap reached",
				zap.Int("loop", n),
				zap.String("action", string(intent.Action)))
			fb := translator.FallbackIntent(reasonLoopCap)
			t.outcome = reasonLoopCap
			t.record(domain.RoleAssistant, fb.ResponseText, fb.Action, fb.Payload)
			t.say(textMessage(fb.ResponseText, fb.Suggestions))
			return
		}
		logger.Debug("continuing turn",
			zap.Int("loop", n),
			zap.String("action", string(intent.Action)),
			zap.String("result", string(res.Kind)))
		facts = res.Facts
	}
}

// continues reports whether the model must see the executor's facts before
// anything is shown to the user.
func continues(action domain.Action, kind executor.Kind) bool {
	switch kind {
	case executor.KindOK:
		return action == domain.ActionVerifyOTP || action == domain.ActionFetchBookings
	case executor.KindMissing, executor.KindUnverified, executor.KindUnavailable:
		return true
	}
	return false
}

func unsupportedIntent() domain.Intent {
	return domain.Intent{
		ResponseText: unsupportedText,
		Action:       domain.ActionFallback,
		Payload:      json.RawMessage(`{}`),
		Suggestions:  []string{"Book an appointment", "Start Over"},
		Reason:       reasonUnsupported,
	}
}

func apology() domain.Message {
	return textMessage(apologyText, []string{"Retry"})
}

var newUUID = func() string {
	return uuid.NewString()
}
