package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/report"
	"booking-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Reset(ctx context.Context, sessionID string) error
}

type chatRequest struct {
	SessionID string             `json:"sessionId"`
	Message   string             `json:"message"`
	Selection *usecase.Selection `json:"selection,omitempty"`
}

type chatResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []domain.Message `json:"messages"`
}

type resetRequest struct {
	SessionID string `json:"sessionId"`
}

type resetResponse struct {
	SessionID string `json:"sessionId"`
	Reset     bool   `json:"reset"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	chat    ChatUseCase
	reports report.Source
	logger  *zap.Logger
}

type Option func(*Handler)

// WithReports enables GET /admin/report over the given booking source.
func WithReports(src report.Source) Option {
	return func(h *Handler) {
		h.reports = src
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(chat ChatUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	h := &Handler{chat: chat, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes an API Gateway proxy request. Errors are always rendered as
// responses; the returned error is reserved for the Lambda runtime.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With(zap.String("correlation_id", correlationID))

	var resp events.APIGatewayProxyResponse
	switch route(req) {
	case "POST /chat":
		resp = h.handleChat(ctx, logger, req)
	case "POST /reset":
		resp = h.handleReset(ctx, logger, req)
	case "GET /admin/report":
		resp = h.handleReport(ctx, logger)
	case "OPTIONS":
		resp = events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	resp.Headers["Access-Control-Allow-Origin"] = "*"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type, " + correlationHeader
	resp.Headers["Access-Control-Allow-Methods"] = "GET, POST, OPTIONS"
	return resp, nil
}

func route(req events.APIGatewayProxyRequest) string {
	method := strings.ToUpper(req.HTTPMethod)
	if method == http.MethodOptions {
		return "OPTIONS"
	}
	path := req.Path
	if path == "" {
		path = req.Resource
	}
	path = "/" + strings.Trim(path, "/")
	return method + " " + path
}

func (h *Handler) handleChat(ctx context.Context, logger *zap.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var body chatRequest
	if err := decodeStrict(req.Body, &body); err != nil {
		logger.Info("rejecting chat request", zap.Error(err))
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{
		SessionID: body.SessionID,
		Message:   body.Message,
		Selection: body.Selection,
	})
	if err != nil {
		return h.errorResponse(logger, err)
	}
	messages := out.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	return jsonResponse(http.StatusOK, chatResponse{SessionID: out.SessionID, Messages: messages})
}

func (h *Handler) handleReset(ctx context.Context, logger *zap.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var body resetRequest
	if err := decodeStrict(req.Body, &body); err != nil {
		logger.Info("rejecting reset request", zap.Error(err))
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	if err := h.chat.Reset(ctx, body.SessionID); err != nil {
		return h.errorResponse(logger, err)
	}
	return jsonResponse(http.StatusOK, resetResponse{SessionID: strings.TrimSpace(body.SessionID), Reset: true})
}

func (h *Handler) handleReport(ctx context.Context, logger *zap.Logger) events.APIGatewayProxyResponse {
	if h.reports == nil {
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}
	r, err := report.Build(ctx, h.reports)
	if err != nil {
		logger.Error("build report", zap.Error(err))
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "report_error"})
	}
	return jsonResponse(http.StatusOK, r)
}

func (h *Handler) errorResponse(logger *zap.Logger, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.Error("unexpected use case error", zap.Error(err))
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorSessionBusy:
		status = http.StatusTooManyRequests
	case usecase.ErrorTurnAbandoned:
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", string(ucErr.Code)), zap.String("reason", ucErr.Reason), zap.Error(ucErr.Err))
	} else {
		logger.Info("request rejected", zap.String("code", string(ucErr.Code)), zap.String("reason", ucErr.Reason))
	}
	return jsonResponse(status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

// decodeStrict rejects unknown fields and trailing data. An empty body decodes
// to the zero value.
func decodeStrict(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data in body")
	}
	return nil
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
