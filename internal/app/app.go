// Package app wires the chat service and its backends from configuration.
// Both the Lambda entry point and the local dev server build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"booking-assistant/handler"
	"booking-assistant/internal/booking"
	"booking-assistant/internal/config"
	"booking-assistant/internal/executor"
	"booking-assistant/internal/integrations/gemini"
	"booking-assistant/internal/integrations/openai"
	"booking-assistant/internal/integrations/paramstore"
	"booking-assistant/internal/lock"
	"booking-assistant/internal/metrics"
	"booking-assistant/internal/repository"
	"booking-assistant/internal/translator"
	"booking-assistant/internal/usecase"
)

var timeNow = time.Now

type App struct {
	Handler *handler.Handler
	Store   *booking.Memory

	closers []func() error
}

// Close releases provider and Redis connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Build constructs every component. reg receives the Prometheus instruments.
func Build(ctx context.Context, cfg config.Config, awsCfg aws.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{}
	m := metrics.New(reg)

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}

	var (
		llm       translator.LLMClient
		moderator usecase.Moderator
	)
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		g, err := gemini.NewClient(params, cfg.ParamPrefix, gemini.WithTemperature(float32(cfg.ModelTemperature)))
		if err != nil {
			return nil, fmt.Errorf("create Gemini client: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		llm = g
	default:
		opts := []openai.Option{openai.WithTemperature(cfg.ModelTemperature)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL), openai.WithJSONObjectMode())
		}
		o, err := openai.NewClient(params, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		llm = o
		// Compatible servers rarely implement /moderations.
		if cfg.OpenAIBaseURL == "" {
			moderator = o
		}
	}

	tr, err := translator.New(llm, params, cfg.ParamPrefix,
		translator.WithWindow(cfg.HistoryWindow),
		translator.WithTimeout(cfg.ModelTimeout),
		translator.WithRateLimit(cfg.ModelRateLimit, cfg.ModelRateBurst),
		translator.WithLogger(logger.Named("translator")),
		translator.WithMetrics(m),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create translator: %w", err)
	}

	a.Store = booking.NewMemory(
		booking.WithLatency(cfg.StoreLatency),
		booking.WithOTPPolicy(cfg.OTPPolicy()),
		booking.WithSeed(booking.DemoSeed(timeNow())),
	)
	ex, err := executor.New(a.Store, executor.WithLogger(logger.Named("executor")), executor.WithMetrics(m))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create executor: %w", err)
	}

	var sessions usecase.SessionStore = repository.NewMemory()
	if cfg.StateTable != "" {
		sessions, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create state client: %w", err)
		}
	} else {
		logger.Warn("STATE_TABLE not set, keeping chat history in memory")
	}

	var locker lock.Locker = lock.NewMemory()
	if cfg.RedisAddr != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		locker, err = lock.NewRedis(client, "booking:session:", lock.WithTTL(cfg.LockTTL()))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	opts := []usecase.Option{
		usecase.WithHistoryLimit(cfg.HistoryWindow * 5),
		usecase.WithMaxLoops(cfg.MaxInternalLoops),
		usecase.WithMaxMessageLength(cfg.MaxMessageLength),
		usecase.WithQueueTimeout(cfg.SessionQueueTimeout),
		usecase.WithLogger(logger.Named("chat")),
		usecase.WithMetrics(m),
	}
	if moderator != nil {
		opts = append(opts, usecase.WithModerator(moderator))
	}
	chat, err := usecase.NewChatService(tr, ex, sessions, a.Store, locker, opts...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create chat service: %w", err)
	}

	a.Handler, err = handler.NewHandler(chat,
		handler.WithReports(a.Store),
		handler.WithLogger(logger.Named("handler")),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create handler: %w", err)
	}
	return a, nil
}
