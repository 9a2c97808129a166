package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"booking-assistant/internal/app"
	"booking-assistant/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Wiring ----
	a, err := app.Build(ctx, cfg, awsCfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	logger.Info("starting lambda handler",
		zap.String("provider", cfg.LLMProvider),
		zap.Bool("dynamodb_history", cfg.StateTable != ""),
		zap.Bool("redis_lock", cfg.RedisAddr != ""),
	)
	lambda.Start(a.Handler.Handle)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}
