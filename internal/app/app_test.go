package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"booking-assistant/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		ParamPrefix:         "/booking",
		LLMProvider:         config.ProviderOpenAI,
		HistoryWindow:       10,
		MaxInternalLoops:    5,
		ModelTimeout:        time.Second,
		ModelTemperature:    0.3,
		ModelRateLimit:      5,
		ModelRateBurst:      10,
		MaxMessageLength:    500,
		SessionQueueTimeout: time.Second,
		OTPDemoCode:         "123456",
		OTPAcceptSuffix:     "6",
		OTPTTL:              time.Minute,
		OTPMaxAttempts:      5,
		LogLevel:            "info",
	}
}

func TestBuild_InMemoryBackends(t *testing.T) {
	for _, provider := range []string{config.ProviderOpenAI, config.ProviderGemini} {
		t.Run(provider, func(t *testing.T) {
			cfg := testConfig()
			cfg.LLMProvider = provider

			a, err := Build(context.Background(), cfg, aws.Config{Region: "us-east-1"}, nil, prometheus.NewRegistry())
			require.NoError(t, err)
			require.NotNil(t, a.Handler)

			resp, err := a.Handler.Handle(context.Background(), events.APIGatewayProxyRequest{
				HTTPMethod: http.MethodGet,
				Path:       "/admin/report",
			})
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Contains(t, resp.Body, `"total":1`)

			require.NoError(t, a.Close())
		})
	}
}

func TestBuild_WithStateTable(t *testing.T) {
	cfg := testConfig()
	cfg.StateTable = "chat-state"
	a, err := Build(context.Background(), cfg, aws.Config{Region: "us-east-1"}, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestBuild_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Build(ctx, cfg, aws.Config{Region: "us-east-1"}, nil, prometheus.NewRegistry())
	require.ErrorContains(t, err, "redis")
}
