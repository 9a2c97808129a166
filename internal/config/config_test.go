package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "/booking/")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/booking", cfg.ParamPrefix)
	require.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	require.Empty(t, cfg.StateTable)
	require.Empty(t, cfg.RedisAddr)
	require.Equal(t, 10, cfg.HistoryWindow)
	require.Equal(t, 5, cfg.MaxInternalLoops)
	require.Equal(t, 20*time.Second, cfg.ModelTimeout)
	require.InDelta(t, 0.3, cfg.ModelTemperature, 1e-9)
	require.Equal(t, 5*20*time.Second+time.Minute, cfg.LockTTL())
	require.InDelta(t, 5.0, cfg.ModelRateLimit, 1e-9)
	require.Equal(t, 10, cfg.ModelRateBurst)
	require.Equal(t, 500, cfg.MaxMessageLength)
	require.Equal(t, 30*time.Second, cfg.SessionQueueTimeout)
	require.Zero(t, cfg.StoreLatency)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, zapcore.InfoLevel, cfg.Level())

	p := cfg.OTPPolicy()
	require.Equal(t, "123456", p.DemoCode)
	require.Equal(t, "6", p.AcceptSuffix)
	require.Equal(t, 5*time.Minute, p.TTL)
	require.Equal(t, 5, p.MaxAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "/prod/booking")
	t.Setenv("LLM_PROVIDER", " Gemini ")
	t.Setenv("STATE_TABLE", "chat-state")
	t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
	t.Setenv("MAX_INTERNAL_LOOPS", "3")
	t.Setenv("MODEL_TIMEOUT", "5s")
	t.Setenv("STORE_LATENCY", "250ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderGemini, cfg.LLMProvider)
	require.Equal(t, "chat-state", cfg.StateTable)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisAddr)
	require.Equal(t, 3, cfg.MaxInternalLoops)
	require.Equal(t, 5*time.Second, cfg.ModelTimeout)
	require.Equal(t, 3*5*time.Second+time.Minute, cfg.LockTTL())
	require.Equal(t, 250*time.Millisecond, cfg.StoreLatency)
	require.Equal(t, zapcore.DebugLevel, cfg.Level())
}

func TestLoad_RequiresParamPrefix(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "/booking")
	t.Setenv("MODEL_TIMEOUT", "soon")
	_, err := Load()
	require.ErrorContains(t, err, "MODEL_TIMEOUT")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ParamPrefix:         "/booking",
			LLMProvider:         ProviderOpenAI,
			HistoryWindow:       10,
			MaxInternalLoops:    5,
			ModelTimeout:        time.Second,
			MaxMessageLength:    500,
			SessionQueueTimeout: time.Second,
			OTPTTL:              time.Minute,
			OTPMaxAttempts:      5,
			LogLevel:            "info",
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.LLMProvider = "anthropic" }, "LLM_PROVIDER"},
		{"loops", func(c *Config) { c.MaxInternalLoops = 0 }, "MAX_INTERNAL_LOOPS"},
		{"window", func(c *Config) { c.HistoryWindow = -1 }, "HISTORY_WINDOW"},
		{"latency", func(c *Config) { c.StoreLatency = -time.Second }, "STORE_LATENCY"},
		{"otp", func(c *Config) { c.OTPMaxAttempts = 0 }, "OTP_TTL"},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "LOG_LEVEL"},
		{"temperature", func(c *Config) { c.ModelTemperature = 2.5 }, "MODEL_TEMPERATURE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			require.ErrorContains(t, c.Validate(), tc.want)
		})
	}
}
