// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"booking-assistant/internal/booking"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	ParamPrefix string `envconfig:"PARAM_PREFIX" required:"true"`
	LLMProvider string `envconfig:"LLM_PROVIDER" default:"openai"`
	// OpenAIBaseURL points the OpenAI client at a compatible server.
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`

	StateTable string `envconfig:"STATE_TABLE"`
	RedisAddr  string `envconfig:"REDIS_ADDR"`

	HistoryWindow       int           `envconfig:"HISTORY_WINDOW" default:"10"`
	MaxInternalLoops    int           `envconfig:"MAX_INTERNAL_LOOPS" default:"5"`
	ModelTimeout        time.Duration `envconfig:"MODEL_TIMEOUT" default:"20s"`
	ModelTemperature    float64       `envconfig:"MODEL_TEMPERATURE" default:"0.3"`
	ModelRateLimit      float64       `envconfig:"MODEL_RATE_LIMIT" default:"5"`
	ModelRateBurst      int           `envconfig:"MODEL_RATE_BURST" default:"10"`
	MaxMessageLength    int           `envconfig:"MAX_MESSAGE_LENGTH" default:"500"`
	SessionQueueTimeout time.Duration `envconfig:"SESSION_QUEUE_TIMEOUT" default:"30s"`
	StoreLatency        time.Duration `envconfig:"STORE_LATENCY" default:"0s"`

	OTPDemoCode     string        `envconfig:"OTP_DEMO_CODE" default:"123456"`
	OTPAcceptSuffix string        `envconfig:"OTP_ACCEPT_SUFFIX" default:"6"`
	OTPTTL          time.Duration `envconfig:"OTP_TTL" default:"5m"`
	OTPMaxAttempts  int           `envconfig:"OTP_MAX_ATTEMPTS" default:"5"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ParamPrefix == "" {
		errs = append(errs, errors.New("PARAM_PREFIX must not be empty"))
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of %s, %s", c.LLMProvider, ProviderOpenAI, ProviderGemini))
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, errors.New("HISTORY_WINDOW must be positive"))
	}
	if c.MaxInternalLoops <= 0 {
		errs = append(errs, errors.New("MAX_INTERNAL_LOOPS must be positive"))
	}
	if c.ModelTimeout <= 0 {
		errs = append(errs, errors.New("MODEL_TIMEOUT must be positive"))
	}
	if c.ModelTemperature < 0 || c.ModelTemperature > 2 {
		errs = append(errs, errors.New("MODEL_TEMPERATURE must be between 0 and 2"))
	}
	if c.ModelRateLimit < 0 || c.ModelRateBurst < 0 {
		errs = append(errs, errors.New("MODEL_RATE_LIMIT and MODEL_RATE_BURST must not be negative"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.SessionQueueTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_QUEUE_TIMEOUT must be positive"))
	}
	if c.StoreLatency < 0 {
		errs = append(errs, errors.New("STORE_LATENCY must not be negative"))
	}
	if c.OTPTTL <= 0 || c.OTPMaxAttempts <= 0 {
		errs = append(errs, errors.New("OTP_TTL and OTP_MAX_ATTEMPTS must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// OTPPolicy returns the verification policy for the booking store.
func (c Config) OTPPolicy() booking.OTPPolicy {
	return booking.OTPPolicy{
		DemoCode:     c.OTPDemoCode,
		AcceptSuffix: c.OTPAcceptSuffix,
		TTL:          c.OTPTTL,
		MaxAttempts:  c.OTPMaxAttempts,
	}
}

// LockTTL bounds how long a session lock outlives a crashed holder. It
// covers a turn that uses every model call up to its timeout, plus slack for
// store calls and the final history write.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.MaxInternalLoops)*c.ModelTimeout + time.Minute
}

func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
