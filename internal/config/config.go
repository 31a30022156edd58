package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the hands-free voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	SessionIdleTimeout     time.Duration
	SessionJanitorInterval time.Duration
	MaxSessions            int

	// Interactive assistant subprocess.
	AssistantCLIPath string
	AssistantCLIArgs []string
	PromptMarker     string
	TurnQuiescence   time.Duration
	TurnTimeout      time.Duration

	// Wyoming speech backends.
	VoiceProvider      string
	WhisperHost        string
	WhisperPort        int
	PiperHost          string
	PiperPort          int
	WyomingDialTimeout time.Duration
	DefaultLanguage    string

	// Voice request broker.
	VoiceClaimTTL       time.Duration
	VoiceRetention      time.Duration
	VoiceDefaultTimeout time.Duration
	VoiceReapInterval   time.Duration

	// Conversation history persistence.
	DatabaseURL string
	HistoryDir  string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voiced"),
		AllowAnyOrigin:   false,
		ShutdownTimeout:  15 * time.Second,

		SessionIdleTimeout:     30 * time.Minute,
		SessionJanitorInterval: 30 * time.Second,
		MaxSessions:            16,

		AssistantCLIPath: envOrDefault("ASSISTANT_CLI_PATH", "claude"),
		AssistantCLIArgs: splitArgs(envOrDefault("ASSISTANT_CLI_ARGS", "chat")),
		PromptMarker:     envOrDefault("ASSISTANT_PROMPT_MARKER", "> "),
		TurnQuiescence:   2 * time.Second,
		TurnTimeout:      2 * time.Minute,

		VoiceProvider:      envOrDefault("VOICE_PROVIDER", "wyoming"),
		WhisperHost:        envOrDefault("WHISPER_HOST", "localhost"),
		WhisperPort:        10300,
		PiperHost:          envOrDefault("PIPER_HOST", "localhost"),
		PiperPort:          10200,
		WyomingDialTimeout: 5 * time.Second,
		DefaultLanguage:    envOrDefault("VOICE_LANGUAGE", "fr"),

		VoiceClaimTTL:       30 * time.Second,
		VoiceRetention:      5 * time.Minute,
		VoiceDefaultTimeout: 60 * time.Second,
		VoiceReapInterval:   2 * time.Second,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
		HistoryDir:  stringsTrimSpace("HISTORY_DIR"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionJanitorInterval, err = durationFromEnv("APP_SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSessions, err = intFromEnv("APP_MAX_SESSIONS", cfg.MaxSessions)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.TurnQuiescence, err = durationFromEnv("ASSISTANT_TURN_QUIESCENCE", cfg.TurnQuiescence)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout, err = durationFromEnv("ASSISTANT_TURN_TIMEOUT", cfg.TurnTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.WhisperPort, err = intFromEnv("WHISPER_PORT", cfg.WhisperPort)
	if err != nil {
		return Config{}, err
	}
	cfg.PiperPort, err = intFromEnv("PIPER_PORT", cfg.PiperPort)
	if err != nil {
		return Config{}, err
	}
	cfg.WyomingDialTimeout, err = durationFromEnv("WYOMING_DIAL_TIMEOUT", cfg.WyomingDialTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.VoiceClaimTTL, err = durationFromEnv("VOICE_CLAIM_TTL", cfg.VoiceClaimTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceRetention, err = durationFromEnv("VOICE_RETENTION", cfg.VoiceRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceDefaultTimeout, err = durationFromEnv("VOICE_DEFAULT_TIMEOUT", cfg.VoiceDefaultTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceReapInterval, err = durationFromEnv("VOICE_REAP_INTERVAL", cfg.VoiceReapInterval)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_SESSIONS must be positive")
	}
	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.WhisperPort <= 0 || cfg.WhisperPort > 65535 {
		return Config{}, fmt.Errorf("WHISPER_PORT out of range")
	}
	if cfg.PiperPort <= 0 || cfg.PiperPort > 65535 {
		return Config{}, fmt.Errorf("PIPER_PORT out of range")
	}
	if cfg.VoiceClaimTTL <= 0 || cfg.VoiceDefaultTimeout <= 0 {
		return Config{}, fmt.Errorf("voice request deadlines must be positive")
	}
	switch cfg.VoiceProvider {
	case "wyoming", "mock":
	default:
		return Config{}, fmt.Errorf("VOICE_PROVIDER must be wyoming or mock")
	}

	return cfg, nil
}

func splitArgs(v string) []string {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
