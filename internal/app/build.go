package app

import (
	"context"
	"fmt"
	"log"

	"github.com/weber8thomas/claude-hands-free/internal/broker"
	"github.com/weber8thomas/claude-hands-free/internal/config"
	"github.com/weber8thomas/claude-hands-free/internal/history"
	"github.com/weber8thomas/claude-hands-free/internal/observability"
	"github.com/weber8thomas/claude-hands-free/internal/sessions"
	"github.com/weber8thomas/claude-hands-free/internal/voice"
	"github.com/weber8thomas/claude-hands-free/internal/wyoming"
)

// Build assembles the service from config. The returned cleanup releases
// external resources and running subprocesses.
func Build(ctx context.Context, cfg config.Config) (*Service, func() error, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	hist, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryDir)
	if err != nil {
		return nil, nil, fmt.Errorf("history store init failed: %w", err)
	}

	var (
		transcriber voice.Transcriber
		synthesizer voice.Synthesizer
	)
	switch cfg.VoiceProvider {
	case "mock":
		transcriber = &voice.MockTranscriber{Text: "simulated voice input"}
		synthesizer = &voice.MockSynthesizer{}
		log.Printf("voice provider: mock")
	default:
		transcriber = wyoming.NewTranscriber(cfg.WhisperHost, cfg.WhisperPort, cfg.DefaultLanguage, cfg.WyomingDialTimeout)
		synthesizer = wyoming.NewSynthesizer(cfg.PiperHost, cfg.PiperPort, cfg.WyomingDialTimeout)
		log.Printf("voice provider: wyoming (whisper %s:%d, piper %s:%d)",
			cfg.WhisperHost, cfg.WhisperPort, cfg.PiperHost, cfg.PiperPort)
	}

	brk := broker.New(broker.Options{
		ClaimTTL:              cfg.VoiceClaimTTL,
		Retention:             cfg.VoiceRetention,
		DefaultOverallTimeout: cfg.VoiceDefaultTimeout,
	})

	store := sessions.NewStore(sessions.Options{
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxSessions: cfg.MaxSessions,
	}, NewBridgeFactory(cfg))
	store.SetEvictHook(func(sess sessions.Session) {
		log.Printf("[%s] session evicted after idling", sess.ID)
		metrics.SessionEvents.WithLabelValues("evicted").Inc()
		metrics.ActiveSessions.Set(float64(store.Len()))
	})

	svc := NewService(cfg, store, brk, transcriber, synthesizer, hist, metrics)

	cleanup := func() error {
		store.CloseAll()
		return hist.Close()
	}
	return svc, cleanup, nil
}
