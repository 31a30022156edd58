// Package app wires the voice request broker, session store, speech
// backends and history store into the operations the HTTP layer exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/weber8thomas/claude-hands-free/internal/audio"
	"github.com/weber8thomas/claude-hands-free/internal/bridge"
	"github.com/weber8thomas/claude-hands-free/internal/broker"
	"github.com/weber8thomas/claude-hands-free/internal/config"
	"github.com/weber8thomas/claude-hands-free/internal/history"
	"github.com/weber8thomas/claude-hands-free/internal/observability"
	"github.com/weber8thomas/claude-hands-free/internal/policy"
	"github.com/weber8thomas/claude-hands-free/internal/sessions"
	"github.com/weber8thomas/claude-hands-free/internal/voice"
)

// ErrNoSpeech is returned when transcription yields an empty transcript.
var ErrNoSpeech = errors.New("no speech detected")

// ErrPromptBlocked is returned when the prompt guard refuses to forward a
// transcribed request to the assistant.
var ErrPromptBlocked = errors.New("prompt blocked")

// Service implements the conversation and voice-request operations.
type Service struct {
	cfg         config.Config
	sessions    *sessions.Store
	broker      *broker.Broker
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	history     history.Store
	metrics     *observability.Metrics
}

func NewService(
	cfg config.Config,
	store *sessions.Store,
	brk *broker.Broker,
	transcriber voice.Transcriber,
	synthesizer voice.Synthesizer,
	hist history.Store,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		cfg:         cfg,
		sessions:    store,
		broker:      brk,
		transcriber: transcriber,
		synthesizer: synthesizer,
		history:     hist,
		metrics:     metrics,
	}
}

func (s *Service) Sessions() *sessions.Store { return s.sessions }
func (s *Service) Broker() *broker.Broker    { return s.broker }

// TurnOutcome is the result of one assistant exchange.
type TurnOutcome struct {
	SessionID  string   `json:"session_id"`
	Transcript string   `json:"transcript,omitempty"`
	Reply      string   `json:"response"`
	Stale      []string `json:"stale_output,omitempty"`
	Respawned  bool     `json:"respawned,omitempty"`

	AudioWAV []byte `json:"-"`
}

// NewSession creates a session eagerly, for clients that want a stable id
// before the first turn.
func (s *Service) NewSession() (sessions.Session, error) {
	sess, _, _, err := s.sessions.GetOrCreate("")
	if err != nil {
		return sessions.Session{}, err
	}
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	return sess, nil
}

// ClearSession restarts a session's conversation and wipes its stored
// history. Safe to repeat.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Clear(sessionID); err != nil {
		return err
	}
	if err := s.history.ClearSession(ctx, sessionID); err != nil {
		return err
	}
	s.metrics.SessionEvents.WithLabelValues("cleared").Inc()
	return nil
}

// History returns the stored transcript of a session.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]history.TurnRecord, error) {
	return s.history.History(ctx, sessionID, limit)
}

// TextTurn sends one prompt through the session's subprocess and persists
// both sides of the exchange.
func (s *Service) TextTurn(ctx context.Context, sessionID, prompt string) (TurnOutcome, error) {
	return s.runTurn(ctx, sessionID, prompt, false)
}

func (s *Service) runTurn(ctx context.Context, sessionID, prompt string, voiced bool) (TurnOutcome, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return TurnOutcome{}, fmt.Errorf("empty prompt")
	}

	switch dec := policy.ScreenPrompt(prompt); {
	case dec.Blocked:
		s.metrics.SessionEvents.WithLabelValues("prompt_blocked").Inc()
		return TurnOutcome{}, fmt.Errorf("%w: %s", ErrPromptBlocked, dec.Reason)
	case dec.Risk == policy.RiskElevated:
		log.Printf("elevated-risk prompt forwarded: %q", prompt)
	}

	sess, br, created, err := s.sessions.GetOrCreate(sessionID)
	if err != nil {
		return TurnOutcome{}, err
	}
	if created {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
		s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	}

	start := time.Now()
	res, err := br.SendTurn(ctx, prompt)
	if err != nil {
		return TurnOutcome{}, err
	}
	s.metrics.ObserveTurnLatency(time.Since(start))
	if res.Respawned {
		s.metrics.TurnRespawns.Inc()
	}
	if len(res.Stale) > 0 {
		s.metrics.StaleDrains.Inc()
		log.Printf("[%s] drained %d stale output chunk(s) from a previous turn", sess.ID, len(res.Stale))
	}
	s.sessions.RecordTurn(sess.ID)

	// Spoken input carries emails, numbers and the like casually; scrub
	// before anything lands in storage.
	storedPrompt, _ := policy.RedactPII(prompt)
	storedReply, _ := policy.RedactPII(res.Reply)
	if err := s.history.SaveTurn(ctx, history.TurnRecord{SessionID: sess.ID, Role: history.RoleUser, Content: storedPrompt, Voiced: voiced}); err != nil {
		log.Printf("[%s] save user turn: %v", sess.ID, err)
	}
	if err := s.history.SaveTurn(ctx, history.TurnRecord{SessionID: sess.ID, Role: history.RoleAssistant, Content: storedReply, Voiced: voiced}); err != nil {
		log.Printf("[%s] save assistant turn: %v", sess.ID, err)
	}

	return TurnOutcome{
		SessionID: sess.ID,
		Reply:     res.Reply,
		Stale:     res.Stale,
		Respawned: res.Respawned,
	}, nil
}

// VoiceTurn transcribes uploaded WAV audio, runs the turn, and (when
// withAudio is set) renders the reply back as WAV speech.
func (s *Service) VoiceTurn(ctx context.Context, sessionID string, wav []byte, withAudio bool) (TurnOutcome, error) {
	transcript, err := s.transcribeWAV(ctx, wav, s.cfg.DefaultLanguage)
	if err != nil {
		return TurnOutcome{}, err
	}

	out, err := s.runTurn(ctx, sessionID, transcript, true)
	if err != nil {
		return TurnOutcome{}, err
	}
	out.Transcript = transcript

	if withAudio && strings.TrimSpace(out.Reply) != "" {
		pcm, rate, err := s.synthesizer.Synthesize(ctx, out.Reply)
		if err != nil {
			s.metrics.UpstreamErrors.WithLabelValues("piper").Inc()
			return TurnOutcome{}, err
		}
		wavOut, err := audio.EncodeWAVPCM16LE(pcm, rate)
		if err != nil {
			return TurnOutcome{}, err
		}
		out.AudioWAV = wavOut
	}
	return out, nil
}

// Transcribe converts a WAV payload to text without touching any session.
func (s *Service) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if strings.TrimSpace(language) == "" {
		language = s.cfg.DefaultLanguage
	}
	return s.transcribeWAV(ctx, wav, language)
}

// Speak renders text as WAV speech.
func (s *Service) Speak(ctx context.Context, text string) ([]byte, error) {
	pcm, rate, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues("piper").Inc()
		return nil, err
	}
	return audio.EncodeWAVPCM16LE(pcm, rate)
}

// RequestVoiceInput opens a broker request the recording surfaces can claim.
func (s *Service) RequestVoiceInput(language string, timeout time.Duration) broker.Result {
	if strings.TrimSpace(language) == "" {
		language = s.cfg.DefaultLanguage
	}
	id := s.broker.Create(language, timeout)
	s.metrics.VoiceRequests.WithLabelValues("created").Inc()
	s.metrics.VoiceTableSize.Set(float64(s.broker.Len()))
	return broker.Result{RequestID: id, State: broker.StatePending}
}

// PendingVoiceRequests lists requests still waiting for a recorder.
func (s *Service) PendingVoiceRequests() []broker.PendingRequest {
	return s.broker.ListPending()
}

// ClaimVoiceRequest marks a request as owned by one recording surface.
func (s *Service) ClaimVoiceRequest(requestID string) error {
	err := s.broker.Claim(requestID)
	if err == nil {
		s.metrics.VoiceRequests.WithLabelValues("claimed").Inc()
	}
	return err
}

// SubmitVoiceRecording transcribes a claimed request's recording and
// resolves the request. A transcription failure resolves it as failed so
// the poller is never left hanging.
func (s *Service) SubmitVoiceRecording(ctx context.Context, requestID string, wav []byte) (string, error) {
	language, err := s.broker.BeginSubmission(requestID)
	if err != nil {
		return "", err
	}

	transcript, err := s.transcribeWAV(ctx, wav, language)
	if err != nil && !errors.Is(err, ErrNoSpeech) {
		_ = s.broker.SubmitResult(requestID, "", err.Error())
		s.metrics.VoiceRequests.WithLabelValues("failed").Inc()
		return "", err
	}

	if err := s.broker.SubmitResult(requestID, transcript, ""); err != nil {
		return "", err
	}
	s.metrics.VoiceRequests.WithLabelValues("completed").Inc()
	s.metrics.VoiceTableSize.Set(float64(s.broker.Len()))
	return transcript, nil
}

// VoiceResult reports the current state of a request.
func (s *Service) VoiceResult(requestID string) (broker.Result, error) {
	return s.broker.GetResult(requestID)
}

// transcribeWAV decodes a WAV container and sends its PCM to the
// transcription backend.
func (s *Service) transcribeWAV(ctx context.Context, wav []byte, language string) (string, error) {
	pcm, rate, err := audio.DecodeWAVPCM16LE(wav)
	if err != nil {
		return "", err
	}

	start := time.Now()
	transcript, err := s.transcriber.Transcribe(ctx, pcm, rate, language)
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues("whisper").Inc()
		return "", err
	}
	s.metrics.ObserveTranscribeLatency(time.Since(start))

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrNoSpeech
	}
	return transcript, nil
}

// NewBridgeFactory builds per-session bridges around the configured
// assistant CLI.
func NewBridgeFactory(cfg config.Config) sessions.BridgeFactory {
	completion := bridge.CompletionPolicy{
		SentinelPrefix: cfg.PromptMarker,
		Quiescence:     cfg.TurnQuiescence,
		MaxTurn:        cfg.TurnTimeout,
	}
	return func(string) *bridge.Bridge {
		return bridge.New(bridge.Command{
			Path: cfg.AssistantCLIPath,
			Args: cfg.AssistantCLIArgs,
		}, completion)
	}
}
