// Package httpapi exposes the voice service over HTTP: conversation
// endpoints for audio and text turns, the voice-request broker API that
// recording surfaces and the MCP tool poll, and a small embedded recorder
// UI.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/weber8thomas/claude-hands-free/internal/app"
	"github.com/weber8thomas/claude-hands-free/internal/audio"
	"github.com/weber8thomas/claude-hands-free/internal/bridge"
	"github.com/weber8thomas/claude-hands-free/internal/broker"
	"github.com/weber8thomas/claude-hands-free/internal/config"
	"github.com/weber8thomas/claude-hands-free/internal/observability"
	"github.com/weber8thomas/claude-hands-free/internal/sessions"
	"github.com/weber8thomas/claude-hands-free/internal/voice"
)

// maxUploadBytes caps recording uploads; a minute of 16 kHz PCM16 WAV is
// under 2 MiB, so this leaves generous headroom.
const maxUploadBytes = 32 << 20

type Server struct {
	cfg      config.Config
	svc      *app.Service
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, svc *app.Service) *Server {
	return &Server{
		cfg:    cfg,
		svc:    svc,
		static: newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may watch the voice-request
				// feed unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice", s.handleVoiceTurn)
	r.Post("/v1/voice/text", s.handleVoiceTextTurn)
	r.Post("/v1/chat", s.handleTextTurn)
	r.Post("/v1/transcribe", s.handleTranscribe)

	r.Post("/v1/session/new", s.handleNewSession)
	r.Post("/v1/session/{id}/clear", s.handleClearSession)
	r.Get("/v1/session/{id}/history", s.handleSessionHistory)
	r.Get("/v1/sessions", s.handleListSessions)

	r.Post("/api/voice-requests", s.handleCreateVoiceRequest)
	r.Get("/api/voice-requests/pending", s.handlePendingVoiceRequests)
	r.Post("/api/voice-requests/{id}/claim", s.handleClaimVoiceRequest)
	r.Post("/api/voice-requests/{id}/audio", s.handleSubmitVoiceAudio)
	r.Get("/api/voice-requests/{id}/result", s.handleVoiceResult)
	r.Get("/api/voice-requests/ws", s.handleVoiceRequestWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"whisper": fmt.Sprintf("%s:%d", s.cfg.WhisperHost, s.cfg.WhisperPort),
		"piper":   fmt.Sprintf("%s:%d", s.cfg.PiperHost, s.cfg.PiperPort),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": s.svc.Sessions().Len(),
	})
}

// handleVoiceTurn is the full loop: recording in, spoken reply out. The
// session id rides in a form field on the way in and a header on the way
// out so audio stays the response body.
func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	wav, sessionID, ok := readAudioUpload(w, r)
	if !ok {
		return
	}

	out, err := s.svc.VoiceTurn(r.Context(), sessionID, wav, true)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Session-ID", out.SessionID)
	w.Header().Set("X-Transcript", sanitizeHeader(out.Transcript))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.AudioWAV)
}

func (s *Server) handleVoiceTextTurn(w http.ResponseWriter, r *http.Request) {
	wav, sessionID, ok := readAudioUpload(w, r)
	if !ok {
		return
	}

	out, err := s.svc.VoiceTurn(r.Context(), sessionID, wav, false)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleTextTurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	out, err := s.svc.TextTurn(r.Context(), req.SessionID, req.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	wav, _, ok := readAudioUpload(w, r)
	if !ok {
		return
	}
	language := strings.TrimSpace(r.FormValue("language"))

	transcript, err := s.svc.Transcribe(r.Context(), wav, language)
	if err != nil && !errors.Is(err, app.ErrNoSpeech) {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"transcript": transcript, "status": "ok"})
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.svc.NewSession()
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if err := s.svc.ClearSession(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := s.svc.History(r.Context(), id, 0)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": records})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.svc.Sessions().List()})
}

func (s *Server) handleCreateVoiceRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language  string `json:"language"`
		TimeoutMS int64  `json:"timeout_ms"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res := s.svc.RequestVoiceInput(req.Language, time.Duration(req.TimeoutMS)*time.Millisecond)
	respondJSON(w, http.StatusCreated, map[string]string{
		"request_id": res.RequestID,
		"status":     string(res.State),
	})
}

func (s *Server) handlePendingVoiceRequests(w http.ResponseWriter, _ *http.Request) {
	pending := s.svc.PendingVoiceRequests()
	if pending == nil {
		pending = []broker.PendingRequest{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": pending})
}

func (s *Server) handleClaimVoiceRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.ClaimVoiceRequest(id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(broker.StateClaimed)})
}

func (s *Server) handleSubmitVoiceAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wav, _, ok := readAudioUpload(w, r)
	if !ok {
		return
	}

	transcript, err := s.svc.SubmitVoiceRecording(r.Context(), id, wav)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"transcript": transcript,
		"status":     string(broker.StateCompleted),
	})
}

func (s *Server) handleVoiceResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.svc.VoiceResult(id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     string(res.State),
		"transcript": res.Transcript,
		"error":      res.ErrDetail,
	})
}

// readAudioUpload pulls the WAV payload out of a multipart form (field
// "audio") or a raw audio/wav body, plus the optional session id.
func readAudioUpload(w http.ResponseWriter, r *http.Request) (wav []byte, sessionID string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
			return nil, "", false
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_upload", "multipart field 'audio' is required")
			return nil, "", false
		}
		defer file.Close()
		b, err := io.ReadAll(file)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
			return nil, "", false
		}
		return b, strings.TrimSpace(r.FormValue("session_id")), true
	}

	b, err := io.ReadAll(r.Body)
	if err != nil || len(b) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_upload", "audio body is required")
		return nil, "", false
	}
	return b, strings.TrimSpace(r.URL.Query().Get("session_id")), true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrNotFound), errors.Is(err, sessions.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, broker.ErrAlreadyClaimed):
		respondError(w, http.StatusConflict, "already_claimed", err.Error())
	case errors.Is(err, broker.ErrExpired):
		respondError(w, http.StatusGone, "expired", err.Error())
	case errors.Is(err, broker.ErrWrongState):
		respondError(w, http.StatusConflict, "wrong_state", err.Error())
	case errors.Is(err, sessions.ErrCapacity):
		respondError(w, http.StatusTooManyRequests, "capacity_exceeded", err.Error())
	case errors.Is(err, bridge.ErrBusy):
		respondError(w, http.StatusConflict, "turn_in_progress", err.Error())
	case errors.Is(err, bridge.ErrTurnTimeout):
		respondError(w, http.StatusGatewayTimeout, "turn_timeout", err.Error())
	case errors.Is(err, voice.ErrUpstream):
		respondError(w, http.StatusBadGateway, "upstream_failure", err.Error())
	case errors.Is(err, app.ErrNoSpeech):
		respondError(w, http.StatusBadRequest, "no_speech", err.Error())
	case errors.Is(err, app.ErrPromptBlocked):
		respondError(w, http.StatusForbidden, "prompt_blocked", err.Error())
	case errors.Is(err, audio.ErrNotWAV), errors.Is(err, audio.ErrUnsupportedFormat):
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// sanitizeHeader keeps transcripts legal as an HTTP header value.
func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	if len(v) > 512 {
		v = v[:512]
	}
	return v
}
