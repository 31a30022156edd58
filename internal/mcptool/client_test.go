package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(ts *httptest.Server) *Client {
	c := NewClient(ts.URL)
	c.pollInterval = 5 * time.Millisecond
	return c
}

// fakeVoiced simulates the server's voice-request endpoints: one create
// route and one result route whose answers are scripted per poll.
func fakeVoiced(t *testing.T, results ...resultResponse) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice-requests", func(w http.ResponseWriter, r *http.Request) {
		var req createRequestBody
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-1", "status": "pending"})
	})
	mux.HandleFunc("GET /api/voice-requests/req-1/result", func(w http.ResponseWriter, r *http.Request) {
		i := int(polls.Add(1)) - 1
		if i >= len(results) {
			i = len(results) - 1
		}
		_ = json.NewEncoder(w).Encode(results[i])
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, &polls
}

func TestGetVoiceInputPollsUntilCompleted(t *testing.T) {
	ts, polls := fakeVoiced(t,
		resultResponse{Status: "pending"},
		resultResponse{Status: "claimed"},
		resultResponse{Status: "completed", Transcript: "allume la lumière"},
	)

	got, err := newTestClient(ts).GetVoiceInput(context.Background(), "fr", time.Minute)
	if err != nil {
		t.Fatalf("GetVoiceInput() error = %v", err)
	}
	if got != "allume la lumière" {
		t.Fatalf("transcript = %q, want the completed transcript", got)
	}
	if polls.Load() < 3 {
		t.Fatalf("polls = %d, want at least 3", polls.Load())
	}
}

func TestGetVoiceInputTimedOut(t *testing.T) {
	ts, _ := fakeVoiced(t, resultResponse{Status: "timed_out"})

	_, err := newTestClient(ts).GetVoiceInput(context.Background(), "", time.Minute)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("error = %v, want ErrTimedOut", err)
	}
}

func TestGetVoiceInputFailedCarriesDetail(t *testing.T) {
	ts, _ := fakeVoiced(t, resultResponse{Status: "failed", Error: "whisper unreachable"})

	_, err := newTestClient(ts).GetVoiceInput(context.Background(), "", time.Minute)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("error = %v, want ErrFailed", err)
	}
	if got := err.Error(); !strings.Contains(got, "whisper unreachable") {
		t.Fatalf("error = %q, want the server detail included", got)
	}
}

func TestGetVoiceInputEmptyTranscriptIsNotAnError(t *testing.T) {
	ts, _ := fakeVoiced(t, resultResponse{Status: "completed", Transcript: ""})

	got, err := newTestClient(ts).GetVoiceInput(context.Background(), "", time.Minute)
	if err != nil {
		t.Fatalf("GetVoiceInput() error = %v", err)
	}
	if got != "" {
		t.Fatalf("transcript = %q, want empty", got)
	}
}

func TestPollTreatsVanishedRequestAsTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice-requests", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "gone"})
	})
	mux.HandleFunc("GET /api/voice-requests/gone/result", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"voice request not found"}`, http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	_, err := newTestClient(ts).GetVoiceInput(context.Background(), "", time.Minute)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("error = %v, want ErrTimedOut for a reaped request", err)
	}
}

func TestPollRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice-requests", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "flaky"})
	})
	mux.HandleFunc("GET /api/voice-requests/flaky/result", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(resultResponse{Status: "completed", Transcript: "ok"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	got, err := newTestClient(ts).GetVoiceInput(context.Background(), "", time.Minute)
	if err != nil {
		t.Fatalf("GetVoiceInput() error = %v", err)
	}
	if got != "ok" {
		t.Fatalf("transcript = %q, want ok after retries", got)
	}
}

func TestPollHonorsContextCancellation(t *testing.T) {
	ts, _ := fakeVoiced(t, resultResponse{Status: "pending"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(ts).GetVoiceInput(ctx, "", time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context deadline", err)
	}
}
