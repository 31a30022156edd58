package wyoming

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/weber8thomas/claude-hands-free/internal/voice"
)

func TestEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	in := Event{
		Type:    typeAudioChunk,
		Data:    map[string]any{"rate": float64(16000), "width": float64(2), "channels": float64(1)},
		Payload: []byte{1, 2, 3, 4},
	}
	if err := writeEvent(w, in); err != nil {
		t.Fatalf("writeEvent() error = %v", err)
	}

	out, err := readEvent(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readEvent() error = %v", err)
	}
	if out.Type != in.Type {
		t.Fatalf("type = %q, want %q", out.Type, in.Type)
	}
	if dataInt(out.Data, "rate") != 16000 {
		t.Fatalf("rate = %d, want 16000", dataInt(out.Data, "rate"))
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload = %v, want %v", out.Payload, in.Payload)
	}
}

func TestReadEventAcceptsInlineData(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`{"type":"transcript","data":{"text":"bonjour"}}` + "\n"))
	evt, err := readEvent(r)
	if err != nil {
		t.Fatalf("readEvent() error = %v", err)
	}
	if evt.Type != typeTranscript || dataString(evt.Data, "text") != "bonjour" {
		t.Fatalf("event = %+v, want inline transcript", evt)
	}
}

// fakeServer accepts one connection and runs handle over it.
func fakeServer(t *testing.T, handle func(r *bufio.Reader, w *bufio.Writer)) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(bufio.NewReader(conn), bufio.NewWriter(conn))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestTranscribeRoundTrip(t *testing.T) {
	var gotLanguage string
	var gotPCM []byte

	host, port := fakeServer(t, func(r *bufio.Reader, w *bufio.Writer) {
		for {
			evt, err := readEvent(r)
			if err != nil {
				return
			}
			switch evt.Type {
			case typeTranscribe:
				gotLanguage = dataString(evt.Data, "language")
			case typeAudioChunk:
				gotPCM = append(gotPCM, evt.Payload...)
			case typeAudioStop:
				_ = writeEvent(w, Event{Type: typeTranscript, Data: map[string]any{"text": " salut claude "}})
				return
			}
		}
	})

	tr := NewTranscriber(host, port, "en", time.Second)
	pcm := bytes.Repeat([]byte{7, 8}, 3000) // spans several chunks
	text, err := tr.Transcribe(context.Background(), pcm, 16000, "fr")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "salut claude" {
		t.Fatalf("transcript = %q, want %q", text, "salut claude")
	}
	if gotLanguage != "fr" {
		t.Fatalf("language = %q, want %q", gotLanguage, "fr")
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Fatalf("server received %d bytes, want %d identical bytes", len(gotPCM), len(pcm))
	}
}

func TestTranscribeSurfacesServerError(t *testing.T) {
	host, port := fakeServer(t, func(r *bufio.Reader, w *bufio.Writer) {
		for {
			evt, err := readEvent(r)
			if err != nil {
				return
			}
			if evt.Type == typeAudioStop {
				_ = writeEvent(w, Event{Type: typeError, Data: map[string]any{"text": "model not loaded"}})
				return
			}
		}
	})

	tr := NewTranscriber(host, port, "en", time.Second)
	_, err := tr.Transcribe(context.Background(), []byte{1, 2}, 16000, "")
	if !errors.Is(err, voice.ErrUpstream) {
		t.Fatalf("Transcribe() error = %v, want ErrUpstream", err)
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("error %q does not carry the server detail", err)
	}
}

func TestTranscribeUnreachableHost(t *testing.T) {
	// A listener that is immediately closed leaves a port nothing accepts on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	tr := NewTranscriber("127.0.0.1", port, "en", 200*time.Millisecond)
	if _, err := tr.Transcribe(context.Background(), []byte{1, 2}, 16000, ""); !errors.Is(err, voice.ErrUpstream) {
		t.Fatalf("Transcribe() error = %v, want ErrUpstream", err)
	}
}

func TestSynthesizeCollectsChunks(t *testing.T) {
	var gotText string
	host, port := fakeServer(t, func(r *bufio.Reader, w *bufio.Writer) {
		evt, err := readEvent(r)
		if err != nil || evt.Type != typeSynthesize {
			return
		}
		gotText = dataString(evt.Data, "text")
		meta := map[string]any{"rate": float64(22050), "width": float64(2), "channels": float64(1)}
		_ = writeEvent(w, Event{Type: typeAudioStart, Data: meta})
		_ = writeEvent(w, Event{Type: typeAudioChunk, Data: meta, Payload: []byte{1, 2}})
		_ = writeEvent(w, Event{Type: typeAudioChunk, Data: meta, Payload: []byte{3, 4}})
		_ = writeEvent(w, Event{Type: typeAudioStop, Data: meta})
	})

	syn := NewSynthesizer(host, port, time.Second)
	pcm, rate, err := syn.Synthesize(context.Background(), "bonjour")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if gotText != "bonjour" {
		t.Fatalf("server saw text %q, want %q", gotText, "bonjour")
	}
	if rate != 22050 {
		t.Fatalf("rate = %d, want 22050", rate)
	}
	if !bytes.Equal(pcm, []byte{1, 2, 3, 4}) {
		t.Fatalf("pcm = %v, want joined chunks", pcm)
	}
}

func TestSynthesizeLongReplySpanningManyChunks(t *testing.T) {
	// A Piper server streams 1024-sample chunks, so a reply of a few
	// sentences easily exceeds several hundred events.
	const (
		chunkCount = 300
		chunkSize  = 2048
	)
	host, port := fakeServer(t, func(r *bufio.Reader, w *bufio.Writer) {
		evt, err := readEvent(r)
		if err != nil || evt.Type != typeSynthesize {
			return
		}
		meta := map[string]any{"rate": float64(22050), "width": float64(2), "channels": float64(1)}
		_ = writeEvent(w, Event{Type: typeAudioStart, Data: meta})
		chunk := bytes.Repeat([]byte{9}, chunkSize)
		for i := 0; i < chunkCount; i++ {
			_ = writeEvent(w, Event{Type: typeAudioChunk, Data: meta, Payload: chunk})
		}
		_ = writeEvent(w, Event{Type: typeAudioStop, Data: meta})
	})

	syn := NewSynthesizer(host, port, time.Second)
	pcm, rate, err := syn.Synthesize(context.Background(), "a reply long enough to speak for half a minute")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 22050 {
		t.Fatalf("rate = %d, want 22050", rate)
	}
	if len(pcm) != chunkCount*chunkSize {
		t.Fatalf("len(pcm) = %d, want %d", len(pcm), chunkCount*chunkSize)
	}
}

func TestSynthesizeNeverSendsAudioFails(t *testing.T) {
	host, port := fakeServer(t, func(r *bufio.Reader, w *bufio.Writer) {
		evt, err := readEvent(r)
		if err != nil || evt.Type != typeSynthesize {
			return
		}
		// Chatter without a single audio chunk or stop.
		for i := 0; i < 2*maxEvents; i++ {
			if err := writeEvent(w, Event{Type: "ping", Data: map[string]any{}}); err != nil {
				return
			}
		}
	})

	syn := NewSynthesizer(host, port, time.Second)
	if _, _, err := syn.Synthesize(context.Background(), "hello"); !errors.Is(err, voice.ErrUpstream) {
		t.Fatalf("Synthesize() error = %v, want ErrUpstream", err)
	}
}

func TestSynthesizeEmptyTextSkipsBackend(t *testing.T) {
	// Port with nothing listening: any dial would fail, proving no dial.
	syn := NewSynthesizer("127.0.0.1", 1, 50*time.Millisecond)
	pcm, rate, err := syn.Synthesize(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(pcm) != 0 || rate != synthSampleRate {
		t.Fatalf("Synthesize(empty) = (%d bytes, %d), want no audio", len(pcm), rate)
	}
}

func TestTranscribeContextCancelled(t *testing.T) {
	host, port := fakeServer(t, func(r *bufio.Reader, w *bufio.Writer) {
		// Read everything but never answer.
		for {
			if _, err := readEvent(r); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	tr := NewTranscriber(host, port, "en", time.Second)
	if _, err := tr.Transcribe(ctx, []byte{1, 2}, 16000, ""); err == nil {
		t.Fatal("Transcribe() with dead server returned nil error")
	}
}
