package wyoming

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/weber8thomas/claude-hands-free/internal/voice"
)

const (
	// samplesPerChunk matches the chunking Whisper servers are tuned for.
	samplesPerChunk = 1024
	// synthSampleRate is the PCM rate Piper voices emit.
	synthSampleRate = 22050
	// maxEvents bounds non-audio chatter against a misbehaving server.
	maxEvents = 256
	// maxSynthPCMBytes caps collected speech audio; at 22050 Hz PCM16 this
	// is over ten minutes of output.
	maxSynthPCMBytes = 32 << 20
)

func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", voice.ErrUpstream, addr, err)
	}
	return conn, nil
}

// guardConn aborts conn reads and writes when ctx is cancelled.
func guardConn(ctx context.Context, conn net.Conn) (stop func() bool) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

// Transcriber streams PCM audio to a Wyoming Whisper server. Transcriptions
// are single-flight: the model host typically serves one decode at a time,
// so concurrent callers queue on the mutex instead of overloading it.
type Transcriber struct {
	addr        string
	dialTimeout time.Duration
	language    string

	mu sync.Mutex
}

// NewTranscriber points at host:port of a Wyoming ASR server.
// defaultLanguage applies when a request does not carry its own.
func NewTranscriber(host string, port int, defaultLanguage string, dialTimeout time.Duration) *Transcriber {
	return &Transcriber{
		addr:        net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		dialTimeout: dialTimeout,
		language:    defaultLanguage,
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, pcm16le []byte, sampleRate int, language string) (string, error) {
	if len(pcm16le) == 0 {
		return "", nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if strings.TrimSpace(language) == "" {
		language = t.language
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	conn, err := dial(ctx, t.addr, t.dialTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	stop := guardConn(ctx, conn)
	defer stop()

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	if err := writeEvent(w, Event{Type: typeTranscribe, Data: map[string]any{"language": language}}); err != nil {
		return "", fmt.Errorf("%w: send transcribe: %v", voice.ErrUpstream, err)
	}
	audioMeta := map[string]any{"rate": sampleRate, "width": 2, "channels": 1}
	if err := writeEvent(w, Event{Type: typeAudioStart, Data: audioMeta}); err != nil {
		return "", fmt.Errorf("%w: send audio-start: %v", voice.ErrUpstream, err)
	}
	chunkBytes := samplesPerChunk * 2
	for off := 0; off < len(pcm16le); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm16le) {
			end = len(pcm16le)
		}
		if err := writeEvent(w, Event{Type: typeAudioChunk, Data: audioMeta, Payload: pcm16le[off:end]}); err != nil {
			return "", fmt.Errorf("%w: send audio-chunk: %v", voice.ErrUpstream, err)
		}
	}
	if err := writeEvent(w, Event{Type: typeAudioStop, Data: audioMeta}); err != nil {
		return "", fmt.Errorf("%w: send audio-stop: %v", voice.ErrUpstream, err)
	}

	for i := 0; i < maxEvents; i++ {
		evt, err := readEvent(r)
		if err != nil {
			return "", fmt.Errorf("%w: read transcript: %v", voice.ErrUpstream, err)
		}
		switch evt.Type {
		case typeTranscript:
			return strings.TrimSpace(dataString(evt.Data, "text")), nil
		case typeError:
			return "", fmt.Errorf("%w: %s", voice.ErrUpstream, dataString(evt.Data, "text"))
		}
	}
	return "", fmt.Errorf("%w: no transcript after %d events", voice.ErrUpstream, maxEvents)
}

// Synthesizer renders text through a Wyoming Piper server.
type Synthesizer struct {
	addr        string
	dialTimeout time.Duration

	mu sync.Mutex
}

// NewSynthesizer points at host:port of a Wyoming TTS server.
func NewSynthesizer(host string, port int, dialTimeout time.Duration) *Synthesizer {
	return &Synthesizer{
		addr:        net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		dialTimeout: dialTimeout,
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, synthSampleRate, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	conn, err := dial(ctx, s.addr, s.dialTimeout)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()
	stop := guardConn(ctx, conn)
	defer stop()

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	if err := writeEvent(w, Event{Type: typeSynthesize, Data: map[string]any{"text": text}}); err != nil {
		return nil, 0, fmt.Errorf("%w: send synthesize: %v", voice.ErrUpstream, err)
	}

	// A long reply streams thousands of 1024-sample chunks, so the loop is
	// bounded by collected bytes (and the ctx deadline), never by a chunk
	// count. Only events that carry no audio count against maxEvents.
	var pcm []byte
	rate := synthSampleRate
	other := 0
	for {
		evt, err := readEvent(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: read audio: %v", voice.ErrUpstream, err)
		}
		switch evt.Type {
		case typeAudioChunk:
			pcm = append(pcm, evt.Payload...)
			if len(pcm) > maxSynthPCMBytes {
				return nil, 0, fmt.Errorf("%w: synthesized audio exceeds %d bytes", voice.ErrUpstream, maxSynthPCMBytes)
			}
			continue
		case typeAudioStop:
			return pcm, rate, nil
		case typeError:
			return nil, 0, fmt.Errorf("%w: %s", voice.ErrUpstream, dataString(evt.Data, "text"))
		case typeAudioStart:
			if got := dataInt(evt.Data, "rate"); got > 0 {
				rate = got
			}
		}
		other++
		if other >= maxEvents {
			return nil, 0, fmt.Errorf("%w: no audio after %d events", voice.ErrUpstream, maxEvents)
		}
	}
}
