package voice

import (
	"context"
	"sync"
)

// MockTranscriber returns a fixed transcript and records what it was fed.
type MockTranscriber struct {
	Text string
	Err  error

	mu    sync.Mutex
	calls []MockTranscribeCall
}

type MockTranscribeCall struct {
	Bytes      int
	SampleRate int
	Language   string
}

func (m *MockTranscriber) Transcribe(_ context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockTranscribeCall{Bytes: len(pcm), SampleRate: sampleRate, Language: language})
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

func (m *MockTranscriber) Calls() []MockTranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockTranscribeCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockSynthesizer emits the input text bytes as fake PCM so tests can assert
// the text flowed through.
type MockSynthesizer struct {
	Rate int
	Err  error
}

func (m *MockSynthesizer) Synthesize(_ context.Context, text string) ([]byte, int, error) {
	if m.Err != nil {
		return nil, 0, m.Err
	}
	rate := m.Rate
	if rate <= 0 {
		rate = 22050
	}
	return []byte(text), rate, nil
}
