// Package voice defines the speech-to-text and text-to-speech seams. The
// real backends live in internal/wyoming; mocks here keep the rest of the
// system testable without audio hardware or model servers.
package voice

import (
	"context"
	"errors"
)

// ErrUpstream marks failures of a speech backend, as opposed to bad input.
var ErrUpstream = errors.New("speech backend failure")

// Transcriber converts recorded speech into text.
type Transcriber interface {
	// Transcribe takes raw PCM16LE mono samples. An empty transcript with a
	// nil error means the backend heard nothing usable.
	Transcribe(ctx context.Context, pcm16le []byte, sampleRate int, language string) (string, error)
}

// Synthesizer renders text as speech.
type Synthesizer interface {
	// Synthesize returns raw PCM16LE mono samples and their sample rate.
	Synthesize(ctx context.Context, text string) (pcm16le []byte, sampleRate int, err error)
}
