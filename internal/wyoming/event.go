// Package wyoming speaks the Wyoming voice protocol over TCP: each event is
// a JSON header line, optionally followed by a JSON data block and a binary
// payload whose lengths the header announces. Whisper (speech-to-text) and
// Piper (text-to-speech) both expose this protocol.
package wyoming

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

const (
	typeTranscribe = "transcribe"
	typeTranscript = "transcript"
	typeSynthesize = "synthesize"
	typeAudioStart = "audio-start"
	typeAudioChunk = "audio-chunk"
	typeAudioStop  = "audio-stop"
	typeError      = "error"
)

// Event is one Wyoming protocol message.
type Event struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

type eventHeader struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

// writeEvent frames evt as a header line plus data block plus payload.
func writeEvent(w *bufio.Writer, evt Event) error {
	hdr := eventHeader{Type: evt.Type}
	var dataBytes []byte
	if len(evt.Data) > 0 {
		b, err := json.Marshal(evt.Data)
		if err != nil {
			return err
		}
		dataBytes = b
		hdr.DataLength = len(b)
	}
	if len(evt.Payload) > 0 {
		hdr.PayloadLength = len(evt.Payload)
	}

	line, err := json.Marshal(hdr)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return err
	}
	if len(dataBytes) > 0 {
		if _, err := w.Write(dataBytes); err != nil {
			return err
		}
	}
	if len(evt.Payload) > 0 {
		if _, err := w.Write(evt.Payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readEvent parses the next event. Data may arrive inline in the header or
// as a separate length-prefixed block; both forms are accepted.
func readEvent(r *bufio.Reader) (Event, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return Event{}, err
	}
	var hdr eventHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return Event{}, fmt.Errorf("wyoming: bad event header: %w", err)
	}

	evt := Event{Type: hdr.Type, Data: hdr.Data}
	if hdr.DataLength > 0 {
		block := make([]byte, hdr.DataLength)
		if _, err := io.ReadFull(r, block); err != nil {
			return Event{}, err
		}
		data := make(map[string]any)
		if err := json.Unmarshal(block, &data); err != nil {
			return Event{}, fmt.Errorf("wyoming: bad event data: %w", err)
		}
		evt.Data = data
	}
	if hdr.PayloadLength > 0 {
		payload := make([]byte, hdr.PayloadLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Event{}, err
		}
		evt.Payload = payload
	}
	return evt, nil
}

func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func dataInt(data map[string]any, key string) int {
	if data == nil {
		return 0
	}
	if f, ok := data[key].(float64); ok {
		return int(f)
	}
	return 0
}
