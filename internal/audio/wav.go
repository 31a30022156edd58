package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE stream")
	ErrUnsupportedFormat = errors.New("unsupported WAV format (want PCM16LE mono)")
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVPCM16LETo(f, pcm, sampleRate)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAVPCM16LE extracts raw PCM16LE mono samples and the sample rate from
// a WAV payload, e.g. a browser recording upload. Extra chunks (LIST, fact,
// cue) are skipped; stereo or non-16-bit input is rejected rather than
// resampled here, since the transcription backend expects mono PCM16.
func DecodeWAVPCM16LE(wav []byte) (pcm []byte, sampleRate int, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		haveFmt  bool
		channels uint16
		bits     uint16
		rate     uint32
	)

	off := 12
	for off+8 <= len(wav) {
		chunkID := string(wav[off : off+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if chunkSize < 0 || body+chunkSize > len(wav) {
			// Tolerate a truncated final data chunk; some recorders write
			// the header before the final length is known.
			if chunkID == "data" && body < len(wav) {
				chunkSize = len(wav) - body
			} else {
				return nil, 0, fmt.Errorf("%w: chunk %q overruns payload", ErrNotWAV, chunkID)
			}
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(wav[body : body+2])
			channels = binary.LittleEndian.Uint16(wav[body+2 : body+4])
			rate = binary.LittleEndian.Uint32(wav[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if format != 1 {
				return nil, 0, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, format)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt", ErrNotWAV)
			}
			if channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("%w: channels=%d bits=%d", ErrUnsupportedFormat, channels, bits)
			}
			out := make([]byte, chunkSize)
			copy(out, wav[body:body+chunkSize])
			return out, int(rate), nil
		}

		// Chunks are word-aligned.
		off = body + chunkSize
		if chunkSize%2 == 1 {
			off++
		}
	}

	return nil, 0, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}
