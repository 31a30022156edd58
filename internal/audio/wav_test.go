package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeRecoversEncodedPCM(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	got, rate, err := DecodeWAVPCM16LE(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16LE() error = %v", err)
	}
	if rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeSkipsExtraChunks(t *testing.T) {
	pcm := []byte{0xAA, 0xBB}
	wav, err := EncodeWAVPCM16LE(pcm, 22050)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	// Splice a LIST chunk between fmt and data (offset 36 is the start of
	// the data chunk for our fixed 16-byte fmt layout).
	list := []byte{'L', 'I', 'S', 'T', 4, 0, 0, 0, 'I', 'N', 'F', 'O'}
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	got, rate, err := DecodeWAVPCM16LE(spliced)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16LE() error = %v", err)
	}
	if rate != 22050 {
		t.Fatalf("sample rate = %d, want 22050", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeRejectsNonWAV(t *testing.T) {
	if _, _, err := DecodeWAVPCM16LE([]byte("definitely not audio")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("error = %v, want ErrNotWAV", err)
	}
}

func TestDecodeRejectsStereo(t *testing.T) {
	wav, err := EncodeWAVPCM16LE([]byte{1, 2, 3, 4}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	// Channel count lives at offset 22 in the fmt chunk.
	wav[22] = 2
	if _, _, err := DecodeWAVPCM16LE(wav); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}
