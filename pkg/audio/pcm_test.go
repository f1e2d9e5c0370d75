package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Fatalf("empty: want 0, got %v", got)
	}
	if got := audio.RMS(pcm(300, -300, 300, -300)); got != 300 {
		t.Fatalf("want 300, got %v", got)
	}
}

func TestFrames(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{1}, 5000)
	frames := audio.Frames(data, audio.DefaultFrameBytes)
	if len(frames) != 3 {
		t.Fatalf("want 3 frames, got %d", len(frames))
	}
	if len(frames[2]) != 5000-2*audio.DefaultFrameBytes {
		t.Fatalf("last frame: want %d bytes, got %d", 5000-2*audio.DefaultFrameBytes, len(frames[2]))
	}
	if got := audio.Frames(nil, 10); got != nil {
		t.Fatalf("nil input: want nil, got %v", got)
	}
	if got := audio.Frames(data, 0); len(got) != 1 {
		t.Fatalf("size 0: want 1 frame, got %d", len(got))
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	data := pcm(1, 2, 3, 4)
	wav := audio.EncodeWAV(data, audio.Format{SampleRate: 16000, Channels: 1})

	if len(wav) != 44+len(data) {
		t.Fatalf("want %d bytes, got %d", 44+len(data), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatal("missing RIFF/WAVE/data markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 16000 {
		t.Fatalf("sample rate: want 16000, got %d", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(wav[28:]); byteRate != 32000 {
		t.Fatalf("byte rate: want 32000, got %d", byteRate)
	}
	if !bytes.Equal(wav[44:], data) {
		t.Fatal("payload mismatch")
	}
}

func TestChunk_IsImmutableCopy(t *testing.T) {
	t.Parallel()

	src := pcm(10, 20)
	c := audio.NewChunk(src, audio.Format{SampleRate: 16000, Channels: 1}, time.Unix(0, 0))
	src[0] = 0xff

	if samplesOf(c.Data)[0] != 10 {
		t.Fatal("chunk shares memory with source buffer")
	}
	if c.Encoding != audio.EncodingPCM16 {
		t.Fatalf("encoding: want pcm16, got %q", c.Encoding)
	}
}

func TestChunk_Duration(t *testing.T) {
	t.Parallel()

	c := audio.NewChunk(make([]byte, audio.DefaultFrameBytes), audio.Format{SampleRate: 16000, Channels: 1}, time.Time{})
	if got := c.Duration(); got != 64*time.Millisecond {
		t.Fatalf("want 64ms, got %v", got)
	}
	if !audio.NewChunk(nil, c.Format(), time.Time{}).Empty() {
		t.Fatal("zero-length chunk should be empty")
	}
}
