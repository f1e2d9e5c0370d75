package audio

import "time"

// Encoding names the sample encoding of a PCM buffer. Only 16-bit signed
// little-endian PCM is produced by capture devices today.
type Encoding string

// EncodingPCM16 is 16-bit signed little-endian PCM.
const EncodingPCM16 Encoding = "pcm16"

// Capture defaults used by the handset bridge: 16 kHz mono PCM16 delivered in
// 2 KiB frames (64 ms each).
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultFrameBytes = 2048
)

// Format describes the sample rate and channel count of a PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM16 byte rate for f. Zero for invalid formats.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of PCM16 audio in format f play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// AudioFrame is one fixed-size unit of captured audio as delivered by a
// [Device]. Frames arrive in capture order.
type AudioFrame struct {
	// Data holds PCM16 samples.
	Data []byte

	SampleRate int
	Channels   int

	// Timestamp is the capture offset relative to the start of capture.
	Timestamp time.Duration
}

// Chunk is a bounded, immutable span of captured audio handed to a turn
// processor. Build chunks with [NewChunk] so that Data is never shared with
// the capture buffer it came from.
type Chunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	Encoding   Encoding
	CapturedAt time.Time
}

// NewChunk copies pcm into a new Chunk.
func NewChunk(pcm []byte, f Format, capturedAt time.Time) Chunk {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return Chunk{
		Data:       data,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Encoding:   EncodingPCM16,
		CapturedAt: capturedAt,
	}
}

// Format returns the chunk's sample rate and channel count.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Duration is the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return c.Format().Duration(len(c.Data))
}

// Empty reports whether the chunk carries no samples.
func (c Chunk) Empty() bool { return len(c.Data) < 2 }
