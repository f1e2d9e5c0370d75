package audio

import "encoding/binary"

// Convert returns pcm re-expressed in format to. Resampling happens before the
// channel conversion so that stereo input bound for mono output is only
// resampled once. Only mono<->stereo and N->mono channel conversions are
// supported; any other combination leaves the channel layout unchanged.
// When from equals to, pcm is returned as-is.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to || len(pcm) < 2 {
		return pcm
	}
	out := pcm
	channels := from.Channels
	if channels <= 0 {
		channels = 1
	}
	if from.SampleRate != to.SampleRate {
		out = Resample16(out, channels, from.SampleRate, to.SampleRate)
	}
	switch {
	case channels == to.Channels:
	case to.Channels == 1:
		out = DownmixToMono(out, channels)
	case channels == 1 && to.Channels == 2:
		out = MonoToStereo(out)
	}
	return out
}

// ConvertChunk converts c to format to, returning a new chunk.
func ConvertChunk(c Chunk, to Format) Chunk {
	if c.Format() == to {
		return c
	}
	return Chunk{
		Data:       Convert(c.Data, c.Format(), to),
		SampleRate: to.SampleRate,
		Channels:   to.Channels,
		Encoding:   c.Encoding,
		CapturedAt: c.CapturedAt,
	}
}

func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// MonoToStereo duplicates every mono sample into an L+R pair. A trailing odd
// byte is dropped.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sample(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// DownmixToMono averages interleaved channels into one. Incomplete trailing
// frames are dropped.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for f := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sample(pcm, f*channels+ch))
		}
		putSample(out, f, clamp16(sum/int32(channels)))
	}
	return out
}

// Resample16 converts interleaved PCM16 with the given channel count from
// srcRate to dstRate by linear interpolation. Invalid rates return pcm
// unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*2)
	step := float64(srcRate) / float64(dstRate)
	for f := range dstFrames {
		pos := float64(f) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			a := float64(sample(pcm, idx*channels+ch))
			b := float64(sample(pcm, next*channels+ch))
			putSample(out, f*channels+ch, int16(a+(b-a)*frac))
		}
	}
	return out
}
