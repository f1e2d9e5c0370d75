package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of a PCM16 buffer in sample units
// (0–32767). Buffers shorter than one sample yield 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sample(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Frames splits pcm into consecutive slices of at most size bytes. Each slice
// aliases pcm. A non-positive size yields pcm as a single frame.
func Frames(pcm []byte, size int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if size <= 0 || size >= len(pcm) {
		return [][]byte{pcm}
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		out = append(out, pcm[off:end])
	}
	return out
}

// EncodeWAV wraps PCM16 data in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bits = 16
	blockAlign := f.Channels * bits / 8
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")

	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // linear PCM
	binary.LittleEndian.PutUint16(buf[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], bits)

	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
