package integration

import (
	"bytes"
	"encoding/binary"
	"math"
)

// EncodePCM16 converts samples in [-1, 1] to little-endian signed 16-bit PCM.
// Out of range samples are clipped.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(s*32767))))
	}
	return out
}

// DecodePCM16 is the inverse of EncodePCM16, scaling by 1/32768.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return out
}

// EncodeWAV wraps mono samples in a 16-bit PCM RIFF container.
func EncodeWAV(samples []float64, sampleRate int) []byte {
	pcm := EncodePCM16(samples)

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	w := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	w(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1)) // PCM
	w(uint16(1)) // mono
	w(uint32(sampleRate))
	w(uint32(sampleRate * 2))
	w(uint16(2))
	w(uint16(16))

	buf.WriteString("data")
	w(uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
