// Package audio holds the PCM conversions the client and relay share:
// float sample quantization, linear resampling, base64 transport encoding,
// WAV container synthesis and g711 mu-law companding.
package audio

import (
	"encoding/base64"
	"encoding/binary"
)

// QuantizePCM16 converts float samples in [-1, 1] to 16-bit signed
// little-endian PCM bytes.
func QuantizePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM bytes to int16 samples.
// A trailing odd byte is dropped.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// SamplesFromPCM16 converts 16-bit little-endian PCM bytes to float samples
// in [-1, 1].
func SamplesFromPCM16(data []byte) []float32 {
	ints := DecodePCM16(data)
	out := make([]float32, len(ints))
	for i, v := range ints {
		out[i] = float32(v) / 32767
	}
	return out
}

// Resample converts samples from one rate to another by linear interpolation.
// Audio is a continuous waveform, so interpolation rather than frame dropping
// keeps the output free of clicks at common browser/upstream rate pairs
// (48000 -> 24000, 44100 -> 24000).
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// EncodeBase64PCM16 quantizes float samples and base64-encodes the result,
// the wire form the relay expects for audio payloads.
func EncodeBase64PCM16(samples []float32) string {
	return base64.StdEncoding.EncodeToString(QuantizePCM16(samples))
}

// DecodeBase64 decodes a base64 audio payload.
func DecodeBase64(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}
