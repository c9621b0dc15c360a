package audio

import (
	"encoding/binary"
	"testing"
)

func TestQuantizePCM16Clamps(t *testing.T) {
	data := QuantizePCM16([]float32{0, 1, -1, 2, -2})
	samples := DecodePCM16(data)
	if samples[0] != 0 {
		t.Fatalf("expected 0, got %d", samples[0])
	}
	if samples[1] != 32767 {
		t.Fatalf("expected full scale, got %d", samples[1])
	}
	if samples[3] != 32767 || samples[4] != -32767 {
		t.Fatalf("expected clamped samples, got %d %d", samples[3], samples[4])
	}
}

func TestQuantizeLittleEndian(t *testing.T) {
	data := QuantizePCM16([]float32{0.5})
	v := int16(binary.LittleEndian.Uint16(data))
	if v != 16383 {
		t.Fatalf("expected 16383, got %d", v)
	}
}

func TestResampleHalvesLength(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(i) / 480
	}
	out := Resample(in, 48000, 24000)
	if len(out) != 240 {
		t.Fatalf("expected 240 samples, got %d", len(out))
	}
	// Monotonic input stays monotonic through linear interpolation.
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("expected monotonic output at %d", i)
		}
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := Resample(in, 24000, 24000)
	if len(out) != 3 || out[1] != 0.2 {
		t.Fatalf("expected identity resample, got %v", out)
	}
}

func TestWrapWAVHeader(t *testing.T) {
	pcm := QuantizePCM16(make([]float32, 100))
	wav := WrapWAV(pcm, 24000, 1)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected 44-byte header, got total %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad container magic")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Fatalf("expected rate 24000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Fatalf("expected data size %d, got %d", len(pcm), size)
	}
}
