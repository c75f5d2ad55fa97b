package audio

import (
	"math"
	"testing"
	"time"
)

func TestDecodePCM16Extremes(t *testing.T) {
	got := DecodePCM16([]byte{0x00, 0x80, 0xFF, 0x7F})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != -1.0 {
		t.Errorf("sample 0 = %v, want -1.0", got[0])
	}
	if got[1] != float32(32767)/32768 {
		t.Errorf("sample 1 = %v, want %v", got[1], float32(32767)/32768)
	}
	if math.Abs(float64(got[1])-0.99997) > 1e-5 {
		t.Errorf("sample 1 = %v, want ~0.99997", got[1])
	}
}

func TestDecodePCM16(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []float32
	}{
		{"empty", nil, []float32{}},
		{"zero", []byte{0x00, 0x00}, []float32{0}},
		{"half", []byte{0x00, 0x40}, []float32{0.5}},
		{"odd trailing byte", []byte{0x00, 0x40, 0x7F}, []float32{0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodePCM16(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFloatToInt16Clamps(t *testing.T) {
	got := FloatToInt16([]float32{-2, -1, 0, 0.5, 1, 3})
	want := []int16{math.MinInt16, math.MinInt16, 0, 16384, math.MaxInt16, math.MaxInt16}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCMEncoder(t *testing.T) {
	pcm := []int16{-32768, -1, 0, 1, 32767}
	frame, err := PCMEncoder{}.Encode(pcm)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != len(pcm)*2 {
		t.Fatalf("frame length = %d, want %d", len(frame), len(pcm)*2)
	}
	back := BytesToInt16(frame)
	for i := range pcm {
		if back[i] != pcm[i] {
			t.Errorf("sample %d = %d, want %d", i, back[i], pcm[i])
		}
	}
}

func TestOpusEncoderCompresses(t *testing.T) {
	enc, err := NewEncoder(CodecOpus, CaptureSampleRate)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	if enc.Name() != CodecOpus {
		t.Errorf("Name() = %q, want %q", enc.Name(), CodecOpus)
	}

	n := SamplesFor(CaptureSampleRate, ChunkDuration)
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/CaptureSampleRate))
	}
	frame, err := enc.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(frame) == 0 || len(frame) >= n*2 {
		t.Errorf("opus frame = %d bytes, want 0 < n < %d", len(frame), n*2)
	}
}

func TestNewEncoderUnknown(t *testing.T) {
	if _, err := NewEncoder("mp3", CaptureSampleRate); err == nil {
		t.Error("NewEncoder(mp3) should fail")
	}
	enc, err := NewEncoder(CodecLinear16, CaptureSampleRate)
	if err != nil || enc.Name() != CodecLinear16 {
		t.Errorf("NewEncoder(linear16) = (%v, %v)", enc, err)
	}
}

func TestSamplesFor(t *testing.T) {
	if got := SamplesFor(16000, 100*time.Millisecond); got != 1600 {
		t.Errorf("SamplesFor(16000, 100ms) = %d, want 1600", got)
	}
	if got := SamplesFor(24000, 20*time.Millisecond); got != 480 {
		t.Errorf("SamplesFor(24000, 20ms) = %d, want 480", got)
	}
}
