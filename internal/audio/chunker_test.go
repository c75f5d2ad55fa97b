package audio

import (
	"testing"
)

func frame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestChunkerEmitsFixedChunks(t *testing.T) {
	c := NewChunker(CaptureSampleRate, ChunkDuration)

	var chunks [][]int16
	// 20ms frames: five make one 100ms chunk
	for i := 0; i < 4; i++ {
		chunks = append(chunks, c.Push(frame(320, 0.25))...)
	}
	if len(chunks) != 0 {
		t.Fatalf("got %d chunks after 80ms, want 0", len(chunks))
	}
	if c.Pending() != 4*320*2 {
		t.Errorf("Pending() = %d, want %d", c.Pending(), 4*320*2)
	}

	chunks = append(chunks, c.Push(frame(320, 0.25))...)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks after 100ms, want 1", len(chunks))
	}
	if len(chunks[0]) != 1600 {
		t.Errorf("chunk samples = %d, want 1600", len(chunks[0]))
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestChunkerPreservesOrder(t *testing.T) {
	c := NewChunker(CaptureSampleRate, ChunkDuration)

	var got [][]int16
	// odd frame sizes straddle chunk boundaries
	for i := 0; i < 10; i++ {
		got = append(got, c.Push(frame(500, float32(i)/10))...)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks from 5000 samples, want 3", len(got))
	}
	// sample 1600 is the first of chunk 1 and came from frame 3
	want := FloatToInt16([]float32{0.3})[0]
	if got[1][0] != want {
		t.Errorf("chunk 1 first sample = %d, want %d", got[1][0], want)
	}
}

func TestChunkerDropsBacklog(t *testing.T) {
	c := NewChunker(CaptureSampleRate, ChunkDuration)

	c.Push(frame(1000, -0.5))
	if c.Pending() != 2000 {
		t.Fatalf("Pending() = %d, want 2000", c.Pending())
	}

	// 24000 bytes do not fit beside the 2000 pending in a 25600 byte ring
	chunks := c.Push(frame(12000, 0.1))
	if len(chunks) != 7 {
		t.Fatalf("got %d chunks, want 7", len(chunks))
	}
	if c.Dropped() != 2000 {
		t.Errorf("Dropped() = %d, want 2000", c.Dropped())
	}
	if c.Pending() != 1600 {
		t.Errorf("Pending() = %d, want 1600", c.Pending())
	}
	want := FloatToInt16([]float32{0.1})[0]
	if chunks[0][0] != want {
		t.Errorf("first sample = %d, want %d from the new frame", chunks[0][0], want)
	}

	c.Reset()
	if c.Pending() != 0 {
		t.Errorf("Pending() after Reset = %d, want 0", c.Pending())
	}
}
