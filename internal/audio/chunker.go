package audio

import (
	"log/slog"
	"time"

	"github.com/smallnest/ringbuffer"
)

// Chunker regroups captured frames of any size into fixed duration PCM16
// chunks. When the ring fills up the backlog is dropped rather than queued.
type Chunker struct {
	ring       *ringbuffer.RingBuffer
	chunkBytes int
	scratch    []byte
	dropped    int
}

// NewChunker sizes the ring for a few chunks of sampleRate mono audio.
func NewChunker(sampleRate int, chunk time.Duration) *Chunker {
	chunkBytes := SamplesFor(sampleRate, chunk) * 2
	return &Chunker{
		ring:       ringbuffer.New(chunkBytes * ringCapacityChunks).SetBlocking(false),
		chunkBytes: chunkBytes,
		scratch:    make([]byte, chunkBytes),
	}
}

// Push appends samples and returns every complete chunk now available.
func (c *Chunker) Push(samples []float32) [][]int16 {
	data := Int16ToBytes(FloatToInt16(samples))
	if len(data) > c.ring.Free() {
		c.dropped += c.ring.Length()
		slog.Debug("capture backlog dropped", "bytes", c.ring.Length())
		c.ring.Reset()
	}
	if len(data) > c.ring.Free() {
		// A single frame larger than the ring keeps only its newest tail.
		data = data[len(data)-c.ring.Free():]
	}
	if _, err := c.ring.Write(data); err != nil {
		slog.Debug("capture ring write failed", "error", err)
	}

	var chunks [][]int16
	for c.ring.Length() >= c.chunkBytes {
		n, err := c.ring.Read(c.scratch)
		if err != nil || n != c.chunkBytes {
			break
		}
		chunks = append(chunks, BytesToInt16(c.scratch))
	}
	return chunks
}

// Pending returns buffered bytes not yet forming a chunk.
func (c *Chunker) Pending() int { return c.ring.Length() }

// Dropped returns how many backlog bytes were discarded so far.
func (c *Chunker) Dropped() int { return c.dropped }

// Reset discards any partial chunk.
func (c *Chunker) Reset() { c.ring.Reset() }
