// Package audio converts between microphone frames, outbound codec frames and
// playable PCM, and wraps the native audio devices.
package audio

import "time"

// Stream formats
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	Channels           = 1
	ChunkDuration      = 100 * time.Millisecond

	// pcmScale maps signed 16-bit samples onto [-1, 1).
	pcmScale = 32768.0
)

// Device defaults
const (
	captureFramesPerBuffer  = 320 // 20ms at 16kHz
	playbackFramesPerBuffer = 480 // 20ms at 24kHz
	captureQueueSize        = 50
	ringCapacityChunks      = 8
	maxOpusPacket           = 4000
)

// Codec names accepted by NewEncoder.
const (
	CodecOpus     = "opus"
	CodecLinear16 = "linear16"
)
