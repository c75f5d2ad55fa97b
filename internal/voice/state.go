// Package voice runs a full duplex voice exchange over a dedicated socket:
// microphone chunks go out, synthesized speech comes back and is played.
package voice

// State is the lifecycle of a voice session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
)

// Stats counts outbound capture chunks. Muted and dropped chunks are never
// queued for later.
type Stats struct {
	Sent      int
	Muted     int
	Dropped   int
	Discarded int // inbound audio frames outside a tts_start/tts_end pair
}

// Notices shown to the user.
const (
	noticePlaybackFailed = "Speech playback failed"
	noticeMicLost        = "Microphone disconnected"
	noticeConnectionLost = "Voice connection lost"
)
