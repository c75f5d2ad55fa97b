// Package loopback serves a scripted local agent that speaks the backend's
// REST and socket protocols, for offline use and end-to-end tests.
package loopback

import "time"

// Server configuration constants
const (
	// Per-connection chat rate limiting
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Messages kept per conversation
	MaxStoredMessages = 1000

	// Upload handling
	MaxUploadBytes = 32 << 20
	PreviewLimit   = 200

	// Voice replies: after this many audio frames the agent answers
	UtteranceFrames = 10
	ToneFrequency   = 440.0
	ToneDuration    = 400 * time.Millisecond
	ToneAmplitude   = 0.25
	toneFrameBytes  = 4800 // 100ms of 24kHz PCM16

	// ToolPrefix makes the agent report a tool call for the rest of the line.
	ToolPrefix = "lookup "
)
