package audio

import (
	"context"
	"errors"
)

// ErrDeviceBusy is returned when a capture or playback resource is already
// held by another voice session.
var ErrDeviceBusy = errors.New("audio device busy")

// CaptureOptions describes the microphone stream a voice session needs.
// The processing flags are requests; backends honor what the platform offers.
type CaptureOptions struct {
	SampleRate       int
	Device           string // substring match on the device name, empty for default
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// Capture is an open microphone stream.
type Capture interface {
	// Frames delivers normalized mono samples; closed when capture ends.
	Frames() <-chan []float32
	Close() error
}

// Playback is one synthesized utterance being played.
type Playback interface {
	// Stop halts output immediately and releases the output node.
	Stop()
	// Done is closed when playback finished or was stopped.
	Done() <-chan struct{}
}

// IO is the audio capability a voice session runs on.
type IO interface {
	OpenCapture(ctx context.Context, opts CaptureOptions) (Capture, error)
	// Play starts a fresh output node for samples at sampleRate.
	Play(samples []float32, sampleRate int) (Playback, error)
	Close() error
}
