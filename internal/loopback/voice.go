package loopback

import (
	"math"
	"time"

	"github.com/GriffinCanCode/talkback/internal/audio"
)

// ToneFrames synthesizes a sine tone as 24kHz PCM16 binary frames, the way
// the backend streams speech.
func ToneFrames(freq float64, d time.Duration) [][]byte {
	n := audio.SamplesFor(audio.PlaybackSampleRate, d)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / audio.PlaybackSampleRate
		samples[i] = float32(ToneAmplitude * math.Sin(2*math.Pi*freq*t))
	}

	pcm := audio.Int16ToBytes(audio.FloatToInt16(samples))
	var frames [][]byte
	for len(pcm) > 0 {
		size := min(toneFrameBytes, len(pcm))
		frames = append(frames, pcm[:size])
		pcm = pcm[size:]
	}
	return frames
}
