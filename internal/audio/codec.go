package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"gopkg.in/hraban/opus.v2"
)

// Encoder turns one chunk of mono PCM16 samples into one outbound frame.
type Encoder interface {
	Name() string
	Encode(pcm []int16) ([]byte, error)
}

// NewEncoder returns the encoder for a codec name.
func NewEncoder(codec string, sampleRate int) (Encoder, error) {
	switch codec {
	case CodecOpus, "":
		return NewOpusEncoder(sampleRate)
	case CodecLinear16:
		return PCMEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

// OpusEncoder compresses each chunk into a single Opus packet. libopus
// accepts 100ms frames, so one chunk maps to one packet without framing.
type OpusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

// NewOpusEncoder creates a VoIP tuned mono encoder.
func NewOpusEncoder(sampleRate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc, buf: make([]byte, maxOpusPacket)}, nil
}

func (e *OpusEncoder) Name() string { return CodecOpus }

// Encode returns a fresh slice; the internal buffer is reused.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return append([]byte(nil), e.buf[:n]...), nil
}

// PCMEncoder sends raw little-endian linear16.
type PCMEncoder struct{}

func (PCMEncoder) Name() string { return CodecLinear16 }

func (PCMEncoder) Encode(pcm []int16) ([]byte, error) {
	return Int16ToBytes(pcm), nil
}

// DecodePCM16 interprets data as little-endian signed 16-bit mono samples and
// normalizes each by 32768. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(data[2*i:]))
		out[i] = float32(s) / pcmScale
	}
	return out
}

// FloatToInt16 converts normalized samples to PCM16, clamping out of range input.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s >= 1:
			out[i] = math.MaxInt16
		case s <= -1:
			out[i] = math.MinInt16
		default:
			out[i] = int16(math.Round(float64(s) * math.MaxInt16))
		}
	}
	return out
}

// Int16ToBytes serializes samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// BytesToInt16 is the inverse of Int16ToBytes.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// SamplesFor returns how many samples span d at sampleRate.
func SamplesFor(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}
