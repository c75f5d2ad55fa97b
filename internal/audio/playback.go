package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

type devicePlayback struct {
	stream   *portaudio.Stream
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Play opens a fresh default output stream for samples. A previous playback
// still running is stopped first so utterances never overlap.
func (d *Device) Play(samples []float32, sampleRate int) (Playback, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("audio device closed")
	}
	prev := d.playback
	d.playback = nil
	d.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	buf := make([]float32, playbackFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, Channels, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start output: %w", err)
	}

	p := &devicePlayback{
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.mu.Lock()
	d.playback = p
	d.mu.Unlock()

	go func() {
		p.run(samples, buf)
		d.mu.Lock()
		if d.playback == p {
			d.playback = nil
		}
		d.mu.Unlock()
	}()
	return p, nil
}

func (p *devicePlayback) run(samples, buf []float32) {
	defer close(p.done)
	defer func() {
		_ = p.stream.Stop()
		_ = p.stream.Close()
	}()

	for off := 0; off < len(samples); off += len(buf) {
		select {
		case <-p.stop:
			return
		default:
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Debug("audio write error", "error", err)
			return
		}
	}
}

func (p *devicePlayback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *devicePlayback) Done() <-chan struct{} { return p.done }
