package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device is the native IO backed by PortAudio. It allows one capture and one
// playback at a time.
type Device struct {
	mu       sync.Mutex
	capture  *deviceCapture
	playback *devicePlayback
	closed   bool
}

// NewDevice initializes PortAudio.
func NewDevice() (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &Device{}, nil
}

type deviceCapture struct {
	stream   *portaudio.Stream
	out      chan []float32
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	release  func()
}

// OpenCapture starts a mono input stream on the selected microphone.
func (d *Device) OpenCapture(ctx context.Context, opts CaptureOptions) (Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("audio device closed")
	}
	if d.capture != nil {
		return nil, ErrDeviceBusy
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	dev := selectInput(devices, opts.Device)
	if dev == nil {
		if dev, err = portaudio.DefaultInputDevice(); err != nil {
			return nil, fmt.Errorf("no input device: %w", err)
		}
	}
	if opts.EchoCancellation || opts.NoiseSuppression || opts.AutoGain {
		// PortAudio has no DSP stage; these come from the OS input chain.
		slog.Debug("capture processing delegated to host audio",
			"echo_cancellation", opts.EchoCancellation,
			"noise_suppression", opts.NoiseSuppression,
			"auto_gain", opts.AutoGain)
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = CaptureSampleRate
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: captureFramesPerBuffer,
	}

	buf := make([]float32, captureFramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start input %q: %w", dev.Name, err)
	}

	devCtx, cancel := context.WithCancel(ctx)
	dc := &deviceCapture{
		stream: stream,
		out:    make(chan []float32, captureQueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	dc.release = func() {
		d.mu.Lock()
		if d.capture == dc {
			d.capture = nil
		}
		d.mu.Unlock()
	}
	d.capture = dc
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", rate)

	go dc.run(devCtx, buf, dev.Name)
	return dc, nil
}

func (dc *deviceCapture) run(ctx context.Context, buf []float32, deviceID string) {
	defer close(dc.done)
	defer close(dc.out)
	defer func() {
		_ = dc.stream.Stop()
		_ = dc.stream.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := dc.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			slog.Debug("audio read error", "device", deviceID, "error", err)
			return
		}

		select {
		case dc.out <- append([]float32(nil), buf...):
		default:
			slog.Debug("audio buffer full, dropping frame", "device", deviceID)
		}
	}
}

func (dc *deviceCapture) Frames() <-chan []float32 { return dc.out }

// Close stops the stream and releases the microphone. Safe to call twice.
func (dc *deviceCapture) Close() error {
	dc.stopOnce.Do(func() {
		dc.cancel()
		<-dc.done
		dc.release()
	})
	return nil
}

// Close stops capture and playback and terminates PortAudio.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	capture, playback := d.capture, d.playback
	d.mu.Unlock()

	if capture != nil {
		_ = capture.Close()
	}
	if playback != nil {
		playback.Stop()
	}
	return portaudio.Terminate()
}

// selectInput picks the named device, else the best real microphone.
// Loopback devices are never chosen implicitly.
func selectInput(devices []*portaudio.DeviceInfo, want string) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels < 1 {
			continue
		}
		if want != "" {
			if containsIgnoreCase(dev.Name, want) {
				return dev
			}
			continue
		}
		if classifyDevice(dev.Name) != "user" {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	return best
}

func classifyDevice(name string) string {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"} {
		if containsIgnoreCase(name, kw) {
			return "system"
		}
	}
	for _, kw := range []string{"microphone", "input", "mic", "built-in", "headset"} {
		if containsIgnoreCase(name, kw) {
			return "user"
		}
	}
	return ""
}

func preferDevice(name, current string) bool {
	for _, p := range []string{"headset", "macbook", "built-in"} {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
		if containsIgnoreCase(current, p) {
			return false
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
