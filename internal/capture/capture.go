// Package capture binds the audio pipeline to the host sound hardware
// through PortAudio. Mic reads fixed-size PCM frames from an input device
// and Speaker writes PCM to an output device with blocking pacing, which
// is what the jitter buffer's pump loop expects.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/alicecore/pkg/audio"
)

// Config holds the parameters for a capture or playback device.
type Config struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int

	// Channels per frame. Default 1.
	Channels int

	// FrameSamples is the number of samples read per device callback.
	// Default 512.
	FrameSamples int

	// DeviceName selects a device by name. Empty means the system default.
	DeviceName string
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FrameSamples == 0 {
		c.FrameSamples = 512
	}
}

var (
	initMu   sync.Mutex
	initRefs int
)

// acquire initializes PortAudio on first use. Each acquire must be paired
// with a release.
func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("capture: initialize portaudio: %w", err)
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	initRefs--
	if initRefs == 0 {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("portaudio terminate failed", "error", err)
		}
	}
}

// Mic reads microphone audio and emits it as timestamped frames.
type Mic struct {
	cfg    Config
	stream *portaudio.Stream
	buffer []int16
	frames chan audio.Frame

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// OpenMic opens the configured input device. A missing device or denied
// permission surfaces here as an error; there is no silent fallback.
func OpenMic(cfg Config) (*Mic, error) {
	cfg.applyDefaults()
	if err := acquire(); err != nil {
		return nil, err
	}

	buffer := make([]int16, cfg.FrameSamples*cfg.Channels)
	stream, err := openStream(cfg, buffer, true)
	if err != nil {
		release()
		return nil, err
	}

	return &Mic{
		cfg:    cfg,
		stream: stream,
		buffer: buffer,
		frames: make(chan audio.Frame, 100),
	}, nil
}

func openStream(cfg Config, buffer []int16, input bool) (*portaudio.Stream, error) {
	if cfg.DeviceName != "" {
		dev, err := findDevice(cfg.DeviceName, input)
		if err != nil {
			return nil, err
		}
		params := portaudio.StreamParameters{
			SampleRate:      float64(cfg.SampleRate),
			FramesPerBuffer: cfg.FrameSamples,
		}
		devParams := portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
		}
		if input {
			devParams.Latency = dev.DefaultLowInputLatency
			params.Input = devParams
		} else {
			devParams.Latency = dev.DefaultLowOutputLatency
			params.Output = devParams
		}
		stream, err := portaudio.OpenStream(params, buffer)
		if err != nil {
			return nil, fmt.Errorf("capture: open device %q: %w", cfg.DeviceName, err)
		}
		return stream, nil
	}

	in, out := cfg.Channels, 0
	if !input {
		in, out = 0, cfg.Channels
	}
	stream, err := portaudio.OpenDefaultStream(in, out, float64(cfg.SampleRate), cfg.FrameSamples, buffer)
	if err != nil {
		return nil, fmt.Errorf("capture: open default device: %w", err)
	}
	return stream, nil
}

func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name != name {
			continue
		}
		if input && dev.MaxInputChannels > 0 {
			return dev, nil
		}
		if !input && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("capture: device %q not found", name)
}

// Start begins reading frames until ctx is cancelled or Close is called.
func (m *Mic) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("capture: mic is closed")
	}
	if m.running {
		return fmt.Errorf("capture: mic already running")
	}
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("capture: start input stream: %w", err)
	}
	m.running = true
	m.wg.Add(1)
	go m.readLoop(ctx)
	return nil
}

func (m *Mic) readLoop(ctx context.Context) {
	defer m.wg.Done()

	frameDuration := time.Duration(m.cfg.FrameSamples) * time.Second / time.Duration(m.cfg.SampleRate)
	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.mu.Lock()
		running := m.running
		m.mu.Unlock()
		if !running {
			return
		}

		if err := m.stream.Read(); err != nil {
			m.mu.Lock()
			running = m.running
			m.mu.Unlock()
			if !running {
				return
			}
			slog.Warn("microphone read failed", "error", err)
			continue
		}

		pcm := make([]byte, len(m.buffer)*2)
		for i, s := range m.buffer {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
		}

		frame := audio.Frame{
			PCM:        pcm,
			SampleRate: m.cfg.SampleRate,
			Channels:   m.cfg.Channels,
			Timestamp:  elapsed,
		}
		elapsed += frameDuration

		select {
		case m.frames <- frame:
		default:
			slog.Warn("microphone frame dropped, consumer too slow")
		}
	}
}

// Frames returns the channel of captured frames.
func (m *Mic) Frames() <-chan audio.Frame {
	return m.frames
}

// Close stops capture and releases the device.
func (m *Mic) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	wasRunning := m.running
	m.running = false
	m.mu.Unlock()

	var err error
	if wasRunning {
		if stopErr := m.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("capture: stop input stream: %w", stopErr)
		}
	}
	m.wg.Wait()
	if closeErr := m.stream.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("capture: close input stream: %w", closeErr)
	}
	close(m.frames)
	release()
	return err
}

// Speaker writes PCM audio to an output device. Write blocks until the
// hardware has consumed the data, which paces upstream producers.
type Speaker struct {
	cfg    Config
	stream *portaudio.Stream
	buffer []int16

	mu     sync.Mutex
	closed bool
}

// OpenSpeaker opens the configured output device and starts its stream.
func OpenSpeaker(cfg Config) (*Speaker, error) {
	cfg.applyDefaults()
	if err := acquire(); err != nil {
		return nil, err
	}

	buffer := make([]int16, cfg.FrameSamples*cfg.Channels)
	stream, err := openStream(cfg, buffer, false)
	if err != nil {
		release()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("capture: start output stream: %w", err)
	}

	return &Speaker{cfg: cfg, stream: stream, buffer: buffer}, nil
}

// Write plays one chunk of little-endian 16-bit PCM. Short final chunks are
// zero padded to the device buffer size.
func (s *Speaker) Write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	samples := audio.Int16s(pcm)
	for offset := 0; offset < len(samples); offset += len(s.buffer) {
		n := copy(s.buffer, samples[offset:])
		for i := n; i < len(s.buffer); i++ {
			s.buffer[i] = 0
		}
		if err := s.stream.Write(); err != nil {
			slog.Warn("speaker write failed", "error", err)
			return
		}
	}
}

// Close stops playback and releases the device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if stopErr := s.stream.Stop(); stopErr != nil {
		err = fmt.Errorf("capture: stop output stream: %w", stopErr)
	}
	if closeErr := s.stream.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("capture: close output stream: %w", closeErr)
	}
	release()
	return err
}

// ListInputDevices reports the host's input devices for diagnostics.
func ListInputDevices() ([]DeviceInfo, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	defer release()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	defaultInput, _ := portaudio.DefaultInputDevice()

	var out []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         defaultInput != nil && dev.Name == defaultInput.Name,
		})
	}
	return out, nil
}

// DeviceInfo describes one input device.
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}
