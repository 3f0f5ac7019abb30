package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/ampviz/internal/config"
	"github.com/rs/zerolog"
)

const defaultPortAudioChunk = 2048

type portAudioBackend struct {
	cfg config.AudioConfig
	log zerolog.Logger

	closeOnce sync.Once
}

func newPortAudio(cfg config.AudioConfig, log zerolog.Logger) (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioBackend{cfg: cfg, log: log}, nil
}

func (p *portAudioBackend) Name() string { return "portaudio" }

func (p *portAudioBackend) device() (*portaudio.DeviceInfo, error) {
	if p.cfg.DeviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == p.cfg.DeviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", p.cfg.DeviceID)
}

// MinimumChunkSize uses the configured chunk, or the device's default low
// input latency expressed in samples.
func (p *portAudioBackend) MinimumChunkSize(f Format) int {
	fallback := defaultPortAudioChunk
	if p.cfg.ChunkFrames <= 0 {
		if device, err := p.device(); err == nil && device.DefaultLowInputLatency > 0 {
			fallback = int(device.DefaultLowInputLatency.Seconds() * float64(f.SampleRate))
		}
	}
	return chunkFrames(p.cfg.ChunkFrames, fallback)
}

func (p *portAudioBackend) Open(f Format) (Handle, error) {
	if err := validateFormat(f); err != nil {
		return nil, err
	}

	device, err := p.device()
	if err != nil {
		return nil, err
	}

	// Open stream: mono, int16, one chunk per stream read
	buffer := make([]int16, p.MinimumChunkSize(f))
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: f.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: len(buffer),
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.log.Debug().
		Str("device", device.Name).
		Int("frames_per_buffer", len(buffer)).
		Msg("PortAudio stream started")

	h := &portAudioHandle{stream: stream, buf: buffer, log: p.log}
	h.state.Store(int32(StateRecording))
	return h, nil
}

func (p *portAudioBackend) Devices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioBackend) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = portaudio.Terminate()
	})
	return err
}

type portAudioHandle struct {
	stream *portaudio.Stream
	buf    []int16
	log    zerolog.Logger

	// samples of the last stream read not yet handed out
	pending []int16

	state     atomic.Int32
	overruns  atomic.Int64
	stopOnce  sync.Once
	closeOnce sync.Once
}

func (h *portAudioHandle) Read(p []int16) (int, error) {
	if len(h.pending) == 0 {
		if h.State() == StateStopped {
			return 0, nil
		}
		if err := h.stream.Read(); err != nil {
			if !errors.Is(err, portaudio.InputOverflowed) {
				return 0, err
			}
			// Samples were lost upstream but the buffer holds fresh data
			n := h.overruns.Add(1)
			h.log.Warn().Int64("overruns", n).Msg("Input overflowed")
		}
		h.pending = h.buf
	}

	n := copy(p, h.pending)
	h.pending = h.pending[n:]
	return n, nil
}

func (h *portAudioHandle) State() State { return State(h.state.Load()) }

func (h *portAudioHandle) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		h.state.Store(int32(StateStopped))
		err = h.stream.Stop()
	})
	return err
}

func (h *portAudioHandle) Release() error {
	var err error
	h.closeOnce.Do(func() {
		err = stopAndClose(h.Stop, h.stream.Close)
	})
	return err
}
