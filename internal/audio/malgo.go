package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/petems/ampviz/internal/config"
	"github.com/rs/zerolog"
)

const (
	defaultMalgoChunk = 1024

	// callbacks queued between the device thread and Read
	malgoQueue = 64
)

// malgoBackend captures through miniaudio. Unlike PortAudio it is callback
// driven, so each handle bridges callbacks into blocking reads.
type malgoBackend struct {
	cfg config.AudioConfig
	log zerolog.Logger
	ctx *malgo.AllocatedContext

	closeOnce sync.Once
}

func newMalgo(cfg config.AudioConfig, log zerolog.Logger) (Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("source", "miniaudio").Msg(message)
	})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}
	return &malgoBackend{cfg: cfg, log: log, ctx: ctx}, nil
}

func (m *malgoBackend) Name() string { return "malgo" }

func (m *malgoBackend) MinimumChunkSize(Format) int {
	return chunkFrames(m.cfg.ChunkFrames, defaultMalgoChunk)
}

func (m *malgoBackend) findDevice() (*malgo.DeviceInfo, error) {
	if m.cfg.DeviceID == "" {
		return nil, nil
	}
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for i := range infos {
		if infos[i].Name() == m.cfg.DeviceID {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", m.cfg.DeviceID)
}

func (m *malgoBackend) Open(f Format) (Handle, error) {
	if err := validateFormat(f); err != nil {
		return nil, err
	}

	info, err := m.findDevice()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.MinimumChunkSize(f))
	if info != nil {
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	h := &malgoHandle{
		data: make(chan []int16, malgoQueue),
		done: make(chan struct{}),
		log:  m.log,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: h.onData,
		Stop: h.onStop,
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	h.device = device
	h.state.Store(int32(StateRecording))

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	return h, nil
}

func (m *malgoBackend) Devices() ([]Device, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(infos))
	for _, info := range infos {
		result = append(result, Device{
			ID:      info.Name(),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return result, nil
}

func (m *malgoBackend) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.ctx.Uninit()
		m.ctx.Free()
	})
	return err
}

type malgoHandle struct {
	device *malgo.Device
	log    zerolog.Logger

	data     chan []int16
	done     chan struct{}
	doneOnce sync.Once

	pending  []int16
	state    atomic.Int32
	overruns atomic.Int64

	stopOnce    sync.Once
	releaseOnce sync.Once
}

// onData runs on the miniaudio device thread.
func (h *malgoHandle) onData(_, input []byte, _ uint32) {
	samples := make([]int16, len(input)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(input[i*2:]))
	}
	select {
	case h.data <- samples:
	default:
		h.overruns.Add(1)
	}
}

func (h *malgoHandle) onStop() {
	h.state.Store(int32(StateStopped))
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *malgoHandle) Read(p []int16) (int, error) {
	if h.device == nil {
		return 0, errors.New("malgo: read on released handle")
	}
	if len(h.pending) == 0 {
		// Queued callbacks win over a stop that raced with them
		select {
		case samples := <-h.data:
			h.pending = samples
		default:
			select {
			case samples := <-h.data:
				h.pending = samples
			case <-h.done:
				return 0, nil
			}
		}
	}

	n := copy(p, h.pending)
	h.pending = h.pending[n:]
	return n, nil
}

func (h *malgoHandle) State() State { return State(h.state.Load()) }

func (h *malgoHandle) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		err = h.device.Stop()
		h.onStop()
		if n := h.overruns.Load(); n > 0 {
			h.log.Warn().Int64("overruns", n).Msg("Dropped capture callbacks")
		}
	})
	return err
}

func (h *malgoHandle) Release() error {
	var err error
	h.releaseOnce.Do(func() {
		err = stopAndClose(h.Stop, func() error {
			h.device.Uninit()
			h.device = nil
			return nil
		})
	})
	return err
}
