package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
	BackendSynthetic = "synthetic"

	TrailingDrop  = "drop"
	TrailingFlush = "flush"
)

type Config struct {
	DurationSeconds int             `json:"duration_seconds"`
	LogLevel        string          `json:"log_level"`
	Audio           AudioConfig     `json:"audio"`
	Capture         CaptureConfig   `json:"capture"`
	Synthetic       SyntheticConfig `json:"synthetic"`
	Stream          StreamConfig    `json:"stream"`

	path string // file the config was loaded from
}

type AudioConfig struct {
	Backend     string `json:"backend"`      // "portaudio", "malgo" or "synthetic"
	DeviceID    string `json:"device_id"`    // device name, empty for the system default
	ChunkFrames int    `json:"chunk_frames"` // 0 = backend default
}

type CaptureConfig struct {
	Trailing string `json:"trailing"` // "drop" or "flush"
}

// SyntheticConfig shapes the generated signal of the synthetic backend.
type SyntheticConfig struct {
	Frequency float64 `json:"frequency"` // Hz, 0 = silence
	Amplitude float64 `json:"amplitude"` // 0.0 to 1.0 of full scale
	Realtime  bool    `json:"realtime"`
}

type StreamConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		DurationSeconds: 30,
		LogLevel:        "info",
		Audio: AudioConfig{
			Backend:     BackendPortAudio,
			DeviceID:    "",
			ChunkFrames: 0,
		},
		Capture: CaptureConfig{
			Trailing: TrailingDrop,
		},
		Synthetic: SyntheticConfig{
			Frequency: 440,
			Amplitude: 0.25,
			Realtime:  true,
		},
		Stream: StreamConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8089",
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads the config at path, keeping defaults for missing fields
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.path = path
	return cfg, nil
}

// Save writes the config back to the file it was loaded from, or to the
// default location
func (c *Config) Save() error {
	if c.path != "" {
		return c.SaveFile(c.path)
	}
	return c.SaveFile(configPath())
}

// SaveFile writes the config to path
func (c *Config) SaveFile(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks that the configuration can drive a capture
func (c *Config) Validate() error {
	if c.DurationSeconds <= 0 {
		return fmt.Errorf("duration_seconds must be positive, got %d", c.DurationSeconds)
	}
	switch c.Audio.Backend {
	case BackendPortAudio, BackendMalgo, BackendSynthetic:
	default:
		return fmt.Errorf("unknown audio backend %q", c.Audio.Backend)
	}
	if c.Audio.ChunkFrames < 0 {
		return fmt.Errorf("chunk_frames must not be negative, got %d", c.Audio.ChunkFrames)
	}
	switch c.Capture.Trailing {
	case TrailingDrop, TrailingFlush:
	default:
		return fmt.Errorf("unknown trailing policy %q", c.Capture.Trailing)
	}
	if c.Synthetic.Amplitude < 0 || c.Synthetic.Amplitude > 1 {
		return fmt.Errorf("synthetic amplitude must be within [0, 1], got %f", c.Synthetic.Amplitude)
	}
	return nil
}

// HardwareBackend reports whether the configured backend opens a real microphone
func (c *Config) HardwareBackend() bool {
	return c.Audio.Backend != BackendSynthetic
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "ampviz", "config.json")
}
