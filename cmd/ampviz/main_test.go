package main

import (
	"path/filepath"
	"testing"

	"github.com/petems/ampviz/internal/config"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_STATE_HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Default()
	cfg.DurationSeconds = 1
	cfg.LogLevel = "error"
	cfg.Audio.Backend = config.BackendSynthetic
	cfg.Synthetic.Realtime = false

	path := filepath.Join(dir, "config.json")
	if err := cfg.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	return path
}

func TestApplyFlagsOverridesOnlySetFlags(t *testing.T) {
	o, fs, err := parseFlags([]string{"-duration", "7", "-backend", "synthetic", "-serve"})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	cfg := config.Default()
	cfg.Audio.DeviceID = "USB Mic"
	applyFlags(cfg, o, fs)

	if cfg.DurationSeconds != 7 {
		t.Errorf("expected duration 7, got %d", cfg.DurationSeconds)
	}
	if cfg.Audio.Backend != config.BackendSynthetic {
		t.Errorf("expected synthetic backend, got %s", cfg.Audio.Backend)
	}
	if !cfg.Stream.Enabled {
		t.Error("expected stream enabled")
	}
	if cfg.Audio.DeviceID != "USB Mic" {
		t.Errorf("unset flag overwrote device: %q", cfg.Audio.DeviceID)
	}
	if cfg.Stream.Addr != config.Default().Stream.Addr {
		t.Errorf("unset flag overwrote addr: %q", cfg.Stream.Addr)
	}
}

func TestRunSyntheticSession(t *testing.T) {
	path := writeConfig(t)

	if code := run([]string{"-config", path}); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if code := run([]string{"-config", path, "-trailing", "flush"}); code != 0 {
		t.Errorf("expected exit code 0 with flush, got %d", code)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "unknown trailing", args: []string{"-trailing", "pad"}, want: 2},
		{name: "zero duration", args: []string{"-duration", "0"}, want: 2},
		{name: "unknown backend", args: []string{"-backend", "alsa"}, want: 2},
		{name: "unknown flag", args: []string{"-nope"}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-config", path}, tt.args...)
			if code := run(args); code != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, code)
			}
		})
	}
}

func TestRunListDevices(t *testing.T) {
	path := writeConfig(t)

	if code := run([]string{"-config", path, "-list-devices"}); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}
