package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/ampviz/internal/app"
	"github.com/petems/ampviz/internal/audio"
	"github.com/petems/ampviz/internal/capture"
	"github.com/petems/ampviz/internal/config"
	"github.com/petems/ampviz/internal/console"
	"github.com/petems/ampviz/internal/dispatch"
	"github.com/petems/ampviz/internal/logging"
	"github.com/petems/ampviz/internal/permissions"
	"github.com/petems/ampviz/internal/stream"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

type options struct {
	configPath  string
	duration    int
	backend     string
	device      string
	trailing    string
	logLevel    string
	serve       bool
	addr        string
	listDevices bool
	version     bool
}

func parseFlags(args []string) (options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("ampviz", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config JSON (default per-user config dir)")
	fs.IntVar(&o.duration, "duration", 0, "Recording length in seconds")
	fs.StringVar(&o.backend, "backend", "", "Audio backend: portaudio, malgo or synthetic")
	fs.StringVar(&o.device, "device", "", "Input device name (default system input)")
	fs.StringVar(&o.trailing, "trailing", "", "Trailing partial window: drop or flush")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&o.serve, "serve", false, "Serve the live feed and keep serving after the recording")
	fs.StringVar(&o.addr, "addr", "", "Live feed listen address")
	fs.BoolVar(&o.listDevices, "list-devices", false, "List input devices and exit")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	err := fs.Parse(args)
	return o, fs, err
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cfg *config.Config, o options, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "duration":
			cfg.DurationSeconds = o.duration
		case "backend":
			cfg.Audio.Backend = o.backend
		case "device":
			cfg.Audio.DeviceID = o.device
		case "trailing":
			cfg.Capture.Trailing = o.trailing
		case "log-level":
			cfg.LogLevel = o.logLevel
		case "serve":
			cfg.Stream.Enabled = o.serve
		case "addr":
			cfg.Stream.Addr = o.addr
		}
	})
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ui := console.New(os.Stdout, console.Options{Version: Version, Commit: Commit})
	if o.version {
		ui.About()
		return 0
	}

	// Load config from XDG/Library/AppData unless a path is given
	var cfg *config.Config
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Error().Err(err).Msg("Failed to load config")
		return 1
	}
	applyFlags(cfg, o, fs)

	log := logging.NewWithLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 2
	}

	// macOS requires explicit microphone approval before capture works
	if cfg.HardwareBackend() {
		if err := permissions.EnsureMicrophone(); err != nil {
			log.Error().Err(err).Msg("Microphone permission not granted")
			return 1
		}
	}

	backend, err := audio.New(*cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize audio")
		return 1
	}
	if closer, ok := backend.(audio.Closer); ok {
		defer closer.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := record(ctx, cfg, backend, ui, log, o.listDevices); err != nil {
		log.Error().Err(err).Msg("ampviz failed")
		return 1
	}
	return 0
}

func record(ctx context.Context, cfg *config.Config, backend audio.Backend, ui *console.UI, log zerolog.Logger, listOnly bool) error {
	loop := dispatch.NewLoop()

	var failure error
	observer := capture.Observers{ui, capture.ObserverFuncs{
		Fail: func(err error) { failure = err },
	}}

	appCfg := app.Config{
		Backend:       backend,
		Dispatch:      loop.Dispatch,
		Observer:      observer,
		Config:        cfg,
		Logger:        log,
		StatusUpdater: ui,
	}

	var server *stream.Server
	if cfg.Stream.Enabled {
		server = stream.NewServer(nil, log.With().Str("component", "stream").Logger())
		appCfg.Publisher = server
	}

	application, err := app.New(appCfg)
	if err != nil {
		return err
	}

	if listOnly {
		return listDevices(application)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if server != nil {
		server.SetSource(application)
		g.Go(func() error {
			return server.ListenAndServe(gctx, cfg.Stream.Addr)
		})
	}

	log.Info().
		Str("backend", backend.Name()).
		Str("version", Version).
		Int("duration_s", cfg.DurationSeconds).
		Msg("ampviz starting...")

	if err := application.Toggle(gctx); err != nil {
		// Nothing was emitted; take the live feed down with us.
		cancel()
		loop.Close()
		if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			return errors.Join(err, werr)
		}
		return err
	}

	g.Go(func() error {
		if err := application.Wait(context.Background()); err != nil {
			return err
		}
		loop.Close()
		if server != nil {
			log.Info().Str("addr", cfg.Stream.Addr).Msg("Recording done, serving until interrupted")
		}
		return nil
	})

	// Observer callbacks run here, on the main goroutine
	if err := loop.Run(context.Background()); err != nil {
		return err
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return failure
}

func listDevices(a *app.App) error {
	devices, err := a.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Printf("%s %s\t%s\n", mark, d.ID, d.Name)
	}
	return nil
}
