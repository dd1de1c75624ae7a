// l6470ctl drives an L6470 stepper controller from the command line.
//
// Usage:
//
//	l6470ctl [flags]                 interactive shell
//	l6470ctl [flags] <command> [..]  run one command and exit
//
// The chip is reached over a Linux spidev port, through a Klipper MCU on a
// serial line, or through the built-in simulator.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chzyer/readline"

	"l6470/config"
	"l6470/core"
	"l6470/core/sim"
	"l6470/host/klipper"
	"l6470/host/spidev"
	"l6470/protocol"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	backend    = flag.String("backend", "", "Bus backend: spidev, klipper or sim")
	bus        = flag.Uint("bus", 0, "SPI bus index")
	cs         = flag.Uint("cs", 0, "SPI chip select index")
	serialDev  = flag.String("serial", "", "Serial device of the Klipper MCU")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
	reset      = flag.Bool("reset", false, "Reset the chip after opening")
	apply      = flag.Bool("apply", false, "Write the configured register profile after opening")
)

func main() {
	flag.Parse()

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	profile, err := cfg.Settings()
	if err != nil {
		return err
	}

	var rl *readline.Instance
	out := io.Writer(os.Stdout)
	logOut := io.Writer(os.Stderr)
	if len(args) == 0 {
		rl, err = readline.NewEx(&readline.Config{
			Prompt:          "l6470> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
			AutoComplete:    completer(),
		})
		if err != nil {
			return fmt.Errorf("failed to create readline: %w", err)
		}
		defer rl.Close()
		out = rl.Stdout()
		logOut = rl.Stderr()
	}

	log, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}

	dev, closeBus, err := openDevice(cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()
	defer dev.Close()

	if cfg.ResetOnOpen {
		if err := dev.ResetDevice(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		log.Info("chip reset")
	}
	if *apply {
		if err := dev.Apply(profile); err != nil {
			return err
		}
		log.Info("profile applied", "settings", len(profile))
	}

	sh := NewShell(dev, out, profile)
	if len(args) > 0 {
		if err := sh.Exec(args); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	}

	fmt.Fprintf(out, "L6470 %s on %s (type 'help' for commands)\n", protocol.Version, cfg.Backend)
	return sh.Run(rl)
}

// loadConfig reads -config, or the defaults, and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}

	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "bus":
			err = errors.Join(err, setUint8(&cfg.SPI.Bus, *bus, "bus"))
		case "cs":
			err = errors.Join(err, setUint8(&cfg.SPI.CS, *cs, "cs"))
		case "serial":
			cfg.Klipper.Device = *serialDev
		case "log-level":
			cfg.Log.Level = *logLevel
		case "reset":
			cfg.ResetOnOpen = *reset
		}
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setUint8(dst *uint8, v uint, name string) error {
	if v > 0xFF {
		return fmt.Errorf("-%s %d out of range", name, v)
	}
	*dst = uint8(v)
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openDevice opens the chip on the configured backend. closeBus releases
// whatever the backend holds beyond the device itself.
func openDevice(cfg *config.Config, log *slog.Logger) (dev *core.Device, closeBus func(), err error) {
	closeBus = func() {}
	opts := []core.Option{core.WithLogger(log)}

	switch cfg.Backend {
	case config.BackendSim:
		opener := core.OpenerFunc(func(core.SPIConfig) (core.Conn, error) {
			return sim.New(), nil
		})
		dev, err = core.Open(opener, cfg.SPIConfig(), opts...)

	case config.BackendKlipper:
		mcu, err := klipper.Dial(cfg.SerialConfig(),
			klipper.WithLogger(log), klipper.WithTimeout(cfg.Klipper.Timeout))
		if err != nil {
			return nil, nil, err
		}
		if err := mcu.RetrieveDictionary(); err != nil {
			mcu.Close()
			return nil, nil, err
		}
		dev, err = core.Open(klipper.Opener{MCU: mcu, OID: cfg.Klipper.OID}, cfg.SPIConfig(), opts...)
		if err != nil {
			mcu.Close()
			return nil, nil, err
		}
		closeBus = func() {
			if err := mcu.Close(); err != nil {
				log.Warn("closing MCU", "err", err)
			}
		}
		return dev, closeBus, nil

	default:
		dev, err = core.Open(spidev.Opener{Log: log}, cfg.SPIConfig(), opts...)
	}
	if err != nil {
		return nil, nil, err
	}
	return dev, closeBus, nil
}
