// tabletd aggregates stylus tablet input into pointer events.
//
//	tabletd [-config path] [-record trace.yaml] [-v]
//
// The daemon reads evdev tablets, turns their per-property updates into
// entered, moved and left events and fans those out to the log, the
// sqlite journal, the session bus and control socket subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tabletd/internal/config"
	"tabletd/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: search the config directory)")
	recordPath := flag.String("record", "", "record every notification to this trace file")
	verbose := flag.Bool("v", false, "log at debug level")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("tabletd", Version)
		return
	}

	if err := run(*configPath, *recordPath, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "tabletd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, recordPath string, verbose bool) error {
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer loader.Close()

	logger, err := newLogger(cfg, verbose)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	log := logger.WithComponent("daemon")

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	d, err := newDaemon(cfg, logger, recordPath)
	if err != nil {
		return err
	}

	loader.OnChange(d.reconfigure)
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "path", configPath, "error", err)
	}
	go func() {
		for err := range loader.Errors() {
			log.Warn("config reload rejected", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("tabletd starting", "version", Version, "config", configPath, "seat", cfg.Session.Seat)
	err = d.run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("tabletd stopped")
	return err
}

func newLogger(cfg *config.Config, verbose bool) (*logging.Logger, error) {
	lc := logging.DefaultConfig()

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logging.LevelDebug
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Logging.Output
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.Compress = cfg.Logging.Compress
	return logging.New(lc)
}
