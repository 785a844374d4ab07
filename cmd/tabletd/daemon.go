package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"tabletd/internal/bus"
	"tabletd/internal/config"
	"tabletd/internal/evdev"
	"tabletd/internal/health"
	"tabletd/internal/ipc"
	"tabletd/internal/logging"
	"tabletd/internal/metrics"
	"tabletd/internal/session"
	"tabletd/internal/store"
	"tabletd/internal/tablet"
	"tabletd/internal/trace"
	"tabletd/internal/watcher"
	"tabletd/internal/window"
)

// daemon owns every long-lived component of one tabletd process.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger
	log    *slog.Logger

	windows  *window.Registry
	metrics  *metrics.TabletMetrics
	health   *health.Checker
	session  *session.Session
	store    *store.Store
	journal  *store.Journal
	bus      *bus.Publisher
	control  *ipc.Server
	http     *http.Server
	recorder *trace.Recorder

	recordPath string
	ids        evdev.IDAllocator

	readersMu sync.Mutex
	open      map[string]bool
	readers   sync.WaitGroup
}

func newDaemon(cfg *config.Config, logger *logging.Logger, recordPath string) (*daemon, error) {
	d := &daemon{
		cfg:        cfg,
		logger:     logger,
		log:        logger.WithComponent("daemon"),
		windows:    window.NewRegistry(),
		metrics:    metrics.NewTabletMetrics(nil),
		health:     health.NewChecker(),
		recordPath: recordPath,
		open:       make(map[string]bool),
	}
	built := false
	defer func() {
		if !built {
			d.closeSinks()
		}
	}()

	if err := applyWindows(d.windows, cfg.Windows); err != nil {
		return nil, err
	}

	sinks := []tablet.EventSink{session.LogSink{Logger: logger.WithComponent("events")}}
	opts := session.Options{
		Windows: d.windows,
		Metrics: d.metrics,
		Logger:  logger.WithComponent("session"),
	}

	var err error
	if cfg.Storage.Enabled {
		d.store, err = store.Open(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		d.journal = store.NewJournal(d.store, store.JournalOptions{Logger: logger.WithComponent("journal")})
		sinks = append(sinks, d.journal)
		opts.Lifecycle = d.journal
		d.health.RegisterFunc("store", true, health.PingCheck(d.store.Ping))
		d.health.RegisterFunc("journal", false, health.CounterCheck(map[string]func() uint64{
			"dropped": d.journal.Dropped,
			"failed":  d.journal.Failed,
		}))
	}

	if cfg.Bus.Enabled {
		pub, err := bus.Connect(cfg.Bus.Name, cfg.Bus.Path, logger.WithComponent("bus"))
		if err != nil {
			// The daemon stays useful without a session bus.
			d.log.Warn("session bus unavailable", "error", err)
		} else {
			d.bus = pub
			sinks = append(sinks, pub)
			d.health.RegisterFunc("bus", false, health.CounterCheck(map[string]func() uint64{
				"failed": pub.Failed,
			}))
		}
	}

	if recordPath != "" {
		d.recorder = trace.NewRecorder()
		opts.Tap = d.recorder.Record
	}

	opts.Sinks = sinks
	d.session, err = session.New(session.Config{
		Seat:             cfg.Session.Seat,
		QueueSize:        cfg.Session.QueueSize,
		SubscriberBuffer: cfg.Session.SubscriberBuffer,
	}, opts)
	if err != nil {
		return nil, err
	}
	d.health.RegisterFunc("session", true, func(ctx context.Context) health.CheckResult {
		st, err := d.session.Status(ctx)
		if err != nil || !st.Running {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "session not running"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Details: map[string]any{
			"tools":  st.Tools,
			"queued": st.Queued,
		}}
	})

	if cfg.Control.Enabled {
		mode, err := ipc.ParseMode(cfg.Control.Permissions)
		if err != nil {
			return nil, err
		}
		sc := ipc.DefaultServerConfig(filepath.Dir(cfg.Control.SocketPath))
		sc.SocketPath = cfg.Control.SocketPath
		sc.Mode = mode
		sc.Version = Version
		sc.Logger = logger.WithComponent("control")
		d.control, err = ipc.NewServer(sc, d.session)
		if err != nil {
			return nil, err
		}
		d.health.RegisterFunc("control", false, health.FileExistsCheck(sc.SocketPath))
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Registry().HTTPHandler())
		d.health.Mount(mux)
		d.http = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	built = true
	return d, nil
}

// run starts everything and blocks until ctx is cancelled. Shutdown
// stops the readers first so their Removed notifications still reach the
// seat, then drains the session queue before the sinks close.
func (d *daemon) run(ctx context.Context) error {
	sessCtx, stopSession := context.WithCancel(context.Background())
	defer stopSession()

	sessDone := make(chan error, 1)
	go func() { sessDone <- d.session.Run(sessCtx) }()

	if d.control != nil {
		if err := d.control.Start(); err != nil {
			stopSession()
			<-sessDone
			d.closeSinks()
			return fmt.Errorf("start control socket: %w", err)
		}
	}

	if d.http != nil {
		go func() {
			if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Error("metrics endpoint failed", "addr", d.http.Addr, "error", err)
			}
		}()
		d.log.Info("metrics listening", "addr", d.http.Addr)
	}

	d.startReaders(ctx)
	d.health.SetReady(true)

	<-ctx.Done()
	d.health.SetReady(false)
	d.log.Info("shutting down")

	d.readers.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := d.session.Do(drainCtx, func(*tablet.Seat) {}); err != nil {
		d.log.Warn("session queue not drained", "error", err)
	}
	cancel()

	if d.control != nil {
		if err := d.control.Stop(); err != nil {
			d.log.Warn("control socket shutdown", "error", err)
		}
	}
	if d.http != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d.http.Shutdown(shutdownCtx)
		cancel()
	}

	stopSession()
	err := <-sessDone

	d.saveRecording()
	d.closeSinks()
	return err
}

// startReaders opens every configured tablet and feeds it into the
// session. With autodetection and hotplug on, tablets plugged in later are
// opened too. readers tracks all of it.
func (d *daemon) startReaders(ctx context.Context) {
	paths := d.devicePaths()
	if len(paths) == 0 {
		d.log.Warn("no tablets found yet")
	}
	for _, path := range paths {
		d.startReader(ctx, path)
	}

	dev := d.cfg.Devices
	if dev.Autodetect && len(dev.Paths) == 0 && dev.Hotplug {
		d.watchHotplug(ctx)
	}
}

func (d *daemon) startReader(ctx context.Context, path string) {
	d.readersMu.Lock()
	if d.open[path] {
		d.readersMu.Unlock()
		return
	}
	d.open[path] = true
	d.readersMu.Unlock()

	forget := func() {
		d.readersMu.Lock()
		delete(d.open, path)
		d.readersMu.Unlock()
	}

	r, err := evdev.Open(path, evdev.ReaderOptions{
		Geometry: evdev.Geometry{
			Surface: tablet.SurfaceID(d.cfg.Devices.Surface),
			Width:   d.cfg.Devices.Width,
			Height:  d.cfg.Devices.Height,
		},
		IDs:       &d.ids,
		EventSize: d.cfg.Devices.EventSize,
		Grab:      d.cfg.Devices.Grab,
		Logger:    d.logger.WithComponent("evdev"),
	})
	if err != nil {
		forget()
		d.log.Error("open tablet", "path", path, "error", err)
		return
	}

	d.readers.Add(1)
	go func() {
		defer d.readers.Done()
		defer forget()
		// Submissions outlive ctx so the final removals are queued.
		submitCtx := context.WithoutCancel(ctx)
		err := r.Run(ctx, func(n tablet.Notification) error {
			return d.session.Submit(submitCtx, n)
		})
		if err != nil {
			d.log.Error("tablet reader stopped", "path", path, "error", err)
		}
	}()
}

// watchHotplug opens pen tablets as their evdev nodes appear. Unplugged
// devices need no handling here: their reader fails and removes its tools.
func (d *daemon) watchHotplug(ctx context.Context) {
	w, err := watcher.New(watcher.DefaultDir, 0)
	if err != nil {
		d.log.Warn("hotplug disabled", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		w.Stop()
		d.log.Warn("hotplug disabled", "dir", watcher.DefaultDir, "error", err)
		return
	}

	d.readers.Add(1)
	go func() {
		defer d.readers.Done()
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.Events():
				d.log.Debug("input node changed", "path", ev.Path, "op", ev.Op)
				if ev.Op == watcher.Added && isPenTablet(ev.Path) {
					d.startReader(ctx, ev.Path)
				}
			case err := <-w.Errors():
				d.log.Warn("hotplug watch error", "error", err)
			}
		}
	}()
}

func isPenTablet(path string) bool {
	found, err := evdev.Discover()
	if err != nil {
		return false
	}
	for _, dev := range found {
		if dev.Path() == path {
			return true
		}
	}
	return false
}

func (d *daemon) devicePaths() []string {
	if len(d.cfg.Devices.Paths) > 0 || !d.cfg.Devices.Autodetect {
		return d.cfg.Devices.Paths
	}
	found, err := evdev.Discover()
	if err != nil {
		d.log.Warn("tablet discovery failed", "error", err)
		return nil
	}
	var paths []string
	for _, dev := range found {
		if p := dev.Path(); p != "" {
			d.log.Info("tablet discovered", "name", dev.Name, "path", p)
			paths = append(paths, p)
		}
	}
	return paths
}

// reconfigure applies the parts of a reloaded config that can change at
// runtime. Everything else needs a restart.
func (d *daemon) reconfigure(cfg *config.Config) {
	if err := applyWindows(d.windows, cfg.Windows); err != nil {
		d.log.Warn("window reload failed", "error", err)
		return
	}
	d.log.Info("windows reloaded", "windows", len(cfg.Windows))
}

// applyWindows makes reg match ws: stale surfaces and windows go away,
// configured ones are mapped with their current scale.
func applyWindows(reg *window.Registry, ws []config.WindowConfig) error {
	wantSurface := make(map[tablet.SurfaceID]bool, len(ws))
	wantWindow := make(map[tablet.WindowID]bool, len(ws))
	for _, w := range ws {
		wantSurface[tablet.SurfaceID(w.Surface)] = true
		wantWindow[tablet.WindowID(w.Window)] = true
	}
	for _, info := range reg.Windows() {
		if !wantWindow[info.Window] {
			reg.Remove(info.Window)
			continue
		}
		for _, s := range info.Surfaces {
			if !wantSurface[s] {
				reg.Unmap(s)
			}
		}
	}

	var errs []error
	for _, w := range ws {
		if err := reg.Map(tablet.SurfaceID(w.Surface), tablet.WindowID(w.Window), w.Scale); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *daemon) saveRecording() {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Save(d.recordPath, d.windows.Windows()); err != nil {
		d.log.Error("save recording", "path", d.recordPath, "error", err)
		return
	}
	d.log.Info("recording saved", "path", d.recordPath, "steps", d.recorder.Len(), "skipped", d.recorder.Skipped())
}

func (d *daemon) closeSinks() {
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.log.Warn("journal close", "error", err)
		}
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.bus != nil {
		d.bus.Close()
	}
}
