// tabletd-view draws pointer events: each device is a circle whose
// radius follows the tool force.
//
//	tabletd-view [-delay 8ms] [-loop] <trace>
//	tabletd-view -live [-config path]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"tabletd/cmd/tabletd-view/internal/scene"
	"tabletd/cmd/tabletd-view/internal/theme"
	"tabletd/cmd/tabletd-view/internal/ui"
	"tabletd/internal/config"
	"tabletd/internal/ipc"
	"tabletd/internal/logging"
	"tabletd/internal/session"
	"tabletd/internal/tablet"
	"tabletd/internal/trace"
)

func main() {
	live := flag.Bool("live", false, "stream events from the running daemon")
	configPath := flag.String("config", "", "config file used to find the control socket")
	delay := flag.Duration("delay", 8*time.Millisecond, "pause after each replayed frame")
	loop := flag.Bool("loop", false, "restart the replay when the trace ends")
	flag.Parse()

	if !*live && flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: tabletd-view [-delay d] [-loop] <trace> | tabletd-view -live")
		os.Exit(2)
	}

	logger, err := logging.New(logging.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabletd-view: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithComponent("view")

	var (
		source string
		feed   func(ctx context.Context, sc *scene.Scene) error
	)
	if *live {
		socket, err := socketPath(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tabletd-view: %v\n", err)
			os.Exit(1)
		}
		source = "live"
		feed = func(ctx context.Context, sc *scene.Scene) error { return stream(ctx, socket, sc) }
	} else {
		tr, err := trace.Load(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "tabletd-view: %v\n", err)
			os.Exit(1)
		}
		source = filepath.Base(flag.Arg(0))
		feed = func(ctx context.Context, sc *scene.Scene) error { return replay(ctx, tr, sc, *delay, *loop, log) }
	}

	go func() {
		w := new(app.Window)
		w.Option(app.Title("tabletd - " + source))
		w.Option(app.Size(unit.Dp(1280), unit.Dp(800)))

		if err := run(w, source, feed, log); err != nil {
			log.Error("viewer failed", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}()
	app.Main()
}

func run(w *app.Window, source string, feed func(context.Context, *scene.Scene) error, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := scene.New(w.Invalidate)
	go func() {
		if err := feed(ctx, sc); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event source stopped", "error", err)
		}
	}()

	viewer := ui.NewViewer(theme.NewTheme(material.NewTheme()), sc, source)

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			viewer.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}

func socketPath(configPath string) (string, error) {
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	cfg.ApplyEnvOverrides()
	return cfg.Control.SocketPath, nil
}

func stream(ctx context.Context, socket string, sc *scene.Scene) error {
	client, err := ipc.Dial(ctx, socket)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Subscribe(ctx, nil, func(ev tablet.Event) error {
		sc.PushEvent(ev)
		return nil
	})
}

// replay feeds the trace through a fresh session into sc, pausing after
// every frame so strokes play back at roughly tablet speed.
func replay(ctx context.Context, tr *trace.Trace, sc *scene.Scene, delay time.Duration, loop bool, log *slog.Logger) error {
	notifications, err := tr.Notifications()
	if err != nil {
		return err
	}
	for {
		reg, err := tr.Registry()
		if err != nil {
			return err
		}
		sess, err := session.New(session.DefaultConfig(), session.Options{
			Windows: reg,
			Sinks:   []tablet.EventSink{sc},
			Logger:  log,
		})
		if err != nil {
			return err
		}

		for i, n := range notifications {
			if err := sess.Process(n); err != nil {
				log.Warn("step rejected", "step", i, "error", err)
			}
			if u, ok := n.(tablet.ToolUpdate); ok && delay > 0 {
				if _, frame := u.Update.(tablet.Frame); frame {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(delay):
					}
				}
			}
		}
		if !loop {
			return nil
		}
		sc.Reset()
	}
}
