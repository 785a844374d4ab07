package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"tabletd/internal/ipc"
	"tabletd/internal/logging"
	"tabletd/internal/session"
	"tabletd/internal/store"
	"tabletd/internal/tablet"
	"tabletd/internal/trace"
)

// cmdReplay runs a trace through a fresh seat and prints every event as
// one JSON line. Rejected notifications are reported on stderr and the
// replay continues unless -strict is given.
func cmdReplay(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	strict := fs.Bool("strict", false, "stop at the first rejected notification")
	verbose := fs.Bool("v", false, "log seat diagnostics to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: tabletctl replay [-strict] <trace>")
	}

	tr, err := trace.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	return replay(tr, out, os.Stderr, *strict, *verbose)
}

func replay(tr *trace.Trace, out, errOut io.Writer, strict, verbose bool) error {
	reg, err := tr.Registry()
	if err != nil {
		return err
	}
	notifications, err := tr.Notifications()
	if err != nil {
		return err
	}

	logger := logging.Discard()
	if verbose {
		logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	enc := json.NewEncoder(out)
	var encodeErr error
	sink := tablet.EventSinkFunc(func(ev tablet.Event) {
		if encodeErr != nil {
			return
		}
		msg, err := ipc.EncodeEvent(ev)
		if err != nil {
			encodeErr = err
			return
		}
		encodeErr = enc.Encode(msg)
	})

	sess, err := session.New(session.DefaultConfig(), session.Options{
		Windows: reg,
		Sinks:   []tablet.EventSink{sink},
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	rejected := 0
	for i, n := range notifications {
		if err := sess.Process(n); err != nil {
			if strict {
				return fmt.Errorf("step %d: %w", i, err)
			}
			rejected++
			fmt.Fprintf(errOut, "step %d rejected: %v\n", i, err)
		}
		if encodeErr != nil {
			return encodeErr
		}
	}
	if rejected > 0 {
		fmt.Fprintf(errOut, "%d of %d steps rejected\n", rejected, len(notifications))
	}
	return nil
}

func cmdValidate(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: tabletctl validate <trace>...")
	}
	failed := 0
	for _, path := range args {
		tr, err := trace.Load(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s: %v\n", path, err)
			continue
		}
		if _, err := tr.Notifications(); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "OK    %s (%d steps)\n", path, len(tr.Steps))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d traces invalid", failed, len(args))
	}
	return nil
}

func openStore(dbPath string) (*store.Store, error) {
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.Storage.Path
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no event journal at %s: %w", dbPath, err)
	}
	return store.Open(dbPath, time.Second)
}

func cmdEvents(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	dbPath := fs.String("db", "", "journal database (default: from config)")
	kind := fs.String("kind", "", "only this event kind (entered, moved, left)")
	device := fs.Int64("device", 0, "only this device id")
	limit := fs.Int("limit", 50, "newest N events, 0 for all")
	since := fs.Duration("since", 0, "only events newer than this, e.g. 10m")
	asJSON := fs.Bool("json", false, "print JSON lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	kinds, err := parseKinds(*kind)
	if err != nil {
		return err
	}
	if len(kinds) > 1 {
		return errors.New("events: -kind takes a single kind")
	}

	s, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	q := store.Query{Limit: *limit}
	if len(kinds) == 1 {
		q.Kind = kinds[0]
	}
	if *device != 0 {
		d := tablet.DeviceID(*device)
		q.Device = &d
	}
	if *since > 0 {
		q.SinceNs = time.Now().Add(-*since).UnixNano()
	}

	events, err := s.Events(q)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tDEVICE\tWINDOW\tX\tY\tTOOL\tFORCE")
	for _, ev := range events {
		force := "-"
		if ev.Force != nil {
			force = fmt.Sprintf("%.3f", *ev.Force)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%.2f\t%s\t%s\n",
			time.Unix(0, ev.TimestampNs).Format("15:04:05.000"),
			ev.Kind, ev.Device, ev.Window, ev.X, ev.Y, ev.Tool, force)
	}
	return tw.Flush()
}

func cmdHistory(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	dbPath := fs.String("db", "", "journal database (default: from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	tools, err := s.Tools()
	if err != nil {
		return err
	}
	counts, err := s.CountByKind()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tKIND\tTYPE\tSERIAL\tADDED\tREMOVED")
	for _, t := range tools {
		removed := "-"
		if t.RemovedNs != nil {
			removed = time.Unix(0, *t.RemovedNs).Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			t.Device, t.Kind, t.Type, t.HardwareSerial,
			time.Unix(0, t.AddedNs).Format(time.DateTime), removed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nevents: %d entered, %d moved, %d left\n",
		counts[tablet.KindEntered], counts[tablet.KindMoved], counts[tablet.KindLeft])
	return nil
}
