package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"tabletd/internal/ipc"
	"tabletd/internal/tablet"
)

func dial(ctx context.Context) (*ipc.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := ipc.Dial(ctx, cfg.Control.SocketPath)
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, fmt.Errorf("%w at %s (start it with: tabletd)", err, cfg.Control.SocketPath)
	}
	return client, err
}

func cmdStatus(out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Version\t%s\n", st.Version)
	fmt.Fprintf(tw, "Uptime\t%s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(tw, "Seat\t%s\n", st.Seat)
	fmt.Fprintf(tw, "Running\t%t\n", st.Running)
	fmt.Fprintf(tw, "Tools\t%d\n", st.Tools)
	fmt.Fprintf(tw, "Queued\t%d\n", st.Queued)
	fmt.Fprintf(tw, "Processed\t%d\n", st.Processed)
	fmt.Fprintf(tw, "Rejected\t%d\n", st.Rejected)
	fmt.Fprintf(tw, "Subscribers\t%d\n", st.Subscribers)
	fmt.Fprintf(tw, "Clients\t%d\n", st.Clients)
	return tw.Flush()
}

func cmdTools(out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	tools, err := client.Tools(ctx)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		fmt.Fprintln(out, "no tools")
		return nil
	}
	return printTools(out, tools)
}

func printTools(out io.Writer, tools []tablet.ToolInfo) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tDEVICE\tKIND\tTYPE\tPROXIMITY\tPOSITION")
	for _, t := range tools {
		pos := "-"
		if t.Position != nil {
			pos = fmt.Sprintf("%.2f,%.2f", t.Position.X, t.Position.Y)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%t\t%s\n", t.Tool, t.Device, t.Kind, t.Type, t.InProximity, pos)
	}
	return tw.Flush()
}

// cmdWatch streams live events as JSON lines until interrupted.
func cmdWatch(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	kind := fs.String("kind", "", "comma separated kinds to stream (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kinds, err := parseKinds(*kind)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	enc := json.NewEncoder(out)
	return client.Subscribe(ctx, kinds, func(ev tablet.Event) error {
		msg, err := ipc.EncodeEvent(ev)
		if err != nil {
			return err
		}
		return enc.Encode(msg)
	})
}
