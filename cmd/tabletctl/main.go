// tabletctl is the control CLI for tabletd.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"tabletd/internal/config"
	"tabletd/internal/tablet"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]

	var err error
	switch cmd {
	case "replay":
		err = cmdReplay(args, os.Stdout)
	case "validate":
		err = cmdValidate(args, os.Stdout)
	case "events":
		err = cmdEvents(args, os.Stdout)
	case "history":
		err = cmdHistory(args, os.Stdout)
	case "status":
		err = cmdStatus(os.Stdout)
	case "tools":
		err = cmdTools(os.Stdout)
	case "watch":
		err = cmdWatch(args, os.Stdout)
	case "version":
		fmt.Println("tabletctl", Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `tabletctl - Control utility for tabletd

Usage: tabletctl [options] <command> [args]

Commands:
  replay [-strict] <trace>     Run a recorded trace and print pointer events
  validate <trace>...          Check traces against the trace schema
  events [-kind k] [-limit n]  Print journaled pointer events
  history                      Print journaled tools
  status                       Show daemon status
  tools                        List the tools the daemon knows
  watch [-kind k]              Stream live pointer events
  version                      Print version
  help                         Show this help message

Options:
  -config <path>  Path to config file (default: search ./ and the config dir)`)
}

func loadConfig() (*config.Config, error) {
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// parseKinds reads a comma separated list of event kinds. An empty list
// selects every kind.
func parseKinds(s string) ([]tablet.EventKind, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var kinds []tablet.EventKind
	for _, part := range strings.Split(s, ",") {
		k := tablet.EventKind(strings.TrimSpace(part))
		switch k {
		case tablet.KindEntered, tablet.KindMoved, tablet.KindLeft:
			kinds = append(kinds, k)
		default:
			return nil, fmt.Errorf("unknown event kind %q (valid: entered, moved, left)", part)
		}
	}
	return kinds, nil
}
