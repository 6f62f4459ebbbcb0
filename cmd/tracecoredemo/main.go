package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/tracecore-dbg/tracecore/pkg/engine"
)

var (
	timeout         time.Duration
	disableASLR     bool
	disableLazyBind bool
	eventsLogPath   string
)

func main() {
	root := &cobra.Command{
		Use:   "tracecoredemo",
		Short: "Drives the tracecore debugger engine against a spawned or attached target.",
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Second, "event pump wait timeout per iteration")
	root.PersistentFlags().BoolVar(&disableASLR, "disable-aslr", false, "set ADDR_NO_RANDOMIZE (disable ASLR) before exec (spawn only)")
	root.PersistentFlags().BoolVar(&disableLazyBind, "disable-lazy-bind", false, "set LD_BIND_NOW=1 in the child's environment (spawn only)")
	root.PersistentFlags().StringVar(&eventsLogPath, "events-log", "", "dump classified events as YAML to this file")

	spawnCmd := &cobra.Command{
		Use:   "spawn [path] [args...]",
		Short: "Spawn and trace a new target.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpawn(args)
		},
	}
	attachCmd := &cobra.Command{
		Use:   "attach [pid]",
		Short: "Attach to a running target.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q: %w", args[0], err)
			}
			return runAttach(pid)
		},
	}
	root.AddCommand(spawnCmd, attachCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSpawn(argv []string) error {
	session, err := engine.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	session.SetDisableASLR(disableASLR)
	session.SetDisableLazyBinding(disableLazyBind)

	wd, _ := os.Getwd()
	p, err := session.Spawn(wd, argv, nil)
	if err != nil {
		return err
	}
	return pump(p)
}

func runAttach(pid int) error {
	session, err := engine.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	p, err := session.Attach(pid)
	if err != nil {
		return err
	}
	return pump(p)
}

// pump drives the event loop until the target exits or the process
// receives an interrupt, optionally recording each classified event to
// --events-log as YAML.
func pump(p *engine.Process) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	var eventsLog *os.File
	if eventsLogPath != "" {
		f, err := os.Create(eventsLogPath)
		if err != nil {
			return err
		}
		defer f.Close()
		eventsLog = f
	}

	for {
		select {
		case <-sigCh:
			return p.Kill()
		default:
		}

		_, err := p.NextDebugEvent(timeout, func(ev engine.Event) engine.EventStatus {
			if eventsLog != nil {
				if out, err := yaml.Marshal(ev); err == nil {
					eventsLog.Write(out)
					eventsLog.WriteString("---\n")
				}
			}
			if ev.Kind == engine.EventExited || ev.Kind == engine.EventTerminated {
				return engine.Stop
			}
			return engine.Continue
		})
		if err != nil {
			return err
		}
		if len(p.Threads()) == 0 {
			return nil
		}
	}
}
