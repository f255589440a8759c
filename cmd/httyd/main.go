// Command httyd is the thin CLI front-end over the engine's session and
// protocol packages: the "serve" subcommand runs the JSON-lines protocol
// shim over stdio, and "wait-exit" is the rendezvous helper the Exit
// Coordinator's spawned shell wrapper invokes. This layer is a
// collaborator over the engine, not part of the core engine.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MatrixManAtYrService/htty/internal/config"
	"github.com/MatrixManAtYrService/htty/internal/protocol"
	"github.com/MatrixManAtYrService/htty/internal/session"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "httyd",
		Short:   "Headless terminal automation engine",
		Version: Version,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newWaitExitCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cols, rows int
	cmd := &cobra.Command{
		Use:   "serve -- <command> [args...]",
		Short: "Spawn a command under a PTY and speak the JSON-lines protocol over stdio",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args, cols, rows)
		},
	}
	cmd.Flags().IntVar(&cols, "cols", 0, "PTY columns (default from config)")
	cmd.Flags().IntVar(&rows, "rows", 0, "PTY rows (default from config)")
	return cmd
}

func newWaitExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wait-exit <fifo-path>",
		Short: "Block until the exit coordinator releases the given rendezvous FIFO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return session.WaitExit(args[0])
		},
	}
}

func runServe(argv []string, cols, rows int) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load()
	if cols == 0 {
		cols = cfg.DefaultCols
	}
	if rows == 0 {
		rows = cfg.DefaultRows
	}
	if override := config.TestSpawnOverride(); override != "" {
		argv = []string{override}
	}

	broker, err := session.Spawn(argv, "", nil, cols, rows, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("httyd: spawn: %w", err)
	}

	sub, err := broker.Subscribe()
	if err != nil {
		return fmt.Errorf("httyd: subscribe: %w", err)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events() {
			line, err := protocol.EncodeEvent(ev)
			if err != nil {
				logger.Warn("encode event", "err", err)
				continue
			}
			out.Write(line)
			out.WriteByte('\n')
			out.Flush()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, err := protocol.ParseCommand(scanner.Bytes())
		if err != nil {
			logger.Warn("malformed command", "err", err)
			continue
		}
		ack := broker.Submit(cmd)
		if ack.Err != nil {
			logger.Warn("command rejected", "err", ack.Err)
		}
	}

	<-done
	return nil
}
