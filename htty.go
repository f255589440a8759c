// Package htty is the library-addressable entry point for the
// headless-terminal-automation engine. Every component it fronts — the
// PTY Driver, the Terminal Model, the Session Broker, and the Exit
// Coordinator — is usable in-process, without going through a
// subprocess or wire protocol.
//
// A caller creates an Engine with Launch, drives the child through
// SendKeys/Resize, reads its screen with Snapshot or WaitFor, and tears
// it down with Exit.
package htty

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MatrixManAtYrService/htty/internal/config"
	"github.com/MatrixManAtYrService/htty/internal/session"
)

// Re-exported so callers never need to import the internal packages
// directly; these are the same values session.Broker works with.
type (
	EventKind    = session.EventKind
	Event        = session.Event
	Subscription = session.Subscription
	State        = session.State
)

const (
	EventPid      = session.EventPid
	EventOutput   = session.EventOutput
	EventSnapshot = session.EventSnapshot
	EventResize   = session.EventResize
	EventExitCode = session.EventExitCode
	EventDebug    = session.EventDebug
)

// LaunchOptions configures a new Engine.
type LaunchOptions struct {
	// Argv is the child command and its arguments. Required.
	Argv []string
	// Dir is the child's working directory; empty means inherit.
	Dir string
	// Env, when non-nil, replaces the child's environment wholesale.
	Env []string
	// Cols and Rows size the PTY; zero means the effective Config's
	// DefaultCols/DefaultRows.
	Cols, Rows int
	// Logger receives structured diagnostics; nil means slog.Default().
	Logger *slog.Logger
	// Config overrides the engine's tunables; nil means config.Load().
	Config *config.Config
	// WaitExitArgv overrides the program (and any leading arguments)
	// invoked as "<WaitExitArgv...> <fifo>" once the child command
	// finishes. Nil means "<this binary's os.Executable()> wait-exit",
	// which only resolves correctly when the calling binary has a
	// wait-exit subcommand of its own (as cmd/httyd does); callers
	// embedding this package under a different binary must supply their
	// own helper here.
	WaitExitArgv []string
}

// Engine is a single running terminal-automation session.
type Engine struct {
	broker *session.Broker
	cfg    *config.Config
}

// Launch spawns opts.Argv under a PTY and starts the engine.
func Launch(opts LaunchOptions) (*Engine, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("htty: Argv must not be empty")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = cfg.DefaultCols
	}
	if rows == 0 {
		rows = cfg.DefaultRows
	}

	broker, err := session.Spawn(opts.Argv, opts.Dir, opts.Env, cols, rows, cfg, opts.Logger, opts.WaitExitArgv)
	if err != nil {
		return nil, err
	}
	return &Engine{broker: broker, cfg: cfg}, nil
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.broker.State() }

// Subscribe registers interest in a subset of event kinds. An empty
// kinds list subscribes to all kinds.
func (e *Engine) Subscribe(kinds ...EventKind) (*Subscription, error) {
	return e.broker.Subscribe(kinds...)
}

// SendKeys translates and injects a mixed sequence of literal text and
// named keys.
func (e *Engine) SendKeys(keys ...string) error {
	ack := e.broker.Submit(session.Command{Kind: session.CmdSendKeys, Keys: keys})
	return ack.Err
}

// Snapshot requests and waits for a Snapshot event within timeout (zero
// means config's SnapshotTimeout).
func (e *Engine) Snapshot(timeout time.Duration) (session.Event, error) {
	return e.awaitOneShot(session.CmdTakeSnapshot, session.EventSnapshot, timeoutOrDefault(timeout, e.cfg.SnapshotTimeout))
}

// Resize changes the PTY and Terminal Model geometry.
func (e *Engine) Resize(cols, rows int) error {
	ack := e.broker.Submit(session.Command{Kind: session.CmdResize, Cols: cols, Rows: rows})
	return ack.Err
}

// Exit requests graceful shutdown and blocks until the engine has fully
// terminated or timeout elapses (zero means config's ExitTimeout).
func (e *Engine) Exit(timeout time.Duration) error {
	ack := e.broker.Submit(session.Command{Kind: session.CmdExit})
	if ack.Err != nil {
		return ack.Err
	}
	select {
	case <-e.broker.Done():
		return nil
	case <-time.After(timeoutOrDefault(timeout, e.cfg.ExitTimeout)):
		return session.ErrTimedOut
	}
}

// WaitFor subscribes to output, accumulates it, and returns once the
// cumulative text matches pattern or timeout elapses (zero means
// config's ExpectTimeout). It is a library-level convenience built
// entirely over the public event stream.
func (e *Engine) WaitFor(pattern string, timeout time.Duration) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("htty: bad pattern: %w", err)
	}

	sub, err := e.broker.Subscribe(session.EventOutput, session.EventExitCode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeoutOrDefault(timeout, e.cfg.ExpectTimeout))
	defer cancel()

	var buf strings.Builder
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return session.ErrChildExited
			}
			if ev.Kind == session.EventOutput {
				buf.Write(ev.Output)
				if re.MatchString(buf.String()) {
					return nil
				}
			}
			if ev.Kind == session.EventExitCode {
				if re.MatchString(buf.String()) {
					return nil
				}
				return session.ErrChildExited
			}
		case <-ctx.Done():
			return session.ErrTimedOut
		}
	}
}

func (e *Engine) awaitOneShot(cmdKind session.CommandKind, wantKind session.EventKind, timeout time.Duration) (session.Event, error) {
	sub, err := e.broker.Subscribe(wantKind, session.EventExitCode)
	if err != nil {
		return session.Event{}, err
	}

	ack := e.broker.Submit(session.Command{Kind: cmdKind})
	if ack.Err != nil {
		return session.Event{}, ack.Err
	}

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return session.Event{}, session.ErrChildExited
			}
			if ev.Kind == wantKind {
				return ev, nil
			}
		case <-deadline:
			return session.Event{}, session.ErrTimedOut
		}
	}
}

func timeoutOrDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
