package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MatrixManAtYrService/htty/internal/config"
	"github.com/MatrixManAtYrService/htty/internal/ptydriver"
	"github.com/MatrixManAtYrService/htty/internal/term"
)

// Broker is the Session Broker: the single task that owns the Terminal
// Model and the subscriber set, serializes commands, and hosts the Exit
// Coordinator.
type Broker struct {
	cfg    *config.Config
	logger *slog.Logger

	model  *term.Model
	driver *ptydriver.Driver
	coord  *exitCoordinator

	cmds chan Command

	mu    sync.Mutex // guards state/subs for the few accessors callable off-broker
	state State
	subs  map[string]*Subscription

	pid         int
	pidKnown    bool
	exitCode    int
	exitCodeSet bool
	exitRequested bool

	pendingWaitExit bool
	lastCommandAt   time.Time

	watchCancel context.CancelFunc
	done        chan struct{}
}

// Spawn starts a new Session Broker: it allocates a PTY, spawns argv
// under a shell wrapper that rendezvous through the Exit Coordinator's
// FIFO on completion, and starts the broker's dispatch loop in a new
// goroutine. Callers retrieve the running state via Submit/Subscribe
// and wait for full shutdown via Done.
//
// waitExitArgv is the program (and any leading arguments) invoked as
// "<waitExitArgv...> <fifo>" by the spawned shell wrapper once the user
// command finishes. A nil slice defaults to "<this engine binary>
// wait-exit", which is what production callers want; tests that run
// under `go test` (and so have no wait-exit subcommand of their own)
// supply a standalone helper program instead.
func Spawn(argv []string, dir string, env []string, cols, rows int, cfg *config.Config, logger *slog.Logger, waitExitArgv []string) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("session: %w: empty argv", ErrProtocolError)
	}

	coord, err := newExitCoordinator()
	if err != nil {
		return nil, err
	}

	if len(waitExitArgv) == 0 {
		enginePath, err := os.Executable()
		if err != nil {
			coord.cleanup()
			return nil, fmt.Errorf("session: resolve engine path: %w", err)
		}
		waitExitArgv = []string{enginePath, "wait-exit"}
	}

	quotedHelper := make([]string, len(waitExitArgv))
	for i, a := range waitExitArgv {
		quotedHelper[i] = shellQuote(a)
	}
	script := fmt.Sprintf(`"$@"; ec=$?; %s %s; exit $ec`, joinSpace(quotedHelper), shellQuote(coord.fifoPath()))
	wrapped := append([]string{"/bin/sh", "-c", script, "htty-wrapper"}, argv...)

	driver, err := ptydriver.Start(wrapped, dir, env, cols, rows, cfg, logger)
	if err != nil {
		coord.cleanup()
		return nil, err
	}

	b := &Broker{
		cfg:    cfg,
		logger: logger,
		model:  term.NewWithScrollback(cols, rows, cfg.ScrollbackLines),
		driver: driver,
		coord:  coord,
		cmds:   make(chan Command, 256),
		state:  StateStarting,
		subs:   make(map[string]*Subscription),
		done:   make(chan struct{}),
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	b.watchCancel = cancel
	go coord.watch(watchCtx, cfg.FIFOPollInterval, func() {
		b.cmds <- Command{Kind: cmdCompleted, fifoPath: coord.fifoPath()}
	})

	go b.run()

	return b, nil
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func shellQuote(s string) string {
	return "'" + replaceAll(s, "'", `'\''`) + "'"
}

func replaceAll(s, old, new string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if old == string(s[i]) {
			out = append(out, new...)
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Submit enqueues cmd on the broker's command channel and blocks until
// the broker has processed it and replied with an Ack.
func (b *Broker) Submit(cmd Command) Ack {
	ack := make(chan Ack, 1)
	cmd.ack = ack
	b.cmds <- cmd
	return <-ack
}

// Subscribe registers a new subscription and returns it. It is
// implemented over Submit so that subscription creation is itself
// serialized through the broker.
func (b *Broker) Subscribe(kinds ...EventKind) (*Subscription, error) {
	ack := b.Submit(Command{Kind: CmdSubscribe, Kinds: kinds})
	if ack.Err != nil {
		return nil, ack.Err
	}
	return ack.Subscription, nil
}

// State returns the broker's current lifecycle state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done returns a channel closed once the broker's dispatch loop has
// returned (state Terminated, all tasks joined).
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

func (b *Broker) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Broker) run() {
	defer close(b.done)

	driverEvents := b.driver.Events()
	quiescence := time.NewTicker(b.cfg.QuiescenceTick)
	defer quiescence.Stop()
	heartbeat := time.NewTicker(b.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case cmd := <-b.cmds:
			if cmd.Kind != CmdExit {
				b.lastCommandAt = time.Now()
			}
			if stop := b.handleCommand(cmd); stop {
				b.teardown()
				return
			}
		case ev := <-driverEvents:
			if stop := b.handleDriverEvent(ev); stop {
				b.teardown()
				return
			}
		case <-quiescence.C:
			b.checkQuiescence()
		case <-heartbeat.C:
			// Keeps the select loop's liveness visible; no state change.
		}
	}
}

func (b *Broker) teardown() {
	b.watchCancel()
	b.driver.TerminateForced()
	b.driver.Close()
	if err := b.coord.cleanup(); err != nil {
		b.logger.Warn("exit coordinator cleanup failed", "err", err)
	}
	b.model.Close()
	b.closeRemainingSubscribers()
	b.setState(StateTerminated)
}

// closeRemainingSubscribers closes any subscription broadcast hasn't
// already closed, so Draining only gives way to Terminated once every
// subscriber queue has drained or been closed.
func (b *Broker) closeRemainingSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// handleCommand executes one Command and returns true if the broker
// should now shut down (state is Draining; run's teardown then moves it
// to Terminated).
func (b *Broker) handleCommand(cmd Command) bool {
	switch cmd.Kind {
	case CmdSendKeys:
		b.handleSendKeys(cmd)
	case CmdTakeSnapshot:
		b.handleTakeSnapshot(cmd)
	case CmdResize:
		b.handleResize(cmd)
	case CmdSubscribe:
		b.handleSubscribe(cmd)
	case CmdExit:
		return b.handleExit(cmd)
	case CmdDebug:
		b.broadcast(Event{Kind: EventDebug, DebugTag: cmd.Tag})
		b.ack(cmd, nil)
	case cmdCompleted:
		b.handleCompleted(cmd)
	case cmdForceCheckExit:
		b.handleForceCheckExit()
	case cmdGracefulTimeout:
		b.handleGracefulTimeout()
	}
	return false
}

func (b *Broker) ack(cmd Command, err error) {
	if cmd.ack == nil {
		return
	}
	cmd.ack <- Ack{Err: err}
}

func (b *Broker) handleSendKeys(cmd Command) {
	bytes, err := translateKeys(cmd.Keys)
	if err != nil {
		b.ack(cmd, err)
		return
	}
	if err := b.driver.Write(bytes); err != nil {
		b.ack(cmd, fmt.Errorf("%w: %v", ErrPtyBroken, err))
		return
	}
	b.ack(cmd, nil)
}

func (b *Broker) handleTakeSnapshot(cmd Command) {
	b.drainDriverEvents()
	snap := b.model.Snapshot()
	b.broadcast(Event{Kind: EventSnapshot, Snapshot: snap})
	if cmd.ack != nil {
		cmd.ack <- Ack{Err: nil}
	}
}

func (b *Broker) handleResize(cmd Command) {
	if cmd.Cols < 1 || cmd.Cols > 1024 || cmd.Rows < 1 || cmd.Rows > 1024 {
		b.ack(cmd, ErrResizeFailed)
		return
	}
	if err := b.driver.Resize(cmd.Cols, cmd.Rows); err != nil {
		b.ack(cmd, fmt.Errorf("%w: %v", ErrResizeFailed, err))
		return
	}
	b.model.Resize(cmd.Cols, cmd.Rows)
	b.broadcast(Event{Kind: EventResize, Cols: cmd.Cols, Rows: cmd.Rows})
	b.ack(cmd, nil)
}

func (b *Broker) handleSubscribe(cmd Command) {
	sub := newSubscription(cmd.Kinds, b.cfg.SubscriberQueueCapacity)

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	if b.pidKnown && sub.wants(EventPid) {
		select {
		case sub.ch <- Event{Kind: EventPid, Pid: b.pid}:
		default:
		}
	}

	if cmd.ack != nil {
		cmd.ack <- Ack{Subscription: sub}
	}
}

func (b *Broker) handleExit(cmd Command) bool {
	b.exitRequested = true
	b.ack(cmd, nil)
	if b.exitCodeSet {
		b.setState(StateDraining)
		return true
	}
	b.setState(StateDraining)
	if b.pendingWaitExit {
		// The child's command has already finished and is waiting on the
		// rendezvous FIFO; release it now instead of waiting out the
		// quiescence window, as if the broker had already gone quiet.
		if err := b.coord.release(); err != nil {
			b.logger.Warn("exit coordinator release failed", "err", err)
		}
		b.pendingWaitExit = false
	}
	time.AfterFunc(b.cfg.ForcedExitWait, func() {
		b.cmds <- Command{Kind: cmdForceCheckExit}
	})
	return false
}

func (b *Broker) handleForceCheckExit() {
	if b.exitCodeSet {
		return
	}
	b.driver.TerminateGraceful()
	time.AfterFunc(b.cfg.GracefulTermTimeout, func() {
		b.cmds <- Command{Kind: cmdGracefulTimeout}
	})
}

func (b *Broker) handleGracefulTimeout() {
	if b.exitCodeSet {
		return
	}
	b.driver.TerminateForced()
}

func (b *Broker) handleCompleted(cmd Command) {
	if b.exitCodeSet {
		return
	}
	b.pendingWaitExit = true
}

func (b *Broker) checkQuiescence() {
	if !b.pendingWaitExit {
		return
	}
	if time.Since(b.lastCommandAt) < b.cfg.QuiescenceWindow {
		return
	}
	if err := b.coord.release(); err != nil {
		b.logger.Warn("exit coordinator release failed", "err", err)
	}
	b.pendingWaitExit = false
}

// drainDriverEvents processes any driver events already buffered on the
// channel without blocking, so that TakeSnapshot reflects output the
// read task has already produced.
func (b *Broker) drainDriverEvents() {
	for {
		select {
		case ev := <-b.driver.Events():
			b.handleDriverEvent(ev)
		default:
			return
		}
	}
}

// handleDriverEvent processes one ptydriver.Event and returns true if
// the broker should now shut down.
func (b *Broker) handleDriverEvent(ev ptydriver.Event) bool {
	if b.State() == StateStarting {
		b.setState(StateRunning)
	}

	switch ev.Kind {
	case ptydriver.EventPid:
		b.pid = ev.Pid
		b.pidKnown = true
		b.broadcast(Event{Kind: EventPid, Pid: ev.Pid})
	case ptydriver.EventOutput:
		notes := b.model.Feed(ev.Data)
		b.broadcast(Event{Kind: EventOutput, Output: ev.Data})
		for _, n := range notes {
			b.broadcast(Event{Kind: EventDebug, DebugTag: fmt.Sprintf("%s:%s%s", n.Tag, n.Title, n.Message)})
		}
	case ptydriver.EventExit:
		b.exitCode = ev.ExitCode
		b.exitCodeSet = true
		b.setState(StateDraining)
		b.broadcast(Event{Kind: EventExitCode, ExitCode: ev.ExitCode})
		if b.exitRequested {
			return true
		}
	case ptydriver.EventDebug:
		b.broadcast(Event{Kind: EventDebug, DebugTag: ev.Debug})
	case ptydriver.EventReadDone:
		// PTY EOF reached; the broker decides independently (from
		// EventExit) whether to shut down, so this is informational only.
	}
	return false
}

// broadcast fans ev out to every subscriber interested in its kind.
// ExitCode is delivered to every subscription regardless of requested
// kinds and then closes it, satisfying "exactly one ExitCode is
// delivered, and it is the last event" for every subscription.
func (b *Broker) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		if ev.Kind != EventExitCode && !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
			if ev.Kind == EventExitCode {
				close(sub.ch)
				delete(b.subs, id)
			}
		default:
			close(sub.ch)
			delete(b.subs, id)
			b.logger.Warn("subscriber overrun, disconnecting", "subscription", id)
		}
	}
}
