// Package ptydriver owns the master/slave PTY pair, spawns and reaps the
// child process, and performs all raw reads/writes.
//
// A Driver is invoked only by the Session Broker; it never touches the
// Terminal Model and holds no lock across I/O.
package ptydriver

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/MatrixManAtYrService/htty/internal/config"
)

// Driver wraps a single child process running inside a PTY.
type Driver struct {
	cmd  *exec.Cmd
	ptmx *os.File

	events chan Event

	cfg    *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	cols     int
	rows     int
	closed   bool
	exited   bool
	pgid     int
}

// Start spawns argv[0] (with the remaining elements as arguments) attached
// to a new PTY of the given size, and begins the read loop. env, when
// non-nil, replaces the child's environment wholesale (the caller is
// responsible for including any inherited variables it wants kept).
func Start(argv []string, dir string, env []string, cols, rows int, cfg *config.Config, logger *slog.Logger) (*Driver, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("ptydriver: %w: empty argv", ErrSpawnFailed)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	// Run the child in its own process group so terminate_graceful and
	// terminate_forced can signal the whole group, not just the leader.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPtyAllocFailed, err)
	}

	d := &Driver{
		cmd:    cmd,
		ptmx:   ptmx,
		events: make(chan Event, 1024),
		cfg:    cfg,
		logger: logger,
		cols:   cols,
		rows:   rows,
		pgid:   cmd.Process.Pid,
	}

	d.events <- Event{Kind: EventPid, Pid: cmd.Process.Pid}
	logger.Info("pty spawned", "pid", cmd.Process.Pid, "cmd", argv[0])

	go d.readLoop()
	go d.waitLoop()

	return d, nil
}

// Events returns the channel of lifecycle and output events. The channel
// is never closed by the driver. EventExit and EventReadDone each come
// exactly once, from separate goroutines, so their relative order is not
// fixed and EventOutput may still follow EventExit.
func (d *Driver) Events() <-chan Event {
	return d.events
}

// readLoop fills a fixed buffer from the master fd and emits an
// EventOutput per fill, using a fixed-size buffer sized by config.
func (d *Driver) readLoop() {
	buf := make([]byte, d.cfg.ReadBufferSize)
	for {
		n, err := d.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.events <- Event{Kind: EventOutput, Data: chunk}
		}
		if err != nil {
			d.mu.Lock()
			exited := d.exited
			d.mu.Unlock()
			if !exited {
				d.events <- Event{Kind: EventDebug, Debug: fmt.Sprintf("pty read error: %v", err)}
			}
			d.events <- Event{Kind: EventReadDone}
			return
		}
	}
}

// waitLoop reaps the child and emits EventExit exactly once: the user
// command's status on a normal exit, or the negative signal number when
// the child died from a signal.
func (d *Driver) waitLoop() {
	err := d.cmd.Wait()

	d.mu.Lock()
	d.exited = true
	d.mu.Unlock()

	code := exitCodeFromWaitErr(d.cmd, err)
	d.events <- Event{Kind: EventExit, ExitCode: code}
	d.logger.Info("pty child exited", "pid", d.cmd.Process.Pid, "code", code)
}

func exitCodeFromWaitErr(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return -int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Write appends p to the master fd, retrying on short writes until the
// buffer drains or the fd is broken.
func (d *Driver) Write(p []byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for len(p) > 0 {
		n, err := d.ptmx.Write(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWriteBroken, err)
		}
		if n == 0 {
			return ErrWriteShort
		}
		p = p[n:]
	}
	return nil
}

// Resize issues the window-size ioctl and validates bounds: cols and
// rows must each fall in [1, 1024].
func (d *Driver) Resize(cols, rows int) error {
	if cols < 1 || cols > 1024 || rows < 1 || rows > 1024 {
		return fmt.Errorf("%w: cols=%d rows=%d out of [1,1024]", ErrResizeFailed, cols, rows)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := creackpty.Setsize(d.ptmx, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrResizeFailed, err)
	}
	d.cols = cols
	d.rows = rows
	return nil
}

// TerminateGraceful sends SIGTERM to the child's process group.
func (d *Driver) TerminateGraceful() error {
	return d.signalGroup(unix.SIGTERM)
}

// TerminateForced sends SIGKILL to the child's process group.
func (d *Driver) TerminateForced() error {
	return d.signalGroup(unix.SIGKILL)
}

func (d *Driver) signalGroup(sig syscall.Signal) error {
	d.mu.Lock()
	pgid := d.pgid
	d.mu.Unlock()
	if pgid == 0 {
		return nil
	}
	if err := unix.Kill(-pgid, sig); err != nil && err != unix.ESRCH {
		return fmt.Errorf("ptydriver: signal %v: %w", sig, err)
	}
	return nil
}

// Close closes the master fd. It does not wait for the child; callers
// that need a clean shutdown should call TerminateGraceful/Forced first.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.ptmx.Close()
}

// Pid returns the child's OS process id.
func (d *Driver) Pid() int {
	return d.cmd.Process.Pid
}

// Size returns the last-applied PTY dimensions.
func (d *Driver) Size() (cols, rows int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cols, d.rows
}
