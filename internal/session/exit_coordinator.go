package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// exitCoordinator implements the quiescence-based exit handoff: it owns
// the rendezvous FIFO path, watches for the wait-exit helper to create
// it, and writes the single release line once the broker has been quiet
// for the configured window.
type exitCoordinator struct {
	dir  string
	fifo string

	writeOnce sync.Once
	written   bool
}

// newExitCoordinator creates the temp directory and picks the FIFO path
// inside it. It does not create the FIFO node itself; the wait-exit
// helper does that once it is spawned.
func newExitCoordinator() (*exitCoordinator, error) {
	dir, err := os.MkdirTemp("", "htty-exit-*")
	if err != nil {
		return nil, fmt.Errorf("session: create exit-coordinator tempdir: %w", err)
	}
	return &exitCoordinator{
		dir:  dir,
		fifo: filepath.Join(dir, "exit.fifo"),
	}, nil
}

// fifoPath is the path the spawned shell wrapper's wait-exit argument
// must reference.
func (e *exitCoordinator) fifoPath() string {
	return e.fifo
}

// watch polls for the FIFO's existence every pollInterval and invokes
// onCompleted exactly once, the first time it's observed. It returns
// right after invoking onCompleted, or earlier when ctx is canceled.
func (e *exitCoordinator) watch(ctx context.Context, pollInterval time.Duration, onCompleted func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Lstat(e.fifo)
			if err == nil && info.Mode()&os.ModeNamedPipe != 0 {
				onCompleted()
				return
			}
		}
	}
}

// release writes the single "exit\n" line that unblocks the wait-exit
// helper. Repeated calls after the first are no-ops: that line is
// written at most once per coordinator.
func (e *exitCoordinator) release() error {
	var err error
	e.writeOnce.Do(func() {
		var f *os.File
		f, err = os.OpenFile(e.fifo, os.O_WRONLY, 0)
		if err != nil {
			err = fmt.Errorf("session: open fifo for release: %w", err)
			return
		}
		defer f.Close()
		if _, werr := f.WriteString("exit\n"); werr != nil {
			err = fmt.Errorf("session: write release: %w", werr)
			return
		}
		e.written = true
	})
	return err
}

// cleanup removes the temp directory (and the FIFO within it).
func (e *exitCoordinator) cleanup() error {
	return os.RemoveAll(e.dir)
}
