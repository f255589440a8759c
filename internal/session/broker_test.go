package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MatrixManAtYrService/htty/internal/config"
)

const waitExitScript = `#!/bin/sh
path="$1"
[ -p "$path" ] || mkfifo -m 600 "$path"
while true; do
  while IFS= read -r line; do
    if [ "$line" = "exit" ]; then
      exit 0
    fi
  done < "$path"
done
`

func newWaitExitHelper(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wait-exit-helper.sh")
	if err := os.WriteFile(path, []byte(waitExitScript), 0700); err != nil {
		t.Fatalf("write helper script: %v", err)
	}
	return []string{"/bin/sh", path}
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func spawnBroker(t *testing.T, argv []string, cols, rows int) *Broker {
	t.Helper()
	cfg := config.DefaultConfig()
	b, err := Spawn(argv, "", nil, cols, rows, cfg, nopLogger(), newWaitExitHelper(t))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() {
		b.Submit(Command{Kind: CmdExit})
		select {
		case <-b.Done():
		case <-time.After(10 * time.Second):
		}
	})
	return b
}

func TestEchoScenario(t *testing.T) {
	b := spawnBroker(t, []string{"echo", "hello"}, 10, 3)

	sub, err := b.Subscribe(EventPid, EventOutput, EventExitCode)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var sawPid, sawOutput bool
	var out strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if !sawPid || !sawOutput {
					t.Fatalf("subscription closed before seeing pid/output: pid=%v output=%v", sawPid, sawOutput)
				}
				if !strings.Contains(out.String(), "hello") {
					t.Fatalf("expected output to contain %q, got %q", "hello", out.String())
				}
				return
			}
			switch ev.Kind {
			case EventPid:
				sawPid = true
			case EventOutput:
				sawOutput = true
				out.Write(ev.Output)
			case EventExitCode:
				if ev.ExitCode != 0 {
					t.Fatalf("expected exit code 0, got %d", ev.ExitCode)
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for echo scenario, got %q", out.String())
		}
	}
}

func TestKeysAndSnapshotScenario(t *testing.T) {
	b := spawnBroker(t, []string{"cat"}, 20, 5)

	sub, err := b.Subscribe(EventSnapshot)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond) // let cat attach to the pty

	if ack := b.Submit(Command{Kind: CmdSendKeys, Keys: []string{"hi", "Enter"}}); ack.Err != nil {
		t.Fatalf("SendKeys: %v", ack.Err)
	}

	time.Sleep(100 * time.Millisecond) // let cat echo it back

	if ack := b.Submit(Command{Kind: CmdTakeSnapshot}); ack.Err != nil {
		t.Fatalf("TakeSnapshot: %v", ack.Err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Kind != EventSnapshot {
			t.Fatalf("expected snapshot event, got %v", ev.Kind)
		}
		lines := strings.Split(ev.Snapshot.Text, "\n")
		if !strings.HasPrefix(lines[0], "hi") {
			t.Fatalf("expected first row to start with %q, got %q", "hi", lines[0])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
}

func TestQuiescenceDelaysExitCode(t *testing.T) {
	b := spawnBroker(t, []string{"true"}, 10, 3)

	sub, err := b.Subscribe(EventExitCode)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	start := time.Now()
	var lastCommand time.Time
	for i := 0; i < 10; i++ {
		lastCommand = time.Now()
		b.Submit(Command{Kind: CmdDebug, Tag: "poll"})
		select {
		case ev := <-sub.Events():
			t.Fatalf("did not expect ExitCode yet, got %v after %v", ev, time.Since(start))
		case <-time.After(50 * time.Millisecond):
		}
	}

	select {
	case ev, ok := <-sub.Events():
		if !ok || ev.Kind != EventExitCode {
			t.Fatalf("expected EventExitCode, got ok=%v ev=%v", ok, ev)
		}
		if elapsed := time.Since(lastCommand); elapsed < 200*time.Millisecond {
			t.Fatalf("expected ExitCode at least 200ms after the last command, got %v", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for delayed ExitCode")
	}
}

func TestForcedExitOnSleepingChild(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ForcedExitWait = 100 * time.Millisecond
	cfg.GracefulTermTimeout = 200 * time.Millisecond

	b, err := Spawn([]string{"sleep", "60"}, "", nil, 10, 3, cfg, nopLogger(), newWaitExitHelper(t))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	sub, err := b.Subscribe(EventExitCode)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Submit(Command{Kind: CmdExit})

	select {
	case ev, ok := <-sub.Events():
		if !ok || ev.Kind != EventExitCode {
			t.Fatalf("expected EventExitCode, got ok=%v ev=%v", ok, ev)
		}
		if ev.ExitCode >= 0 {
			t.Fatalf("expected a negative (signal) exit code from forced termination, got %d", ev.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for forced exit code")
	}

	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("broker did not terminate after forced exit")
	}
}

func TestResizeAcceptsInBoundsRejectsOutOfBounds(t *testing.T) {
	b := spawnBroker(t, []string{"cat"}, 80, 24)

	if ack := b.Submit(Command{Kind: CmdResize, Cols: 40, Rows: 10}); ack.Err != nil {
		t.Fatalf("Resize: %v", ack.Err)
	}
	if ack := b.Submit(Command{Kind: CmdResize, Cols: 0, Rows: 10}); ack.Err == nil {
		t.Fatalf("expected ResizeFailed for cols=0")
	}
}
