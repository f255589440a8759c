package session

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// WaitExit implements the "<engine> wait-exit <path>" helper subcommand:
// it creates the FIFO at path (mode 0600) if it does not already exist,
// then blocks reading lines until one equals "exit".
func WaitExit(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := unix.Mkfifo(path, 0600); err != nil {
			return fmt.Errorf("session: mkfifo %s: %w", path, err)
		}
	}

	for {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return fmt.Errorf("session: open fifo %s: %w", path, err)
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if scanner.Text() == "exit" {
				f.Close()
				return nil
			}
		}
		f.Close()
		// A FIFO reader sees EOF whenever the writer side closes without
		// sending "exit"; reopen and keep waiting.
	}
}
