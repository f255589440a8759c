package session

import "golang.org/x/sys/unix"

func mkfifoForTest(path string) error {
	return unix.Mkfifo(path, 0600)
}
