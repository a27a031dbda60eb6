// Package common provides shared constants, types, and utilities
// used across the VPN Manager licensing components.
package common

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory exclusive lock on a file, shared by every process
// that locks the same path. A FileLock is not safe for concurrent use; guard
// it with a mutex when goroutines share it.
type FileLock struct {
	path string
	f    *os.File
}

// NewFileLock returns an unlocked lock on path. The file is created on the
// first Lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until the lock is held.
func (l *FileLock) Lock() error {
	if l.f != nil {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return WrapError(err, "failed to open lock file")
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return WrapError(err, "failed to lock "+l.path)
	}
	l.f = f
	return nil
}

// Unlock releases the lock. Unlocking an unlocked FileLock is a no-op.
func (l *FileLock) Unlock() error {
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	return errors.Join(unix.Flock(int(f.Fd()), unix.LOCK_UN), f.Close())
}
