// Package lockfile guards a state directory so only one AckPipe process uses
// its WhatsApp device store at a time.
//
// The lock is an flock(2) on a file inside the directory; the kernel drops it
// when the process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created in the state directory.
const FileName = "ackpipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Holder describes the process recorded in an existing lock file.
type Holder struct {
	PID     int
	Started string
	Running bool
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if h.Running {
		state = "running"
	}
	if h.Started != "" {
		return fmt.Sprintf("PID %d (%s, started %s)", h.PID, state, h.Started)
	}
	return fmt.Sprintf("PID %d (%s)", h.PID, state)
}

// HeldError is returned when another process owns the lock.
type HeldError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("state directory is locked by another AckPipe instance: %s (lock file %s; remove it only if that process is gone)",
		e.Holder, e.Path)
}

func (e *HeldError) Unwrap() error { return e.Cause }

// Acquire takes an exclusive, non-blocking lock on dir, creating it if needed.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, FileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}

	// O_TRUNC is deferred until the lock is held so a losing process does not
	// wipe the holder's information.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := ReadHolder(path)
		slog.Error("Lockfile.Acquire: state directory already locked", "path", path, "holder", holder.String())
		return nil, &HeldError{Path: path, Holder: holder, Cause: err}
	}

	content := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := writeContent(file, content); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	slog.Info("Lockfile.Acquire: state directory locked", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

func writeContent(file *os.File, content string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile: sync failed", "path", file.Name(), "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so no other process can lock the
	// file we are about to delete.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile.Release: remove failed", "path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lockfile.Release: unlock failed", "path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile.Release: state directory unlocked", "path", l.path)
	return err
}

// ReadHolder parses the lock file at path. Unreadable files yield a zero Holder.
func ReadHolder(path string) Holder {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}
	}
	var h Holder
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started":
			h.Started = value
		}
	}
	if h.PID > 0 {
		h.Running = processRunning(h.PID)
	}
	return h
}

// processRunning probes pid with signal 0.
func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
