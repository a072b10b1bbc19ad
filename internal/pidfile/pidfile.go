// Package pidfile records the pid of a running server so a second instance
// on the same host refuses to start.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrRunning is returned by Acquire when the file names a live process.
var ErrRunning = errors.New("another instance is running")

// Pidfile is a pid file at a fixed path.
type Pidfile struct {
	path string
}

// New returns a Pidfile for path. Nothing is written until Acquire.
func New(path string) *Pidfile {
	return &Pidfile{path: path}
}

// Path returns the file path.
func (p *Pidfile) Path() string {
	return p.path
}

// Acquire writes the current pid. A stale file left by a dead process is
// replaced.
func (p *Pidfile) Acquire() error {
	if pid, err := p.Read(); err == nil && pid != os.Getpid() && alive(pid) {
		return fmt.Errorf("%w (pid %d, %s)", ErrRunning, pid, p.path)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	return nil
}

// Read returns the pid stored in the file.
func (p *Pidfile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pidfile: %w", err)
	}
	return pid, nil
}

// Release removes the file if it still holds our pid.
func (p *Pidfile) Release() error {
	if pid, err := p.Read(); err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, os.ErrPermission)
}
