package scheduler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// Lock is the process-wide single-instance guard: an OS file lock on a
// pidfile. The pid inside lets the stop command find the running loop
// without scanning process command lines.
type Lock struct {
	fl   *flock.Flock
	path string
}

// Acquire tries to take the lock. ok=false means another instance holds it;
// that is not an error.
func Acquire(path string) (l *Lock, ok bool, err error) {
	fl := flock.New(path)
	ok, err = fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, false, nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, false, fmt.Errorf("write pid to %s: %w", path, err)
	}
	return &Lock{fl: fl, path: path}, true, nil
}

// Release unlocks and removes the pidfile.
func (l *Lock) Release() {
	_ = os.Remove(l.path)
	_ = l.fl.Unlock()
}

// Stop signals SIGTERM to the loop holding the lock at path.
func Stop(path string) error {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("probe lock %s: %w", path, err)
	}
	if ok {
		// Nobody holds it; clean up a stale pidfile if present.
		_ = os.Remove(path)
		_ = fl.Unlock()
		return fmt.Errorf("no scheduler is running (lock %s is free)", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pidfile %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("parse pid from %s: %w", path, err)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}
