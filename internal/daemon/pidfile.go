package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio"
)

// ErrAlreadyRunning is returned by Claim when a live process owns the file.
var ErrAlreadyRunning = errors.New("daemon already running")

// ErrNotRunning is returned by Stop when no live process owns the file.
var ErrNotRunning = errors.New("daemon not running")

// PIDFile is the path of the file recording which process serves a data
// directory. A missing file, or one naming a dead process, means nobody does.
type PIDFile string

// Owner returns the recorded pid and whether that process is alive.
// A missing file yields pid 0 and no error.
func (p PIDFile) Owner() (pid int, alive bool, err error) {
	data, err := os.ReadFile(string(p))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read pid file %s: %w", p, err)
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false, fmt.Errorf("pid file %s holds %q", p, data)
	}
	return pid, processAlive(pid), nil
}

// Claim records this process as the owner. A file naming a dead process,
// or holding garbage, is taken over. The returned release removes the file
// if it still names this process.
func (p PIDFile) Claim() (release func(), err error) {
	if pid, live, _ := p.Owner(); live && pid != os.Getpid() {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := os.MkdirAll(filepath.Dir(string(p)), 0755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}
	self := os.Getpid()
	if err := renameio.WriteFile(string(p), []byte(strconv.Itoa(self)), 0644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return func() {
		// A successor may already have taken the file over
		if pid, _, _ := p.Owner(); pid == self {
			_ = os.Remove(string(p))
		}
	}, nil
}

// Stop sends SIGTERM to the owner and waits up to grace for it to exit,
// polling every interval. An owner still alive after grace gets SIGKILL
// and killed is true.
func (p PIDFile) Stop(grace, interval time.Duration) (pid int, killed bool, err error) {
	pid, live, err := p.Owner()
	if err != nil {
		return 0, false, err
	}
	if !live {
		return pid, false, ErrNotRunning
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return pid, false, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	for deadline := time.Now().Add(grace); time.Now().Before(deadline); {
		time.Sleep(interval)
		if !processAlive(pid) {
			return pid, false, nil
		}
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return pid, false, fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return pid, true, nil
}

// processAlive reports whether pid exists. EPERM means it does but belongs to
// another user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
