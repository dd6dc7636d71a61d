package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalePID is never allocated; Linux caps pid_max at this value.
const stalePID = "4194304"

// writePID creates a PID file holding content.
func writePID(t *testing.T, content string) PIDFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return PIDFile(path)
}

func TestPIDFile_Owner(t *testing.T) {
	self := os.Getpid()
	tests := []struct {
		name      string
		content   string
		wantPID   int
		wantAlive bool
		wantErr   bool
	}{
		{"live process", strconv.Itoa(self), self, true, false},
		{"trailing newline", strconv.Itoa(self) + "\n", self, true, false},
		{"dead process", stalePID, 4194304, false, false},
		{"garbage", "not-a-number", 0, false, true},
		{"empty", "", 0, false, true},
		{"negative", "-1", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, alive, err := writePID(t, tt.content).Owner()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPID, pid)
			assert.Equal(t, tt.wantAlive, alive)
		})
	}
}

func TestPIDFile_Owner_Missing(t *testing.T) {
	pid, alive, err := PIDFile(filepath.Join(t.TempDir(), "missing.pid")).Owner()

	require.NoError(t, err)
	assert.Zero(t, pid)
	assert.False(t, alive)
}

func TestPIDFile_Claim(t *testing.T) {
	t.Run("creates missing directories", func(t *testing.T) {
		// Given: a path under directories that do not exist yet
		pf := PIDFile(filepath.Join(t.TempDir(), "run", "docsearch", "daemon.pid"))

		// When: claiming
		release, err := pf.Claim()
		require.NoError(t, err)

		// Then: this process owns the file until release
		pid, alive, err := pf.Owner()
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
		assert.True(t, alive)

		release()
		_, err = os.Stat(string(pf))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("dead owner is taken over", func(t *testing.T) {
		pf := writePID(t, stalePID)

		_, err := pf.Claim()
		require.NoError(t, err)

		pid, _, err := pf.Owner()
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("garbage is taken over", func(t *testing.T) {
		_, err := writePID(t, "junk").Claim()
		assert.NoError(t, err)
	})

	t.Run("own pid is reclaimed", func(t *testing.T) {
		_, err := writePID(t, strconv.Itoa(os.Getpid())).Claim()
		assert.NoError(t, err)
	})

	t.Run("live owner keeps the file", func(t *testing.T) {
		parent := os.Getppid()
		pf := writePID(t, strconv.Itoa(parent))

		_, err := pf.Claim()

		require.ErrorIs(t, err, ErrAlreadyRunning)
		pid, _, err := pf.Owner()
		require.NoError(t, err)
		assert.Equal(t, parent, pid)
	})

	t.Run("release leaves a successor's file alone", func(t *testing.T) {
		// Given: a claim whose file was since rewritten by another owner
		pf := PIDFile(filepath.Join(t.TempDir(), "daemon.pid"))
		release, err := pf.Claim()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(string(pf), []byte(strconv.Itoa(os.Getppid())), 0644))

		// When: the first owner releases
		release()

		// Then: the successor's record survives
		pid, _, err := pf.Owner()
		require.NoError(t, err)
		assert.Equal(t, os.Getppid(), pid)
	})
}

// startChild runs script in a shell and reaps it when it exits, so its pid stops
// existing as soon as it dies.
func startChild(t *testing.T, script string) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return cmd.Process.Pid
}

func TestPIDFile_Stop(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		_, _, err := writePID(t, stalePID).Stop(time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrNotRunning)

		_, _, err = PIDFile(filepath.Join(t.TempDir(), "missing.pid")).Stop(time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrNotRunning)
	})

	t.Run("owner exits on SIGTERM", func(t *testing.T) {
		// Given: a child that dies on SIGTERM
		child := startChild(t, "exec sleep 60")
		pf := writePID(t, strconv.Itoa(child))

		// When: stopping it
		pid, killed, err := pf.Stop(5*time.Second, 10*time.Millisecond)

		// Then: it exited without SIGKILL
		require.NoError(t, err)
		assert.Equal(t, child, pid)
		assert.False(t, killed)
	})

	t.Run("owner ignoring SIGTERM is killed", func(t *testing.T) {
		// Given: a child that traps SIGTERM
		child := startChild(t, "trap '' TERM; while true; do sleep 1; done")
		pf := writePID(t, strconv.Itoa(child))
		// Give the shell time to install the trap
		time.Sleep(200 * time.Millisecond)

		// When: stopping it with a short grace period
		pid, killed, err := pf.Stop(300*time.Millisecond, 10*time.Millisecond)

		// Then: it was killed
		require.NoError(t, err)
		assert.Equal(t, child, pid)
		assert.True(t, killed)
		assert.Eventually(t, func() bool {
			_, alive, _ := pf.Owner()
			return !alive
		}, 5*time.Second, 10*time.Millisecond)
	})
}
