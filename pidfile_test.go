package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFile_CreatesFileWithCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "threadwatch.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "cleanup removes the file")
}

func TestWritePIDFile_LockPreventsSecondDaemon(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "threadwatch.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	second, err := writePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.Contains(t, err.Error(), "already running")
}

func TestWritePIDFile_EmptyPath(t *testing.T) {
	t.Parallel()

	cleanup, err := writePIDFile("")
	require.Error(t, err)
	assert.Nil(t, cleanup)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr string
	}{
		{name: "valid", content: "12345\n", want: 12345},
		{name: "garbage", content: "not-a-pid\n", wantErr: "invalid PID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "threadwatch.pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			pid, err := readPIDFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}

func TestDaemonPID_NoPIDFile(t *testing.T) {
	t.Parallel()

	_, err := daemonPID(filepath.Join(t.TempDir(), "missing.pid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running daemon")
}

func TestDaemonPID_StaleFileRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "threadwatch.pid")
	// PID 999999999 is almost certainly not a running process.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	_, err := daemonPID(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSendSIGHUP_DeliversToDaemon(t *testing.T) {
	// Not parallel: installs a process-wide SIGHUP handler.
	sighup, stop := sighupChannel()
	defer stop()

	path := filepath.Join(t.TempDir(), "threadwatch.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	pid, err := daemonPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, sendSIGHUP(path))

	select {
	case sig := <-sighup:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}
