package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePinger succeeds from the succeedAfter-th probe onward (0 = never).
type fakePinger struct {
	calls        atomic.Int64
	succeedAfter int64
}

func (f *fakePinger) Ping(ctx context.Context, timeout time.Duration) bool {
	n := f.calls.Add(1)
	return f.succeedAfter > 0 && n >= f.succeedAfter
}

func testOptions(dir string) Options {
	return Options{
		LogPath:      filepath.Join(dir, "comfy.log"),
		PollInterval: 10 * time.Millisecond,
		ProbeTimeout: 50 * time.Millisecond,
	}
}

func TestBringUp_ReadyOnFirstProbe(t *testing.T) {
	s := New(&fakePinger{succeedAfter: 1}, testOptions(t.TempDir()), zap.NewNop())

	err := s.BringUp(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
}

func TestBringUp_ReadyAfterPolling(t *testing.T) {
	p := &fakePinger{succeedAfter: 3}
	s := New(p, testOptions(t.TempDir()), zap.NewNop())

	err := s.BringUp(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.GreaterOrEqual(t, p.calls.Load(), int64(3))
}

func TestBringUp_TimeoutNeverBeforeDeadline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comfy.log"), []byte("boot line 1\nboot line 2\n"), 0o644))

	s := New(&fakePinger{}, testOptions(dir), zap.NewNop())

	timeout := 150 * time.Millisecond
	start := time.Now()
	err := s.BringUp(context.Background(), timeout)
	elapsed := time.Since(start)

	var serr *StartupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ReasonTimeout, serr.Reason)
	assert.GreaterOrEqual(t, elapsed, timeout, "failure must not fire before the deadline")
	assert.Equal(t, StateFailed, s.State())
	assert.Contains(t, serr.LogsTail, "boot line 2")
}

func TestBringUp_ProcessExitBeatsTimeout(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.Command = []string{"/bin/sh", "-c", "echo model load failed; exit 3"}

	s := New(&fakePinger{}, opts, zap.NewNop())
	require.NoError(t, s.Launch())

	start := time.Now()
	err := s.BringUp(context.Background(), 10*time.Second)
	elapsed := time.Since(start)

	var serr *StartupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ReasonProcessExit, serr.Reason)
	assert.Less(t, elapsed, 5*time.Second, "process death must be reported at death time, not at the deadline")
	assert.Equal(t, StateFailed, s.State())
	assert.Contains(t, serr.LogsTail, "model load failed")
}

func TestBringUp_StateIsMonotonic(t *testing.T) {
	s := New(&fakePinger{succeedAfter: 1}, testOptions(t.TempDir()), zap.NewNop())
	require.NoError(t, s.BringUp(context.Background(), time.Second))
	require.Equal(t, StateReady, s.State())

	// Terminal states never regress.
	s.setState(StateStarting)
	assert.Equal(t, StateReady, s.State())
	s.setState(StateFailed)
	assert.Equal(t, StateReady, s.State())
}

func TestLaunch_NoCommandIsExternallyManaged(t *testing.T) {
	s := New(&fakePinger{succeedAfter: 1}, testOptions(t.TempDir()), zap.NewNop())
	require.NoError(t, s.Launch())
	require.NoError(t, s.BringUp(context.Background(), time.Second))
}

func TestLaunch_BadBinary(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.Command = []string{"/nonexistent/engine-binary"}

	s := New(&fakePinger{}, opts, zap.NewNop())
	require.Error(t, s.Launch())
}

func TestTailFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		got := TailFile(filepath.Join(t.TempDir(), "absent.log"), 10)
		assert.Equal(t, "Log file not found", got)
	})

	t.Run("returns last n lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a.log")
		var b strings.Builder
		for i := 1; i <= 100; i++ {
			fmt.Fprintf(&b, "line %d\n", i)
		}
		require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

		got := TailFile(path, 3)
		assert.Equal(t, "line 98\nline 99\nline 100", got)
	})

	t.Run("fewer lines than requested", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "b.log")
		require.NoError(t, os.WriteFile(path, []byte("only line\n"), 0o644))
		assert.Equal(t, "only line", TailFile(path, 80))
	})

	t.Run("zero lines", func(t *testing.T) {
		assert.Equal(t, "", TailFile("whatever", 0))
	})
}
