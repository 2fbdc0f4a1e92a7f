package escape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestPause_TogglesIsPaused(t *testing.T) {
	h := New(nil)
	require.False(t, h.IsPaused())
	h.RequestPause(true)
	require.True(t, h.IsPaused())
	h.RequestPause(false)
	require.False(t, h.IsPaused())
}

func TestRequestKill_SetsFlagOnce(t *testing.T) {
	h := New(nil)
	require.False(t, h.KillRequested())
	h.RequestKill()
	require.True(t, h.KillRequested())
	// Second call must not block or panic (channel already has an entry).
	h.RequestKill()
	require.True(t, h.KillRequested())
}

func TestWatch_ExitsOnKillRequest(t *testing.T) {
	h := New(nil)
	exited := make(chan int, 1)
	h.exit = func(code int) { exited <- code }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Watch(ctx)
		close(done)
	}()

	h.RequestKill()

	select {
	case code := <-exited:
		require.Equal(t, KillExitCode, code)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire on kill request")
	}
	<-done
}

func TestWatch_ReturnsOnContextCancel(t *testing.T) {
	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Watch(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not return on context cancel")
	}
}
