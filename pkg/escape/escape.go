// Package escape implements the process-wide pause/kill flags and the
// watchdog that enforces them (C11). Signal handling is grounded on
// cmd/helm/main.go's shutdown-signal channel; the atomic flag shape is
// new, since no prior pack example exposes a pause/kill control surface.
package escape

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Hatches holds the process-global pause/kill flags and the channel the
// watchdog drains kill requests from.
type Hatches struct {
	paused   atomic.Bool
	killed   atomic.Bool
	requests chan struct{}
	exit     func(code int)
	logger   *slog.Logger
}

// KillExitCode is the watchdog's process exit code on a drained kill
// request.
const KillExitCode = 130

// New builds a Hatches with a one-slot buffered request channel; a wake-up
// sent while the slot is full is dropped.
func New(logger *slog.Logger) *Hatches {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hatches{
		requests: make(chan struct{}, 1),
		exit:     os.Exit,
		logger:   logger,
	}
}

// RequestPause sets or clears the pause flag.
func (h *Hatches) RequestPause(pause bool) {
	h.paused.Store(pause)
}

// IsPaused is read by the governor at loop boundaries.
func (h *Hatches) IsPaused() bool {
	return h.paused.Load()
}

// RequestKill sets the kill flag and wakes the watchdog. Safe to call
// more than once; only the first call enqueues a wake-up.
func (h *Hatches) RequestKill() {
	if h.killed.CompareAndSwap(false, true) {
		select {
		case h.requests <- struct{}{}:
		default:
		}
	}
}

// KillRequested reports whether RequestKill (or a terminating signal)
// has fired.
func (h *Hatches) KillRequested() bool {
	return h.killed.Load()
}

// Watch runs the watchdog loop until ctx is canceled or a kill request
// is drained, in which case it terminates the process via the
// configured exit function (os.Exit by default). The current cycle is
// expected to have already observed KillRequested and drained before
// the watchdog fires; callers typically run Watch in its own goroutine.
func (h *Hatches) Watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-h.requests:
		h.logger.Warn("kill requested, terminating process")
		h.exit(KillExitCode)
	}
}

// HandleSignals registers SIGINT/SIGTERM handlers that set the kill
// flag and let the current cycle drain rather than terminating
// immediately; the watchdog (Watch) performs the actual exit.
func (h *Hatches) HandleSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		case sig := <-sigCh:
			h.logger.Info("received signal, requesting kill", "signal", sig.String())
			h.RequestKill()
		}
	}()
}
