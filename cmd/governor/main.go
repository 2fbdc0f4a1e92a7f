package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mindburn-labs/governor-core/pkg/governor"
	"github.com/mindburn-labs/governor-core/pkg/runtime"
)

const defaultShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entry point for testing: dispatches to the governor's
// subcommands without touching process-global state directly.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stdout, stderr)
	}

	switch args[1] {
	case "serve", "":
		return runServe(stdout, stderr)
	case "cycle":
		return runCycle(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "governor <command>")
	fmt.Fprintln(w, "  serve  run the cycle loop and operator HTTP surface (default)")
	fmt.Fprintln(w, "  cycle  run exactly one cycle against an empty diff and exit")
}

// runServe boots a Runtime, starts the operator HTTP surface, and drives
// the cycle loop until a kill request or signal. Exit code 0 on a clean
// shutdown; the process exits directly (bypassing this function) on an
// energy-apoptosis breach, per §6, and with code 130 when the escape
// watchdog sees a kill request or signal.
func runServe(stdout, stderr io.Writer) int {
	logger := slog.Default()

	rt, err := runtime.New(logger, nil)
	if err != nil {
		fmt.Fprintf(stderr, "governor: bootstrap failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	addr := os.Getenv("GOVERNOR_OPERATOR_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: rt.Operator.Handler()}
	go func() {
		fmt.Fprintf(stdout, "governor: operator surface listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("governor: operator server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt.RunLoop(ctx, func() governor.Diff { return governor.Diff{} })

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	fmt.Fprintln(stdout, "governor: shut down")
	return 0
}

// runCycle runs exactly one cycle against an empty diff and reports the
// outcome via the process exit code, per §6's single-cycle mode: 0 on
// commit, 1 on a clean abort.
func runCycle(stdout, stderr io.Writer) int {
	logger := slog.Default()

	rt, err := runtime.New(logger, nil)
	if err != nil {
		fmt.Fprintf(stderr, "governor: bootstrap failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	ok, err := rt.Governor.RunCycle(context.Background(), governor.Diff{})
	if err != nil {
		fmt.Fprintf(stderr, "governor: cycle error: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stdout, "governor: cycle aborted")
		return 1
	}
	fmt.Fprintln(stdout, "governor: cycle committed")
	return 0
}
