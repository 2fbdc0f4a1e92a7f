// Package energy implements the scoped energy-budget guard (C10): a
// check-then-consume resource acquisition adapted from the teacher's
// pkg/budget/enforcer.go (fail-closed Check/consume over a Storage
// interface), here measuring a joule delta across a compute block
// instead of a monetary cost against a tenant ledger.
package energy

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mindburn-labs/governor-core/pkg/errs"
)

// DefaultJPerMAC is the calibrated baseline joules-per-operation used
// when a caller does not supply its own.
const DefaultJPerMAC = 1e-9

// DefaultBaselineJPerSec is the fallback linear estimator's calibrated
// baseline, used only when no platform sensor is available.
const DefaultBaselineJPerSec = 5.0

// FallbackFraction is the fraction of the calibrated baseline the
// fallback estimator reports, per §4.10 bullet 2.
const FallbackFraction = 0.5

// ApoptosisExitCode is the distinguished process exit code on breach.
const ApoptosisExitCode = 137

// DisableEnvVar, when set to a non-empty value, makes every scope
// yield unconditionally with no sampling.
const DisableEnvVar = "GOVERNOR_ENERGY_GUARD_DISABLE"

// Sensor reads a monotonically increasing microjoule counter. ok is
// false when the sensor is unavailable, triggering the fallback.
type Sensor interface {
	ReadMicrojoules() (value uint64, ok bool)
}

// RAPLSensor reads a platform energy counter file (e.g. an
// intel-rapl-style sysfs node) expressing microjoules as decimal text.
type RAPLSensor struct {
	Path string
}

// ReadMicrojoules implements Sensor by reading and parsing Path.
func (s *RAPLSensor) ReadMicrojoules() (uint64, bool) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, false
	}
	var v uint64
	if _, err := fmt.Sscanf(string(data), "%d", &v); err != nil {
		return 0, false
	}
	return v, true
}

// readSafe nil-checks the sensor before dispatch, since a Guard built
// without a platform sensor carries a nil Sensor.
func readSafe(s Sensor) (uint64, bool) {
	if s == nil {
		return 0, false
	}
	return s.ReadMicrojoules()
}

// fallbackClock implements the linear time-based estimate used when
// no platform sensor is available: §4.10 bullet 2, 50% of a calibrated
// baseline J/s.
type fallbackClock struct {
	baselineJPerSec float64
}

func (f fallbackClock) microjoulesOverWindow(d time.Duration) uint64 {
	joules := f.baselineJPerSec * FallbackFraction * d.Seconds()
	return uint64(joules * 1e6)
}

// Scope is an open energy-measurement window returned by Start.
type Scope struct {
	startMicro uint64
	startWall  time.Time
	usedSensor bool
}

// Guard enforces an energy budget across scoped compute blocks. The
// energy used by a window is the sensor reading at End minus the reading
// at Start (or the fallback estimate over the window's wall-clock time),
// so the first window is measured like every later one.
type Guard struct {
	mu       sync.Mutex
	sensor   Sensor
	fallback fallbackClock
	disabled bool
	logger   *slog.Logger
	exit     func(code int)

	established bool
	lastMicro   uint64
}

// New builds a Guard. sensor may be nil, in which case every window
// uses the linear fallback estimator. logger defaults to slog.Default
// when nil.
func New(sensor Sensor, baselineJPerSec float64, logger *slog.Logger) *Guard {
	if baselineJPerSec <= 0 {
		baselineJPerSec = DefaultBaselineJPerSec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		sensor:   sensor,
		fallback: fallbackClock{baselineJPerSec: baselineJPerSec},
		logger:   logger,
		exit:     os.Exit,
	}
}

// Disabled builds a Guard whose scopes always yield unconditionally,
// per the DisableEnvVar contract.
func Disabled(logger *slog.Logger) *Guard {
	g := New(nil, DefaultBaselineJPerSec, logger)
	g.disabled = true
	return g
}

// FromEnv builds a Guard honoring DisableEnvVar.
func FromEnv(sensor Sensor, baselineJPerSec float64, logger *slog.Logger) *Guard {
	if os.Getenv(DisableEnvVar) != "" {
		return Disabled(logger)
	}
	return New(sensor, baselineJPerSec, logger)
}

// Start opens a measurement window. When the guard is disabled, Start
// still returns a valid Scope but End will always succeed without
// sampling.
func (g *Guard) Start() *Scope {
	if g.disabled {
		return &Scope{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if micro, ok := readSafe(g.sensor); ok {
		if !g.established {
			g.established = true
			g.lastMicro = micro
		}
		return &Scope{startMicro: micro, startWall: time.Now(), usedSensor: true}
	}

	return &Scope{startWall: time.Now(), usedSensor: false}
}

// End closes the window opened by Start and enforces the budget:
// used <= jPerMAC * estimatedOps * multiplier. On breach it logs a
// structured apoptosis message and terminates the process via the
// configured exit function (os.Exit by default; tests may override
// Guard.exit). Returns errs.ErrEnergyApoptosis in all cases so a test
// exit function that does not itself halt can still observe the
// verdict.
func (g *Guard) End(scope *Scope, jPerMAC, estimatedOps, multiplier float64) error {
	if g.disabled || scope == nil {
		return nil
	}
	if jPerMAC <= 0 {
		jPerMAC = DefaultJPerMAC
	}

	var usedMicro uint64
	if scope.usedSensor {
		if micro, ok := readSafe(g.sensor); ok {
			usedMicro = micro - scope.startMicro
		} else {
			usedMicro = g.fallback.microjoulesOverWindow(time.Since(scope.startWall))
		}
	} else {
		usedMicro = g.fallback.microjoulesOverWindow(time.Since(scope.startWall))
	}

	usedJoules := float64(usedMicro) / 1e6
	budget := jPerMAC * estimatedOps * multiplier

	if usedJoules <= budget {
		return nil
	}

	g.logger.Error("Energy apoptosis triggered",
		"used_joules", usedJoules,
		"budget_joules", budget,
		"estimated_ops", estimatedOps,
		"multiplier", multiplier,
	)
	g.exit(ApoptosisExitCode)
	return errs.ErrEnergyApoptosis
}
