// Package governor composes C1-C11 into the single transactional cycle
// described by §4.12 (C12): an ordered, non-commutative pipeline — proof
// gate, then spectral estimate, then drift check, then energy guard —
// that either commits or aborts as a unit, emitting one event per
// decisive step. Grounded on the teacher's pkg/kernel state-machine
// idiom (named states, a single RunCycle-shaped entry point) and
// pkg/observability for gauge publication.
package governor

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/mindburn-labs/governor-core/pkg/charter"
	"github.com/mindburn-labs/governor-core/pkg/diffsafety"
	"github.com/mindburn-labs/governor-core/pkg/drift"
	"github.com/mindburn-labs/governor-core/pkg/energy"
	"github.com/mindburn-labs/governor-core/pkg/errs"
	"github.com/mindburn-labs/governor-core/pkg/escape"
	"github.com/mindburn-labs/governor-core/pkg/eventlog"
	"github.com/mindburn-labs/governor-core/pkg/governorconfig"
	"github.com/mindburn-labs/governor-core/pkg/proofcache"
	"github.com/mindburn-labs/governor-core/pkg/smt"
	"github.com/mindburn-labs/governor-core/pkg/spectral"
)

// State names the cycle's position in its state machine, per §4.12.
type State string

const (
	Idle                   State = "Idle"
	Proving                State = "Proving"
	EstimatingRhoDetecting State = "EstimatingρDetecting"
	Committing             State = "Committing"
	Aborted                State = "Aborted"
)

// Event identifiers emitted by the core, per §6.
const (
	EventProofFail      = "proof-fail"
	EventSpectralBreach = "spectral-breach"
	EventDriftAlert     = "drift-alert"
	EventCycleComplete  = "cycle-complete"
	EventConfigUpdate   = "config-update"
	EventModelReload    = "model-reload"
)

// Diff is the proposed self-modification a cycle verifies: unified-diff
// text plus the plan's declared estimated operation count, which feeds
// the Energy Guard's M parameter.
type Diff struct {
	Text         string
	EstimatedOps float64
}

// Governor wires C1-C11 together. Construct via New; all fields are
// supplied by the caller (pkg/runtime) so this package stays free of
// process bootstrap concerns.
type Governor struct {
	Charter  *charter.Charter
	Config   *governorconfig.Store
	EventLog *eventlog.EventLog
	Cache    *proofcache.Cache
	Drift    *drift.Monitor
	Energy   *energy.Guard
	Hatches  *escape.Hatches
	Model    spectral.ModelHandle
	Logger   *slog.Logger

	metrics  *metrics
	patterns *diffsafety.PatternSet
}

// New builds a Governor. meter may be nil (metrics become no-ops).
func New(
	ch *charter.Charter,
	cfg *governorconfig.Store,
	log *eventlog.EventLog,
	cache *proofcache.Cache,
	driftMon *drift.Monitor,
	energyGuard *energy.Guard,
	hatches *escape.Hatches,
	model spectral.ModelHandle,
	logger *slog.Logger,
	meter metric.Meter,
) (*Governor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("governor: metrics setup: %w", err)
	}
	return &Governor{
		Charter:  ch,
		Config:   cfg,
		EventLog: log,
		Cache:    cache,
		Drift:    driftMon,
		Energy:   energyGuard,
		Hatches:  hatches,
		Model:    model,
		Logger:   logger,
		metrics:  m,
		patterns: diffsafety.BuildPatternSet(ch.Clauses()),
	}, nil
}

// RunCycle executes exactly one cycle as an ordered transaction per
// §4.12. It returns (true, nil) on commit, (false, nil) on a clean
// abort recorded via an event, and (false, err) for infrastructure
// failures: diff parse, CEL environment setup, spectral estimation, the
// cycle-complete event-log append, and an energy breach when the
// configured exit function returns.
func (g *Governor) RunCycle(ctx context.Context, d Diff) (bool, error) {
	cfg := g.Config.Get()

	// Step 1: publish spectral threshold gauge.
	g.metrics.publishRhoMax(ctx, cfg.RhoMax)

	// Step 2: obtain the current SMT obligation for the proposed diff.
	ast, err := diffsafety.ParseDiff(d.Text)
	if err != nil {
		return false, fmt.Errorf("governor: parse diff: %w", err)
	}
	celViolations, err := diffsafety.EvaluateCELClauses(ast, g.Charter.Clauses())
	if err != nil {
		return false, fmt.Errorf("governor: cel clause evaluation: %w", err)
	}
	obligation := diffsafety.BuildObligationAll(ast, g.patterns, celViolations)

	// Step 3: verify obligation against charter hash.
	verdict, err := smt.Verify(ctx, obligation, g.Charter.ContentHash(), g.Cache)
	if err != nil || !verdict.Passed {
		return g.abort(ctx, EventProofFail, map[string]any{
			"counterexample": verdict.Counterexample,
			"error":          errString(err),
		})
	}

	// Step 4: estimate rho at a fresh random point; publish rho gauge.
	rho, err := g.Model.EstimateSpectralRadius(spectral.DefaultConfig().MaxIter, spectral.DefaultConfig().Tolerance, false)
	if err != nil {
		return false, fmt.Errorf("governor: spectral estimate: %w", err)
	}
	g.metrics.publishRho(ctx, rho)

	// Step 5: record(rho) on the Drift Monitor.
	alert, driftErr := g.Drift.Record(rho)
	if driftErr != nil {
		return g.abort(ctx, EventDriftAlert, map[string]any{
			"rho":        rho,
			"mean_drift": alert.MeanDrift,
			"max_drift":  alert.MaxDrift,
		})
	}

	// Step 6: hard spectral limit.
	if rho >= cfg.RhoMax {
		return g.abort(ctx, EventSpectralBreach, map[string]any{"rho": rho, "rho_max": cfg.RhoMax})
	}

	// Step 7: Energy Guard scope; breach terminates the process.
	if cfg.EnergyGuardEnabled {
		scope := g.Energy.Start()
		if err := g.Energy.End(scope, energy.DefaultJPerMAC, d.EstimatedOps, cfg.EnergyMultiplier); err != nil {
			// Energy.End already invoked the configured exit function;
			// this return path exists for injected-exit tests only.
			return false, err
		}
	}

	// Step 8: record cycle-complete.
	prefix := g.Charter.ContentHash()
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	if _, err := g.EventLog.Append(EventCycleComplete, map[string]any{"rho": rho, "charter_hash_prefix": prefix}); err != nil {
		return false, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	// Step 9: paused masks commit without rolling back observable events.
	if g.Hatches != nil && g.Hatches.IsPaused() {
		return false, nil
	}
	return true, nil
}

// abort records the given event and returns (false, nil): a clean,
// transactional abort with no state mutation beyond the event record.
func (g *Governor) abort(ctx context.Context, event string, payload map[string]any) (bool, error) {
	if _, err := g.EventLog.Append(event, payload); err != nil {
		g.Logger.Error("failed to record abort event", "event", event, "error", err)
	}
	return false, nil
}

// ReloadModel swaps the governor's model handle and records a
// model-reload event. Callers must not call RunCycle concurrently with
// ReloadModel; pkg/runtime serializes the two per §9 "Hot reload races".
func (g *Governor) ReloadModel(ctx context.Context, params []float64) error {
	if err := g.Model.ReplaceParams(params); err != nil {
		return fmt.Errorf("governor: reload model: %w", err)
	}
	_, err := g.EventLog.Append(EventModelReload, map[string]any{"param_count": len(params)})
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
