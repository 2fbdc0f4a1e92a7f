// Package runtime wires C1-C13 into a single process-lifetime aggregate
// (§9), reading the environment variables named in §6 and constructing
// the Governor, event log, config store, proof cache, and operator
// surface from them. Grounded on the teacher's cmd/helm/main.go
// bootstrap idiom: environment-driven construction, fatal on any
// misconfiguration, explicit shutdown ordering.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"

	"github.com/mindburn-labs/governor-core/pkg/charter"
	"github.com/mindburn-labs/governor-core/pkg/drift"
	"github.com/mindburn-labs/governor-core/pkg/energy"
	"github.com/mindburn-labs/governor-core/pkg/escape"
	"github.com/mindburn-labs/governor-core/pkg/eventlog"
	"github.com/mindburn-labs/governor-core/pkg/governor"
	"github.com/mindburn-labs/governor-core/pkg/governorconfig"
	"github.com/mindburn-labs/governor-core/pkg/operator"
	"github.com/mindburn-labs/governor-core/pkg/proofcache"
	"github.com/mindburn-labs/governor-core/pkg/spectral"
)

// Env names the environment variables §6 requires; unset optional ones
// fall back to governorconfig.Defaults().
const (
	EnvOperatorToken  = "OPERATOR_TOKEN"
	EnvCharterPath    = "RAFT_CONFIG_PATH"
	EnvDriftWindow    = "DRIFT_WINDOW"
	EnvDriftMean      = "DRIFT_MEAN_THRESHOLD"
	EnvDriftMax       = "DRIFT_MAX_THRESHOLD"
	EnvEnergyEnabled  = "ENERGY_GUARD_ENABLED"
	EnvConfigPath     = "GOVERNOR_CONFIG_PATH"
	EnvEventLogPath   = "GOVERNOR_EVENT_LOG_PATH"
	EnvModelPath      = "GOVERNOR_MODEL_PATH"
	EnvRedisAddr      = "GOVERNOR_REDIS_ADDR"
	EnvJWTSecret      = "OPERATOR_JWT_SECRET"
	EnvBaselineJPerS  = "GOVERNOR_ENERGY_BASELINE_JPS"
	defaultConfigPath = "data/config.yaml"
	defaultEventPath  = "data/events.jsonl"
)

// modelSpec is the YAML shape of the bootstrap analytic model, loaded
// from EnvModelPath when set. Absent a configured model, Runtime falls
// back to a small identity-scaled matrix so the process still boots in
// development.
type modelSpec struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	A    []float64 `yaml:"a"`
}

// Runtime is the fully wired process aggregate.
type Runtime struct {
	Config   *governorconfig.Store
	EventLog *eventlog.EventLog
	Cache    *proofcache.Cache
	Charter  *charter.Charter
	Governor *governor.Governor
	Hatches  *escape.Hatches
	Operator *operator.Server
	Logger   *slog.Logger
}

// Close releases Runtime's resources (the event log's file handle).
func (rt *Runtime) Close() error {
	return rt.EventLog.Close()
}

// New bootstraps a Runtime from the process environment. meter may be
// nil, in which case the Governor's gauges are no-ops.
func New(logger *slog.Logger, meter metric.Meter) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	charterPath := os.Getenv(EnvCharterPath)
	if charterPath == "" {
		return nil, fmt.Errorf("runtime: %s is required", EnvCharterPath)
	}
	ch, err := charter.Load(charterPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: load charter: %w", err)
	}

	configPath := envOr(EnvConfigPath, defaultConfigPath)
	cfgStore, err := governorconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: load config: %w", err)
	}
	if err := applyEnvOverrides(cfgStore); err != nil {
		return nil, fmt.Errorf("runtime: apply env overrides: %w", err)
	}

	evLog, err := eventlog.Open(envOr(EnvEventLogPath, defaultEventPath))
	if err != nil {
		return nil, fmt.Errorf("runtime: open event log: %w", err)
	}

	cache := buildCache(os.Getenv(EnvRedisAddr))

	cfg := cfgStore.Get()
	driftMon := drift.New(cfg.DriftWindow, cfg.DriftMeanThreshold, cfg.DriftMaxThreshold)

	baseline := energy.DefaultBaselineJPerSec
	if v := os.Getenv(EnvBaselineJPerS); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			baseline = f
		}
	}
	energyGuard := energy.FromEnv(&energy.RAPLSensor{}, baseline, logger)

	hatches := escape.New(logger)

	model, err := loadModel(os.Getenv(EnvModelPath))
	if err != nil {
		return nil, fmt.Errorf("runtime: load model: %w", err)
	}

	gov, err := governor.New(ch, cfgStore, evLog, cache, driftMon, energyGuard, hatches, model, logger, meter)
	if err != nil {
		return nil, fmt.Errorf("runtime: build governor: %w", err)
	}

	token := os.Getenv(EnvOperatorToken)
	if token == "" {
		return nil, fmt.Errorf("runtime: %s is required", EnvOperatorToken)
	}
	var jwtSecret []byte
	if s := os.Getenv(EnvJWTSecret); s != "" {
		jwtSecret = []byte(s)
	}

	opSrv, err := operator.New(operator.Config{
		Token:       token,
		JWTSecret:   jwtSecret,
		ConfigStore: cfgStore,
		Hatches:     hatches,
		Governor:    gov,
		Cache:       cache,
		EventLog:    evLog,
		CharterHash: ch.ContentHash(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: build operator: %w", err)
	}

	return &Runtime{
		Config:   cfgStore,
		EventLog: evLog,
		Cache:    cache,
		Charter:  ch,
		Governor: gov,
		Hatches:  hatches,
		Operator: opSrv,
		Logger:   logger,
	}, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func applyEnvOverrides(store *governorconfig.Store) error {
	u := governorconfig.Updates{}
	if v := os.Getenv(EnvDriftWindow); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDriftWindow, err)
		}
		u.DriftWindow = &n
	}
	if v := os.Getenv(EnvDriftMean); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDriftMean, err)
		}
		u.DriftMeanThreshold = &f
	}
	if v := os.Getenv(EnvDriftMax); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDriftMax, err)
		}
		u.DriftMaxThreshold = &f
	}
	if v := os.Getenv(EnvEnergyEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEnergyEnabled, err)
		}
		u.EnergyGuardEnabled = &b
	}
	if u == (governorconfig.Updates{}) {
		return nil
	}
	_, err := store.Update(u)
	return err
}

func buildCache(addr string) *proofcache.Cache {
	if addr == "" {
		return proofcache.Disabled()
	}
	return proofcache.New(addr, "", 0)
}

func loadModel(path string) (*spectral.AnalyticMatrix, error) {
	spec := modelSpec{Rows: 2, Cols: 2, A: []float64{0.4, 0.0, 0.0, 0.4}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse %q: %w", path, err)
		}
	}
	return spectral.NewAnalyticMatrix(spec.Rows, spec.Cols, spec.A)
}

// RunLoop drives repeated cycles at the configured interval until the
// kill flag is set or ctx is cancelled, per §4.12's suspension-point
// contract: the inter-cycle sleep is interruptible.
func (rt *Runtime) RunLoop(ctx context.Context, diffSource func() governor.Diff) {
	go rt.Hatches.HandleSignals(ctx)
	go rt.Hatches.Watch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if rt.Hatches.KillRequested() {
			return
		}

		cfg := rt.Config.Get()
		d := diffSource()
		if _, err := rt.Governor.RunCycle(ctx, d); err != nil {
			rt.Logger.Error("runtime: cycle error", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(cfg.CycleIntervalMs) * time.Millisecond):
		}
	}
}
