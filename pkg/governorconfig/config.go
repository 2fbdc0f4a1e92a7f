// Package governorconfig implements the typed, validated, hot-reloadable
// Config Store (C3). Grounded on the teacher's pkg/config/profile_loader.go
// (YAML load, error-wrapping idiom) and the atomic temp-file-then-rename
// pattern from pkg/artifacts/store.go. The validator defined here is the
// single source of truth shared with the operator /config endpoint (C13),
// per §9 "Cross-component shared validators".
package governorconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mindburn-labs/governor-core/pkg/errs"
)

// Config holds the validated runtime parameters.
type Config struct {
	RhoMax           float64 `yaml:"rho_max" json:"rho_max"`
	EnergyMultiplier float64 `yaml:"energy_multiplier" json:"energy_multiplier"`

	// Supplemental fields mirroring the environment variables of §6, so
	// the same validated struct backs both the env-var bootstrap path and
	// the persisted/hot-reload path.
	DriftWindow        int     `yaml:"drift_window" json:"drift_window"`
	DriftMeanThreshold float64 `yaml:"drift_mean_threshold" json:"drift_mean_threshold"`
	DriftMaxThreshold  float64 `yaml:"drift_max_threshold" json:"drift_max_threshold"`
	EnergyGuardEnabled bool    `yaml:"energy_guard_enabled" json:"energy_guard_enabled"`
	CycleIntervalMs    int     `yaml:"cycle_interval_ms" json:"cycle_interval_ms"`
}

// Defaults returns the built-in default configuration.
func Defaults() Config {
	return Config{
		RhoMax:             0.9,
		EnergyMultiplier:   2.0,
		DriftWindow:        10,
		DriftMeanThreshold: 0.05,
		DriftMaxThreshold:  0.10,
		EnergyGuardEnabled: true,
		CycleIntervalMs:    1000,
	}
}

// Updates is a partial set of named field updates; nil pointers mean "leave
// unchanged". Apply checks each predicate independently so the
// operator endpoint and the internal updater never disagree.
type Updates struct {
	RhoMax             *float64
	EnergyMultiplier   *float64
	DriftWindow        *int
	DriftMeanThreshold *float64
	DriftMaxThreshold  *float64
	EnergyGuardEnabled *bool
	CycleIntervalMs    *int
}

// FieldError names the first failing field, for 422-style responses.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Apply validates u against the shared predicates and returns the
// candidate config with u applied on top of base. It does not mutate
// base. On any validation failure, returns the first FieldError
// encountered and the original base unchanged.
func Apply(base Config, u Updates) (Config, error) {
	next := base

	if u.RhoMax != nil {
		if *u.RhoMax <= 0 || *u.RhoMax >= 1 {
			return base, wrapField("rho_max", "must be in (0,1)")
		}
		next.RhoMax = *u.RhoMax
	}
	if u.EnergyMultiplier != nil {
		if *u.EnergyMultiplier < 1 || *u.EnergyMultiplier > 4 {
			return base, wrapField("energy_multiplier", "must be in [1,4]")
		}
		next.EnergyMultiplier = *u.EnergyMultiplier
	}
	if u.DriftWindow != nil {
		if *u.DriftWindow < 2 {
			return base, wrapField("drift_window", "must be >= 2")
		}
		next.DriftWindow = *u.DriftWindow
	}
	if u.DriftMeanThreshold != nil {
		if *u.DriftMeanThreshold <= 0 {
			return base, wrapField("drift_mean_threshold", "must be > 0")
		}
		next.DriftMeanThreshold = *u.DriftMeanThreshold
	}
	if u.DriftMaxThreshold != nil {
		if *u.DriftMaxThreshold <= 0 {
			return base, wrapField("drift_max_threshold", "must be > 0")
		}
		next.DriftMaxThreshold = *u.DriftMaxThreshold
	}
	if u.EnergyGuardEnabled != nil {
		next.EnergyGuardEnabled = *u.EnergyGuardEnabled
	}
	if u.CycleIntervalMs != nil {
		if *u.CycleIntervalMs <= 0 {
			return base, wrapField("cycle_interval_ms", "must be > 0")
		}
		next.CycleIntervalMs = *u.CycleIntervalMs
	}

	return next, nil
}

func wrapField(field, msg string) error {
	return fmt.Errorf("%w: %w", errs.ErrValidation, &FieldError{Field: field, Msg: msg})
}

// Store is the process-lifetime config holder: a read-mostly snapshot
// guarded by a mutex, persisted atomically on every successful update.
type Store struct {
	mu   sync.Mutex
	path string
	cur  Config
}

// Load reads path; on missing file, parse failure, or validation failure
// it resets to defaults and persists the defaults — matching §4.3's
// load() contract. A warning is printed to stderr for every case except
// a missing file.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "governorconfig: read %q: %v; resetting to defaults\n", path, err)
		}
		return s.resetToDefaults()
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Fprintf(os.Stderr, "governorconfig: parse %q: %v; resetting to defaults\n", path, err)
		return s.resetToDefaults()
	}

	if _, valErr := Apply(Defaults(), Updates{
		RhoMax: &c.RhoMax, EnergyMultiplier: &c.EnergyMultiplier,
	}); valErr != nil {
		fmt.Fprintf(os.Stderr, "governorconfig: invalid %q: %v; resetting to defaults\n", path, valErr)
		return s.resetToDefaults()
	}

	s.cur = fillZeroesWithDefaults(c)
	return s, nil
}

// fillZeroesWithDefaults backstops fields absent from an older config file
// written before the §6 supplemental fields existed.
func fillZeroesWithDefaults(c Config) Config {
	d := Defaults()
	if c.DriftWindow == 0 {
		c.DriftWindow = d.DriftWindow
	}
	if c.DriftMeanThreshold == 0 {
		c.DriftMeanThreshold = d.DriftMeanThreshold
	}
	if c.DriftMaxThreshold == 0 {
		c.DriftMaxThreshold = d.DriftMaxThreshold
	}
	if c.CycleIntervalMs == 0 {
		c.CycleIntervalMs = d.CycleIntervalMs
	}
	return c
}

func (s *Store) resetToDefaults() (*Store, error) {
	s.cur = Defaults()
	if err := s.persist(s.cur); err != nil {
		return nil, fmt.Errorf("governorconfig: persist defaults: %w", err)
	}
	return s, nil
}

// Get returns a snapshot. Never blocks on I/O.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update validates u, and on success atomically persists and returns the
// new snapshot. On any failure, no field changes and the persisted file
// is untouched.
func (s *Store) Update(u Updates) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Apply(s.cur, u)
	if err != nil {
		return s.cur, err
	}
	if err := s.persist(next); err != nil {
		return s.cur, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	s.cur = next
	return s.cur, nil
}

// persist writes cfg to a temp file in the same directory as s.path, then
// renames over it — the rename is atomic on the same filesystem, so a
// crash mid-write never leaves a truncated config on disk.
func (s *Store) persist(cfg Config) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".governorconfig-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
