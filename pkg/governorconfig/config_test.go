package governorconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Defaults(), s.Get())

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestLoad_InvalidFileResetsToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rho_max: 5.0\nenergy_multiplier: 2.0\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Defaults(), s.Get())
}

func TestUpdate_RejectsOutOfRangeRhoMax_NoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	before := s.Get()
	beforeBytes, _ := os.ReadFile(path)

	bad := 1.5
	_, err = s.Update(Updates{RhoMax: &bad})
	require.Error(t, err)

	require.Equal(t, before, s.Get())
	afterBytes, _ := os.ReadFile(path)
	require.Equal(t, beforeBytes, afterBytes)
}

func TestUpdate_PersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	rho := 0.75
	mult := 3.0
	got, err := s.Update(Updates{RhoMax: &rho, EnergyMultiplier: &mult})
	require.NoError(t, err)
	require.Equal(t, 0.75, got.RhoMax)
	require.Equal(t, 3.0, got.EnergyMultiplier)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.75, reloaded.Get().RhoMax)
	require.Equal(t, 3.0, reloaded.Get().EnergyMultiplier)
}

func TestApply_NoFieldsChangedOnFailure(t *testing.T) {
	base := Defaults()
	good := 0.5
	bad := -1.0
	got, err := Apply(base, Updates{RhoMax: &good, EnergyMultiplier: &bad})
	require.Error(t, err)
	require.Equal(t, base, got)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "energy_multiplier", fe.Field)
}
