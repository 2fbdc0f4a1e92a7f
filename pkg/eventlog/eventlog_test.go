package eventlog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppend_ChainsHashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	r1, err := l.Append("cycle-complete", map[string]any{"rho": 0.5})
	require.NoError(t, err)
	require.Empty(t, r1.PrevHash)
	require.NotEmpty(t, r1.Hash)

	r2, err := l.Append("proof-fail", map[string]any{"reason": "sat"})
	require.NoError(t, err)
	require.Equal(t, r1.Hash, r2.PrevHash)
	require.NotEqual(t, r1.Hash, r2.Hash)
}

func TestAppend_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append("cycle-complete", map[string]any{})
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestOpen_RecoversChainTailAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l1, err := Open(path)
	require.NoError(t, err)
	r1, err := l1.Append("cycle-complete", map[string]any{})
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	r2, err := l2.Append("cycle-complete", map[string]any{})
	require.NoError(t, err)

	require.Equal(t, r1.Hash, r2.PrevHash)
}

func TestAppend_LineDelimitedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.WithClock(func() time.Time { return fixed })

	_, err = l.Append("cycle-complete", map[string]any{"rho": 0.5})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
		require.Contains(t, scanner.Text(), `"2026-01-02T03:04:05Z"`)
	}
	require.Equal(t, 1, lines)
}
