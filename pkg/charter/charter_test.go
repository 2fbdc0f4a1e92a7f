package charter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCharter(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "charter.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Basic(t *testing.T) {
	path := writeCharter(t, "# comment\n@clause no-eval never call eval on untrusted input\n@clause no-shell block shell invocation\n")
	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Clauses(), 2)
	require.Equal(t, "never call eval on untrusted input", c.Clauses()["no-eval"])
	require.NotEmpty(t, c.ContentHash())
}

func TestLoad_HashStableAcrossFileOrder(t *testing.T) {
	p1 := writeCharter(t, "@clause a forbidden pattern one\n@clause b forbidden pattern two\n")
	p2 := writeCharter(t, "@clause b forbidden pattern two\n@clause a forbidden pattern one\n")

	c1, err := Load(p1)
	require.NoError(t, err)
	c2, err := Load(p2)
	require.NoError(t, err)

	require.Equal(t, c1.ContentHash(), c2.ContentHash())
}

func TestLoad_DistinctContentDistinctHash(t *testing.T) {
	p1 := writeCharter(t, "@clause a forbidden pattern one\n")
	p2 := writeCharter(t, "@clause a forbidden pattern TWO\n")

	c1, err := Load(p1)
	require.NoError(t, err)
	c2, err := Load(p2)
	require.NoError(t, err)

	require.NotEqual(t, c1.ContentHash(), c2.ContentHash())
}

func TestLoad_DuplicateClauseIDRejected(t *testing.T) {
	path := writeCharter(t, "@clause a first\n@clause a second\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestLoad_EmptyFileFails(t *testing.T) {
	path := writeCharter(t, "# nothing but comments\n\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestExtractMeta(t *testing.T) {
	cat, ver := extractMeta("forbidden dangerous action category=network policy_version=1.2.3")
	require.Equal(t, "network", cat)
	require.NotNil(t, ver)
	require.Equal(t, "1.2.3", ver.String())
}
