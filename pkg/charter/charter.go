// Package charter loads the immutable policy clause set at process start
// and exposes its content hash, used to salt every proof-cache key so a
// policy change invalidates all prior verdicts.
//
// Grounded on pkg/canonicalize (content hashing) and the teacher's
// load-once-at-boot idiom: a failed load is fatal, not recoverable.
package charter

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mindburn-labs/governor-core/pkg/canonicalize"

	"github.com/Masterminds/semver/v3"
)

// Clause is one entry of the charter: an opaque identifier, its
// human-readable text, and optional supplemental fields. These are
// absent from the base clause-marker line format and are populated only
// when a clause's text carries them (see extractMeta). They are exposed
// through Ordered; the forbidden-pattern merge does not read them.
type Clause struct {
	ID            string
	Text          string
	PolicyVersion *semver.Version
	Category      string
}

// Charter is the immutable, process-lifetime policy set.
type Charter struct {
	clauses map[string]string
	ordered []Clause
	hash    string
}

// clauseMarker begins a line that declares a clause: marker, id, then text.
const clauseMarker = "@clause"

// Load reads a structured text file: lines beginning with clauseMarker
// yield a clause id (next whitespace-separated token) and text (remainder
// of the line). All other lines are ignored (allows blank lines and
// comments). Failure is returned, not swallowed; callers are expected to
// treat it as fatal at boot, matching the teacher's cmd/*/main.go idiom.
func Load(path string) (*Charter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("charter: open %q: %w", path, err)
	}
	defer f.Close()

	clauses := make(map[string]string)
	var ordered []Clause

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, clauseMarker) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, clauseMarker))
		fields := strings.SplitN(rest, " ", 2)
		if len(fields) < 2 || fields[0] == "" {
			return nil, fmt.Errorf("charter: %q:%d: malformed clause line", path, lineNo)
		}
		id, text := fields[0], strings.TrimSpace(fields[1])
		if _, dup := clauses[id]; dup {
			return nil, fmt.Errorf("charter: %q:%d: duplicate clause id %q", path, lineNo, id)
		}
		c := Clause{ID: id, Text: text}
		c.Category, c.PolicyVersion = extractMeta(text)
		clauses[id] = text
		ordered = append(ordered, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("charter: scan %q: %w", path, err)
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("charter: %q: no clauses found", path)
	}

	hash, err := contentHash(ordered)
	if err != nil {
		return nil, fmt.Errorf("charter: hash: %w", err)
	}

	return &Charter{clauses: clauses, ordered: ordered, hash: hash}, nil
}

// extractMeta pulls an optional "policy_version=X.Y.Z" and
// "category=NAME" token out of clause text. Absent, malformed, or
// unparsable tokens are ignored rather than rejected — these are
// supplemental fields, not part of the base clause contract.
func extractMeta(text string) (category string, version *semver.Version) {
	for _, tok := range strings.Fields(text) {
		switch {
		case strings.HasPrefix(tok, "policy_version="):
			if v, err := semver.NewVersion(strings.TrimPrefix(tok, "policy_version=")); err == nil {
				version = v
			}
		case strings.HasPrefix(tok, "category="):
			category = strings.TrimPrefix(tok, "category=")
		}
	}
	return category, version
}

// contentHash computes a stable hash over the ordered clause set so that
// insertion order in the source file (already the file's own order) does
// not affect the hash beyond clause content itself.
func contentHash(ordered []Clause) (string, error) {
	sorted := make([]Clause, len(ordered))
	copy(sorted, ordered)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rep := make([]map[string]string, 0, len(sorted))
	for _, c := range sorted {
		rep = append(rep, map[string]string{"id": c.ID, "text": c.Text})
	}
	return canonicalize.CanonicalHash(rep)
}

// Clauses returns the id→text mapping. The returned map is a fresh copy;
// callers may not mutate the charter through it.
func (c *Charter) Clauses() map[string]string {
	out := make(map[string]string, len(c.clauses))
	for k, v := range c.clauses {
		out[k] = v
	}
	return out
}

// Ordered returns the clause list in source order, each with whatever
// supplemental metadata was present.
func (c *Charter) Ordered() []Clause {
	out := make([]Clause, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ContentHash returns the fixed-width hex digest of the clause set,
// computed once at load time.
func (c *Charter) ContentHash() string {
	return c.hash
}
