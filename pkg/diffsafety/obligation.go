package diffsafety

import (
	"regexp"
	"sort"
	"strings"
)

// builtinForbiddenPatterns cover dangerous runtime-introspection, shell
// invocation, dynamic evaluation, and wildcard imports, per §4.6.
var builtinForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(getattr|setattr|delattr)\s*\(`),
	regexp.MustCompile(`\b(subprocess\.\w+|os\.system|os\.popen)\s*\(`),
	regexp.MustCompile(`\b(eval|exec)\s*\(`),
	regexp.MustCompile(`^\s*from\s+\S+\s+import\s+\*`),
	regexp.MustCompile(`^\s*import\s+\*`),
}

// clauseKeywords are the informal markers used to decide whether a
// charter clause is policy-bearing for forbidden-pattern purposes, per
// §9's Open Questions note on this being a heuristic extraction.
var clauseKeywords = []string{"forbidden", "dangerous", "no ", "block"}

var backtickRe = regexp.MustCompile("`([^`]+)`")

// PatternSet is the deduplicated, ordered list of compiled forbidden
// patterns for a given (sorted) clause set, cached by the caller keyed on
// that sorted set per §4.6.
type PatternSet struct {
	patterns []*regexp.Regexp
}

// BuildPatternSet merges the built-in patterns with charter-derived
// patterns extracted from clauses whose text contains a clauseKeyword.
// Backticked tokens inside such clauses are escaped and word-bounded.
// Clauses are processed in sorted-by-id order so the resulting pattern
// set is deterministic and therefore cacheable by clause-set identity.
func BuildPatternSet(clauses map[string]string) *PatternSet {
	ids := make([]string, 0, len(clauses))
	for id := range clauses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var merged []*regexp.Regexp
	seen := map[string]bool{}
	addDedup := func(re *regexp.Regexp) {
		if seen[re.String()] {
			return
		}
		seen[re.String()] = true
		merged = append(merged, re)
	}

	for _, re := range builtinForbiddenPatterns {
		addDedup(re)
	}

	for _, id := range ids {
		text := clauses[id]
		lower := strings.ToLower(text)
		bearing := false
		for _, kw := range clauseKeywords {
			if strings.Contains(lower, kw) {
				bearing = true
				break
			}
		}
		if !bearing {
			continue
		}
		for _, m := range backtickRe.FindAllStringSubmatch(text, -1) {
			token := regexp.QuoteMeta(m[1])
			re, err := regexp.Compile(`\b` + token + `\b`)
			if err != nil {
				continue
			}
			addDedup(re)
		}
	}

	return &PatternSet{patterns: merged}
}

// Violation describes one cause of an unsafe diff.
type Violation struct {
	// Kind is "forbidden-pattern", "signature-change", or (from
	// EvaluateCELClauses) "cel-clause".
	Kind    string
	File    string
	Line    string
	Pattern string
	OldName string
	NewName string
}

// FindViolations scans ast.Added lines against patterns and reports every
// same-name function whose signature changed (ast.RenameToSelf). Entries
// in ast.Renames are not checked: a pair is only recorded there when its
// argument/return signature is unchanged.
func FindViolations(ast *DiffAST, patterns *PatternSet) []Violation {
	var out []Violation

	for _, ln := range ast.Added {
		for _, re := range patterns.patterns {
			if re.MatchString(ln.Text) {
				out = append(out, Violation{Kind: "forbidden-pattern", File: ln.File, Line: ln.Text, Pattern: re.String()})
			}
		}
	}

	// Rename-to-self: a function that kept its name but whose argument
	// sequence or return annotation changed is a violation (§4.6's
	// "same-name-different-signature" flag).
	keys := make([]string, 0, len(ast.RenameToSelf))
	for k := range ast.RenameToSelf {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 2)
		file, name := "", key
		if len(parts) == 2 {
			file, name = parts[0], parts[1]
		}
		out = append(out, Violation{Kind: "signature-change", File: file, OldName: name, NewName: name})
	}

	return out
}

// BuildObligation returns the SMT obligation text for ast, per §4.6's
// polarity convention: "(assert false)" (succeeds trivially — UNSAT) when
// no violation is found, "(assert true)" (SAT, i.e. a violation exists)
// otherwise.
func BuildObligation(ast *DiffAST, patterns *PatternSet) string {
	return BuildObligationAll(ast, patterns, nil)
}

// BuildObligationAll extends BuildObligation with violations found by an
// auxiliary check (the CEL clause evaluator) that the pattern scan alone
// cannot express. Same polarity convention as BuildObligation.
func BuildObligationAll(ast *DiffAST, patterns *PatternSet, extra []Violation) string {
	if len(FindViolations(ast, patterns)) == 0 && len(extra) == 0 {
		return "(assert false)"
	}
	return "(assert true)"
}
