// Package diffsafety parses a unified diff into a structured AST and
// builds the SMT safety obligation for forbidden-API and
// signature-preservation invariants (C6). Grounded on the teacher's
// pkg/buildguard/verify.go (pattern scanning, Scan/Gate/Verify shape) and
// pkg/compliance/compiler/compiler.go (regex token extraction, dedup
// while preserving order, clause-keyword merge).
package diffsafety

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LineKind distinguishes added, removed, and context lines.
type LineKind int

const (
	Context LineKind = iota
	Added
	Removed
)

// Line is one diff line with its file and (possibly absent) old/new line
// numbers — the absent one is nil per §3.
type Line struct {
	File    string
	Kind    LineKind
	Text    string
	OldLine *int
	NewLine *int
}

// FunctionSignature is a function's name, ordered argument names, and an
// optional return annotation. Two signatures are equal iff the argument
// sequence and return text match (name is intentionally excluded — that
// is what makes rename detection possible).
type FunctionSignature struct {
	Name   string
	Args   []string
	Return string
}

func (s FunctionSignature) argsReturnKey() string {
	return strings.Join(s.Args, ",") + "|" + s.Return
}

// DiffAST is the parsed representation of one unified diff.
type DiffAST struct {
	Added        []Line
	Removed      []Line
	TouchedFiles map[string]bool
	Renames      map[string]string // old function name -> new function name
	Signatures   map[string]FunctionSignature

	// RenameToSelf flags same-name-different-signature violations: the
	// function kept its name but its argument sequence or return
	// annotation changed.
	RenameToSelf map[string]bool
}

var (
	gitHeaderRe = regexp.MustCompile(`^diff --git a/\S+ b/(\S+)`)
	plusPathRe  = regexp.MustCompile(`^\+\+\+ b/(\S+)`)
	hunkRe      = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)
	funcDefRe   = regexp.MustCompile(`^([+-]?)\s*def\s+(\w+)\s*\(([^)]*)\)\s*(?:->\s*([^\s:]+))?`)
)

// ParseDiff parses text into a DiffAST.
func ParseDiff(text string) (*DiffAST, error) {
	ast := &DiffAST{
		TouchedFiles: map[string]bool{},
		Renames:      map[string]string{},
		Signatures:   map[string]FunctionSignature{},
		RenameToSelf: map[string]bool{},
	}

	var currentFile string
	var oldCursor, newCursor int
	inHunk := false

	var addedDefs, removedDefs []defOccurrence

	lines := strings.Split(text, "\n")
	for _, raw := range lines {
		if m := gitHeaderRe.FindStringSubmatch(raw); m != nil {
			currentFile = m[1]
			ast.TouchedFiles[currentFile] = true
			inHunk = false
			continue
		}
		if m := plusPathRe.FindStringSubmatch(raw); m != nil {
			currentFile = m[1]
			ast.TouchedFiles[currentFile] = true
			continue
		}
		if m := hunkRe.FindStringSubmatch(raw); m != nil {
			o, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("diffsafety: bad hunk old line %q: %w", m[1], err)
			}
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, fmt.Errorf("diffsafety: bad hunk new line %q: %w", m[2], err)
			}
			oldCursor, newCursor = o, n
			inHunk = true
			continue
		}
		if !inHunk || raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "+++") || strings.HasPrefix(raw, "---") {
			continue
		}

		switch raw[0] {
		case '+':
			nl := newCursor
			ln := Line{File: currentFile, Kind: Added, Text: raw[1:], NewLine: &nl}
			ast.Added = append(ast.Added, ln)
			newCursor++
			if sig, ok := matchFuncDef(raw); ok {
				addedDefs = append(addedDefs, defOccurrence{file: currentFile, sig: sig})
			}
		case '-':
			ol := oldCursor
			ln := Line{File: currentFile, Kind: Removed, Text: raw[1:], OldLine: &ol}
			ast.Removed = append(ast.Removed, ln)
			oldCursor++
			if sig, ok := matchFuncDef(raw); ok {
				removedDefs = append(removedDefs, defOccurrence{file: currentFile, sig: sig})
			}
		default:
			oldCursor++
			newCursor++
		}
	}

	matchRenames(ast, addedDefs, removedDefs)

	for _, d := range addedDefs {
		key := d.file + ":" + d.sig.Name
		ast.Signatures[key] = d.sig
	}

	return ast, nil
}

// defOccurrence is one function-definition line observed in a diff, tied
// to the file it was found in.
type defOccurrence struct {
	file string
	sig  FunctionSignature
}

func matchFuncDef(rawLine string) (FunctionSignature, bool) {
	m := funcDefRe.FindStringSubmatch(rawLine)
	if m == nil {
		return FunctionSignature{}, false
	}
	name := m[2]
	argsText := strings.TrimSpace(m[3])
	var args []string
	if argsText != "" {
		for _, a := range strings.Split(argsText, ",") {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			// Strip default values and type annotations: "x: int = 0" -> "x"
			if idx := strings.IndexAny(a, ":="); idx >= 0 {
				a = strings.TrimSpace(a[:idx])
			}
			args = append(args, a)
		}
	}
	return FunctionSignature{Name: name, Args: args, Return: strings.TrimSpace(m[4])}, true
}

// matchRenames pairs removed-side functions with added-side functions of
// identical (args, return) but a different name, first-match/no-reuse
// greedy: each new-side function is matched at most once. Same-name
// functions whose signature changed are flagged as rename-to-self
// violations instead.
func matchRenames(ast *DiffAST, addedDefs, removedDefs []defOccurrence) {
	used := make([]bool, len(addedDefs))

	for _, rem := range removedDefs {
		// Same name, different signature: rename-to-self violation.
		for _, add := range addedDefs {
			if add.file == rem.file && add.sig.Name == rem.sig.Name {
				if add.sig.argsReturnKey() != rem.sig.argsReturnKey() {
					ast.RenameToSelf[rem.file+":"+rem.sig.Name] = true
				}
			}
		}

		for i, add := range addedDefs {
			if used[i] {
				continue
			}
			if add.file != rem.file {
				continue
			}
			if add.sig.Name == rem.sig.Name {
				continue
			}
			if add.sig.argsReturnKey() == rem.sig.argsReturnKey() {
				ast.Renames[rem.sig.Name] = add.sig.Name
				used[i] = true
				break
			}
		}
	}
}
