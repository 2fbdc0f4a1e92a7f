package diffsafety

import (
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
)

// celMarker introduces a charter clause's CEL predicate: everything after
// it, to the end of the clause text, is the expression. Unlike the
// single-token policy_version/category fields, a CEL expression may
// contain spaces, so it is not extracted via strings.Fields.
const celMarker = "cel="

// ExtractCELExpr returns the CEL predicate embedded in a clause's text,
// if any. Charter clauses that express a non-SMT-representable
// constraint (one that doesn't reduce to a regexp or a rename check)
// embed one of these instead of relying on the forbidden-pattern scan.
func ExtractCELExpr(text string) (string, bool) {
	idx := strings.Index(text, celMarker)
	if idx < 0 {
		return "", false
	}
	expr := strings.TrimSpace(text[idx+len(celMarker):])
	if expr == "" {
		return "", false
	}
	return expr, true
}

func newDiffCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("added_lines", cel.IntType),
		cel.Variable("removed_lines", cel.IntType),
		cel.Variable("touched_files", cel.IntType),
	)
}

// EvaluateCELClauses runs every charter clause's embedded CEL predicate
// (if any) against counts derived from ast. A predicate is expected to
// evaluate to a bool; false, a non-bool result, or any compile/runtime
// error all count as a violation — fail-closed, matching the
// forbidden-pattern scan's own stance that an unparseable input is never
// silently treated as safe.
func EvaluateCELClauses(ast *DiffAST, clauses map[string]string) ([]Violation, error) {
	ids := make([]string, 0, len(clauses))
	for id := range clauses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var env *cel.Env
	var out []Violation

	input := map[string]any{
		"added_lines":   int64(len(ast.Added)),
		"removed_lines": int64(len(ast.Removed)),
		"touched_files": int64(len(ast.TouchedFiles)),
	}

	for _, id := range ids {
		expr, ok := ExtractCELExpr(clauses[id])
		if !ok {
			continue
		}
		if env == nil {
			var err error
			env, err = newDiffCELEnv()
			if err != nil {
				return nil, err
			}
		}

		parsed, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			out = append(out, Violation{Kind: "cel-clause", File: id, Pattern: expr})
			continue
		}
		prg, err := env.Program(parsed)
		if err != nil {
			out = append(out, Violation{Kind: "cel-clause", File: id, Pattern: expr})
			continue
		}
		val, _, err := prg.Eval(input)
		if err != nil {
			out = append(out, Violation{Kind: "cel-clause", File: id, Pattern: expr})
			continue
		}
		if b, ok := val.Value().(bool); !ok || !b {
			out = append(out, Violation{Kind: "cel-clause", File: id, Pattern: expr})
		}
	}

	return out, nil
}
