package diffsafety

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCELExpr_FindsExpression(t *testing.T) {
	expr, ok := ExtractCELExpr("no large diffs cel=added_lines < 50")
	require.True(t, ok)
	require.Equal(t, "added_lines < 50", expr)
}

func TestExtractCELExpr_AbsentReturnsFalse(t *testing.T) {
	_, ok := ExtractCELExpr("no forbidden shell calls")
	require.False(t, ok)
}

func TestEvaluateCELClauses_PassingPredicate_NoViolation(t *testing.T) {
	ast := &DiffAST{Added: []Line{{Text: "x"}}, TouchedFiles: map[string]bool{"a.py": true}}
	clauses := map[string]string{"c1": "cel=added_lines < 50"}

	violations, err := EvaluateCELClauses(ast, clauses)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestEvaluateCELClauses_FailingPredicate_Violation(t *testing.T) {
	ast := &DiffAST{Added: make([]Line, 100), TouchedFiles: map[string]bool{}}
	clauses := map[string]string{"c1": "cel=added_lines < 50"}

	violations, err := EvaluateCELClauses(ast, clauses)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, "cel-clause", violations[0].Kind)
}

func TestEvaluateCELClauses_MalformedExpression_IsViolation(t *testing.T) {
	ast := &DiffAST{TouchedFiles: map[string]bool{}}
	clauses := map[string]string{"c1": "cel=this is not ) valid cel"}

	violations, err := EvaluateCELClauses(ast, clauses)
	require.NoError(t, err)
	require.Len(t, violations, 1)
}

func TestEvaluateCELClauses_NoClausesEmbedCEL_NoViolations(t *testing.T) {
	ast := &DiffAST{TouchedFiles: map[string]bool{}}
	clauses := map[string]string{"c1": "no forbidden shell calls"}

	violations, err := EvaluateCELClauses(ast, clauses)
	require.NoError(t, err)
	require.Empty(t, violations)
}
