package planprover

import (
	"context"
	"testing"

	"github.com/mindburn-labs/governor-core/pkg/planmodel"
	"github.com/mindburn-labs/governor-core/pkg/proofcache"
	"github.com/mindburn-labs/governor-core/pkg/smt"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, body string) *planmodel.Plan {
	t.Helper()
	p, err := planmodel.Parse([]byte(body))
	require.NoError(t, err)
	return p
}

func TestProve_SafePlan(t *testing.T) {
	plan := mustParse(t, `{"name":"p","steps":[
		{"op":"Fetch","url":"https://a.b"},
		{"op":"WriteFile","path":"artifacts/a.txt","content":"x"},
		{"op":"Run","target":"governor.one_cycle"}
	]}`)
	r := Prove(context.Background(), plan, "charter-hash", "key", proofcache.Disabled())
	require.True(t, r.Safe)
	require.Nil(t, r.Counterexample)
}

// TestProve_UnsafePlan_LocalizesOffendingStep drives the whole public
// path: planmodel.Parse accepts this plan (it is structurally
// well-formed), and Prove is the sole place that rejects the traversal
// path and localizes it to the offending step.
func TestProve_UnsafePlan_LocalizesOffendingStep(t *testing.T) {
	plan := mustParse(t, `{"name":"p","steps":[{"op":"WriteFile","path":"../../etc/passwd","content":"x"}]}`)
	r := Prove(context.Background(), plan, "charter-hash", "key", proofcache.Disabled())
	require.False(t, r.Safe)
	require.NotNil(t, r.Counterexample)
	require.Equal(t, 0, r.Counterexample.StepIndex)
	require.Equal(t, "WriteFile", r.Counterexample.Op)
	require.Equal(t, "path", r.Counterexample.Field)
	require.Equal(t, "../../etc/passwd", r.Counterexample.OffendingValue)
}

func TestProve_UnsafeFetchScheme_LocalizesOffendingStep(t *testing.T) {
	plan := mustParse(t, `{"name":"p","steps":[{"op":"Fetch","url":"ftp://a.b"}]}`)
	r := Prove(context.Background(), plan, "charter-hash", "key", proofcache.Disabled())
	require.False(t, r.Safe)
	require.NotNil(t, r.Counterexample)
	require.Equal(t, "Fetch", r.Counterexample.Op)
	require.Equal(t, "url", r.Counterexample.Field)
}

func TestProve_RunTargetOutsideAllowList_LocalizesOffendingStep(t *testing.T) {
	plan := mustParse(t, `{"name":"p","steps":[{"op":"Run","target":"rm_rf"}]}`)
	r := Prove(context.Background(), plan, "charter-hash", "key", proofcache.Disabled())
	require.False(t, r.Safe)
	require.NotNil(t, r.Counterexample)
	require.Equal(t, "Run", r.Counterexample.Op)
	require.Equal(t, "target", r.Counterexample.Field)
	require.Equal(t, "rm_rf", r.Counterexample.OffendingValue)
}

// TestProve_SecondStepViolates_IndexesCorrectly confirms the counterexample
// identifies the actual violating step, not just the first one, when an
// earlier step is safe.
func TestProve_SecondStepViolates_IndexesCorrectly(t *testing.T) {
	plan := mustParse(t, `{"name":"p","steps":[
		{"op":"Fetch","url":"https://a.b"},
		{"op":"WriteFile","path":"../escape.txt","content":"x"}
	]}`)
	r := Prove(context.Background(), plan, "charter-hash", "key", proofcache.Disabled())
	require.False(t, r.Safe)
	require.NotNil(t, r.Counterexample)
	require.Equal(t, 1, r.Counterexample.StepIndex)
}

func TestBuildObligation_SafePlanIsUnsat(t *testing.T) {
	plan := mustParse(t, `{"name":"p","steps":[{"op":"Run","target":"governor.one_cycle"}]}`)
	obligation := BuildObligation(plan)
	require.Contains(t, obligation, "assert")
	r, _, err := smt.Solve(obligation)
	require.NoError(t, err)
	require.Equal(t, smt.UNSAT, r)
}
