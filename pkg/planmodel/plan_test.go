package planmodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_SafePlan(t *testing.T) {
	body := `{"name":"p","steps":[
		{"op":"Fetch","url":"https://a.b"},
		{"op":"WriteFile","path":"artifacts/a.txt","content":"hi"},
		{"op":"Run","target":"governor.one_cycle"}
	]}`
	plan, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "p", plan.Name)
	require.Len(t, plan.Steps, 3)
}

// TestParse_AcceptsContractViolatingButStructurallyValidPlan covers the
// structural/contract split: Parse only checks shape, so a plan whose
// WriteFile.path escapes the artifacts root is not a parse error — it is
// left for the prover to reject with a counterexample.
func TestParse_AcceptsContractViolatingButStructurallyValidPlan(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"WriteFile","path":"../../etc/passwd","content":"x"}]}`
	plan, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "../../etc/passwd", plan.Steps[0].WriteFilePath)
}

// TestParse_AcceptsRunTargetOutsideAllowList and
// TestParse_AcceptsBadURLScheme likewise confirm Parse defers allow-list
// and URL-scheme contract checks to the prover.
func TestParse_AcceptsRunTargetOutsideAllowList(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"Run","target":"rm_rf"}]}`
	plan, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "rm_rf", plan.Steps[0].RunTarget)
}

func TestParse_AcceptsBadURLScheme(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"Fetch","url":"ftp://a.b"}]}`
	plan, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "ftp://a.b", plan.Steps[0].FetchURL)
}

func TestParse_RejectsEmptyName(t *testing.T) {
	body := `{"name":"  ","steps":[{"op":"Run","target":"governor.one_cycle"}]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}

func TestParse_RejectsEmptySteps(t *testing.T) {
	body := `{"name":"p","steps":[]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	body := `{"name":"p","unexpected":1,"steps":[{"op":"Run","target":"governor.one_cycle"}]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}

func TestParse_RejectsUnknownStepFields(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"Run","target":"governor.one_cycle","extra":true}]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}

func TestParse_RejectsUnknownOp(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"Delete","path":"artifacts/a.txt"}]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}

func TestParse_RejectsMissingRequiredFieldPerOp(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"WriteFile","path":"artifacts/a.txt"}]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}

func TestParse_RejectsFieldsFromAnotherVariant(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"Run","target":"governor.one_cycle","path":"artifacts/a.txt"}]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}

// TestParse_PreservesPathVerbatim: Parse no longer normalizes or
// otherwise interprets path content — that belongs to the prover's
// contract check, not structural decoding.
func TestParse_PreservesPathVerbatim(t *testing.T) {
	body := `{"name":"p","steps":[{"op":"WriteFile","path":"artifacts\\sub\\a.txt","content":"x"}]}`
	plan, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, `artifacts\sub\a.txt`, plan.Steps[0].WriteFilePath)
}

func TestParse_RejectsContentTooLarge(t *testing.T) {
	big := make([]byte, MaxWriteFileContentBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	body := `{"name":"p","steps":[{"op":"WriteFile","path":"artifacts/a.txt","content":"` + string(big) + `"}]}`
	_, err := Parse([]byte(body))
	require.Error(t, err)
}
