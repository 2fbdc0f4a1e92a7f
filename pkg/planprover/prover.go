// Package planprover proves plan safety by SMT contradiction (C7).
// Grounded on pkg/contracts' step/DAG idiom (narrowed to the three-step
// DSL) and on the teacher's pkg/kernel/celdp/evaluator.go validate→
// compile→eval pipeline shape for the native counterexample pass: the
// solver call exists only to guarantee no counterexample exists when
// UNSAT (§9 "Counterexample provenance"); the counterexample itself is
// computed directly against the plan, not extracted from a solver model.
package planprover

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mindburn-labs/governor-core/pkg/planmodel"
	"github.com/mindburn-labs/governor-core/pkg/proofcache"
	"github.com/mindburn-labs/governor-core/pkg/smt"
)

// Timeout is the wall-clock bound on the plan prover's SMT solve, per §5.
const Timeout = 1500 * time.Millisecond

// Counterexample identifies the first offending step.
type Counterexample struct {
	StepIndex      int    `json:"step_index"`
	Op             string `json:"op"`
	Field          string `json:"field"`
	OffendingValue string `json:"offending_value"`
}

// Result is the plan prover's verdict.
type Result struct {
	Safe           bool
	Counterexample *Counterexample
}

// BuildObligation returns the SMT contradiction formula: "some step
// violates its per-step contract". Every value is a ground literal from
// the already-validated plan, so the resulting formula has no free
// variables.
func BuildObligation(plan *planmodel.Plan) string {
	var disjuncts []string
	for _, s := range plan.Steps {
		disjuncts = append(disjuncts, "(not "+stepSatisfiesContract(s)+")")
	}
	return "(assert (or " + strings.Join(disjuncts, " ") + "))"
}

func stepSatisfiesContract(s planmodel.Step) string {
	switch s.Op {
	case planmodel.OpFetch:
		// URL begins with http:// or https://, and the substring after
		// "://" contains at least one '.'.
		afterScheme := ""
		if idx := strings.Index(s.FetchURL, "://"); idx >= 0 {
			afterScheme = s.FetchURL[idx+3:]
		}
		schemeOK := strings.HasPrefix(strings.ToLower(s.FetchURL), "http://") ||
			strings.HasPrefix(strings.ToLower(s.FetchURL), "https://")
		return fmt.Sprintf("(and %s %s)",
			boolLit(schemeOK),
			boolLit(strings.Contains(afterScheme, ".")))

	case planmodel.OpWriteFile:
		p := s.WriteFilePath
		ok := strings.HasPrefix(p, planmodel.ArtifactsRoot+"/") &&
			!strings.HasPrefix(p, "/") &&
			!strings.Contains(p, ":/") &&
			!strings.Contains(p, `:\`) &&
			!strings.Contains(p, "..") &&
			!strings.Contains(p, `..\`)
		return boolLit(ok)

	case planmodel.OpRun:
		return boolLit(planmodel.RunAllowList[s.RunTarget])

	default:
		return boolLit(false)
	}
}

func boolLit(b bool) string { return strconv.FormatBool(b) }

// Prove runs the §4.7 algorithm. It caches by a stable canonical JSON key
// of the plan (delegated to the caller via cacheKey, since canonicalizing
// a Plan is a concern of the caller's serialization, not this package).
func Prove(ctx context.Context, plan *planmodel.Plan, charterHash, cacheKey string, cache *proofcache.Cache) Result {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	if entry, hit := cache.Lookup(ctx, cacheKey); hit {
		if entry.Passed {
			return Result{Safe: true}
		}
		return Result{Safe: false, Counterexample: nativeCounterexample(plan)}
	}

	obligation := BuildObligation(plan)

	type solveOutcome struct {
		verdict smt.Verdict
		err     error
	}
	ch := make(chan solveOutcome, 1)
	go func() {
		v, err := smt.Verify(ctx, obligation, charterHash, cache)
		ch <- solveOutcome{v, err}
	}()

	var outcome solveOutcome
	select {
	case outcome = <-ch:
	case <-ctx.Done():
		outcome = solveOutcome{}
	}

	if outcome.err != nil || !outcome.verdict.Passed {
		cache.Store(ctx, cacheKey, false, nil)
		return Result{Safe: false, Counterexample: nativeCounterexample(plan)}
	}
	cache.Store(ctx, cacheKey, true, nil)
	return Result{Safe: true}
}

// nativeCounterexample finds the first step that actually violates its
// contract per §3, computed natively rather than from a solver model.
func nativeCounterexample(plan *planmodel.Plan) *Counterexample {
	for i, s := range plan.Steps {
		switch s.Op {
		case planmodel.OpFetch:
			lower := strings.ToLower(s.FetchURL)
			schemeOK := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
			if !schemeOK {
				return &Counterexample{StepIndex: i, Op: string(s.Op), Field: "url", OffendingValue: s.FetchURL}
			}
			after := ""
			if idx := strings.Index(s.FetchURL, "://"); idx >= 0 {
				after = s.FetchURL[idx+3:]
			}
			if !strings.Contains(after, ".") {
				return &Counterexample{StepIndex: i, Op: string(s.Op), Field: "url", OffendingValue: s.FetchURL}
			}

		case planmodel.OpWriteFile:
			p := s.WriteFilePath
			if !strings.HasPrefix(p, planmodel.ArtifactsRoot+"/") || strings.HasPrefix(p, "/") ||
				strings.Contains(p, ":/") || strings.Contains(p, `:\`) ||
				strings.Contains(p, "..") || strings.Contains(p, `..\`) {
				return &Counterexample{StepIndex: i, Op: string(s.Op), Field: "path", OffendingValue: p}
			}

		case planmodel.OpRun:
			if !planmodel.RunAllowList[s.RunTarget] {
				return &Counterexample{StepIndex: i, Op: string(s.Op), Field: "target", OffendingValue: s.RunTarget}
			}
		}
	}
	return nil
}
