package smt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindburn-labs/governor-core/pkg/errs"
	"github.com/mindburn-labs/governor-core/pkg/proofcache"
)

// Counterexample is the model extracted on a SAT/UNKNOWN verdict: every
// declaration in the model stringified, a summary naming the count and
// the first three bindings (or, for UNKNOWN, the literal text "UNKNOWN").
type Counterexample struct {
	Summary  string            `json:"summary"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// Verdict is the C5 outcome: Passed, or Failed with a counterexample.
type Verdict struct {
	Passed         bool
	Counterexample *Counterexample
}

// Verify runs the §4.5 algorithm: syntax guard, cache lookup, parse,
// solve, best-effort cache write. obligation is SMT-LIB2 text; charterHash
// salts the cache key so a policy change invalidates prior verdicts.
func Verify(ctx context.Context, obligation, charterHash string, cache *proofcache.Cache) (Verdict, error) {
	if err := CheckBalanced(obligation); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", errs.ErrSmtParse, err)
	}

	key := proofcache.Key(obligation, charterHash)
	if entry, hit := cache.Lookup(ctx, key); hit {
		v := Verdict{Passed: entry.Passed}
		if !entry.Passed && entry.HasCounterexamp {
			var cx Counterexample
			if err := json.Unmarshal(entry.Counterexample, &cx); err == nil {
				v.Counterexample = &cx
			}
		}
		return v, nil
	}

	result, model, err := Solve(obligation)
	if err != nil {
		cache.Store(ctx, key, false, nil)
		return Verdict{}, fmt.Errorf("%w: %w", errs.ErrSmtParse, err)
	}

	switch result {
	case UNSAT:
		cache.Store(ctx, key, true, nil)
		return Verdict{Passed: true}, nil

	case SAT:
		cx := counterexampleFromModel(model)
		payload, _ := json.Marshal(cx)
		cache.Store(ctx, key, false, payload)
		return Verdict{Passed: false, Counterexample: &cx}, nil

	default: // UNKNOWN
		cx := Counterexample{Summary: "UNKNOWN"}
		payload, _ := json.Marshal(cx)
		cache.Store(ctx, key, false, payload)
		return Verdict{Passed: false, Counterexample: &cx}, nil
	}
}

// counterexampleFromModel stringifies every declaration in the model; the
// summary names the count and the first three bindings, per §4.5.
func counterexampleFromModel(m Model) Counterexample {
	bindings := map[string]string(m)
	if bindings == nil {
		bindings = map[string]string{}
	}

	shown := 0
	summary := fmt.Sprintf("%d binding(s)", len(bindings))
	for k, v := range bindings {
		if shown >= 3 {
			break
		}
		summary += fmt.Sprintf(", %s=%s", k, v)
		shown++
	}
	return Counterexample{Summary: summary, Bindings: bindings}
}
