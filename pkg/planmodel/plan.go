// Package planmodel defines the Plan DSL (§3) and its structural
// validation rules: a non-empty trimmed name, an optional non-negative
// token budget, and a non-empty ordered list of Fetch/WriteFile/Run
// steps, each carrying exactly the fields its Op permits. Grounded on
// the teacher's pkg/contracts/plan.go for the step/DAG modeling idiom,
// narrowed here to the spec's closed three-step DSL.
//
// Parse deliberately stops at structural well-formedness. Whether a
// Fetch URL, a WriteFile path, or a Run target is actually *safe* is a
// contract question the prover answers (pkg/planprover), not a parse
// error: a malformed-but-structurally-valid plan must still reach the
// prover so an unsafe plan comes back as a counterexample rather than a
// parse failure.
package planmodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mindburn-labs/governor-core/pkg/errs"
)

// Op names the step's tagged-variant discriminator.
type Op string

const (
	OpFetch     Op = "Fetch"
	OpWriteFile Op = "WriteFile"
	OpRun       Op = "Run"
)

// ArtifactsRoot is the required path prefix for WriteFile.path and
// Fetch.save_as, per §3. Contract, not structural: Parse does not
// enforce it, pkg/planprover does.
const ArtifactsRoot = "artifacts"

// RunAllowList is the closed set of permitted Run targets, per §3.
// Contract, not structural: Parse does not enforce it, pkg/planprover
// does.
var RunAllowList = map[string]bool{"governor.one_cycle": true}

// MaxWriteFileContentBytes bounds WriteFile.content, per §3.
const MaxWriteFileContentBytes = 1_000_000

// Step is a tagged variant over Fetch/WriteFile/Run. Exactly one of the
// typed fields is populated, selected by Op.
type Step struct {
	Op Op

	FetchURL    string
	FetchSaveAs *string

	WriteFilePath    string
	WriteFileContent string

	RunTarget string
}

// Plan is the validated operator-supplied action sequence.
type Plan struct {
	Name   string
	Tokens *uint64
	Steps  []Step
}

// rawStep mirrors the wire shape of §6's Plan JSON schema for strict
// decoding: unknown fields are rejected per-step by field-set checking
// after a generic decode (json.Decoder.DisallowUnknownFields rejects at
// the object level, but we decode per-variant so each step only carries
// the fields its Op allows).
type rawStep struct {
	Op      string  `json:"op"`
	URL     *string `json:"url,omitempty"`
	SaveAs  *string `json:"save_as,omitempty"`
	Path    *string `json:"path,omitempty"`
	Content *string `json:"content,omitempty"`
	Target  *string `json:"target,omitempty"`
}

type rawPlan struct {
	Name   string            `json:"name"`
	Tokens *uint64           `json:"tokens,omitempty"`
	Steps  []json.RawMessage `json:"steps"`
}

// Parse decodes and validates JSON into a Plan. Unknown top-level or
// per-step fields are rejected.
func Parse(data []byte) (*Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var rp rawPlan
	if err := dec.Decode(&rp); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	name := strings.TrimSpace(rp.Name)
	if name == "" {
		return nil, fieldErr("name", "must not be empty")
	}
	if len(rp.Steps) == 0 {
		return nil, fieldErr("steps", "must not be empty")
	}

	steps := make([]Step, 0, len(rp.Steps))
	for i, raw := range rp.Steps {
		step, err := parseStep(raw)
		if err != nil {
			return nil, fmt.Errorf("steps[%d].%w", i, err)
		}
		steps = append(steps, step)
	}

	return &Plan{Name: name, Tokens: rp.Tokens, Steps: steps}, nil
}

func parseStep(raw json.RawMessage) (Step, error) {
	var rs rawStep
	d := json.NewDecoder(bytes.NewReader(raw))
	d.DisallowUnknownFields()
	if err := d.Decode(&rs); err != nil {
		return Step{}, fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	switch Op(rs.Op) {
	case OpFetch:
		if rs.Path != nil || rs.Content != nil || rs.Target != nil {
			return Step{}, fieldErr("op", "Fetch accepts only url/save_as")
		}
		if rs.URL == nil {
			return Step{}, fieldErr("url", "required for Fetch")
		}
		return Step{Op: OpFetch, FetchURL: *rs.URL, FetchSaveAs: rs.SaveAs}, nil

	case OpWriteFile:
		if rs.URL != nil || rs.SaveAs != nil || rs.Target != nil {
			return Step{}, fieldErr("op", "WriteFile accepts only path/content")
		}
		if rs.Path == nil {
			return Step{}, fieldErr("path", "required for WriteFile")
		}
		if rs.Content == nil {
			return Step{}, fieldErr("content", "required for WriteFile")
		}
		if utf8.RuneCountInString(*rs.Content) > MaxWriteFileContentBytes || len(*rs.Content) > MaxWriteFileContentBytes {
			return Step{}, fieldErr("content", "exceeds maximum length")
		}
		return Step{Op: OpWriteFile, WriteFilePath: *rs.Path, WriteFileContent: *rs.Content}, nil

	case OpRun:
		if rs.URL != nil || rs.SaveAs != nil || rs.Path != nil || rs.Content != nil {
			return Step{}, fieldErr("op", "Run accepts only target")
		}
		if rs.Target == nil {
			return Step{}, fieldErr("target", "required for Run")
		}
		return Step{Op: OpRun, RunTarget: *rs.Target}, nil

	default:
		return Step{}, fieldErr("op", "unknown step operation")
	}
}

func fieldErr(field, msg string) error {
	return fmt.Errorf("%w: field %q: %s", errs.ErrValidation, field, msg)
}
