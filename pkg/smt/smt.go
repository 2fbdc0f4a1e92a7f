// Package smt is a small, self-contained decidable solver over the
// restricted SMT-LIB2 subset emitted by pkg/diffsafety and pkg/planprover:
// boolean connectives (and, or, not, =>) over boolean and string-theory
// atoms (str.prefixof, str.suffixof, str.contains, str.++, string/bool
// equality) with no free variables in the formulas this codebase
// constructs.
//
// No third-party or external SMT backend exists anywhere in the reference
// corpus this module was grounded on; grounding this package on a
// generic corpus library was not possible, so it is built on the standard
// library only (see DESIGN.md). Because every obligation this repository
// builds is ground (fully-valued, no unbound variables), deciding
// satisfiability reduces to evaluating the formula: a ground formula is
// SAT iff it evaluates to true, UNSAT iff it evaluates to false. Declared
// constants are accepted but never bound: a formula that references one
// cannot be evaluated and yields UNKNOWN.
package smt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mindburn-labs/governor-core/pkg/errs"
)

// ObligationPolaritySafeIsUnsat pins the polarity convention described in
// §9: the obligation is the negation of the safety property. UNSAT means
// "no violation can be constructed" and therefore the obligation has
// proven the property safe. This constant exists so that any future
// change of convention is a single, testable edit.
const ObligationPolaritySafeIsUnsat = true

// Result is a solver verdict.
type Result int

const (
	UNSAT Result = iota
	SAT
	UNKNOWN
)

func (r Result) String() string {
	switch r {
	case UNSAT:
		return "UNSAT"
	case SAT:
		return "SAT"
	default:
		return "UNKNOWN"
	}
}

// Model is a satisfying assignment: declared-constant name to stringified
// value. SAT is reached by evaluation, not search, and declared constants
// are never bound, so the model Solve returns is always empty.
type Model map[string]string

// Solve parses and evaluates text. It returns (UNSAT|SAT, model, nil) on
// a syntactically valid formula, or a non-nil error wrapping
// errs.ErrSmtParse on malformed input (unbalanced parens, a tokenizing
// or parsing failure, a malformed declare-const or assert, an unsupported
// top-level form). A formula whose evaluation fails (unknown operator,
// undeclared or unbound identifier, type mismatch) yields
// (UNKNOWN, nil, nil).
func Solve(text string) (Result, Model, error) {
	if err := checkBalanced(text); err != nil {
		return UNKNOWN, nil, fmt.Errorf("%w: %w", errs.ErrSmtParse, err)
	}

	exprs, err := parseProgram(text)
	if err != nil {
		return UNKNOWN, nil, fmt.Errorf("%w: %w", errs.ErrSmtParse, err)
	}

	env := map[string]node{}
	var asserts []node
	for _, e := range exprs {
		lst, ok := e.(list)
		if !ok || len(lst) == 0 {
			continue
		}
		head, _ := lst[0].(atom)
		switch string(head) {
		case "declare-const":
			if len(lst) < 2 {
				return UNKNOWN, nil, fmt.Errorf("%w: malformed declare-const", errs.ErrSmtParse)
			}
			name, ok := lst[1].(atom)
			if !ok {
				return UNKNOWN, nil, fmt.Errorf("%w: malformed declare-const name", errs.ErrSmtParse)
			}
			env[string(name)] = nil // declared, unbound
		case "assert":
			if len(lst) != 2 {
				return UNKNOWN, nil, fmt.Errorf("%w: assert takes exactly one argument", errs.ErrSmtParse)
			}
			asserts = append(asserts, lst[1])
		default:
			return UNKNOWN, nil, fmt.Errorf("%w: unsupported top-level form %q", errs.ErrSmtParse, head)
		}
	}

	if len(asserts) == 0 {
		// Vacuously true conjunction of assertions: UNSAT is wrong here
		// since there is nothing to refute; treat as UNKNOWN so callers
		// don't silently read "no assertions" as "proven safe".
		return UNKNOWN, nil, nil
	}

	conjunction := true
	for _, a := range asserts {
		v, err := evalBool(a, env)
		if err != nil {
			return UNKNOWN, nil, nil
		}
		conjunction = conjunction && v
		if !conjunction {
			break
		}
	}

	model := Model{}
	for name, val := range env {
		if val == nil {
			continue
		}
		model[name] = stringify(val)
	}

	if conjunction {
		return SAT, model, nil
	}
	return UNSAT, nil, nil
}

// CheckBalanced performs the cheap syntactic guard of §4.5 step 1: reject
// input whose parenthesis count is unbalanced before any cache lookup or
// parse attempt.
func CheckBalanced(text string) error { return checkBalanced(text) }

func checkBalanced(text string) error {
	depth := 0
	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced parenthesis at byte %d", i)
			}
		}
	}
	if inString {
		return fmt.Errorf("unterminated string literal")
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced parenthesis: depth %d at EOF", depth)
	}
	return nil
}

// node is either an atom (identifier, boolean, or quoted string literal)
// or a list (an s-expression application).
type node interface{ isNode() }

type atom string

func (atom) isNode() {}

type strLit string

func (strLit) isNode() {}

type boolLit bool

func (boolLit) isNode() {}

type list []node

func (list) isNode() {}

func parseProgram(text string) ([]node, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	var out []node
	pos := 0
	for pos < len(toks) {
		n, next, err := parseExpr(toks, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		pos = next
	}
	return out, nil
}

func tokenize(text string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '"':
			j := i + 1
			for j < len(text) && text[j] != '"' {
				j++
			}
			if j >= len(text) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, text[i:j+1])
			i = j + 1
		case c == ';':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		default:
			j := i
			for j < len(text) && !isDelim(text[j]) {
				j++
			}
			toks = append(toks, text[i:j])
			i = j
		}
	}
	return toks, nil
}

func isDelim(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')' || c == '"' || c == ';'
}

func parseExpr(toks []string, pos int) (node, int, error) {
	if pos >= len(toks) {
		return nil, pos, fmt.Errorf("unexpected end of input")
	}
	tok := toks[pos]
	switch {
	case tok == "(":
		pos++
		var items list
		for pos < len(toks) && toks[pos] != ")" {
			n, next, err := parseExpr(toks, pos)
			if err != nil {
				return nil, pos, err
			}
			items = append(items, n)
			pos = next
		}
		if pos >= len(toks) {
			return nil, pos, fmt.Errorf("missing closing paren")
		}
		return items, pos + 1, nil
	case tok == ")":
		return nil, pos, fmt.Errorf("unexpected )")
	case strings.HasPrefix(tok, `"`):
		return strLit(strings.Trim(tok, `"`)), pos + 1, nil
	case tok == "true":
		return boolLit(true), pos + 1, nil
	case tok == "false":
		return boolLit(false), pos + 1, nil
	default:
		return atom(tok), pos + 1, nil
	}
}

func stringify(n node) string {
	switch t := n.(type) {
	case strLit:
		return string(t)
	case boolLit:
		return strconv.FormatBool(bool(t))
	case atom:
		return string(t)
	default:
		return fmt.Sprintf("%v", n)
	}
}

// evalBool decides the boolean value of n under env, where env maps
// declared-const names to nil (unbound). A reference to an unbound name
// is an evaluation error, which Solve reports as UNKNOWN: this grammar
// carries no quantifiers or search procedure to resolve it.
func evalBool(n node, env map[string]node) (bool, error) {
	switch t := n.(type) {
	case boolLit:
		return bool(t), nil
	case atom:
		if v, ok := env[string(t)]; ok {
			if v == nil {
				return false, fmt.Errorf("unbound identifier %q", t)
			}
			b, ok := v.(boolLit)
			if !ok {
				return false, fmt.Errorf("identifier %q is not boolean-valued", t)
			}
			return bool(b), nil
		}
		return false, fmt.Errorf("undeclared identifier %q", t)
	case list:
		if len(t) == 0 {
			return false, fmt.Errorf("empty application")
		}
		op, ok := t[0].(atom)
		if !ok {
			return false, fmt.Errorf("expected operator")
		}
		switch string(op) {
		case "not":
			if len(t) != 2 {
				return false, fmt.Errorf("not takes 1 argument")
			}
			v, err := evalBool(t[1], env)
			if err != nil {
				return false, err
			}
			return !v, nil
		case "and":
			for _, a := range t[1:] {
				v, err := evalBool(a, env)
				if err != nil {
					return false, err
				}
				if !v {
					return false, nil
				}
			}
			return true, nil
		case "or":
			for _, a := range t[1:] {
				v, err := evalBool(a, env)
				if err != nil {
					return false, err
				}
				if v {
					return true, nil
				}
			}
			return false, nil
		case "=>":
			if len(t) != 3 {
				return false, fmt.Errorf("=> takes 2 arguments")
			}
			p, err := evalBool(t[1], env)
			if err != nil {
				return false, err
			}
			if !p {
				return true, nil
			}
			return evalBool(t[2], env)
		case "=":
			if len(t) != 3 {
				return false, fmt.Errorf("= takes 2 arguments")
			}
			return evalEq(t[1], t[2], env)
		case "str.prefixof":
			if len(t) != 3 {
				return false, fmt.Errorf("str.prefixof takes 2 arguments")
			}
			prefix, err := evalString(t[1], env)
			if err != nil {
				return false, err
			}
			s, err := evalString(t[2], env)
			if err != nil {
				return false, err
			}
			return strings.HasPrefix(s, prefix), nil
		case "str.suffixof":
			if len(t) != 3 {
				return false, fmt.Errorf("str.suffixof takes 2 arguments")
			}
			suffix, err := evalString(t[1], env)
			if err != nil {
				return false, err
			}
			s, err := evalString(t[2], env)
			if err != nil {
				return false, err
			}
			return strings.HasSuffix(s, suffix), nil
		case "str.contains":
			if len(t) != 3 {
				return false, fmt.Errorf("str.contains takes 2 arguments")
			}
			s, err := evalString(t[1], env)
			if err != nil {
				return false, err
			}
			sub, err := evalString(t[2], env)
			if err != nil {
				return false, err
			}
			return strings.Contains(s, sub), nil
		default:
			return false, fmt.Errorf("unsupported boolean operator %q", op)
		}
	default:
		return false, fmt.Errorf("expected boolean expression")
	}
}

func evalEq(a, b node, env map[string]node) (bool, error) {
	as, aErr := evalString(a, env)
	bs, bErr := evalString(b, env)
	if aErr == nil && bErr == nil {
		return as == bs, nil
	}
	av, aErr2 := evalBool(a, env)
	bv, bErr2 := evalBool(b, env)
	if aErr2 == nil && bErr2 == nil {
		return av == bv, nil
	}
	return false, fmt.Errorf("= operands not comparable")
}

func evalString(n node, env map[string]node) (string, error) {
	switch t := n.(type) {
	case strLit:
		return string(t), nil
	case atom:
		if v, ok := env[string(t)]; ok {
			if v == nil {
				return "", fmt.Errorf("unbound identifier %q", t)
			}
			s, ok := v.(strLit)
			if !ok {
				return "", fmt.Errorf("identifier %q is not string-valued", t)
			}
			return string(s), nil
		}
		return "", fmt.Errorf("not a string literal: %q", t)
	case list:
		if len(t) == 3 {
			if op, ok := t[0].(atom); ok && op == "str.++" {
				l, err := evalString(t[1], env)
				if err != nil {
					return "", err
				}
				r, err := evalString(t[2], env)
				if err != nil {
					return "", err
				}
				return l + r, nil
			}
		}
		return "", fmt.Errorf("expression is not string-valued")
	default:
		return "", fmt.Errorf("expression is not string-valued")
	}
}
