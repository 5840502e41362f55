// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule contains the access expressions of a location.
//
// An expression is a disjunction ("||") of conjunctions ("&&") of the
// following terms: true, false, auth != null, auth == null, and
// auth.uid == $var (where $var is a wildcard segment of the rule path)
// or auth.uid == 'literal'. An empty expression grants nothing.
type Rule struct {
	Read  string `yaml:"read"`
	Write string `yaml:"write"`
}

// Rules maps rule paths to rules. A rule path segment starting with "$"
// is a wildcard matching any key and binding it to the variable.
//
// Access to a location is granted when any rule on the way from the root
// to the location evaluates to true.
type Rules map[string]Rule

// rulesFile is the YAML representation of [Rules].
type rulesFile struct {
	Rules Rules `yaml:"rules"`
}

// ParseRules parses YAML-encoded rules.
func ParseRules(data []byte) (Rules, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if _, err := compileRules(file.Rules); err != nil {
		return nil, err
	}
	return file.Rules, nil
}

// LoadRules reads and parses a YAML rules file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	return ParseRules(data)
}

// term is a single comparison of an expression.
type term struct {
	source string
	eval   func(auth *authState, vars map[string]string) bool
}

// expr is a compiled expression in disjunctive normal form.
type expr struct {
	source  string
	clauses [][]term
}

func (e *expr) terms() int {
	count := 0
	for _, all := range e.clauses {
		count += len(all)
	}
	return count
}

// compiledRule is a compiled [Rule].
type compiledRule struct {
	path    string
	pattern []string
	read    *expr
	write   *expr
}

type ruleSet []*compiledRule

func compileRules(rules Rules) (ruleSet, error) {
	var out ruleSet
	for path, rule := range rules {
		cr := &compiledRule{path: path, pattern: splitPath(path)}
		var err error
		if cr.read, err = compileExpr(rule.Read); err != nil {
			return nil, fmt.Errorf("rule %s: read: %w", path, err)
		}
		if cr.write, err = compileExpr(rule.Write); err != nil {
			return nil, fmt.Errorf("rule %s: write: %w", path, err)
		}
		out = append(out, cr)
	}
	// literal segments win over wildcards, then sort by path for stability
	slices.SortFunc(out, func(a, b *compiledRule) int {
		if wa, wb := a.wildcards(), b.wildcards(); wa != wb {
			return wa - wb
		}
		return strings.Compare(a.path, b.path)
	})
	return out, nil
}

func (cr *compiledRule) wildcards() int {
	count := 0
	for _, seg := range cr.pattern {
		if strings.HasPrefix(seg, "$") {
			count++
		}
	}
	return count
}

// match returns the variables bound when cr matches segments.
func (cr *compiledRule) match(segments []string) (map[string]string, bool) {
	if len(cr.pattern) != len(segments) {
		return nil, false
	}
	vars := map[string]string{}
	for idx, seg := range cr.pattern {
		switch {
		case strings.HasPrefix(seg, "$"):
			vars[seg] = segments[idx]
		case seg != segments[idx]:
			return nil, false
		}
	}
	return vars, true
}

func compileExpr(source string) (*expr, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	e := &expr{source: source}
	for _, conj := range strings.Split(source, "||") {
		var all []term
		for _, src := range strings.Split(conj, "&&") {
			t, err := compileTerm(strings.TrimSpace(src))
			if err != nil {
				return nil, err
			}
			all = append(all, t)
		}
		e.clauses = append(e.clauses, all)
	}
	return e, nil
}

func compileTerm(source string) (term, error) {
	switch source {
	case "true":
		return term{source, func(*authState, map[string]string) bool { return true }}, nil
	case "false":
		return term{source, func(*authState, map[string]string) bool { return false }}, nil
	case "auth != null":
		return term{source, func(auth *authState, _ map[string]string) bool { return auth != nil }}, nil
	case "auth == null":
		return term{source, func(auth *authState, _ map[string]string) bool { return auth == nil }}, nil
	}
	lhs, rhs, found := strings.Cut(source, "==")
	if !found {
		return term{}, fmt.Errorf("unsupported term: %q", source)
	}
	lhs, rhs = strings.TrimSpace(lhs), strings.TrimSpace(rhs)
	if rhs == "auth.uid" {
		lhs, rhs = rhs, lhs
	}
	if lhs != "auth.uid" {
		return term{}, fmt.Errorf("unsupported term: %q", source)
	}
	switch {
	case strings.HasPrefix(rhs, "$"):
		return term{source, func(auth *authState, vars map[string]string) bool {
			value, ok := vars[rhs]
			return ok && auth != nil && auth.UID == value
		}}, nil
	case len(rhs) >= 2 && rhs[0] == '\'' && rhs[len(rhs)-1] == '\'':
		literal := rhs[1 : len(rhs)-1]
		return term{source, func(auth *authState, _ map[string]string) bool {
			return auth != nil && auth.UID == literal
		}}, nil
	default:
		return term{}, fmt.Errorf("unsupported term: %q", source)
	}
}

// evaluate evaluates e, reporting the result of each term to detail.
func (e *expr) evaluate(auth *authState, vars map[string]string, detail func(string)) bool {
	verbose := e.terms() > 1
	for _, all := range e.clauses {
		ok := true
		for _, t := range all {
			result := t.eval(auth, vars)
			if verbose {
				detail(fmt.Sprintf("%s: %t", t.source, result))
			}
			if !result {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// check evaluates the rules of kind ("read" or "write") on the way from
// the root to segments, writing the evaluation trace to tr.
func (rs ruleSet) check(kind string, segments []string, auth *authState, tr *tracer) bool {
	for depth := 0; depth <= len(segments); depth++ {
		prefix := segments[:depth]
		for _, cr := range rs {
			vars, ok := cr.match(prefix)
			if !ok {
				continue
			}
			e := cr.read
			if kind == "write" {
				e = cr.write
			}
			if e == nil {
				continue
			}
			tr.printf("%s:.%s: %q", joinPath(cr.pattern), kind, e.source)
			result := e.evaluate(auth, vars, func(line string) {
				tr.printf("    %s", line)
			})
			tr.printf("    => %t", result)
			if result {
				return true
			}
			break
		}
	}
	return false
}
