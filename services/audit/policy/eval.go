// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

// Context is the namespace set a condition may reference. Every root
// resolves to a JSON-like value; names absent from the context resolve
// to null rather than erroring, so rules can probe optional fields.
type Context map[string]any

// ContextFromSnapshot builds the evaluation namespaces from a snapshot
// and an environment mapping. The env argument overrides the
// snapshot's own environment when non-nil.
func ContextFromSnapshot(snap *snapshot.Snapshot, env map[string]string) Context {
	ctx := Context{
		"reference": snap.Reference,
		"metadata":  anyMap(snap.Metadata),
		"api":       anyMap(snap.API),
		"resources": anyMap(snap.Resources),
	}

	environment := snap.Environment
	if env != nil {
		environment = env
	}
	envAny := make(map[string]any, len(environment))
	for k, v := range environment {
		envAny[k] = v
	}
	ctx["env"] = envAny

	if labels, ok := snap.Metadata["labels"].(map[string]any); ok {
		ctx["labels"] = labels
	} else {
		ctx["labels"] = map[string]any{}
	}
	if cfg, ok := snap.API["config"].(map[string]any); ok {
		ctx["config"] = cfg
	} else {
		ctx["config"] = map[string]any{}
	}
	if ports, ok := snap.API["ports"].([]any); ok {
		ctx["exposed_ports"] = ports
	} else {
		ctx["exposed_ports"] = []any{}
	}

	// Common identity fields promoted to top-level names for terser
	// conditions.
	for _, key := range []string{"model_name", "model_version", "nim_version", "tag", "architecture", "quantization"} {
		if v, ok := snap.Metadata[key]; ok {
			ctx[key] = v
		}
	}
	return ctx
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Evaluate runs every enabled rule against the snapshot. Violations
// follow input rule order. A rule whose condition cannot be parsed or
// evaluated fails closed: it records a violation at the rule's declared
// severity with the diagnostic attached, and never aborts the batch.
// Pass is true when no violation carries error severity.
func Evaluate(snap *snapshot.Snapshot, env map[string]string, rules []Rule) (*LintReport, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	ctx := ContextFromSnapshot(snap, env)

	report := &LintReport{
		Reference: snap.Reference,
		RuleCount: 0,
		Pass:      true,
	}

	for _, rule := range rules {
		if !rule.IsEnabled() {
			continue
		}
		report.RuleCount++

		passed, err := evaluateRule(rule, ctx)
		if err != nil {
			report.Violations = append(report.Violations, Violation{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Severity:    rule.Severity,
				Message:     fmt.Sprintf("rule %s could not be evaluated", rule.ID),
				Remediation: rule.Remediation,
				EvalError:   err.Error(),
			})
			continue
		}
		if !passed {
			message := rule.Description
			if message == "" {
				message = fmt.Sprintf("condition %q is false", rule.Condition)
			}
			report.Violations = append(report.Violations, Violation{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Severity:    rule.Severity,
				Message:     message,
				Remediation: rule.Remediation,
			})
		}
	}

	for _, v := range report.Violations {
		if v.Severity == SeverityError {
			report.Pass = false
			break
		}
	}
	return report, nil
}

func evaluateRule(rule Rule, ctx Context) (bool, error) {
	tree, err := ParseCondition(rule.Condition)
	if err != nil {
		return false, err
	}
	result, err := evalNode(tree, ctx)
	if err != nil {
		return false, err
	}
	return truthy(result), nil
}

func evalNode(n *node, ctx Context) (any, error) {
	switch n.kind {
	case nodeLiteral:
		return n.lit, nil

	case nodeList:
		out := make([]any, 0, len(n.elems))
		for _, elem := range n.elems {
			v, err := evalNode(elem, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case nodePath:
		return evalPath(n, ctx)

	case nodeCall:
		return evalCall(n, ctx)

	case nodeNot:
		v, err := evalNode(n.arg, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil

	case nodeBinary:
		return evalBinary(n, ctx)

	default:
		return nil, fmt.Errorf("%w: unknown node kind %d", ErrRuleEvaluation, n.kind)
	}
}

// evalPath resolves a namespace root and walks its postfix steps.
// A missing root or field resolves to null so conditions can test for
// absence; only .get supplies an explicit default.
func evalPath(n *node, ctx Context) (any, error) {
	current, ok := ctx[n.root]
	if !ok {
		current = nil
	}

	for _, step := range n.steps {
		var key any
		switch {
		case step.keyExpr != nil:
			k, err := evalNode(step.keyExpr, ctx)
			if err != nil {
				return nil, err
			}
			key = k
		default:
			key = step.key
		}

		next, found := access(current, key)
		if step.get && !found && step.def != nil {
			def, err := evalNode(step.def, ctx)
			if err != nil {
				return nil, err
			}
			current = def
			continue
		}
		current = next
	}
	return current, nil
}

// access reads one key out of a container. Null containers and missing
// keys yield (null, false); scalars cannot be indexed and also yield
// null rather than erroring, keeping absence checks composable.
func access(container, key any) (any, bool) {
	switch c := container.(type) {
	case map[string]any:
		k := fmt.Sprint(key)
		v, ok := c[k]
		return v, ok
	case map[string]string:
		k := fmt.Sprint(key)
		v, ok := c[k]
		if !ok {
			return nil, false
		}
		return v, true
	case []any:
		idx, ok := key.(float64)
		if !ok || idx != float64(int(idx)) {
			return nil, false
		}
		i := int(idx)
		if i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	default:
		return nil, false
	}
}

func evalCall(n *node, ctx Context) (any, error) {
	arg, err := evalNode(n.arg, ctx)
	if err != nil {
		return nil, err
	}
	switch n.fn {
	case "int":
		switch v := arg.(type) {
		case float64:
			return float64(int(v)), nil
		case bool:
			if v {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: int(%q): not numeric", ErrRuleEvaluation, v)
			}
			return float64(int(f)), nil
		default:
			return nil, fmt.Errorf("%w: int() of %T", ErrRuleEvaluation, arg)
		}
	case "len":
		switch v := arg.(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		case nil:
			return float64(0), nil
		default:
			return nil, fmt.Errorf("%w: len() of %T", ErrRuleEvaluation, arg)
		}
	default:
		return nil, fmt.Errorf("%w: function %q is not allowed", ErrRuleEvaluation, n.fn)
	}
}

func evalBinary(n *node, ctx Context) (any, error) {
	// and/or short-circuit and never force evaluation of an
	// unreachable side.
	if n.op == "and" || n.op == "or" {
		left, err := evalNode(n.left, ctx)
		if err != nil {
			return nil, err
		}
		if n.op == "and" && !truthy(left) {
			return false, nil
		}
		if n.op == "or" && truthy(left) {
			return true, nil
		}
		right, err := evalNode(n.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := evalNode(n.left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(n.right, ctx)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "in":
		return evalIn(left, right)
	case "<", "<=", ">", ">=":
		// Ordering against null is false, not an error, so rules can
		// compare optional numeric fields without guarding.
		if left == nil || right == nil {
			return false, nil
		}
		return evalOrdering(n.op, left, right)
	default:
		return nil, fmt.Errorf("%w: operator %q", ErrRuleEvaluation, n.op)
	}
}

func evalIn(needle, haystack any) (any, error) {
	switch h := haystack.(type) {
	case []any:
		for _, elem := range h {
			if looseEqual(needle, elem) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := h[fmt.Sprint(needle)]
		return ok, nil
	case string:
		return strings.Contains(h, fmt.Sprint(needle)), nil
	case nil:
		return false, nil
	default:
		return nil, fmt.Errorf("%w: 'in' requires a list, map, or string, got %T", ErrRuleEvaluation, haystack)
	}
}

func evalOrdering(op string, left, right any) (any, error) {
	ln, lok := coerceNumber(left)
	rn, rok := coerceNumber(right)
	if lok && rok {
		switch op {
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		default:
			return ln >= rn, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		default:
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot order %T against %T", ErrRuleEvaluation, left, right)
}

// looseEqual compares with numeric coercion so "8000" equals 8000,
// matching the diff engine's treatment of numeric strings.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, aok := coerceNumber(a); aok {
		if bn, bok := coerceNumber(b); bok {
			return an == bn
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
