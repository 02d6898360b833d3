package engine

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"rocket-import/internal/metadata"
)

// EvaluateRules runs the active rules of an entity hook against a record an
// import row is about to write. Field and expression rules produce
// validation details; computed rules write their result into fields, and
// only run once the record is valid.
func EvaluateRules(reg *metadata.Registry, entityName string, hook string, fields map[string]any, old map[string]any, isCreate bool) []ErrorDetail {
	rules := reg.GetRulesForEntity(entityName, hook)
	if len(rules) == 0 {
		return nil
	}

	action := "update"
	if isCreate {
		action = "create"
	}
	env := map[string]any{"record": fields, "old": old, "action": action}

	var errs []ErrorDetail
	check := func(typ string, eval func(*metadata.Rule) *ErrorDetail) bool {
		for _, r := range rules {
			if r.Type != typ {
				continue
			}
			if detail := eval(r); detail != nil {
				errs = append(errs, *detail)
				if r.Definition.StopOnFail {
					return false
				}
			}
		}
		return true
	}

	// 1. Field rules
	if !check("field", func(r *metadata.Rule) *ErrorDetail { return EvaluateFieldRule(r, fields) }) {
		return errs
	}
	// 2. Expression rules
	if !check("expression", func(r *metadata.Rule) *ErrorDetail { return EvaluateExpressionRule(r, env) }) {
		return errs
	}
	if len(errs) > 0 {
		return errs
	}

	// 3. Computed fields
	for _, r := range rules {
		if r.Type != "computed" {
			continue
		}
		val, err := EvaluateComputedField(r, env)
		if err != nil {
			errs = append(errs, ErrorDetail{Field: r.Definition.Field, Rule: "computed", Message: err.Error()})
			continue
		}
		fields[r.Definition.Field] = val
	}
	return errs
}

// fieldCheck reports whether val violates limit. ok is false when the
// operator does not apply to the value's type.
type fieldCheck func(val, limit any) (violated, ok bool)

var fieldChecks = map[string]fieldCheck{
	"min":        numericCheck(func(n, limit float64) bool { return n < limit }),
	"max":        numericCheck(func(n, limit float64) bool { return n > limit }),
	"min_length": lengthCheck(func(n, limit int) bool { return n < limit }),
	"max_length": lengthCheck(func(n, limit int) bool { return n > limit }),
	"enum": func(val, limit any) (bool, bool) {
		allowed, ok := limit.([]any)
		if !ok {
			return false, false
		}
		for _, a := range allowed {
			if fmt.Sprint(a) == fmt.Sprint(val) {
				return false, true
			}
		}
		return true, true
	},
	"pattern": func(val, limit any) (bool, bool) {
		s, ok := val.(string)
		pattern, pok := limit.(string)
		if !ok || !pok {
			return false, false
		}
		matched, err := regexp.MatchString(pattern, s)
		return err != nil || !matched, true
	},
}

func numericCheck(cmp func(n, limit float64) bool) fieldCheck {
	return func(val, limit any) (bool, bool) {
		n, ok := toFloat64(val)
		l, lok := toFloat64(limit)
		if !ok || !lok {
			return false, false
		}
		return cmp(n, l), true
	}
}

func lengthCheck(cmp func(n, limit int) bool) fieldCheck {
	return func(val, limit any) (bool, bool) {
		s, ok := val.(string)
		l, lok := toFloat64(limit)
		if !ok || !lok {
			return false, false
		}
		return cmp(len(s), int(l)), true
	}
}

// EvaluateFieldRule checks one field rule against a record. Absent and
// null values pass; the required check owns them.
func EvaluateFieldRule(rule *metadata.Rule, record map[string]any) *ErrorDetail {
	def := rule.Definition
	val, exists := record[def.Field]
	if !exists || val == nil {
		return nil
	}
	check, known := fieldChecks[def.Operator]
	if !known {
		return nil
	}
	violated, ok := check(val, def.Value)
	if !ok || !violated {
		return nil
	}
	msg := def.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", def.Field, def.Operator)
	}
	return &ErrorDetail{Field: def.Field, Rule: def.Operator, Message: msg}
}

// program returns the rule's compiled expression, compiling and caching it
// on first use.
func program(rule *metadata.Rule, opts ...expr.Option) (*vm.Program, error) {
	if prog, ok := rule.Compiled.(*vm.Program); ok && prog != nil {
		return prog, nil
	}
	prog, err := expr.Compile(rule.Definition.Expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	rule.Compiled = prog
	return prog, nil
}

// EvaluateExpressionRule runs a boolean expression over record, old and
// action. A true result is a violation.
func EvaluateExpressionRule(rule *metadata.Rule, env map[string]any) *ErrorDetail {
	prog, err := program(rule, expr.AsBool())
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: err.Error()}
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}
	if violated, _ := result.(bool); !violated {
		return nil
	}
	msg := rule.Definition.Message
	if msg == "" {
		msg = "Expression rule violated"
	}
	return &ErrorDetail{Rule: "expression", Message: msg}
}

// EvaluateComputedField returns the value of a computed field rule.
func EvaluateComputedField(rule *metadata.Rule, env map[string]any) (any, error) {
	prog, err := program(rule)
	if err != nil {
		return nil, err
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate computed field %s: %w", rule.Definition.Field, err)
	}
	return result, nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
