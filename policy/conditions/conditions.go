// Package conditions provides an attribute-condition policy. A rule carries
// its conditions as the install parameter and every condition must hold for
// the request to pass.
//
// Fields address the request attributes with dotted paths:
//
//	account, ledger
//	context.kind, context.contract, context.function, context.wasm_hash
//	context.args.<n>
//	rule.id, rule.name, rule.type
//	signers, signers.<n>
//
// A spending limit on a token transfer, for instance, is
//
//	{Field: "context.args.2", Operator: conditions.OpLTE, Value: 1000}
package conditions

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/internal/codec"
	"github.com/xraph/latch/policy"
	"github.com/xraph/latch/rule"
)

// Operator is a comparison operator for conditions.
type Operator string

const (
	OpEquals     Operator = "eq"
	OpNotEquals  Operator = "neq"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpGT         Operator = "gt"
	OpLT         Operator = "lt"
	OpGTE        Operator = "gte"
	OpLTE        Operator = "lte"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
	OpRegex      Operator = "regex"
)

// Condition is a single attribute predicate.
type Condition struct {
	Field    string   `cbor:"field"`
	Operator Operator `cbor:"op"`
	Value    any      `cbor:"value,omitempty"`
}

// Encode builds the install parameter for a list of conditions.
func Encode(conds ...Condition) ([]byte, error) {
	return codec.Marshal(conds)
}

// Decode parses an install parameter.
func Decode(param []byte) ([]Condition, error) {
	var conds []Condition
	if err := codec.Unmarshal(param, &conds); err != nil {
		return nil, fmt.Errorf("%w: %v", policy.ErrInvalidParam, err)
	}
	return conds, nil
}

var (
	_ policy.Policy    = (*Policy)(nil)
	_ policy.Installer = (*Policy)(nil)
)

// Policy evaluates attribute conditions.
type Policy struct{}

// New returns a conditions policy.
func New() *Policy { return &Policy{} }

// Install rejects parameters that could never evaluate: unknown operators,
// empty fields, or regexes that do not compile.
func (p *Policy) Install(_ context.Context, _ id.AccountID, _ *rule.Rule, param []byte) error {
	conds, err := Decode(param)
	if err != nil {
		return err
	}
	if len(conds) == 0 {
		return fmt.Errorf("%w: no conditions", policy.ErrInvalidParam)
	}
	for i, c := range conds {
		if c.Field == "" {
			return fmt.Errorf("%w: condition %d has no field", policy.ErrInvalidParam, i)
		}
		if !knownOperator(c.Operator) {
			return fmt.Errorf("%w: condition %d: unknown operator %q", policy.ErrInvalidParam, i, c.Operator)
		}
		if c.Operator == OpRegex {
			if _, err := regexp.Compile(fmt.Sprint(c.Value)); err != nil {
				return fmt.Errorf("%w: condition %d: %v", policy.ErrInvalidParam, i, err)
			}
		}
	}
	return nil
}

// Check implements policy.Policy.
func (p *Policy) Check(_ context.Context, req *policy.Request, param []byte) error {
	conds, err := Decode(param)
	if err != nil {
		return err
	}
	attrs := req.Attributes()
	for _, c := range conds {
		ok, err := evaluate(c.Operator, resolveField(attrs, c.Field), c.Value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s %v", policy.ErrDenied, c.Field, c.Operator, c.Value)
		}
	}
	return nil
}

func knownOperator(op Operator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains, OpStartsWith, OpEndsWith,
		OpGT, OpLT, OpGTE, OpLTE, OpExists, OpNotExists, OpRegex:
		return true
	}
	return false
}

// resolveField walks a dotted path through nested maps and slices.
func resolveField(attrs map[string]any, field string) any {
	var cur any = attrs
	for _, part := range strings.Split(field, ".") {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[part]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		default:
			return nil
		}
	}
	return cur
}

func evaluate(op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpEquals:
		return fmt.Sprint(actual) == fmt.Sprint(expected), nil
	case OpNotEquals:
		return fmt.Sprint(actual) != fmt.Sprint(expected), nil
	case OpIn:
		return inSlice(actual, expected), nil
	case OpNotIn:
		return !inSlice(actual, expected), nil
	case OpContains:
		if list, ok := actual.([]any); ok {
			return inSlice(expected, list), nil
		}
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(expected)), nil
	case OpStartsWith:
		return strings.HasPrefix(fmt.Sprint(actual), fmt.Sprint(expected)), nil
	case OpEndsWith:
		return strings.HasSuffix(fmt.Sprint(actual), fmt.Sprint(expected)), nil
	case OpGT, OpLT, OpGTE, OpLTE:
		a, okA := toFloat64(actual)
		b, okB := toFloat64(expected)
		if !okA || !okB {
			return false, nil
		}
		switch op {
		case OpGT:
			return a > b, nil
		case OpLT:
			return a < b, nil
		case OpGTE:
			return a >= b, nil
		default:
			return a <= b, nil
		}
	case OpExists:
		return actual != nil, nil
	case OpNotExists:
		return actual == nil, nil
	case OpRegex:
		re, err := regexp.Compile(fmt.Sprint(expected))
		if err != nil {
			return false, fmt.Errorf("%w: invalid regex %q: %v", policy.ErrInvalidParam, expected, err)
		}
		return re.MatchString(fmt.Sprint(actual)), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", policy.ErrInvalidParam, op)
	}
}

func inSlice(actual, expected any) bool {
	s := fmt.Sprint(actual)
	switch v := expected.(type) {
	case []string:
		for _, item := range v {
			if item == s {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if fmt.Sprint(item) == s {
				return true
			}
		}
	}
	return false
}

// toFloat64 reports false for non-numeric values so that a missing argument
// never satisfies a numeric bound.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
