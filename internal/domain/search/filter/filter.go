// Package filter compiles loosely-typed filter objects into a normalized
// predicate set validated against the entry schema allow-list.
package filter

import (
	"fmt"
	"sort"
)

// MaxConditions is the maximum number of compiled conditions per filter.
const MaxConditions = 16

// Op is a compiled filter operator.
type Op string

const (
	// OpEq matches entries whose field equals a single scalar.
	OpEq Op = "eq"
	// OpIn matches entries whose field equals any of a set of scalars.
	OpIn Op = "in"
)

// Condition is a single compiled predicate: (field, operator, values).
// OpEq carries exactly one value, OpIn carries one or more.
type Condition struct {
	field  string
	op     Op
	values []any
}

// Field returns the entry field name.
func (c Condition) Field() string { return c.field }

// Operator returns the compiled operator.
func (c Condition) Operator() Op { return c.op }

// Values returns the normalized scalar values.
func (c Condition) Values() []any { return c.values }

// Filter is an ordered set of compiled conditions. Conditions are sorted by
// field name so that semantically identical raw filters compile identically.
type Filter struct {
	conds []Condition
}

// Conditions returns the compiled conditions in field order.
func (f Filter) Conditions() []Condition { return f.conds }

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool { return len(f.conds) == 0 }

// Compile validates and normalizes a raw filter mapping. Scalars compile to
// eq, homogeneous sequences to in. Fields outside the allow-list, empty
// values, and mixed-type sequences are rejected.
func Compile(raw map[string]any, allowed []string) (Filter, error) {
	if len(raw) == 0 {
		return Filter{}, nil
	}
	if len(raw) > MaxConditions {
		return Filter{}, fmt.Errorf("too many filter fields (max %d)", MaxConditions)
	}

	allowSet := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		allowSet[f] = struct{}{}
	}

	fields := make([]string, 0, len(raw))
	for f := range raw {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	conds := make([]Condition, 0, len(fields))
	for _, f := range fields {
		if _, ok := allowSet[f]; !ok {
			return Filter{}, fmt.Errorf("unknown filter field %q", f)
		}

		cond, err := compileCondition(f, raw[f])
		if err != nil {
			return Filter{}, err
		}
		conds = append(conds, cond)
	}

	return Filter{conds: conds}, nil
}

func compileCondition(field string, value any) (Condition, error) {
	seq, ok := value.([]any)
	if !ok {
		v, err := normalizeScalar(field, value)
		if err != nil {
			return Condition{}, err
		}
		return Condition{field: field, op: OpEq, values: []any{v}}, nil
	}

	if len(seq) == 0 {
		return Condition{}, fmt.Errorf("empty value list for filter field %q", field)
	}

	values := make([]any, len(seq))
	for i, raw := range seq {
		v, err := normalizeScalar(field, raw)
		if err != nil {
			return Condition{}, err
		}
		if i > 0 && !sameKind(values[0], v) {
			return Condition{}, fmt.Errorf("mixed value types in filter field %q", field)
		}
		values[i] = v
	}

	return Condition{field: field, op: OpIn, values: values}, nil
}

// normalizeScalar coerces numeric types to float64 so that equivalent raw
// filters produce identical compiled values regardless of decoder.
func normalizeScalar(field string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("empty value for filter field %q", field)
		}
		return v, nil
	case bool:
		return v, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return nil, fmt.Errorf("null value for filter field %q", field)
	default:
		return nil, fmt.Errorf("unsupported value type %T for filter field %q", value, field)
	}
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case float64:
		_, ok := b.(float64)
		return ok
	}
	return false
}
