// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package socrata

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sapcc/tabularium/internal/core"
)

// Operator enumerates the comparison operators understood by the SoQL query
// builder.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpIn             Operator = "IN"
	OpNotIn          Operator = "NOT IN"
	OpLike           Operator = "LIKE"
	OpILike          Operator = "ILIKE"
	OpIsNull         Operator = "IS NULL"
	OpIsNotNull      Operator = "IS NOT NULL"
	OpBetween        Operator = "BETWEEN"
)

// Predicate is a single condition in the WHERE part of a Query.
type Predicate struct {
	Field string
	Op    Operator
	// Value is ignored for OpIsNull and OpIsNotNull. For OpIn and OpNotIn it
	// must be a slice, for OpBetween a slice of exactly two elements.
	Value any
}

// Query describes a SoQL query in structured form. Build renders it into
// request parameters.
type Query struct {
	Select  []string
	Where   []Predicate
	Order   string
	Group   []string
	Limit   uint64
	Offset  uint64
	// Extra carries additional query parameters verbatim. Only keys starting
	// with "$" are accepted.
	Extra map[string]string
}

// Build renders q into URL query parameters. All field identifiers are
// checked against the allowed list; a nil list disables the check for
// callers that already validated their input.
func Build(q Query, allowed []string) (url.Values, error) {
	checkField := func(clause, field string) error {
		if allowed != nil && !slices.Contains(allowed, field) {
			return core.Classifyf(core.ErrClassConfig, "Unknown field in %s: %s", clause, field)
		}
		return nil
	}

	values := make(url.Values)

	if len(q.Select) > 0 {
		for _, field := range q.Select {
			err := checkField("select", field)
			if err != nil {
				return nil, err
			}
		}
		values.Set("$select", strings.Join(q.Select, ", "))
	}

	if len(q.Where) > 0 {
		conditions := make([]string, len(q.Where))
		for idx, pred := range q.Where {
			err := checkField("where", pred.Field)
			if err != nil {
				return nil, err
			}
			cond, err := renderPredicate(pred)
			if err != nil {
				return nil, err
			}
			conditions[idx] = cond
		}
		values.Set("$where", strings.Join(conditions, " AND "))
	}

	if q.Order != "" {
		field, _, _ := strings.Cut(q.Order, " ")
		err := checkField("order", field)
		if err != nil {
			return nil, err
		}
		values.Set("$order", q.Order)
	}

	if len(q.Group) > 0 {
		for _, field := range q.Group {
			err := checkField("group", field)
			if err != nil {
				return nil, err
			}
		}
		values.Set("$group", strings.Join(q.Group, ", "))
	}

	if q.Limit > 0 {
		values.Set("$limit", strconv.FormatUint(q.Limit, 10))
	}
	if q.Offset > 0 {
		values.Set("$offset", strconv.FormatUint(q.Offset, 10))
	}

	for key, value := range q.Extra {
		if !strings.HasPrefix(key, "$") {
			return nil, core.Classifyf(core.ErrClassConfig, "invalid extra query parameter %q: only $-prefixed parameters are allowed", key)
		}
		values.Set(key, value)
	}

	return values, nil
}

func renderPredicate(pred Predicate) (string, error) {
	switch pred.Op {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", pred.Field, pred.Op), nil
	case OpIn, OpNotIn:
		items, ok := pred.Value.([]any)
		if !ok {
			return "", core.Classifyf(core.ErrClassConfig, "operator %s on field %s requires a list value", pred.Op, pred.Field)
		}
		rendered := make([]string, len(items))
		for idx, item := range items {
			lit, err := renderLiteral(pred.Field, item)
			if err != nil {
				return "", err
			}
			rendered[idx] = lit
		}
		return fmt.Sprintf("%s %s (%s)", pred.Field, pred.Op, strings.Join(rendered, ", ")), nil
	case OpBetween:
		bounds, ok := pred.Value.([]any)
		if !ok || len(bounds) != 2 {
			return "", core.Classifyf(core.ErrClassConfig, "operator BETWEEN on field %s requires exactly two bound values", pred.Field)
		}
		lower, err := renderLiteral(pred.Field, bounds[0])
		if err != nil {
			return "", err
		}
		upper, err := renderLiteral(pred.Field, bounds[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", pred.Field, lower, upper), nil
	case OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpLike, OpILike:
		lit, err := renderLiteral(pred.Field, pred.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", pred.Field, pred.Op, lit), nil
	default:
		return "", core.Classifyf(core.ErrClassConfig, "unknown operator %q on field %s", string(pred.Op), pred.Field)
	}
}

// renderLiteral converts a Go value into its SoQL literal form. Strings are
// single-quoted with embedded quotes doubled, so crafted values cannot break
// out of the literal.
func renderLiteral(field string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", core.Classifyf(core.ErrClassConfig, "non-finite number in condition on field %s", field)
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return "'" + v.UTC().Format("2006-01-02T15:04:05") + "'", nil
	case nil:
		return "", core.Classifyf(core.ErrClassConfig, "nil value in condition on field %s (use IS NULL instead)", field)
	default:
		return "", core.Classifyf(core.ErrClassConfig, "unsupported value type %T in condition on field %s", value, field)
	}
}
