// Package query holds the store-neutral query description handed to store
// collaborators. It never renders a query language: stores translate a Query
// into whatever their backend executes.
package query

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSort is returned for malformed sort specifications or unknown sort fields.
	ErrInvalidSort = errors.New("invalid sort specification")

	// ErrInvalidPredicate is returned when a predicate references an unknown field
	// or uses an operator with an incompatible value.
	ErrInvalidPredicate = errors.New("invalid predicate")
)

// Operator is a comparison applied by a Condition.
type Operator string

// Supported operators
const (
	OpEq    Operator = "="
	OpNotEq Operator = "<>"
	OpLt    Operator = "<"
	OpLte   Operator = "<="
	OpGt    Operator = ">"
	OpGte   Operator = ">="
	OpIn    Operator = "IN"
)

// Condition compares one column against a value.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

// Eq matches rows whose field equals value.
func Eq(field string, value any) Condition { return Condition{Field: field, Op: OpEq, Value: value} }

// NotEq matches rows whose field differs from value.
func NotEq(field string, value any) Condition {
	return Condition{Field: field, Op: OpNotEq, Value: value}
}

// Lt matches rows whose field is lower than value.
func Lt(field string, value any) Condition { return Condition{Field: field, Op: OpLt, Value: value} }

// Lte matches rows whose field is lower than or equal to value.
func Lte(field string, value any) Condition { return Condition{Field: field, Op: OpLte, Value: value} }

// Gt matches rows whose field is greater than value.
func Gt(field string, value any) Condition { return Condition{Field: field, Op: OpGt, Value: value} }

// Gte matches rows whose field is greater than or equal to value.
func Gte(field string, value any) Condition { return Condition{Field: field, Op: OpGte, Value: value} }

// In matches rows whose field equals any of values. An empty list matches nothing.
func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

// Predicate is a conjunction of conditions. The empty predicate matches every row.
type Predicate []Condition

// Where builds a predicate from conditions.
func Where(conds ...Condition) Predicate {
	return Predicate(conds)
}

// And returns a new predicate with conds appended.
func (p Predicate) And(conds ...Condition) Predicate {
	out := make(Predicate, 0, len(p)+len(conds))
	out = append(out, p...)
	return append(out, conds...)
}

// Fields returns the field names referenced by the predicate.
func (p Predicate) Fields() []string {
	fields := make([]string, len(p))
	for i, c := range p {
		fields[i] = c.Field
	}
	return fields
}

// Validate checks operator/value compatibility.
func (p Predicate) Validate() error {
	for _, c := range p {
		switch c.Op {
		case OpEq, OpNotEq, OpLt, OpLte, OpGt, OpGte:
		case OpIn:
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("%w: IN on %q requires a value list", ErrInvalidPredicate, c.Field)
			}
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidPredicate, c.Op)
		}
	}
	return nil
}

// Order sorts by one field.
type Order struct {
	Field string
	Desc  bool
}

// String renders the order as "field asc|desc".
func (o Order) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field + " asc"
}

// ParseSort parses "field [asc|desc][, field [asc|desc]]...". Field names are
// not checked here; the caller validates them against the entity model.
// The empty string yields no ordering.
func ParseSort(spec string) ([]Order, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var orders []Order
	for _, part := range strings.Split(spec, ",") {
		tokens := strings.Fields(part)
		switch len(tokens) {
		case 1:
			orders = append(orders, Order{Field: tokens[0]})
		case 2:
			switch strings.ToLower(tokens[1]) {
			case "asc", "ascending":
				orders = append(orders, Order{Field: tokens[0]})
			case "desc", "descending":
				orders = append(orders, Order{Field: tokens[0], Desc: true})
			default:
				return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidSort, tokens[1])
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidSort, strings.TrimSpace(part))
		}
	}
	return orders, nil
}

// Query is what a store executes: filter, order, then skip/take.
type Query struct {
	Where   Predicate
	OrderBy []Order

	// Offset skips that many rows; Limit caps the result when positive.
	Offset int
	Limit  int
}
