package query

import (
	"errors"
	"fmt"
)

// Operator is a normalized comparison operator.
type Operator string

const (
	OpEquals       Operator = "EQUALS"
	OpNotEquals    Operator = "NOT_EQUALS"
	OpGreaterThan  Operator = "GREATER_THAN"
	OpLessThan     Operator = "LESS_THAN"
	OpContains     Operator = "CONTAINS"
	OpNotContains  Operator = "NOT_CONTAINS"
	OpExists       Operator = "EXISTS"
	OpNotExists    Operator = "NOT_EXISTS"
	OpAfter        Operator = "AFTER"
	OpBefore       Operator = "BEFORE"
	OpBetween      Operator = "BETWEEN"
	OpHasPerformed Operator = "HAS_PERFORMED"

	// OpHasNotPerformed is declared for wire compatibility but has no
	// SQL compilation: whether it means "count == 0" or "no matching
	// event ever" is an unresolved product question. The SQL backend
	// rejects it with a typed error instead of guessing.
	OpHasNotPerformed Operator = "HAS_NOT_PERFORMED"
)

// operatorStrings maps the human operator strings used by the segment
// editor to normalized operators. The mapping is exhaustive: any string
// outside it is an UnknownOperatorError, never a silent default.
var operatorStrings = map[string]Operator{
	"is equal to":       OpEquals,
	"is not equal to":   OpNotEquals,
	"is greater than":   OpGreaterThan,
	"is less than":      OpLessThan,
	"contains":          OpContains,
	"does not contain":  OpNotContains,
	"exist":             OpExists,
	"does not exist":    OpNotExists,
	"after":             OpAfter,
	"before":            OpBefore,
	"between":           OpBetween,
	"has performed":     OpHasPerformed,
	"has not performed": OpHasNotPerformed,
}

// OperatorStrings returns the documented human operator strings.
// Used by tests to verify mapping coverage.
func OperatorStrings() []string {
	out := make([]string, 0, len(operatorStrings))
	for s := range operatorStrings {
		out = append(out, s)
	}
	return out
}

// UnknownOperatorError reports an operator string outside the documented
// mapping table.
type UnknownOperatorError struct {
	Raw string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator kind %q", e.Raw)
}

// IsUnknownOperator reports whether err is an UnknownOperatorError.
// Uses errors.As to handle wrapped errors.
func IsUnknownOperator(err error) bool {
	var ue *UnknownOperatorError
	return errors.As(err, &ue)
}

// MapOperator converts a human operator string to its normalized form.
func MapOperator(raw string) (Operator, error) {
	op, ok := operatorStrings[raw]
	if !ok {
		return "", &UnknownOperatorError{Raw: raw}
	}
	return op, nil
}

// Unary reports whether the operator takes no right-hand value
// (key presence tests).
func (o Operator) Unary() bool {
	return o == OpExists || o == OpNotExists
}

// EventOperator reports whether the operator applies to event subjects.
func (o Operator) EventOperator() bool {
	return o == OpHasPerformed || o == OpHasNotPerformed
}
