package query

import (
	"errors"
	"fmt"
)

// ValueKind classifies a customer attribute's value type. The kind
// determines the SQL cast applied when comparing the attribute.
type ValueKind string

const (
	KindString   ValueKind = "String"
	KindEmail    ValueKind = "Email"
	KindNumber   ValueKind = "Number"
	KindBoolean  ValueKind = "Boolean"
	KindDate     ValueKind = "Date"
	KindDateTime ValueKind = "DateTime"
	KindArray    ValueKind = "Array"
	KindObject   ValueKind = "Object"
)

// valueKinds is the exhaustive set of attribute value kinds.
var valueKinds = map[ValueKind]bool{
	KindString:   true,
	KindEmail:    true,
	KindNumber:   true,
	KindBoolean:  true,
	KindDate:     true,
	KindDateTime: true,
	KindArray:    true,
	KindObject:   true,
}

// UnknownValueKindError reports a value-type string outside the
// documented kind set.
type UnknownValueKindError struct {
	Raw string
}

func (e *UnknownValueKindError) Error() string {
	return fmt.Sprintf("unknown attribute value kind %q", e.Raw)
}

// IsUnknownValueKind reports whether err is an UnknownValueKindError.
func IsUnknownValueKind(err error) bool {
	var ue *UnknownValueKindError
	return errors.As(err, &ue)
}

// MapValueKind converts a wire value-type string to a ValueKind.
// Fails loudly on anything outside the documented set.
func MapValueKind(raw string) (ValueKind, error) {
	k := ValueKind(raw)
	if !valueKinds[k] {
		return "", &UnknownValueKindError{Raw: raw}
	}
	return k, nil
}
