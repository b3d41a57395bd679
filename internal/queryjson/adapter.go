// Package queryjson adapts the segment editor's wire JSON format into
// query IR trees.
//
// The wire format is a nested logical expression:
//
//	{
//	  "type": "all" | "any",
//	  "statements": [
//	    {"type": "Attribute", "key": ..., "comparisonType": ..., "valueType": ..., "value": ...},
//	    {"type": "Event", "eventName": ..., "comparisonType": ..., "value": ..., "payload": {...}},
//	    <nested logical>
//	  ]
//	}
//
// or wrapped in a journey inclusion-criteria envelope:
//
//	{"inclusionCriteria": {"query": <above>}}
//
// Unknown statement types, operator strings, and value types are
// rejected at adaptation time.
package queryjson

import (
	"encoding/json"
	"fmt"

	"github.com/waypointhq/waypoint/internal/query"
)

// envelope is the optional journey inclusion-criteria wrapper.
type envelope struct {
	InclusionCriteria *struct {
		Query json.RawMessage `json:"query"`
	} `json:"inclusionCriteria"`
}

// node is the raw shape of one wire statement. Logical nodes use Type
// "all"/"any" plus Statements; leaf nodes use Type "Attribute"/"Event".
type node struct {
	Type           string            `json:"type"`
	Statements     []json.RawMessage `json:"statements"`
	Key            string            `json:"key"`
	ComparisonType string            `json:"comparisonType"`
	ValueType      string            `json:"valueType"`
	Value          json.RawMessage   `json:"value"`
	EventName      string            `json:"eventName"`
	Payload        map[string]string `json:"payload"`
}

// ToQuery converts a wire JSON payload into an IR expression tree bound
// to the given context. The payload may be a bare logical expression or
// an inclusion-criteria envelope.
func ToQuery(payload []byte, ctx query.Context) (*query.Query, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("query payload: %w", err)
	}
	if env.InclusionCriteria != nil {
		payload = env.InclusionCriteria.Query
		if len(payload) == 0 {
			return nil, fmt.Errorf("query payload: inclusionCriteria has no query")
		}
	}

	expr, err := toExpr(payload)
	if err != nil {
		return nil, err
	}

	return &query.Query{Expr: expr, Context: ctx}, nil
}

// toExpr converts one wire node (logical or leaf) into an IR expression.
func toExpr(raw json.RawMessage) (query.Expr, error) {
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("query statement: %w", err)
	}

	switch n.Type {
	case "all", "any":
		op := query.And
		if n.Type == "any" {
			op = query.Or
		}
		logical := &query.Logical{Op: op}
		for i, stmt := range n.Statements {
			child, err := toExpr(stmt)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			logical.Children = append(logical.Children, child)
		}
		return logical, nil

	case "Attribute":
		return attributeExpr(n)

	case "Event":
		return eventExpr(n)

	default:
		return nil, fmt.Errorf("query statement: unknown type %q", n.Type)
	}
}

func attributeExpr(n node) (query.Expr, error) {
	op, err := query.MapOperator(n.ComparisonType)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", n.Key, err)
	}

	if op.Unary() {
		return &query.Unary{
			Op:   op,
			Attr: query.AttributeRef{Key: n.Key},
		}, nil
	}

	kind, err := query.MapValueKind(n.ValueType)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", n.Key, err)
	}

	val, err := toValue(op, n.Value)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", n.Key, err)
	}

	return &query.Binary{
		Subject: query.AttributeRef{Key: n.Key, Kind: kind},
		Op:      op,
		Value:   val,
	}, nil
}

func eventExpr(n node) (query.Expr, error) {
	op, err := query.MapOperator(n.ComparisonType)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", n.EventName, err)
	}
	if !op.EventOperator() {
		return nil, fmt.Errorf("event %q: operator %q is not an event operator", n.EventName, n.ComparisonType)
	}

	val, err := toValue(op, n.Value)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", n.EventName, err)
	}
	if val.IsZero() {
		// Threshold defaults to one occurrence.
		val = query.Value{Single: "1"}
	}

	return &query.Binary{
		Subject: query.EventRef{Name: n.EventName, Payload: n.Payload},
		Op:      op,
		Value:   val,
	}, nil
}

// toValue decodes a wire value into a Value leaf. Between operators take
// a two-element array; everything else takes a scalar.
func toValue(op query.Operator, raw json.RawMessage) (query.Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return query.Value{}, nil
	}

	if op == query.OpBetween {
		var bounds [2]string
		if err := json.Unmarshal(raw, &bounds); err != nil {
			return query.Value{}, fmt.Errorf("between value must be a two-element array: %w", err)
		}
		return query.Value{Range: &bounds}, nil
	}

	// Scalar: accept string, number, or boolean and keep the textual form.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return query.Value{Single: s}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return query.Value{}, fmt.Errorf("unsupported value %s: %w", raw, err)
	}
	switch tv := v.(type) {
	case float64, bool:
		return query.Value{Single: fmt.Sprintf("%v", tv)}, nil
	default:
		return query.Value{}, fmt.Errorf("unsupported value %s", raw)
	}
}
