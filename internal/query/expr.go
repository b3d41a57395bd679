package query

// Expr is a node in a segmentation expression tree.
//
// This is a sealed interface - only types in this package implement it.
//
// Expr types:
//   - Logical: AND/OR over child expressions
//   - Unary: exists/not-exists test on an attribute
//   - Binary: attribute or event compared to a value via an operator
type Expr interface {
	exprNode()
}

// LogicalOp joins the children of a Logical expression.
type LogicalOp string

const (
	And LogicalOp = "AND"
	Or  LogicalOp = "OR"
)

// Logical is a conjunction or disjunction of child expressions.
//
// An empty Logical (no children) selects all customers in the workspace.
// This is the neutral element for this system's usage: AND-of-nothing
// and OR-of-nothing both widen to the whole workspace.
type Logical struct {
	Op       LogicalOp
	Children []Expr
}

func (*Logical) exprNode() {}

// Unary is a key-presence test on a customer attribute.
// Op is OpExists or OpNotExists.
type Unary struct {
	Op   Operator
	Attr AttributeRef
}

func (*Unary) exprNode() {}

// Binary compares a subject (attribute or event) to a value.
//
// INVARIANT: the right-hand side is always a Value leaf. The adapters
// construct Binary nodes only in this shape; the resolver re-checks it.
type Binary struct {
	Subject Subject
	Op      Operator
	Value   Value
}

func (*Binary) exprNode() {}

// Subject is the left-hand side of a Binary expression.
//
// This is a sealed interface - only AttributeRef and EventRef implement
// it, enabling exhaustive type switches in the SQL backend.
type Subject interface {
	subjectNode()
}

// AttributeRef names a customer attribute and its value kind. The kind
// selects the SQL cast applied to the JSONB accessor.
type AttributeRef struct {
	Key  string
	Kind ValueKind
}

func (AttributeRef) subjectNode() {}

// EventRef names a tracked event. Payload carries optional equality
// filters on the event payload, applied alongside the name match.
type EventRef struct {
	Name    string
	Payload map[string]string
}

func (EventRef) subjectNode() {}

// Value is the literal right-hand side of a comparison. Single holds the
// textual form of scalar values; Range holds the two bounds of a between
// comparison. Exactly one is meaningful for a given operator.
type Value struct {
	Single string
	Range  *[2]string
}

// IsZero reports whether the value is unbound.
func (v Value) IsZero() bool {
	return v.Single == "" && v.Range == nil
}
