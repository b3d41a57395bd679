package query

import (
	"errors"
	"fmt"
)

// Context keys substituted into generated SQL.
const (
	CtxWorkspaceID = "workspace_id"
	CtxJourneyID   = "journey_id"
	CtxStepID      = "step_id"
	CtxCustomerID  = "customer_id"
)

// Context carries the identifiers a query is scoped to. Every compiled
// statement is scoped by workspace_id; insert-shaped statements also
// require journey_id and step_id; customer_id narrows evaluation to a
// single customer (multisplit branch checks).
type Context map[string]string

// WorkspaceID returns the workspace scope, or "".
func (c Context) WorkspaceID() string { return c[CtxWorkspaceID] }

// JourneyID returns the journey scope, or "".
func (c Context) JourneyID() string { return c[CtxJourneyID] }

// StepID returns the step scope, or "".
func (c Context) StepID() string { return c[CtxStepID] }

// CustomerID returns the single-customer scope, or "".
func (c Context) CustomerID() string { return c[CtxCustomerID] }

// Shape selects the outer SQL form wrapped around the compiled boolean
// predicate. The predicate itself is identical across shapes.
type Shape int

const (
	// ShapeSelect returns matching customer ids.
	ShapeSelect Shape = iota
	// ShapeCount returns the number of matching customers.
	ShapeCount
	// ShapeInsertLocations writes one locked journey location row per
	// matching customer (bulk enrollment).
	ShapeInsertLocations
)

// Query is a complete segmentation query: an expression tree plus the
// context and result shaping it compiles under.
type Query struct {
	Expr    Expr
	Context Context
	Shape   Shape

	// Ordering and pagination for ShapeSelect. OrderBy defaults to
	// "id ASC" when empty; Limit/Offset are appended only when set.
	OrderBy string
	Limit   int
	Offset  int
}

// IncompleteError reports an expression tree with an unbound leaf.
// Compiling an incomplete query would emit a partial WHERE clause, so
// completeness is checked before any SQL is generated.
type IncompleteError struct {
	Reason string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("incomplete query expression: %s", e.Reason)
}

// IsIncomplete reports whether err is an IncompleteError.
func IsIncomplete(err error) bool {
	var ie *IncompleteError
	return errors.As(err, &ie)
}

// Complete checks recursively that every leaf of the expression tree is
// bound. A nil expression and an empty Logical are complete (they select
// the whole workspace).
func Complete(e Expr) error {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *Logical:
		if n.Op != And && n.Op != Or {
			return &IncompleteError{Reason: fmt.Sprintf("logical operator %q is not AND or OR", n.Op)}
		}
		for _, child := range n.Children {
			if child == nil {
				return &IncompleteError{Reason: "nil child expression"}
			}
			if err := Complete(child); err != nil {
				return err
			}
		}
		return nil
	case *Unary:
		if n.Attr.Key == "" {
			return &IncompleteError{Reason: "unary expression without attribute key"}
		}
		if !n.Op.Unary() {
			return &IncompleteError{Reason: fmt.Sprintf("unary expression with operator %s", n.Op)}
		}
		return nil
	case *Binary:
		switch subj := n.Subject.(type) {
		case AttributeRef:
			if subj.Key == "" {
				return &IncompleteError{Reason: "attribute expression without key"}
			}
		case EventRef:
			if subj.Name == "" {
				return &IncompleteError{Reason: "event expression without event name"}
			}
		default:
			return &IncompleteError{Reason: fmt.Sprintf("binary expression with subject %T", n.Subject)}
		}
		if n.Op == "" {
			return &IncompleteError{Reason: "binary expression without operator"}
		}
		if n.Op == OpBetween {
			if n.Value.Range == nil {
				return &IncompleteError{Reason: "between expression without range"}
			}
			return nil
		}
		if n.Value.IsZero() {
			return &IncompleteError{Reason: "binary expression without value"}
		}
		return nil
	default:
		return &IncompleteError{Reason: fmt.Sprintf("unknown expression type %T", e)}
	}
}
