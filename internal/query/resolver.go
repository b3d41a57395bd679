package query

import (
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Resolved is a query whose leaves have been bound and classified. It is
// the only input the SQL backend accepts: resolution is the gate that
// guarantees completeness, normalized attribute keys, and the documented
// operator/kind sets before any SQL is generated.
type Resolved struct {
	Query *Query

	// Attributes is the distinct set of customer attributes the
	// expression references, sorted by key.
	Attributes []AttributeRef

	// Events is the distinct set of event names referenced, sorted.
	Events []string
}

// Resolve validates and binds a query's expression tree.
//
// Resolution:
//   - checks recursive completeness (every leaf bound)
//   - NFC-normalizes attribute keys so visually identical keys entered
//     through different editors compare equal in generated SQL
//   - verifies every operator/subject pairing is legal
//   - aggregates the distinct attribute and event sets for diagnostics
//     and for the segment editor's reverse lookup
//
// Resolve mutates the query tree in place (key normalization) and
// returns the Resolved wrapper the SQL backend requires.
func Resolve(q *Query) (*Resolved, error) {
	if q == nil {
		return nil, fmt.Errorf("resolve: nil query")
	}
	if err := Complete(q.Expr); err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}

	r := &resolver{
		attrs:  make(map[string]AttributeRef),
		events: make(map[string]bool),
	}
	if err := r.walk(q.Expr); err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}

	resolved := &Resolved{Query: q}
	for _, a := range r.attrs {
		resolved.Attributes = append(resolved.Attributes, a)
	}
	sort.Slice(resolved.Attributes, func(i, j int) bool {
		return resolved.Attributes[i].Key < resolved.Attributes[j].Key
	})
	for e := range r.events {
		resolved.Events = append(resolved.Events, e)
	}
	sort.Strings(resolved.Events)

	return resolved, nil
}

type resolver struct {
	attrs  map[string]AttributeRef
	events map[string]bool
}

func (r *resolver) walk(e Expr) error {
	switch n := e.(type) {
	case nil:
		return nil
	case *Logical:
		for _, child := range n.Children {
			if err := r.walk(child); err != nil {
				return err
			}
		}
		return nil
	case *Unary:
		n.Attr.Key = norm.NFC.String(n.Attr.Key)
		r.bindAttr(n.Attr)
		return nil
	case *Binary:
		switch subj := n.Subject.(type) {
		case AttributeRef:
			if n.Op.EventOperator() {
				return fmt.Errorf("operator %s applied to attribute %q", n.Op, subj.Key)
			}
			if !valueKinds[subj.Kind] {
				return &UnknownValueKindError{Raw: string(subj.Kind)}
			}
			subj.Key = norm.NFC.String(subj.Key)
			n.Subject = subj
			r.bindAttr(subj)
			return nil
		case EventRef:
			if !n.Op.EventOperator() {
				return fmt.Errorf("operator %s applied to event %q", n.Op, subj.Name)
			}
			r.events[subj.Name] = true
			return nil
		default:
			return fmt.Errorf("unknown subject type %T", n.Subject)
		}
	default:
		return fmt.Errorf("unknown expression type %T", e)
	}
}

func (r *resolver) bindAttr(a AttributeRef) {
	if existing, ok := r.attrs[a.Key]; ok {
		// First classification wins; a later conflicting kind for the
		// same key keeps the original (the editor prevents this).
		_ = existing
		return
	}
	r.attrs[a.Key] = a
}
