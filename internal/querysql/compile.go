// Package querysql compiles resolved query IR into SQL.
//
// The compiled statement is the same boolean predicate under three outer
// shapes: a row-selecting query, a COUNT(*) wrapper, or an INSERT...SELECT
// into the journey_locations table used for bulk enrollment.
//
// Two dialects are supported: PostgreSQL (the wire contract, and the
// default) and SQLite for statements the embedded store executes itself.
// The dialects differ only in attribute accessors, casts, and the
// key-presence test; shapes and set composition are shared.
//
// CRITICAL: every compiled statement is scoped by workspace_id from the
// query context; compilation fails if the context lacks it. Comparison
// values are parameterized (never interpolated); context identifiers are
// interpolated as quoted literals so the statement text itself carries
// its scope.
//
// Compilation is deterministic: the same resolved query and compiler
// configuration yield byte-identical SQL, which golden tests rely on.
package querysql

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/waypointhq/waypoint/internal/query"
)

// Dialect selects the SQL flavor a compiled statement targets.
type Dialect int

const (
	// DialectPostgres is the default target and the documented wire
	// contract for compiled segment SQL.
	DialectPostgres Dialect = iota
	// DialectSQLite targets the embedded store. Statements the store
	// executes itself (multisplit checks, bulk enrollment) must use it.
	DialectSQLite
)

// Statement is a compiled SQL statement with its positional parameters.
type Statement struct {
	SQL  string
	Args []any
}

// MissingContextError reports a context key required by the requested
// shape but absent from the query context.
type MissingContextError struct {
	Key string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("query context missing required key %q", e.Key)
}

// IsMissingContext reports whether err is a MissingContextError.
func IsMissingContext(err error) bool {
	var me *MissingContextError
	return errors.As(err, &me)
}

// UnsupportedOperatorError reports an operator that has no SQL
// compilation for the subject it is applied to.
type UnsupportedOperatorError struct {
	Op     query.Operator
	Reason string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("operator %s has no SQL compilation: %s", e.Op, e.Reason)
}

// IsUnsupportedOperator reports whether err is an UnsupportedOperatorError.
func IsUnsupportedOperator(err error) bool {
	var ue *UnsupportedOperatorError
	return errors.As(err, &ue)
}

// Compiler compiles resolved queries to SQL.
type Compiler struct {
	// Now supplies the enrollment timestamps written by insert-shaped
	// statements. The zero value means wall-clock time at Compile.
	Now time.Time

	// Dialect selects the SQL flavor. The zero value is PostgreSQL;
	// statements meant for store.Query or store.CreateAndLockBulk must
	// be compiled with the store's dialect.
	Dialect Dialect
}

// Compile compiles a resolved query into a statement for its shape.
//
// Preconditions enforced here:
//   - context carries workspace_id (all shapes)
//   - context carries journey_id and step_id (insert shape)
func (c *Compiler) Compile(r *query.Resolved) (*Statement, error) {
	if r == nil || r.Query == nil {
		return nil, fmt.Errorf("compile: nil resolved query")
	}
	q := r.Query

	ws := q.Context.WorkspaceID()
	if ws == "" {
		return nil, &MissingContextError{Key: query.CtxWorkspaceID}
	}

	b := &builder{workspace: ws, dialect: c.Dialect}
	set, args, err := b.compileSet(q.Expr)
	if err != nil {
		return nil, err
	}

	var outer string
	switch q.Shape {
	case query.ShapeSelect:
		outer = c.selectShape(q, set)
	case query.ShapeCount:
		outer = c.countShape(q, set)
	case query.ShapeInsertLocations:
		outer, err = c.insertShape(q, set)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("compile: unknown shape %d", q.Shape)
	}

	sql := outer
	if len(b.ctes) > 0 {
		sql = "WITH " + strings.Join(b.ctes, ", ") + " " + outer
	}

	allArgs := append(append([]any{}, b.cteArgs...), args...)
	return &Statement{SQL: sql, Args: allArgs}, nil
}

// selectShape wraps the set in the row-returning outer query.
func (c *Compiler) selectShape(q *query.Query, set string) string {
	order := q.OrderBy
	if order == "" {
		order = "id ASC"
	}
	sql := fmt.Sprintf("SELECT id FROM (%s) AS matched ORDER BY %s", set, order)
	if q.Limit > 0 {
		sql += " LIMIT " + strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + strconv.Itoa(q.Offset)
	}
	return sql
}

// countShape wraps the set in a COUNT(*). A customer_id in context
// narrows the count to that single customer (branch-match checks).
func (c *Compiler) countShape(q *query.Query, set string) string {
	sql := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS matched", set)
	if cid := q.Context.CustomerID(); cid != "" {
		sql += " WHERE matched.id = " + quote(cid)
	}
	return sql
}

// insertShape wraps the set in the bulk-enrollment INSERT...SELECT.
// Every selected customer gets one locked journey location row, written
// set-based in the database with no per-row round trips. Customers
// already enrolled are skipped via ON CONFLICT DO NOTHING.
func (c *Compiler) insertShape(q *query.Query, set string) (string, error) {
	jid := q.Context.JourneyID()
	if jid == "" {
		return "", &MissingContextError{Key: query.CtxJourneyID}
	}
	sid := q.Context.StepID()
	if sid == "" {
		return "", &MissingContextError{Key: query.CtxStepID}
	}

	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	ms := now.UTC().UnixMilli()
	ts := now.UTC().Format(time.RFC3339)

	// The WHERE clause is load-bearing: SQLite refuses to parse
	// ON CONFLICT after a SELECT without one (the upsert grammar is
	// ambiguous otherwise), and PostgreSQL accepts it unchanged.
	return fmt.Sprintf(
		"INSERT INTO journey_locations (journey_id, customer_id, step_id, workspace_id, move_started, step_entry, journey_entry, step_entry_at, journey_entry_at) "+
			"SELECT %s, matched.id, %s, %s, %d, %d, %d, %s, %s FROM (%s) AS matched WHERE true "+
			"ON CONFLICT (journey_id, customer_id) DO NOTHING",
		quote(jid), quote(sid), quote(q.Context.WorkspaceID()),
		ms, ms, ms, quote(ts), quote(ts), set,
	), nil
}

// builder compiles the boolean predicate into a customer-id set
// expression, hoisting event predicates into named CTEs.
type builder struct {
	workspace string
	dialect   Dialect
	ctes      []string
	cteArgs   []any
	groups    int
}

// compileSet compiles an expression into a SELECT of customer ids.
// AND composes children with INTERSECT, OR with UNION. An empty logical
// expression (and a nil expression) selects the whole workspace.
func (b *builder) compileSet(e query.Expr) (string, []any, error) {
	switch n := e.(type) {
	case nil:
		return b.allCustomers(), nil, nil

	case *query.Logical:
		if len(n.Children) == 0 {
			return b.allCustomers(), nil, nil
		}
		combinator := " INTERSECT "
		if n.Op == query.Or {
			combinator = " UNION "
		}
		var parts []string
		var args []any
		for _, child := range n.Children {
			sql, childArgs, err := b.compileSet(child)
			if err != nil {
				return "", nil, err
			}
			// A compound child is wrapped in a derived table so the
			// outer INTERSECT/UNION does not re-associate it (INTERSECT
			// binds tighter than UNION).
			if lc, ok := child.(*query.Logical); ok && len(lc.Children) > 1 {
				sql = fmt.Sprintf("SELECT id FROM (%s) AS grp_%d", sql, b.groups)
				b.groups++
			}
			parts = append(parts, sql)
			args = append(args, childArgs...)
		}
		if len(parts) == 1 {
			return parts[0], args, nil
		}
		return strings.Join(parts, combinator), args, nil

	case *query.Unary:
		pred, err := existsPredicate(n, b.dialect)
		if err != nil {
			return "", nil, err
		}
		return b.customersWhere(pred), nil, nil

	case *query.Binary:
		switch subj := n.Subject.(type) {
		case query.AttributeRef:
			pred, args, err := attributePredicate(subj, n.Op, n.Value, b.dialect)
			if err != nil {
				return "", nil, err
			}
			return b.customersWhere(pred), args, nil
		case query.EventRef:
			return b.eventSet(subj, n.Op, n.Value)
		default:
			return "", nil, fmt.Errorf("compile: unknown subject type %T", n.Subject)
		}

	default:
		return "", nil, fmt.Errorf("compile: unknown expression type %T", e)
	}
}

// allCustomers is the identity set: every customer in the workspace.
func (b *builder) allCustomers() string {
	return "SELECT id FROM customers WHERE workspace_id = " + quote(b.workspace)
}

func (b *builder) customersWhere(pred string) string {
	return b.allCustomers() + " AND " + pred
}

// eventSet compiles an event predicate into a named CTE counting
// matching event rows per customer, and returns a reference to it.
func (b *builder) eventSet(ev query.EventRef, op query.Operator, val query.Value) (string, []any, error) {
	if op == query.OpHasNotPerformed {
		// Declared in the type system but deliberately uncompiled: the
		// intended semantics (count == 0 vs. never matched) are an
		// unresolved product question.
		return "", nil, &UnsupportedOperatorError{
			Op:     op,
			Reason: `"has not performed" semantics are unresolved`,
		}
	}
	if op != query.OpHasPerformed {
		return "", nil, &UnsupportedOperatorError{Op: op, Reason: "not an event operator"}
	}

	threshold, err := strconv.Atoi(val.Single)
	if err != nil || threshold < 1 {
		return "", nil, fmt.Errorf("compile: event %q threshold %q is not a positive integer", ev.Name, val.Single)
	}

	var payloadPreds strings.Builder
	var args []any
	args = append(args, ev.Name)

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		payloadPreds.WriteString(fmt.Sprintf(" AND payload->>%s = ?", quote(k)))
		args = append(args, ev.Payload[k])
	}
	args = append(args, threshold)

	name := fmt.Sprintf("perf_%d", len(b.ctes))
	cte := fmt.Sprintf(
		"%s AS (SELECT customer_id AS id FROM events WHERE workspace_id = %s AND name = ?%s GROUP BY customer_id HAVING COUNT(*) >= ?)",
		name, quote(b.workspace), payloadPreds.String(),
	)
	b.ctes = append(b.ctes, cte)
	b.cteArgs = append(b.cteArgs, args...)

	return "SELECT id FROM " + name, nil, nil
}

// existsPredicate compiles a key-presence test on the attributes
// column. PostgreSQL uses jsonb_exists (the JSONB ? operator would
// collide with parameter placeholders); SQLite uses json_type, which is
// NULL only for an absent path, so an explicit null value still counts
// as present — matching jsonb_exists.
func existsPredicate(u *query.Unary, d Dialect) (string, error) {
	switch u.Op {
	case query.OpExists:
		return keyPresence(u.Attr.Key, d), nil
	case query.OpNotExists:
		return "NOT " + keyPresence(u.Attr.Key, d), nil
	default:
		return "", &UnsupportedOperatorError{Op: u.Op, Reason: "not a presence operator"}
	}
}

func keyPresence(key string, d Dialect) string {
	if d == DialectSQLite {
		return fmt.Sprintf("json_type(attributes, %s) IS NOT NULL", quote(`$."`+key+`"`))
	}
	return fmt.Sprintf("jsonb_exists(attributes, %s)", quote(key))
}

// attributePredicate compiles one attribute comparison. The attribute
// kind selects the accessor and cast; the operator selects the
// comparison form. Values are always parameterized.
func attributePredicate(attr query.AttributeRef, op query.Operator, val query.Value, d Dialect) (string, []any, error) {
	lhs, err := accessor(attr, d)
	if err != nil {
		return "", nil, err
	}

	switch attr.Kind {
	case query.KindArray, query.KindObject:
		return jsonPredicate(lhs, attr, op, val, d)
	}

	switch op {
	case query.OpEquals:
		return lhs + " = ?", []any{castArg(attr.Kind, val.Single)}, nil
	case query.OpNotEquals:
		return lhs + " != ?", []any{castArg(attr.Kind, val.Single)}, nil
	case query.OpGreaterThan:
		return lhs + " > ?", []any{castArg(attr.Kind, val.Single)}, nil
	case query.OpLessThan:
		return lhs + " < ?", []any{castArg(attr.Kind, val.Single)}, nil
	case query.OpContains:
		return lhs + " LIKE ?", []any{"%" + val.Single + "%"}, nil
	case query.OpNotContains:
		return lhs + " NOT LIKE ?", []any{"%" + val.Single + "%"}, nil
	case query.OpAfter:
		return datePredicate(lhs, attr, ">", val, d)
	case query.OpBefore:
		return datePredicate(lhs, attr, "<", val, d)
	case query.OpBetween:
		if attr.Kind != query.KindDate && attr.Kind != query.KindDateTime {
			return "", nil, &UnsupportedOperatorError{Op: op, Reason: fmt.Sprintf("between requires a date kind, attribute %q is %s", attr.Key, attr.Kind)}
		}
		castFn := dateCastFn(attr.Kind, d)
		return fmt.Sprintf("%s BETWEEN %s AND %s", lhs, castFn, castFn),
			[]any{val.Range[0], val.Range[1]}, nil
	default:
		return "", nil, &UnsupportedOperatorError{Op: op, Reason: fmt.Sprintf("no compilation for attribute %q", attr.Key)}
	}
}

// jsonPredicate compiles comparisons on Array/Object attributes, which
// use the JSON arrow accessor instead of the text accessor. Both sides
// are normalized to the database's canonical JSON text so formatting
// differences in the payload cannot break equality.
func jsonPredicate(lhs string, attr query.AttributeRef, op query.Operator, val query.Value, d Dialect) (string, []any, error) {
	switch op {
	case query.OpEquals:
		if d == DialectSQLite {
			return lhs + " = json(?)", []any{val.Single}, nil
		}
		return lhs + " = CAST(? AS JSONB)", []any{val.Single}, nil
	case query.OpNotEquals:
		if d == DialectSQLite {
			return lhs + " != json(?)", []any{val.Single}, nil
		}
		return lhs + " != CAST(? AS JSONB)", []any{val.Single}, nil
	case query.OpContains:
		if d == DialectSQLite {
			// Array membership. json_extract unwraps a JSON-encoded
			// scalar the same way json_each.value is unwrapped.
			return "EXISTS (SELECT 1 FROM json_each(" + lhs + ") WHERE json_each.value = json_extract(?, '$'))",
				[]any{val.Single}, nil
		}
		return lhs + " @> CAST(? AS JSONB)", []any{val.Single}, nil
	default:
		return "", nil, &UnsupportedOperatorError{
			Op:     op,
			Reason: fmt.Sprintf("no compilation for %s attribute %q", attr.Kind, attr.Key),
		}
	}
}

// datePredicate compiles after/before comparisons for date kinds.
func datePredicate(lhs string, attr query.AttributeRef, cmp string, val query.Value, d Dialect) (string, []any, error) {
	switch attr.Kind {
	case query.KindDate, query.KindDateTime:
		return fmt.Sprintf("%s %s %s", lhs, cmp, dateCastFn(attr.Kind, d)), []any{val.Single}, nil
	default:
		return "", nil, &UnsupportedOperatorError{
			Op:     query.OpAfter,
			Reason: fmt.Sprintf("after/before require a date kind, attribute %q is %s", attr.Key, attr.Kind),
		}
	}
}

// accessor returns the left-hand SQL for an attribute by kind: no cast
// for String/Email, a numeric cast for Number, the dialect's boolean
// form, date parsing for date kinds, and the JSON arrow accessor for
// Array/Object. The ->> and -> operators are shared by both dialects.
func accessor(attr query.AttributeRef, d Dialect) (string, error) {
	key := quote(attr.Key)
	switch attr.Kind {
	case query.KindString, query.KindEmail, "":
		return fmt.Sprintf("attributes->>%s", key), nil
	case query.KindNumber:
		if d == DialectSQLite {
			return fmt.Sprintf("CAST(attributes->>%s AS NUMERIC)", key), nil
		}
		return fmt.Sprintf("(attributes->>%s)::NUMERIC", key), nil
	case query.KindBoolean:
		if d == DialectSQLite {
			// ->> already yields 0/1 for JSON booleans, which is how
			// the driver binds bool parameters.
			return fmt.Sprintf("attributes->>%s", key), nil
		}
		return fmt.Sprintf("(attributes->>%s)::BOOL", key), nil
	case query.KindDate:
		if d == DialectSQLite {
			return fmt.Sprintf("date(attributes->>%s)", key), nil
		}
		return fmt.Sprintf("to_date(attributes->>%s, 'YYYY-MM-DD')", key), nil
	case query.KindDateTime:
		if d == DialectSQLite {
			return fmt.Sprintf("datetime(attributes->>%s)", key), nil
		}
		return fmt.Sprintf("to_timestamp(attributes->>%s, 'YYYY-MM-DD\"T\"HH24:MI:SS')", key), nil
	case query.KindArray, query.KindObject:
		return fmt.Sprintf("attributes->%s", key), nil
	default:
		return "", &query.UnknownValueKindError{Raw: string(attr.Kind)}
	}
}

// dateCastFn returns the cast wrapping a parameterized date value.
func dateCastFn(kind query.ValueKind, d Dialect) string {
	if d == DialectSQLite {
		if kind == query.KindDateTime {
			return "datetime(?)"
		}
		return "date(?)"
	}
	if kind == query.KindDateTime {
		return "to_timestamp(?, 'YYYY-MM-DD\"T\"HH24:MI:SS')"
	}
	return "to_date(?, 'YYYY-MM-DD')"
}

// castArg converts a textual value into the parameter type matching the
// attribute's SQL cast, so the database compares like with like.
func castArg(kind query.ValueKind, s string) any {
	switch kind {
	case query.KindNumber:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case query.KindBoolean:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

// quote interpolates an identifier value as a SQL string literal with
// single quotes doubled. Used only for context identifiers and attribute
// keys; comparison values are always parameterized.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
