package querysql

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointhq/waypoint/internal/query"
)

func mustResolve(t *testing.T, q *query.Query) *query.Resolved {
	t.Helper()
	r, err := query.Resolve(q)
	require.NoError(t, err)
	return r
}

func attrEq(key string, kind query.ValueKind, val string) query.Expr {
	return &query.Binary{
		Subject: query.AttributeRef{Key: key, Kind: kind},
		Op:      query.OpEquals,
		Value:   query.Value{Single: val},
	}
}

func TestCompile_SelectSingleAttribute_Golden(t *testing.T) {
	q := &query.Query{
		Expr:    attrEq("plan", query.KindString, "pro"),
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
		Shape:   query.ShapeSelect,
	}

	c := &Compiler{}
	stmt, err := c.Compile(mustResolve(t, q))
	require.NoError(t, err)
	assert.Equal(t, []any{"pro"}, stmt.Args)

	g := goldie.New(t)
	g.Assert(t, "select_single_attribute", []byte(stmt.SQL+"\n"))
}

func TestCompile_CountNestedEvent_Golden(t *testing.T) {
	q := &query.Query{
		Expr: &query.Logical{Op: query.Or, Children: []query.Expr{
			attrEq("plan", query.KindString, "pro"),
			&query.Logical{Op: query.And, Children: []query.Expr{
				&query.Binary{
					Subject: query.AttributeRef{Key: "age", Kind: query.KindNumber},
					Op:      query.OpGreaterThan,
					Value:   query.Value{Single: "21"},
				},
				&query.Binary{
					Subject: query.EventRef{Name: "purchase"},
					Op:      query.OpHasPerformed,
					Value:   query.Value{Single: "3"},
				},
			}},
		}},
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
		Shape:   query.ShapeCount,
	}

	c := &Compiler{}
	stmt, err := c.Compile(mustResolve(t, q))
	require.NoError(t, err)

	// CTE parameters come first (they lead the statement text), then
	// the set parameters in traversal order.
	assert.Equal(t, []any{"purchase", 3, "pro", float64(21)}, stmt.Args)

	g := goldie.New(t)
	g.Assert(t, "count_nested_event", []byte(stmt.SQL+"\n"))
}

func TestCompile_InsertAllCustomers_Golden(t *testing.T) {
	q := &query.Query{
		Expr: &query.Logical{Op: query.And},
		Context: query.Context{
			query.CtxWorkspaceID: "ws_1",
			query.CtxJourneyID:   "j_1",
			query.CtxStepID:      "step_start",
		},
		Shape: query.ShapeInsertLocations,
	}

	c := &Compiler{Now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	stmt, err := c.Compile(mustResolve(t, q))
	require.NoError(t, err)
	assert.Empty(t, stmt.Args)

	g := goldie.New(t)
	g.Assert(t, "insert_all_customers", []byte(stmt.SQL+"\n"))
}

func TestCompile_Deterministic(t *testing.T) {
	build := func() *query.Query {
		return &query.Query{
			Expr: &query.Logical{Op: query.And, Children: []query.Expr{
				attrEq("plan", query.KindString, "pro"),
				&query.Binary{
					Subject: query.EventRef{Name: "login", Payload: map[string]string{"b": "2", "a": "1"}},
					Op:      query.OpHasPerformed,
					Value:   query.Value{Single: "1"},
				},
			}},
			Context: query.Context{query.CtxWorkspaceID: "ws_1"},
			Shape:   query.ShapeSelect,
		}
	}

	c := &Compiler{}
	first, err := c.Compile(mustResolve(t, build()))
	require.NoError(t, err)
	second, err := c.Compile(mustResolve(t, build()))
	require.NoError(t, err)

	assert.Equal(t, first.SQL, second.SQL, "same IR must compile to byte-identical SQL")
	assert.Equal(t, first.Args, second.Args)
}

func TestCompile_AlwaysScopedByWorkspace(t *testing.T) {
	exprs := []query.Expr{
		nil,
		&query.Logical{Op: query.Or},
		attrEq("plan", query.KindString, "pro"),
		&query.Unary{Op: query.OpExists, Attr: query.AttributeRef{Key: "phone"}},
		&query.Binary{Subject: query.EventRef{Name: "purchase"}, Op: query.OpHasPerformed, Value: query.Value{Single: "1"}},
	}
	c := &Compiler{}
	for i, e := range exprs {
		stmt, err := c.Compile(mustResolve(t, &query.Query{
			Expr:    e,
			Context: query.Context{query.CtxWorkspaceID: "ws_42"},
		}))
		require.NoError(t, err, "expr %d", i)
		assert.Contains(t, stmt.SQL, "'ws_42'", "expr %d", i)
	}
}

func TestCompile_MissingWorkspaceFails(t *testing.T) {
	c := &Compiler{}
	_, err := c.Compile(mustResolve(t, &query.Query{Expr: nil, Context: query.Context{}}))
	require.Error(t, err)
	assert.True(t, IsMissingContext(err))
}

func TestCompile_InsertRequiresJourneyAndStep(t *testing.T) {
	c := &Compiler{}

	_, err := c.Compile(mustResolve(t, &query.Query{
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
		Shape:   query.ShapeInsertLocations,
	}))
	require.Error(t, err)
	assert.True(t, IsMissingContext(err))

	_, err = c.Compile(mustResolve(t, &query.Query{
		Context: query.Context{query.CtxWorkspaceID: "ws_1", query.CtxJourneyID: "j_1"},
		Shape:   query.ShapeInsertLocations,
	}))
	require.Error(t, err)
	assert.True(t, IsMissingContext(err))
}

func TestCompile_HasNotPerformedFailsLoudly(t *testing.T) {
	q := &query.Query{
		Expr: &query.Binary{
			Subject: query.EventRef{Name: "churn"},
			Op:      query.OpHasNotPerformed,
			Value:   query.Value{Single: "1"},
		},
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
	}

	c := &Compiler{}
	_, err := c.Compile(mustResolve(t, q))
	require.Error(t, err)
	assert.True(t, IsUnsupportedOperator(err))
}

func TestCompile_AttributeCasts(t *testing.T) {
	cases := []struct {
		kind query.ValueKind
		op   query.Operator
		val  query.Value
		want string
	}{
		{query.KindString, query.OpEquals, query.Value{Single: "x"}, "attributes->>'k' = ?"},
		{query.KindEmail, query.OpContains, query.Value{Single: "@co"}, "attributes->>'k' LIKE ?"},
		{query.KindNumber, query.OpLessThan, query.Value{Single: "5"}, "(attributes->>'k')::NUMERIC < ?"},
		{query.KindBoolean, query.OpEquals, query.Value{Single: "true"}, "(attributes->>'k')::BOOL = ?"},
		{query.KindDate, query.OpAfter, query.Value{Single: "2024-01-01"}, "to_date(attributes->>'k', 'YYYY-MM-DD') > to_date(?, 'YYYY-MM-DD')"},
		{query.KindDateTime, query.OpBefore, query.Value{Single: "2024-01-01T00:00:00"}, `to_timestamp(attributes->>'k', 'YYYY-MM-DD"T"HH24:MI:SS') < to_timestamp(?, 'YYYY-MM-DD"T"HH24:MI:SS')`},
		{query.KindDate, query.OpBetween, query.Value{Range: &[2]string{"2024-01-01", "2024-06-30"}}, "BETWEEN to_date(?, 'YYYY-MM-DD') AND to_date(?, 'YYYY-MM-DD')"},
		{query.KindArray, query.OpContains, query.Value{Single: `["a"]`}, "attributes->'k' @> CAST(? AS JSONB)"},
		{query.KindObject, query.OpEquals, query.Value{Single: `{"a":1}`}, "attributes->'k' = CAST(? AS JSONB)"},
	}

	c := &Compiler{}
	for _, tc := range cases {
		q := &query.Query{
			Expr: &query.Binary{
				Subject: query.AttributeRef{Key: "k", Kind: tc.kind},
				Op:      tc.op,
				Value:   tc.val,
			},
			Context: query.Context{query.CtxWorkspaceID: "ws_1"},
		}
		stmt, err := c.Compile(mustResolve(t, q))
		require.NoError(t, err, "%s %s", tc.kind, tc.op)
		assert.Contains(t, stmt.SQL, tc.want, "%s %s", tc.kind, tc.op)
	}
}

func TestCompile_ExistsUsesJSONBExists(t *testing.T) {
	c := &Compiler{}

	stmt, err := c.Compile(mustResolve(t, &query.Query{
		Expr:    &query.Unary{Op: query.OpExists, Attr: query.AttributeRef{Key: "phone"}},
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "jsonb_exists(attributes, 'phone')")

	stmt, err = c.Compile(mustResolve(t, &query.Query{
		Expr:    &query.Unary{Op: query.OpNotExists, Attr: query.AttributeRef{Key: "phone"}},
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "NOT jsonb_exists(attributes, 'phone')")
}

func TestCompile_LimitOffsetAndOrder(t *testing.T) {
	c := &Compiler{}
	stmt, err := c.Compile(mustResolve(t, &query.Query{
		Expr:    nil,
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
		Shape:   query.ShapeSelect,
		Limit:   50,
		Offset:  100,
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "ORDER BY id ASC")
	assert.Contains(t, stmt.SQL, "LIMIT 50")
	assert.Contains(t, stmt.SQL, "OFFSET 100")

	stmt, err = c.Compile(mustResolve(t, &query.Query{
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
		OrderBy: "id DESC",
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "ORDER BY id DESC")
}

func TestCompile_CountScopedToCustomer(t *testing.T) {
	c := &Compiler{}
	stmt, err := c.Compile(mustResolve(t, &query.Query{
		Expr:    attrEq("plan", query.KindString, "pro"),
		Context: query.Context{query.CtxWorkspaceID: "ws_1", query.CtxCustomerID: "cust_9"},
		Shape:   query.ShapeCount,
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "WHERE matched.id = 'cust_9'")
}

func TestCompile_QuotesEmbeddedQuotes(t *testing.T) {
	c := &Compiler{}
	stmt, err := c.Compile(mustResolve(t, &query.Query{
		Expr:    nil,
		Context: query.Context{query.CtxWorkspaceID: "ws'1"},
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "'ws''1'")
}

func TestCompile_EventPayloadFiltersSortedByKey(t *testing.T) {
	q := &query.Query{
		Expr: &query.Binary{
			Subject: query.EventRef{Name: "purchase", Payload: map[string]string{"sku": "A", "country": "DE"}},
			Op:      query.OpHasPerformed,
			Value:   query.Value{Single: "2"},
		},
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
	}

	c := &Compiler{}
	stmt, err := c.Compile(mustResolve(t, q))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "payload->>'country' = ? AND payload->>'sku' = ?")
	assert.Equal(t, []any{"purchase", "DE", "A", 2}, stmt.Args)
}

func TestCompile_SQLiteAttributeCasts(t *testing.T) {
	cases := []struct {
		kind query.ValueKind
		op   query.Operator
		val  query.Value
		want string
	}{
		{query.KindString, query.OpEquals, query.Value{Single: "x"}, "attributes->>'k' = ?"},
		{query.KindNumber, query.OpLessThan, query.Value{Single: "5"}, "CAST(attributes->>'k' AS NUMERIC) < ?"},
		{query.KindBoolean, query.OpEquals, query.Value{Single: "true"}, "attributes->>'k' = ?"},
		{query.KindDate, query.OpAfter, query.Value{Single: "2024-01-01"}, "date(attributes->>'k') > date(?)"},
		{query.KindDateTime, query.OpBefore, query.Value{Single: "2024-01-01T00:00:00"}, "datetime(attributes->>'k') < datetime(?)"},
		{query.KindDate, query.OpBetween, query.Value{Range: &[2]string{"2024-01-01", "2024-06-30"}}, "BETWEEN date(?) AND date(?)"},
		{query.KindArray, query.OpContains, query.Value{Single: `"a"`}, "EXISTS (SELECT 1 FROM json_each(attributes->'k') WHERE json_each.value = json_extract(?, '$'))"},
		{query.KindObject, query.OpEquals, query.Value{Single: `{"a":1}`}, "attributes->'k' = json(?)"},
	}

	c := &Compiler{Dialect: DialectSQLite}
	for _, tc := range cases {
		q := &query.Query{
			Expr: &query.Binary{
				Subject: query.AttributeRef{Key: "k", Kind: tc.kind},
				Op:      tc.op,
				Value:   tc.val,
			},
			Context: query.Context{query.CtxWorkspaceID: "ws_1"},
		}
		stmt, err := c.Compile(mustResolve(t, q))
		require.NoError(t, err, "%s %s", tc.kind, tc.op)
		assert.Contains(t, stmt.SQL, tc.want, "%s %s", tc.kind, tc.op)
	}
}

func TestCompile_SQLiteExistsUsesJSONType(t *testing.T) {
	c := &Compiler{Dialect: DialectSQLite}

	stmt, err := c.Compile(mustResolve(t, &query.Query{
		Expr:    &query.Unary{Op: query.OpExists, Attr: query.AttributeRef{Key: "phone"}},
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `json_type(attributes, '$."phone"') IS NOT NULL`)

	stmt, err = c.Compile(mustResolve(t, &query.Query{
		Expr:    &query.Unary{Op: query.OpNotExists, Attr: query.AttributeRef{Key: "phone"}},
		Context: query.Context{query.CtxWorkspaceID: "ws_1"},
	}))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `NOT json_type(attributes, '$."phone"') IS NOT NULL`)
}

func TestCompile_InsertShapeCarriesWhereClause(t *testing.T) {
	q := func() *query.Query {
		return &query.Query{
			Expr: &query.Logical{Op: query.And},
			Context: query.Context{
				query.CtxWorkspaceID: "ws_1",
				query.CtxJourneyID:   "j_1",
				query.CtxStepID:      "step_start",
			},
			Shape: query.ShapeInsertLocations,
		}
	}

	// SQLite's upsert grammar cannot parse ON CONFLICT directly after a
	// SELECT without a WHERE clause, so both dialects must emit one.
	for _, d := range []Dialect{DialectPostgres, DialectSQLite} {
		c := &Compiler{Now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Dialect: d}
		stmt, err := c.Compile(mustResolve(t, q()))
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, "AS matched WHERE true ON CONFLICT", "dialect %d", d)
	}
}
