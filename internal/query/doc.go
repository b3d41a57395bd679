// Package query provides the intermediate representation (IR) for
// segmentation queries.
//
// A segmentation query is a boolean expression over customer attributes
// and event history. The IR sits between the wire JSON format produced by
// the segment editor and the SQL emitted for execution:
//
//	[JSON payload] → [query IR] → [resolver] → [SQL backend]
//
// The IR is independent of both formats: the queryjson package adapts
// JSON payloads into IR trees, and the querysql package compiles resolved
// trees into workspace-scoped SQL.
//
// SEALED INTERFACES:
//
// Expr and Subject are sealed interfaces using the marker method pattern.
// Only types in this package can implement them. This enables exhaustive
// type switches in backends and compile-time safety against external
// extensions.
//
// INVARIANTS:
//   - A Binary expression's right-hand side is always a Value leaf.
//   - A Logical expression's operator is And or Or.
//   - Completeness (every leaf bound to a subject and value) is a
//     precondition for resolution; resolution is a precondition for SQL
//     compilation.
//   - An unmapped operator or attribute kind fails loudly at mapping or
//     compile time, never silently producing wrong SQL.
package query
