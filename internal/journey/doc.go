// Package journey defines the journey step graph: step kinds, per-kind
// transition metadata, and graph validation.
//
// A journey is a directed graph of steps. Each step has a kind (start,
// message, time-delay, time-window, wait-until, multisplit, experiment,
// loop, exit) and kind-specific metadata describing its transition rules.
//
// Metadata is modeled as a tagged union: one variant struct per kind,
// decoded strictly from JSON keyed on the step kind. Unknown kinds and
// malformed shapes are rejected at decode time rather than surfacing as
// ad hoc field access failures during processing.
//
// This package contains type definitions and pure validation only. All
// other internal packages import journey; journey imports nothing internal.
// This keeps the step graph the foundational layer with no circular
// dependencies.
package journey
