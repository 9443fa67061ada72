// Package script implements the configuration script language: a small,
// side-effect-free subset of Python that binds names to data.
//
// A script is a sequence of top-level statements. Assignments and imports bind
// names; def/class blocks bind opaque values; every other statement is skipped
// without being evaluated. Expressions cover literals, lists, dicts with **
// spreading, dict merging with |, arithmetic, comparisons, boolean logic,
// conditional expressions, comprehensions, subscripts and a fixed set of
// builtins and methods.
//
// Parse turns source into a Program. Exec evaluates a Program against a set of
// read-only parameters and an Importer that supplies other modules.
package script
