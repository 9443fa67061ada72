// Package modules evaluates entry scripts together with everything they import.
//
// The Resolver maps import references to files, preferring environment-specific
// variants (name.<env>.py) over the default (name.py). The Cache memoizes each
// (path, environment) evaluation for the duration of a run, detects circular
// imports, and lets concurrent workers share modules without evaluating any of
// them twice. Engine ties both to the script evaluator.
package modules
