// Package hooks implements the hook pipeline that runs user functions at named
// points of a file's processing.
//
// Two points are invoked by the orchestrator:
//
//	process_data     after selection; hooks may edit Context.Data
//	output_filename  after serialization; hooks may change Context.OutputPath
//
// Functions registered with the before flag run first for their point, in
// registration order, followed by the remaining functions in registration
// order. Hook sources are Starlark files named after the point they extend,
// for example hooks/output_filename.star. Functions whose name starts with
// before_ are registered with the before flag and names starting with an
// underscore are ignored.
package hooks
