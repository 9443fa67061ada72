// Package document defines the data produced by evaluating a configuration script.
//
// A Document is an insertion-ordered mapping from binding names to JSON-representable
// values. Values are restricted to the following Go types:
//
//	nil, bool, int64, float64, string, []any, *Map
//
// The package also implements the binding filter that extracts a Document from a
// script's bindings, the pick/unwrap selection stage and the output serializers.
package document
