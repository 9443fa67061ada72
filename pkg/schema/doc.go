// Package schema validates documents against CUE definitions.
//
// A schema file is plain CUE. When it declares a #Document definition, documents
// are unified with that (closed) definition; otherwise they are unified with the
// file's root value, which leaves undeclared fields open.
//
//	#Document: {
//		name:     string
//		replicas: int & >=1
//	}
package schema
