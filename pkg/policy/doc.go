// Package policy provides Open Policy Agent (OPA) integration for efemel.
//
// Policies are Rego modules that define a deny set. Every enabled policy is
// evaluated against each document after schema validation; a non-empty deny set
// with error or critical severity fails the file with a PolicyViolation.
//
// # Input
//
// Policies receive the following input:
//
//	{
//	    "path":        "services/api.py",
//	    "environment": "prod",
//	    "document":    {...}
//	}
//
// # Writing policies
//
// A deny entry may be a string or an object with message, severity and any
// other fields, which are kept as violation details:
//
//	package efemel.replicas
//
//	import rego.v1
//
//	# Production services need redundancy.
//	# severity: error
//	deny contains msg if {
//	    input.environment == "prod"
//	    input.document.replicas < 2
//	    msg := sprintf("%s: prod needs at least 2 replicas", [input.path])
//	}
//
// A "severity:" comment line sets the default severity of the policy. Policies
// loaded from files default to error.
//
// # Built-in policies
//
// The engine ships a small set of built-in policies which are registered
// disabled and can be switched on by name:
//
//   - non-empty-document: documents must contain at least one binding
//   - no-plaintext-secrets: secret-looking keys must not hold literal strings
//   - no-null-values: warns about null values
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, afero.NewOsFs(), []string{"policies"}); err != nil {
//	    return err
//	}
//	if err := engine.Check(ctx, "services/api.py", doc); err != nil {
//	    var verr *policy.ViolationError
//	    if errors.As(err, &verr) { ... }
//	}
package policy
