package policy

// BuiltinPolicies returns the policies shipped with efemel. They are returned
// disabled.
func BuiltinPolicies() []Policy {
	return []Policy{
		nonEmptyDocumentPolicy(),
		noPlaintextSecretsPolicy(),
		noNullValuesPolicy(),
	}
}

func nonEmptyDocumentPolicy() Policy {
	return Policy{
		Name:        "non-empty-document",
		Description: "Documents must contain at least one public binding",
		Severity:    SeverityError,
		Builtin:     true,
		Rego: `package efemel.builtin.nonempty

import rego.v1

deny contains violation if {
	count(input.document) == 0
	violation := {
		"message": sprintf("%s produced an empty document", [input.path]),
	}
}
`,
	}
}

func noPlaintextSecretsPolicy() Policy {
	return Policy{
		Name:        "no-plaintext-secrets",
		Description: "Secret-looking keys must reference a variable instead of holding a literal",
		Severity:    SeverityError,
		Builtin:     true,
		Rego: `package efemel.builtin.secrets

import rego.v1

secret_key := ` + "`(?i)(password|passwd|secret|token|api_?key|private_?key)$`" + `

deny contains violation if {
	walk(input.document, [path, value])
	count(path) > 0
	key := path[count(path) - 1]
	is_string(key)
	regex.match(secret_key, key)
	is_string(value)
	value != ""
	not startswith(value, "${")
	segments := [s | some p in path; s := sprintf("%v", [p])]
	violation := {
		"message": sprintf("%s looks like a plaintext secret", [concat(".", segments)]),
		"key": concat(".", segments),
	}
}
`,
	}
}

func noNullValuesPolicy() Policy {
	return Policy{
		Name:        "no-null-values",
		Description: "Reports top-level bindings that are null",
		Severity:    SeverityWarning,
		Builtin:     true,
		Rego: `package efemel.builtin.nulls

import rego.v1

deny contains violation if {
	some key, value in input.document
	value == null
	violation := {
		"message": sprintf("%s is null", [key]),
		"key": key,
	}
}
`,
	}
}
