// Package config loads efemel project configuration and run parameters.
//
// # Sources
//
// Settings are layered, later sources winning:
//
//  1. Built-in defaults (Default)
//  2. The project file, efemel.yaml or efemel.yml in the project directory
//  3. A .env file in the project directory
//  4. EFEMEL_* process environment variables
//  5. Command line flags, applied by the CLI
//
// Environment variables map onto keys by stripping the EFEMEL_ prefix and
// lower-casing the rest. A double underscore descends into a nested section:
//
//	EFEMEL_WORKERS=8            workers: 8
//	EFEMEL_SFTP__HOST=example   sftp: {host: example}
//	EFEMEL_PICK=app,db          pick: [app, db]
//
// Values from .env never override variables already set in the process
// environment.
//
// # Parameters
//
// Parameters are injected into every evaluated script. They come from
// params files and --param flags:
//
//	params := config.NewParams()
//	if err := params.LoadFile(ctx, fs, "params.hcl", evaluator); err != nil {
//		return err
//	}
//	if err := params.ParseFlags([]string{"replicas=3", "name=web"}); err != nil {
//		return err
//	}
//
// Supported params files are scripts (.py, evaluated and their public
// bindings used), JSON, YAML and HCL attribute files. Flag values are parsed
// as JSON when valid and kept as strings otherwise.
package config
