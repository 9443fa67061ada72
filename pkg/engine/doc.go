// Package engine runs entry files through the processing pipeline.
//
// An Orchestrator takes the discovered entry files of a run and, for each
// file, evaluates the script, applies pick/unwrap selection, invokes the
// process_data hooks, validates the document against an optional CUE schema
// and OPA policy, serializes it, invokes the output_filename hooks and hands
// the bytes to a Writer. Files are processed by a bounded pool of workers; a
// worker count of one processes files strictly in entry order.
//
// Failures are file-scoped. Each one is classified into a Kind and recorded in
// the run Report; other files are unaffected. Setup failures, such as a
// pattern that matches no files or an output root that cannot be created,
// abort the run before any file is dispatched.
package engine
