// Package internal contains the core implementation packages for textform.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the textform CLI tool.
//
// # Package Organization
//
// The internal packages follow one template through the pipeline:
//
//   - parser: Segments, directives and include expansion
//   - settings: Per-template settings gathered from directives
//   - processor: Directive processors and their registry
//   - host: Search paths, parameters and output on a filesystem
//   - resolver: Directive resolution into settings and contributions
//   - codegen: Go source for the generated program
//   - compiler: Compiler boundary, go toolchain backend, precompiled types
//   - cache: Compiled modules keyed by identity and source hash
//   - runner: Runner lifecycle, factory and isolation contexts
//   - engine: Orchestration of one ProcessTemplate or PreprocessTemplate run
//   - errors: Template error list, engine errors, diagnostic parsing
//   - config, logging, validation, version, watcher: Ambient support
//
// # Data Flow
//
//	content -> parser -> resolver -> codegen -> compiler -> cache -> runner -> output
//
// Parse and resolve errors stop a run before anything is compiled. Every
// stage appends to the same error list; the output text is the
// ErrorGeneratingOutput sentinel whenever an error was recorded.
//
// # Concurrency
//
// The cache and the runner factory are safe for concurrent use. Concurrent
// compiles of the same identity and source are collapsed into one build.
// A host carries per-template state and is not shared between runs.
package internal
