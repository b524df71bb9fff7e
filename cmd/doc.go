// Package cmd provides the command-line interface for textform.
//
// This package implements all CLI commands using the Cobra framework. Each
// command that processes templates builds one engine from the configuration
// and its flags, and one host per template.
//
// # Available Commands
//
//   - transform: Compile and run templates, writing their output
//   - preprocess: Generate a reusable Go type from a template
//   - validate: Check templates without building them
//   - watch: Transform templates again when they or their includes change
//   - config: Create, show and validate configuration files
//   - doctor: Diagnose the toolchain and build directories
//   - version: Show version information
//
// # Command Examples
//
//	// Transform a template with a parameter
//	textform transform -a name=World hello.tt
//
//	// Map a directive processor and search an include directory
//	textform transform --dp Data!data -I ./shared table.tt
//
//	// Generate a type in package reports
//	textform preprocess -c acme.reports.Summary summary.tt
//
//	// Watch a directory
//	textform watch ./templates
//
// # Error Reporting
//
// Template errors are printed one per line as file(line,col): ERROR TTxxxx:
// message, or WARNING for warnings. A template with errors produces no output
// file and the command exits with a non-zero status.
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (TEXTFORM_*)
//  3. Configuration file (.textform.yml)
//  4. Default values (lowest priority)
package cmd
