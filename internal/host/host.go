// Package host defines the capabilities the engine needs from its
// environment and provides a filesystem-backed implementation.
package host

import (
	"strings"

	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/processor"
)

// Host is the capability set the resolver and runner consume
type Host interface {
	processor.Host

	// ResolveDirectiveProcessor returns a fresh processor for a directive processor name
	ResolveDirectiveProcessor(name string) (processor.DirectiveProcessor, bool)

	// ResolveAssemblyReference maps a reference to a module path or local directory
	ResolveAssemblyReference(name string) (string, bool)

	// LogErrors receives the error list of a finished run
	LogErrors(errs *errors.TemplateErrorList)
}

// Session is the per-run key/value store exposed to generated programs
type Session map[string]interface{}

// SessionHost is implemented by hosts that carry a session
type SessionHost interface {
	Host

	// Session returns the current session, creating one if needed
	Session() Session

	// CreateSession replaces the current session with an empty one
	CreateSession() Session
}

// ParameterKey addresses a parameter value by processor, directive and name.
// Empty processor and directive parts act as fallbacks.
type ParameterKey struct {
	Processor string
	Directive string
	Name      string
}

// String renders the key the way it is written on the command line, without
// the value: proc!dir!name, proc!name or name.
func (k ParameterKey) String() string {
	parts := make([]string, 0, 3)
	if k.Processor != "" {
		parts = append(parts, k.Processor)
		if k.Directive != "" {
			parts = append(parts, k.Directive)
		}
	}
	parts = append(parts, k.Name)
	return strings.Join(parts, "!")
}

// Snapshotter is implemented by hosts whose parameters and options can be
// handed to a generated program running out of process.
type Snapshotter interface {
	ParameterSnapshot() map[string]string
	OptionSnapshot() map[string]string
}
