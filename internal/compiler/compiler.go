// Package compiler turns generated source into loadable modules.
//
// A Compiler is selected by template language. The Go compiler builds an
// executable per template that the runner starts in its own process; the
// precompiled compiler hands out transformations linked into the current
// binary for in-process execution.
package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/textform/internal/errors"
)

// Compiler builds generated source into a module
type Compiler interface {
	// Language returns the template language the compiler accepts
	Language() string

	// Compile builds req.Source. Template problems are reported as
	// diagnostics with a nil error; the error is reserved for failures of
	// the compiler itself and for cancellation.
	Compile(ctx context.Context, req *Request) (*Result, error)
}

// Request describes one compilation
type Request struct {
	Source       string
	Identity     string
	TemplateFile string
	References   []string
	Debug        bool
	Options      string
}

// Result holds the module, if one was produced, and the diagnostics
type Result struct {
	Module      Module
	Diagnostics []errors.Diagnostic
}

// HasErrors reports whether any diagnostic has error severity
func (r *Result) HasErrors() bool {
	if r == nil {
		return false
	}
	return errors.HasErrors(r.Diagnostics)
}

// Module is a compiled transformation
type Module interface {
	Identity() string

	// Release frees whatever the module holds. It is safe to call more than once.
	Release() error
}

// Executable is a module that runs as a separate program
type Executable interface {
	Module
	Path() string
}

// Instantiable is a module whose transformations live in this process
type Instantiable interface {
	Module
	NewTransformation() any
}

// Registry maps template languages to compilers
type Registry struct {
	compilers map[string]Compiler
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{compilers: make(map[string]Compiler)}
}

// Register adds a compiler under its language, replacing any previous one
func (r *Registry) Register(c Compiler) error {
	if c == nil {
		return fmt.Errorf("compiler cannot be nil")
	}
	language := strings.ToLower(strings.TrimSpace(c.Language()))
	if language == "" {
		return fmt.Errorf("compiler language cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.compilers[language] = c
	return nil
}

// Lookup returns the compiler for a language
func (r *Registry) Lookup(language string) (Compiler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.compilers[strings.ToLower(strings.TrimSpace(language))]
	return c, ok
}

// Languages returns the registered languages in sorted order
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.compilers))
	for language := range r.compilers {
		out = append(out, language)
	}
	sort.Strings(out)
	return out
}

func errorDiagnostic(format string, args ...any) errors.Diagnostic {
	return errors.Diagnostic{
		Severity: errors.SeverityError,
		Message:  fmt.Sprintf(format, args...),
	}
}
