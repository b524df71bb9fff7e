package compiler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conneroisu/textform/internal/errors"
)

// TransformationFactory creates a fresh transformation instance
type TransformationFactory func() any

// Precompiled serves transformations linked into the current binary, for
// example classes produced by preprocessing. Compile ignores the source and
// looks the request identity up instead.
type Precompiled struct {
	language  string
	factories map[string]TransformationFactory
	mu        sync.RWMutex
}

var _ Compiler = (*Precompiled)(nil)

// NewPrecompiled creates an empty precompiled compiler for a language
func NewPrecompiled(language string) *Precompiled {
	if language == "" {
		language = "go"
	}
	return &Precompiled{
		language:  language,
		factories: make(map[string]TransformationFactory),
	}
}

// Register makes a factory available under a program identity
func (p *Precompiled) Register(identity string, factory TransformationFactory) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %s cannot be nil", identity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[identity] = factory
	return nil
}

// Has reports whether an identity is registered
func (p *Precompiled) Has(identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.factories[identity]
	return ok
}

// Identities returns the registered identities in sorted order
func (p *Precompiled) Identities() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.factories))
	for id := range p.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Language returns the template language this compiler accepts
func (p *Precompiled) Language() string {
	return p.language
}

// Compile returns the registered module for req.Identity
func (p *Precompiled) Compile(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	factory, ok := p.factories[req.Identity]
	p.mu.RUnlock()
	if !ok {
		return &Result{Diagnostics: []errors.Diagnostic{
			errorDiagnostic("no precompiled transformation registered for %s", req.Identity),
		}}, nil
	}

	return &Result{Module: &instantiable{identity: req.Identity, factory: factory}}, nil
}

type instantiable struct {
	identity string
	factory  TransformationFactory
}

func (m *instantiable) Identity() string {
	return m.identity
}

func (m *instantiable) NewTransformation() any {
	return m.factory()
}

// Release is a no-op; the factory belongs to the binary
func (m *instantiable) Release() error {
	return nil
}

// WithFallback returns a compiler serving registered identities from p and
// building everything else with next
func (p *Precompiled) WithFallback(next Compiler) Compiler {
	return &fallback{primary: p, next: next}
}

type fallback struct {
	primary *Precompiled
	next    Compiler
}

func (f *fallback) Language() string {
	return f.primary.Language()
}

func (f *fallback) Compile(ctx context.Context, req *Request) (*Result, error) {
	if f.primary.Has(req.Identity) {
		return f.primary.Compile(ctx, req)
	}
	return f.next.Compile(ctx, req)
}
