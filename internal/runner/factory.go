package runner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/conneroisu/textform/internal/cache"
	"github.com/conneroisu/textform/internal/compiler"
	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/host"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/parser"
	"github.com/conneroisu/textform/internal/settings"
)

// ErrUnknownRunner is returned for ids the factory does not hold
var ErrUnknownRunner = stderrors.New("unknown runner")

// Factory creates runners and keeps them addressable by id
type Factory struct {
	compilers *compiler.Registry
	cache     *cache.ModuleCache
	isolation Isolation
	logger    logging.Logger

	runners sync.Map
	count   atomic.Int64
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithCache sets the module cache used for templates that allow caching
func WithCache(c *cache.ModuleCache) FactoryOption {
	return func(f *Factory) {
		f.cache = c
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFactory creates a factory compiling with compilers and running in
// isolation. The shared module cache is used unless WithCache says otherwise.
func NewFactory(compilers *compiler.Registry, isolation Isolation, opts ...FactoryOption) *Factory {
	f := &Factory{
		compilers: compilers,
		cache:     cache.Shared(),
		isolation: isolation,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.WithComponent("runner")
	return f
}

// CreateRunner returns a new runner in the Created state
func (f *Factory) CreateRunner() *Runner {
	for {
		r := newRunner(newID(), f.compilers, f.cache, f.isolation, f.logger)
		if _, loaded := f.runners.LoadOrStore(r.ID, r); !loaded {
			f.count.Add(1)
			return r
		}
	}
}

// Get returns the runner registered under id
func (f *Factory) Get(id string) (*Runner, bool) {
	v, ok := f.runners.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Runner), true
}

// Prepare prepares the runner registered under id
func (f *Factory) Prepare(ctx context.Context, id string, pt *parser.ParsedTemplate, source string, h host.Host, ts *settings.TemplateSettings) (bool, error) {
	r, ok := f.Get(id)
	if !ok {
		return false, fmt.Errorf("prepare %s: %w", id, ErrUnknownRunner)
	}
	return r.Prepare(ctx, pt, source, h, ts)
}

// Start executes the runner registered under id
func (f *Factory) Start(ctx context.Context, id string) (string, error) {
	r, ok := f.Get(id)
	if !ok {
		return "", fmt.Errorf("start %s: %w", id, ErrUnknownRunner)
	}
	return r.Execute(ctx)
}

// GetErrors returns the errors recorded by the runner registered under id
func (f *Factory) GetErrors(id string) (*errors.TemplateErrorList, bool) {
	r, ok := f.Get(id)
	if !ok {
		return nil, false
	}
	return r.Errors(), true
}

// Dispose removes the runner from the factory and disposes it
func (f *Factory) Dispose(id string) error {
	v, ok := f.runners.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("dispose %s: %w", id, ErrUnknownRunner)
	}
	f.count.Add(-1)
	return v.(*Runner).Dispose()
}

// Close disposes every runner and closes the isolation context
func (f *Factory) Close() error {
	var err error
	f.runners.Range(func(key, _ any) bool {
		if derr := f.Dispose(key.(string)); derr != nil && !stderrors.Is(derr, ErrInvalidState) {
			err = multierr.Append(err, derr)
		}
		return true
	})
	if f.isolation != nil {
		err = multierr.Append(err, f.isolation.Close())
	}
	return err
}

// Count returns the number of live runners
func (f *Factory) Count() int {
	return int(f.count.Load())
}

func newID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("runner id: %v", err))
	}
	return hex.EncodeToString(b)
}
