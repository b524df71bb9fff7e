// Package runner compiles generated programs and executes them in an
// isolation context.
//
// A Runner moves through Created, Prepared, Executed and Disposed. Prepare
// compiles (or fetches from the cache) the module for a template, Execute runs
// it once, Dispose releases what the runner holds. A Factory hands out runners
// and keeps them addressable by id.
package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/conneroisu/textform/internal/cache"
	"github.com/conneroisu/textform/internal/compiler"
	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/host"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/parser"
	"github.com/conneroisu/textform/internal/runner/protocol"
	"github.com/conneroisu/textform/internal/settings"
)

// ErrorOutput is the output of a run that recorded an error
const ErrorOutput = "ErrorGeneratingOutput"

// ErrInvalidState is returned when an operation does not fit the runner's state
var ErrInvalidState = stderrors.New("invalid runner state")

// State is a runner lifecycle state
type State int

const (
	StateCreated State = iota
	StatePrepared
	StateExecuted
	StateDisposed
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePrepared:
		return "prepared"
	case StateExecuted:
		return "executed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Runner prepares and executes one template
type Runner struct {
	ID string

	compilers *compiler.Registry
	cache     *cache.ModuleCache
	isolation Isolation
	logger    logging.Logger

	mu       sync.Mutex
	state    State
	settings *settings.TemplateSettings
	host     host.Host
	handle   *cache.Handle
	errors   *errors.TemplateErrorList
}

func newRunner(id string, compilers *compiler.Registry, modules *cache.ModuleCache, isolation Isolation, logger logging.Logger) *Runner {
	return &Runner{
		ID:        id,
		compilers: compilers,
		cache:     modules,
		isolation: isolation,
		logger:    logger.With("runner", id),
		errors:    errors.NewTemplateErrorList(),
	}
}

// State returns the current lifecycle state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Errors returns the errors recorded by the runner
func (r *Runner) Errors() *errors.TemplateErrorList {
	return r.errors
}

// ClearErrors empties the runner's error list
func (r *Runner) ClearErrors() {
	r.errors.Clear()
}

// Prepare compiles source for the template. It reports false when pt carries
// parse or resolution errors, which stay in pt, or when compilation fails; the
// runner then stays Created. The error is reserved for invalid states and
// fatal conditions.
func (r *Runner) Prepare(ctx context.Context, pt *parser.ParsedTemplate, source string, h host.Host, ts *settings.TemplateSettings) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateCreated {
		return false, fmt.Errorf("prepare in state %s: %w", r.state, ErrInvalidState)
	}
	if pt != nil && pt.Errors.HasErrors() {
		return false, nil
	}

	comp, ok := r.compilers.Lookup(ts.Language)
	if !ok {
		r.errors.AddError(errors.ErrCodeCompileFailed,
			fmt.Sprintf("no compiler available for language %q", ts.Language),
			errors.Location{File: ts.TemplateFile})
		return false, nil
	}

	req := &compiler.Request{
		Source:       source,
		Identity:     ts.FullName(),
		TemplateFile: ts.TemplateFile,
		References:   ts.References.Values(),
		Debug:        ts.Debug,
		Options:      ts.CompilerOptions,
	}

	op := logging.StartOperation(r.logger, "prepare")
	handle, result, err := r.compile(ctx, comp, req, ts.CachedTemplates)
	if err != nil {
		op.EndWithError(ctx, err)
		if errors.IsFatal(err) {
			return false, err
		}
		r.addFailure(errors.ErrCodeCompileFailed, err, ts.TemplateFile)
		return false, nil
	}

	if result != nil {
		for _, d := range result.Diagnostics {
			r.errors.Add(d.ToTemplateError())
		}
	}
	if handle == nil || result.HasErrors() {
		if handle != nil {
			handle.Close()
		}
		if !r.errors.HasErrors() {
			r.errors.AddError(errors.ErrCodeCompileFailed,
				fmt.Sprintf("compiler produced no module for %s", req.Identity),
				errors.Location{File: ts.TemplateFile})
		}
		op.EndWithError(ctx, fmt.Errorf("compilation failed"))
		return false, nil
	}
	op.End(ctx)

	r.handle = handle
	r.settings = ts
	r.host = h
	r.state = StatePrepared
	return true, nil
}

func (r *Runner) compile(ctx context.Context, comp compiler.Compiler, req *compiler.Request, cached bool) (*cache.Handle, *compiler.Result, error) {
	compile := func(ctx context.Context) (*compiler.Result, error) {
		return comp.Compile(ctx, req)
	}

	if cached && r.cache != nil {
		hash := cache.SourceHash(req.Source, strings.Join(req.References, "\n"), req.Options, strconv.FormatBool(req.Debug))
		return r.cache.Do(ctx, req.Identity, hash, compile)
	}

	result, err := compile(ctx)
	if err != nil {
		return nil, nil, err
	}
	if result == nil || result.Module == nil {
		return nil, result, nil
	}
	return cache.Uncached(result.Module), result, nil
}

// Execute runs the prepared module once. When any error was recorded the
// returned text is ErrorOutput; the error is reserved for invalid states and
// fatal conditions.
func (r *Runner) Execute(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePrepared {
		return "", fmt.Errorf("execute in state %s: %w", r.state, ErrInvalidState)
	}
	r.state = StateExecuted

	op := logging.StartOperation(r.logger, "execute")
	resp, err := r.isolation.Run(ctx, r.handle.Module, r.request())
	r.releaseModule()

	if err != nil {
		op.EndWithError(ctx, err)
		if errors.IsFatal(err) {
			return "", err
		}
		r.addFailure(errors.ErrCodeIsolationFailed, err, r.settings.TemplateFile)
		return ErrorOutput, nil
	}
	op.End(ctx)

	for _, e := range resp.Errors {
		r.errors.Add(e.TemplateError(errors.ErrCodeTransformFailed, r.settings.TemplateFile))
	}
	if r.errors.HasErrors() {
		return ErrorOutput, nil
	}
	return resp.Output, nil
}

// Dispose releases the runner's module if it still holds one
func (r *Runner) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDisposed {
		return fmt.Errorf("dispose in state %s: %w", r.state, ErrInvalidState)
	}
	r.state = StateDisposed
	return r.releaseModule()
}

func (r *Runner) releaseModule() error {
	if r.handle == nil {
		return nil
	}
	err := r.handle.Close()
	r.handle = nil
	return err
}

// request builds what the transformation sees of the host and session
func (r *Runner) request() *protocol.Request {
	ts := r.settings
	req := &protocol.Request{Culture: ts.Culture}

	for _, p := range ts.Parameters {
		if !p.Resolved {
			continue
		}
		if req.Parameters == nil {
			req.Parameters = make(map[string]string)
		}
		req.Parameters[p.Name] = p.Value
	}

	if sh, ok := r.host.(host.SessionHost); ok {
		if session := sh.Session(); len(session) > 0 {
			req.Session = map[string]any(session)
		}
	}

	if ts.IsHostSpecific() && r.host != nil {
		snapshot := &protocol.HostSnapshot{TemplateFile: r.host.TemplateFile()}
		if s, ok := r.host.(host.Snapshotter); ok {
			snapshot.Options = s.OptionSnapshot()
			snapshot.Parameters = s.ParameterSnapshot()
		}
		req.Host = snapshot
	}

	return req
}

func (r *Runner) addFailure(code string, err error, file string) {
	var ee *errors.EngineError
	if stderrors.As(err, &ee) {
		te := ee.ToTemplateError()
		if te.Location.File == "" {
			te.Location.File = file
		}
		r.errors.Add(te)
		return
	}
	r.errors.AddError(code, err.Error(), errors.Location{File: file})
}
