// Package engine ties parsing, resolution, code generation and execution
// together into single template runs.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/conneroisu/textform/internal/cache"
	"github.com/conneroisu/textform/internal/codegen"
	"github.com/conneroisu/textform/internal/compiler"
	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/host"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/parser"
	"github.com/conneroisu/textform/internal/resolver"
	"github.com/conneroisu/textform/internal/runner"
	"github.com/conneroisu/textform/internal/settings"
)

// Config holds the defaults applied to every template the engine processes
type Config struct {
	// CachedTemplates keeps compiled modules for reuse across runs
	CachedTemplates bool

	// Debug keeps build directories and compiles without optimizations
	Debug bool

	// Timeout bounds a single transformation; zero means no limit
	Timeout time.Duration

	// Imports are added to every generated program
	Imports []string

	// References are resolved through the host and added to every build
	References []string
}

// Engine processes templates
type Engine struct {
	compilers *compiler.Registry
	cache     *cache.ModuleCache
	isolation runner.Isolation
	factory   *runner.Factory
	resolver  *resolver.Resolver
	logger    logging.Logger
	cfg       Config
}

// Option configures an Engine
type Option func(*Engine)

// WithCompiler registers a compiler backend, replacing the one for its language
func WithCompiler(c compiler.Compiler) Option {
	return func(e *Engine) {
		e.compilers.Register(c)
	}
}

// WithCache sets the module cache
func WithCache(c *cache.ModuleCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithIsolation sets where transformations run
func WithIsolation(i runner.Isolation) Option {
	return func(e *Engine) {
		e.isolation = i
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine. Without options it builds with the go toolchain,
// runs every transformation in its own process and caches modules in the
// shared cache.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		compilers: compiler.NewRegistry(),
		cache:     cache.Shared(),
		logger:    logging.NewNop(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")
	if _, ok := e.compilers.Lookup(settings.DefaultLanguage); !ok {
		e.compilers.Register(compiler.NewGoCompiler(
			compiler.WithKeepTemp(cfg.Debug),
			compiler.WithLogger(e.logger),
		))
	}
	if e.isolation == nil {
		e.isolation = runner.NewProcessIsolation(cfg.Timeout, e.logger)
	}

	e.resolver = resolver.New(e.logger)
	e.factory = runner.NewFactory(e.compilers, e.isolation,
		runner.WithCache(e.cache),
		runner.WithLogger(e.logger),
	)
	return e
}

// Output is the result of processing one template
type Output struct {
	Text      string
	Extension string
	Encoding  string
	Errors    *errors.TemplateErrorList
}

// Failed reports whether the run recorded an error
func (o *Output) Failed() bool {
	return o.Errors.HasErrors()
}

// Bytes encodes the text in the output encoding
func (o *Output) Bytes() ([]byte, error) {
	name := strings.ToLower(o.Encoding)
	if name == "" || name == "utf-8" || name == "utf8" {
		return []byte(o.Text), nil
	}
	enc, err := htmlindex.Get(o.Encoding)
	if err != nil {
		return nil, fmt.Errorf("output encoding %q: %w", o.Encoding, err)
	}
	return enc.NewEncoder().Bytes([]byte(o.Text))
}

// ProcessTemplate transforms content. Every problem a template author can fix
// is reported in the output's error list, in which case the text is
// runner.ErrorOutput; the returned error is reserved for fatal conditions.
func (e *Engine) ProcessTemplate(ctx context.Context, h host.Host, content string) (*Output, error) {
	op := logging.StartOperation(e.logger, "process_template")

	errs := errors.NewTemplateErrorList()
	defer h.LogErrors(errs)

	out := &Output{
		Text:      runner.ErrorOutput,
		Extension: settings.DefaultExtension,
		Encoding:  settings.DefaultEncoding,
		Errors:    errs,
	}

	base := e.base(h, errs)
	base.Debug = e.cfg.Debug
	base.CachedTemplates = e.cfg.CachedTemplates

	pt, res, err := e.front(ctx, h, content, base, errs)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	if res != nil {
		out.Extension = res.Settings.Extension
		out.Encoding = res.Settings.Encoding
	}
	if errs.HasErrors() {
		op.EndWithError(ctx, errs.Err())
		return out, nil
	}

	source, err := codegen.Generate(pt, res.Settings, res.Contributions, codegen.Options{})
	if err != nil {
		op.EndWithError(ctx, err)
		return out, e.record(errs, err, res.Settings.TemplateFile)
	}

	text, err := e.run(ctx, pt, source, h, res.Settings)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	out.Text = text
	op.End(ctx)
	return out, nil
}

// base returns the settings every template starts from
func (e *Engine) base(h host.Host, errs *errors.TemplateErrorList) *settings.TemplateSettings {
	base := settings.New()
	if file := h.TemplateFile(); file != "" {
		base.Name = settings.DefaultClassName(file)
	}
	for _, imp := range e.cfg.Imports {
		base.Imports.Add(imp)
	}
	for _, ref := range e.cfg.References {
		resolved, ok := h.ResolveAssemblyReference(ref)
		if !ok {
			errs.AddError(errors.ErrCodeInvalidAttribute,
				fmt.Sprintf("could not resolve reference %q", ref),
				errors.Location{File: h.TemplateFile()})
			continue
		}
		base.References.Add(resolved)
	}
	return base
}

// front parses, expands includes and resolves directives. The returned
// resolution is nil only when err is set.
func (e *Engine) front(ctx context.Context, h host.Host, content string, base *settings.TemplateSettings, errs *errors.TemplateErrorList) (*parser.ParsedTemplate, *resolver.Result, error) {
	var session host.Session
	if sh, ok := h.(host.SessionHost); ok {
		session = sh.Session()
	}

	base.TemplateFile = h.TemplateFile()
	pt := parser.Parse(content, base.TemplateFile, errs)
	parser.ExpandIncludes(pt, h)

	res, err := e.resolver.Resolve(ctx, pt, h, base, session)
	if err != nil {
		return nil, nil, err
	}
	return pt, res, nil
}

func (e *Engine) run(ctx context.Context, pt *parser.ParsedTemplate, source string, h host.Host, ts *settings.TemplateSettings) (string, error) {
	r := e.factory.CreateRunner()
	defer func() {
		if err := e.factory.Dispose(r.ID); err != nil {
			e.logger.Warn(ctx, err, "Failed to dispose runner", "runner", r.ID)
		}
	}()

	ok, err := e.factory.Prepare(ctx, r.ID, pt, source, h, ts)
	pt.Errors.AddRange(r.Errors())
	if err != nil {
		return "", err
	}
	if !ok {
		return runner.ErrorOutput, nil
	}

	r.ClearErrors()
	text, err := e.factory.Start(ctx, r.ID)
	pt.Errors.AddRange(r.Errors())
	if err != nil {
		return "", err
	}
	return text, nil
}

// Preprocessed is generated source for a template that is compiled into
// another program instead of being run
type Preprocessed struct {
	Source     string
	Language   string
	References []string
	Errors     *errors.TemplateErrorList
}

// PreprocessTemplate generates a reusable type for content. className is
// Namespace.Class; the namespace's last element names the package.
func (e *Engine) PreprocessTemplate(ctx context.Context, h host.Host, content, className string) (*Preprocessed, error) {
	op := logging.StartOperation(e.logger, "preprocess_template")

	errs := errors.NewTemplateErrorList()
	defer h.LogErrors(errs)

	base := e.base(h, errs)
	base.Preprocessed = true
	base.Namespace, base.Name = SplitClassName(className)

	out := &Preprocessed{Language: base.Language, Errors: errs}

	pt, res, err := e.front(ctx, h, content, base, errs)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	out.Language = res.Settings.Language
	out.References = res.Settings.References.Values()
	if errs.HasErrors() {
		op.EndWithError(ctx, errs.Err())
		return out, nil
	}

	source, err := codegen.Generate(pt, res.Settings, res.Contributions, codegen.Options{Preprocess: true})
	if err != nil {
		op.EndWithError(ctx, err)
		return out, e.record(errs, err, res.Settings.TemplateFile)
	}
	out.Source = source
	op.End(ctx)
	return out, nil
}

// SplitClassName splits Namespace.Class at the last dot
func SplitClassName(name string) (namespace, class string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// record adds a non-fatal error to errs and passes fatal ones through
func (e *Engine) record(errs *errors.TemplateErrorList, err error, file string) error {
	if errors.IsFatal(err) {
		return err
	}
	var ee *errors.EngineError
	if stderrors.As(err, &ee) {
		te := ee.ToTemplateError()
		if te.Location.File == "" {
			te.Location.File = file
		}
		errs.Add(te)
		return nil
	}
	errs.AddError(errors.ErrCodeInternalError, err.Error(), errors.Location{File: file})
	return nil
}

// Compilers returns the engine's compiler registry
func (e *Engine) Compilers() *compiler.Registry {
	return e.compilers
}

// Cache returns the module cache
func (e *Engine) Cache() *cache.ModuleCache {
	return e.cache
}

// Close disposes outstanding runners and the isolation context
func (e *Engine) Close() error {
	return e.factory.Close()
}
