// Package resolver applies a parsed template's directives to TemplateSettings
// and runs the directive processors they route to.
package resolver

import (
	"context"
	"fmt"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/language"

	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/host"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/parser"
	"github.com/conneroisu/textform/internal/processor"
	"github.com/conneroisu/textform/internal/settings"
)

// Names used when asking the host for parameter values
const (
	ParameterDirectiveID   = "parameter"
	ParameterProcessorName = "ParameterDirectiveProcessor"
)

// Types a parameter directive may declare
var parameterTypes = map[string]bool{
	"string":  true,
	"int":     true,
	"int64":   true,
	"float64": true,
	"bool":    true,
}

// Result is the outcome of resolving one template
type Result struct {
	Settings      *settings.TemplateSettings
	Contributions []processor.Contribution
	Errors        *errors.TemplateErrorList
}

// Resolver turns directives into settings
type Resolver struct {
	logger logging.Logger
}

// New creates a resolver
func New(logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{logger: logger.WithComponent("resolver")}
}

// Resolve processes pt's directives in source order on top of base (defaults
// when nil). Problems are recorded in pt.Errors and resolution continues; the
// returned error is set only for fatal conditions.
func (r *Resolver) Resolve(
	ctx context.Context,
	pt *parser.ParsedTemplate,
	h host.Host,
	base *settings.TemplateSettings,
	session host.Session,
) (*Result, error) {
	s := settings.New()
	if base != nil {
		s = base.Clone()
	}
	if s.TemplateFile == "" {
		s.TemplateFile = pt.File
	}

	run := &resolution{
		ctx:        ctx,
		logger:     r.logger,
		pt:         pt,
		host:       h,
		settings:   s,
		session:    session,
		seen:       make(map[string]string),
		processors: make(map[string]*activeProcessor),
	}

	for _, d := range pt.Directives {
		if err := run.directive(d); err != nil {
			return nil, err
		}
	}

	contributions, err := run.finish()
	if err != nil {
		return nil, err
	}

	return &Result{
		Settings:      s,
		Contributions: contributions,
		Errors:        pt.Errors,
	}, nil
}

type activeProcessor struct {
	name   string
	impl   processor.DirectiveProcessor
	failed bool
}

type resolution struct {
	ctx      context.Context
	logger   logging.Logger
	pt       *parser.ParsedTemplate
	host     host.Host
	settings *settings.TemplateSettings
	session  host.Session

	// seen holds the first value of every template and output attribute
	seen map[string]string

	processors map[string]*activeProcessor
	order      []*activeProcessor
}

func (r *resolution) errorf(code string, loc errors.Location, format string, args ...interface{}) {
	r.pt.LogError(code, fmt.Sprintf(format, args...), loc)
}

func (r *resolution) warnf(code string, loc errors.Location, format string, args ...interface{}) {
	r.pt.LogWarning(code, fmt.Sprintf(format, args...), loc)
}

func (r *resolution) directive(d *parser.Directive) error {
	switch d.Name {
	case "template":
		r.templateDirective(d)
	case "assembly":
		r.assemblyDirective(d)
	case "import":
		r.importDirective(d)
	case "output":
		r.outputDirective(d)
	case "parameter":
		r.parameterDirective(d)
	case "include":
		// spliced by parser.ExpandIncludes
	default:
		return r.customDirective(d)
	}
	return nil
}

// first records the first value of a single-valued attribute. It reports
// false when a different value was already set.
func (r *resolution) first(d *parser.Directive, key, value string) bool {
	id := d.Name + "." + key
	prev, ok := r.seen[id]
	if !ok {
		r.seen[id] = value
		return true
	}
	if prev != value {
		r.errorf(errors.ErrCodeConflictingDirective, d.Start,
			"%s directive sets %s to %q, conflicting with earlier value %q", d.Name, key, value, prev)
	}
	return false
}

func (r *resolution) templateDirective(d *parser.Directive) {
	for _, key := range sortedKeys(d.Attributes) {
		value := d.Attributes[key]
		if !r.first(d, key, value) {
			continue
		}

		s := r.settings
		switch key {
		case "language":
			s.Language = strings.ToLower(value)
		case "inherits":
			s.Inherits = value
		case "compileroptions":
			s.CompilerOptions = value
		case "culture":
			if value == "" {
				s.Culture = ""
				continue
			}
			tag, err := language.Parse(value)
			if err != nil {
				r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "invalid culture %q: %v", value, err)
				continue
			}
			s.Culture = tag.String()
		case "debug":
			if b, ok := r.parseBool(d, key, value); ok {
				s.Debug = b
			}
		case "linepragmas":
			if b, ok := r.parseBool(d, key, value); ok {
				s.LinePragmas = b
			}
		case "hostspecific":
			switch strings.ToLower(value) {
			case "true":
				s.HostSpecific = settings.HostSpecificOn
			case "false":
				s.HostSpecific = settings.HostSpecificOff
			case settings.HostSpecificTrueFromBase:
				s.HostSpecific = settings.HostSpecificTrueFromBase
			default:
				r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "invalid hostspecific value %q", value)
			}
		case "visibility":
			switch strings.ToLower(value) {
			case "public":
				s.InternalVisibility = false
			case "internal":
				s.InternalVisibility = true
			default:
				r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "invalid visibility %q", value)
			}
		default:
			r.warnf(errors.ErrCodeInvalidAttribute, d.Start, "unknown template directive attribute %q", key)
		}
	}
}

func (r *resolution) parseBool(d *parser.Directive, key, value string) (bool, bool) {
	b, err := cast.ToBoolE(value)
	if err != nil {
		r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "%s attribute %s must be true or false, got %q", d.Name, key, value)
		return false, false
	}
	return b, true
}

func (r *resolution) assemblyDirective(d *parser.Directive) {
	name, ok := d.Lookup("name")
	if !ok || strings.TrimSpace(name) == "" {
		r.errorf(errors.ErrCodeMalformedDirective, d.Start, "assembly directive requires a name attribute")
		return
	}
	r.addReference(name, d.Start)
}

func (r *resolution) addReference(name string, loc errors.Location) {
	resolved, ok := r.host.ResolveAssemblyReference(name)
	if !ok {
		r.errorf(errors.ErrCodeInvalidAttribute, loc, "could not resolve reference %q", name)
		return
	}
	r.settings.References.Add(resolved)
}

func (r *resolution) importDirective(d *parser.Directive) {
	ns, ok := d.Lookup("namespace")
	if !ok || strings.TrimSpace(ns) == "" {
		r.errorf(errors.ErrCodeMalformedDirective, d.Start, "import directive requires a namespace attribute")
		return
	}
	r.settings.Imports.Add(strings.TrimSpace(ns))
}

func (r *resolution) outputDirective(d *parser.Directive) {
	if ext, ok := d.Lookup("extension"); ok && r.first(d, "extension", ext) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.settings.Extension = ext
	}

	if enc, ok := d.Lookup("encoding"); ok && r.first(d, "encoding", enc) {
		canonical, err := htmlindex.Get(enc)
		if err != nil {
			r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "unknown output encoding %q", enc)
			return
		}
		name, err := htmlindex.Name(canonical)
		if err != nil {
			name = strings.ToLower(enc)
		}
		r.settings.Encoding = name
	}
}

func (r *resolution) parameterDirective(d *parser.Directive) {
	name := d.Get("name")
	if !token.IsIdentifier(name) || name == processor.Receiver {
		r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "parameter name %q is reserved or not a valid identifier", name)
		return
	}

	typ := strings.ToLower(d.Get("type"))
	if typ == "" {
		typ = "string"
	}
	if !parameterTypes[typ] {
		r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "parameter %s has unsupported type %q", name, typ)
		return
	}

	if existing, ok := r.settings.Parameter(name); ok {
		if existing.Type != typ {
			r.errorf(errors.ErrCodeConflictingDirective, d.Start,
				"parameter %s redeclared as %s, previously %s", name, typ, existing.Type)
		}
		return
	}

	p := settings.Parameter{Name: name, Type: typ}

	if def, ok := d.Lookup("default"); ok {
		canonical, err := canonicalValue(typ, def)
		if err != nil {
			r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "parameter %s default: %v", name, err)
			return
		}
		p.Default = canonical
		p.HasDefault = true
	}

	value, resolved := r.parameterValue(name)
	switch {
	case resolved:
		canonical, err := canonicalValue(typ, value)
		if err != nil {
			r.errorf(errors.ErrCodeInvalidAttribute, d.Start, "parameter %s: %v", name, err)
			return
		}
		p.Value = canonical
		p.Resolved = true
	case p.HasDefault:
		p.Value = p.Default
	default:
		r.pt.Errors.Add(errors.ErrUnresolvedParameter(name).WithLocation(d.Start).ToTemplateError())
		return
	}

	r.settings.Parameters = append(r.settings.Parameters, p)
}

func (r *resolution) parameterValue(name string) (string, bool) {
	if v, ok := r.session[name]; ok {
		if s, err := cast.ToStringE(v); err == nil {
			return s, true
		}
	}
	return r.host.ResolveParameterValue(ParameterDirectiveID, ParameterProcessorName, name)
}

// canonicalValue checks value against typ and returns it in the form the
// generated program parses back.
func canonicalValue(typ, value string) (string, error) {
	invalid := fmt.Errorf("value %q is not a valid %s", value, typ)

	switch typ {
	case "int":
		v, err := cast.ToIntE(value)
		if err != nil {
			return "", invalid
		}
		return strconv.Itoa(v), nil
	case "int64":
		v, err := cast.ToInt64E(value)
		if err != nil {
			return "", invalid
		}
		return strconv.FormatInt(v, 10), nil
	case "float64":
		v, err := cast.ToFloat64E(value)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return "", invalid
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case "bool":
		v, err := cast.ToBoolE(value)
		if err != nil {
			return "", invalid
		}
		return strconv.FormatBool(v), nil
	default:
		return value, nil
	}
}

func (r *resolution) customDirective(d *parser.Directive) error {
	if err := r.ctx.Err(); err != nil {
		return errors.NewFatalError("directive resolution aborted", err)
	}

	attrs := make(map[string]string, len(d.Attributes))
	for k, v := range d.Attributes {
		attrs[k] = v
	}
	procName, ok := attrs["processor"]
	if ok {
		delete(attrs, "processor")
	} else {
		procName = d.Name
	}

	p, err := r.activate(procName, d)
	if err != nil || p == nil {
		return err
	}

	if !p.impl.IsDirectiveSupported(d.Name) {
		r.errorf(errors.ErrCodeProcessorFailed, d.Start,
			"directive processor %s does not support directive %s", procName, d.Name)
		return nil
	}

	r.settings.CustomDirectives = append(r.settings.CustomDirectives, settings.CustomDirective{
		ProcessorName: procName,
		Directive:     d,
	})

	return r.guard(p, d.Start, func() error {
		return p.impl.ProcessDirective(d.Name, attrs)
	})
}

// activate returns the processor instance for name, creating and initializing
// it on first use. It returns nil when the processor is unavailable.
func (r *resolution) activate(name string, d *parser.Directive) (*activeProcessor, error) {
	key := strings.ToLower(name)
	if p, ok := r.processors[key]; ok {
		if p.failed {
			return nil, nil
		}
		return p, nil
	}

	impl, ok := r.host.ResolveDirectiveProcessor(name)
	if !ok || impl == nil {
		r.pt.Errors.Add(errors.ErrUnknownProcessor(name).WithLocation(d.Start).ToTemplateError())
		return nil, nil
	}

	p := &activeProcessor{name: name, impl: impl}
	r.processors[key] = p
	r.order = append(r.order, p)

	// a processor that fails to initialize is skipped for the rest of the run
	before := r.pt.Errors.Len()
	if err := r.guard(p, d.Start, func() error {
		return impl.Initialize(r.host, r.settings)
	}); err != nil {
		return nil, err
	}
	if r.pt.Errors.Len() != before {
		p.failed = true
		return nil, nil
	}

	r.logger.Debug(r.ctx, "Directive processor initialized", "processor", name)
	return p, nil
}

// guard runs fn, converting errors and panics into template errors tagged with
// the processor. Fatal conditions are returned instead.
func (r *resolution) guard(p *activeProcessor, loc errors.Location, fn func() error) error {
	err := invoke(fn)
	if err == nil {
		return nil
	}
	if errors.IsFatal(err) {
		return err
	}

	var ee *errors.EngineError
	if !asEngineError(err, &ee) {
		ee = errors.ErrProcessorFailed(p.name, err)
	}
	if ee.Code == "" {
		ee.Code = errors.ErrCodeProcessorFailed
	}
	if ee.Location.IsEmpty() {
		ee.Location = loc
	}
	ee.Processor = p.name

	r.pt.Errors.Add(ee.ToTemplateError())
	return nil
}

func (r *resolution) finish() ([]processor.Contribution, error) {
	contributions := make([]processor.Contribution, 0, len(r.order))

	for _, p := range r.order {
		if p.failed {
			continue
		}

		loc := errors.Location{File: r.pt.File}
		before := r.pt.Errors.Len()
		if err := r.guard(p, loc, p.impl.Finish); err != nil {
			return nil, err
		}
		if r.pt.Errors.Len() != before {
			continue
		}

		var c processor.Contribution
		if err := r.guard(p, loc, func() error {
			c = processor.Collect(p.impl)
			return nil
		}); err != nil {
			return nil, err
		}
		c.Processor = p.name

		for _, imp := range c.Imports {
			r.settings.Imports.Add(imp)
		}
		for _, ref := range c.References {
			r.addReference(ref, loc)
		}
		contributions = append(contributions, c)
	}

	return contributions, nil
}
