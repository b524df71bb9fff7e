// Package settings holds the configuration a template's directives resolve to.
package settings

import (
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/conneroisu/textform/internal/parser"
)

// Defaults applied to every new TemplateSettings
const (
	DefaultLanguage  = "go"
	DefaultName      = "GeneratedTextTransformation"
	DefaultNamespace = "textform"
	DefaultEncoding  = "utf-8"
	DefaultExtension = ".txt"
)

// HostSpecific values accepted by the template directive
const (
	HostSpecificOff          = ""
	HostSpecificOn           = "true"
	HostSpecificTrueFromBase = "truefrombase"
)

// TemplateSettings is the canonical configuration derived from a template's
// directives. Name and Namespace together identify the generated program.
type TemplateSettings struct {
	Language           string
	Name               string
	Namespace          string
	Inherits           string
	Imports            *StringSet
	References         *StringSet
	CustomDirectives   []CustomDirective
	Parameters         []Parameter
	CompilerOptions    string
	Encoding           string
	Extension          string
	Culture            string
	TemplateFile       string
	HostSpecific       string
	Debug              bool
	CachedTemplates    bool
	LinePragmas        bool
	Preprocessed       bool
	InternalVisibility bool
}

// New returns settings populated with defaults
func New() *TemplateSettings {
	return &TemplateSettings{
		Language:    DefaultLanguage,
		Name:        DefaultName,
		Namespace:   DefaultNamespace,
		Encoding:    DefaultEncoding,
		Extension:   DefaultExtension,
		Imports:     NewStringSet(),
		References:  NewStringSet(),
		LinePragmas: true,
	}
}

// DefaultClassName returns the class name of a template without a class
// attribute, so templates in different files do not share an identity.
func DefaultClassName(templateFile string) string {
	base := filepath.Base(templateFile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return DefaultName
	}
	suffix := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return '_'
	}, base)
	return DefaultName + "_" + suffix
}

// FullName returns the generated program identity, used as the cache key
func (s *TemplateSettings) FullName() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "." + s.Name
}

// IsHostSpecific reports whether the generated program gets a Host proxy
func (s *TemplateSettings) IsHostSpecific() bool {
	return s.HostSpecific != HostSpecificOff
}

// PackageName returns the Go package name for preprocessed output: the last
// element of the namespace.
func (s *TemplateSettings) PackageName() string {
	ns := s.Namespace
	if i := strings.LastIndex(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if ns == "" {
		return DefaultNamespace
	}
	return strings.ToLower(ns)
}

// Parameter looks up a declared parameter by name
func (s *TemplateSettings) Parameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Clone returns a deep copy of the settings
func (s *TemplateSettings) Clone() *TemplateSettings {
	c := *s
	c.Imports = s.Imports.Clone()
	c.References = s.References.Clone()
	c.CustomDirectives = append([]CustomDirective(nil), s.CustomDirectives...)
	c.Parameters = append([]Parameter(nil), s.Parameters...)
	return &c
}

// CustomDirective pairs a directive with the processor that owns it
type CustomDirective struct {
	ProcessorName string
	Directive     *parser.Directive
}

// Parameter is a value declared with the parameter directive. Value holds
// the canonical text of the resolved value, or of the default when Resolved
// is false.
type Parameter struct {
	Name       string
	Type       string
	Value      string
	Default    string
	HasDefault bool
	Resolved   bool
}

// StringSet is a deduplicating set of strings that remembers insertion order
type StringSet struct {
	index map[string]struct{}
	order []string
}

// NewStringSet creates a set holding values
func NewStringSet(values ...string) *StringSet {
	s := &StringSet{index: make(map[string]struct{})}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts value and reports whether it was new
func (s *StringSet) Add(value string) bool {
	if _, ok := s.index[value]; ok {
		return false
	}
	s.index[value] = struct{}{}
	s.order = append(s.order, value)
	return true
}

// Has reports whether value is in the set
func (s *StringSet) Has(value string) bool {
	_, ok := s.index[value]
	return ok
}

// Len returns the number of values
func (s *StringSet) Len() int {
	return len(s.order)
}

// Values returns a sorted copy of the set
func (s *StringSet) Values() []string {
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}

// Ordered returns the values in insertion order
func (s *StringSet) Ordered() []string {
	return append([]string(nil), s.order...)
}

// Clone returns an independent copy
func (s *StringSet) Clone() *StringSet {
	if s == nil {
		return NewStringSet()
	}
	return NewStringSet(s.order...)
}
