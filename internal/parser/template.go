// Package parser turns raw template text into an ordered list of segments and
// directives.
//
// A template mixes literal text with four kinds of blocks:
//
//	<#@ name key="value" #>   directive
//	<#= expression #>         expression, its value is appended to the output
//	<# statements #>          statements, copied verbatim into the body
//	<#+ declarations #>       class features, copied verbatim after the body
//
// Parsing is fail-soft: malformed blocks and directives are recorded in the
// error list and scanning continues with the next recognizable marker.
package parser

import (
	"strings"

	"github.com/conneroisu/textform/internal/errors"
)

// SegmentKind identifies what a segment holds
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentExpression
	SegmentStatement
	SegmentClassFeature
)

// String returns the string representation of the SegmentKind
func (k SegmentKind) String() string {
	switch k {
	case SegmentText:
		return "text"
	case SegmentExpression:
		return "expression"
	case SegmentStatement:
		return "statement"
	case SegmentClassFeature:
		return "class feature"
	default:
		return "unknown"
	}
}

// Segment is one parsed unit of a template. Start points at the first byte of
// the content, End at the byte following it; for blocks, BlockStart is the
// position of the opening marker.
type Segment struct {
	Kind       SegmentKind
	Text       string
	Start      errors.Location
	End        errors.Location
	BlockStart errors.Location
}

// Directive is a parsed <#@ ... #> block. Names and attribute keys are lower-case.
type Directive struct {
	Name       string
	Attributes map[string]string
	Start      errors.Location
	End        errors.Location

	// SegmentIndex is the number of segments preceding the directive
	SegmentIndex int
}

// Get returns an attribute value, or "" when absent
func (d *Directive) Get(key string) string {
	return d.Attributes[strings.ToLower(key)]
}

// Lookup returns an attribute value and whether it was present
func (d *Directive) Lookup(key string) (string, bool) {
	v, ok := d.Attributes[strings.ToLower(key)]
	return v, ok
}

// Extract returns an attribute value and removes it from the directive
func (d *Directive) Extract(key string) (string, bool) {
	key = strings.ToLower(key)
	v, ok := d.Attributes[key]
	if ok {
		delete(d.Attributes, key)
	}
	return v, ok
}

// ParsedTemplate is the result of parsing one template text
type ParsedTemplate struct {
	File       string
	Segments   []Segment
	Directives []*Directive
	Errors     *errors.TemplateErrorList
}

// LogError records an error against the template
func (pt *ParsedTemplate) LogError(code, message string, loc errors.Location) {
	if loc.File == "" {
		loc.File = pt.File
	}
	pt.Errors.AddError(code, message, loc)
}

// LogWarning records a warning against the template
func (pt *ParsedTemplate) LogWarning(code, message string, loc errors.Location) {
	if loc.File == "" {
		loc.File = pt.File
	}
	pt.Errors.AddWarning(code, message, loc)
}

// Body returns the segments before the first class feature block
func (pt *ParsedTemplate) Body() []Segment {
	for i, s := range pt.Segments {
		if s.Kind == SegmentClassFeature {
			return pt.Segments[:i]
		}
	}
	return pt.Segments
}

// Features returns the class feature block and everything after it
func (pt *ParsedTemplate) Features() []Segment {
	for i, s := range pt.Segments {
		if s.Kind == SegmentClassFeature {
			return pt.Segments[i:]
		}
	}
	return nil
}

// DirectivesNamed returns the directives with the given name in source order
func (pt *ParsedTemplate) DirectivesNamed(name string) []*Directive {
	name = strings.ToLower(name)
	var out []*Directive
	for _, d := range pt.Directives {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}
