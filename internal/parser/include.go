package parser

import (
	"fmt"
	"strings"

	"github.com/conneroisu/textform/internal/errors"
)

// IncludeLoader loads the text of an included file. resolvedPath identifies
// the file for cycle detection and diagnostics.
type IncludeLoader interface {
	LoadIncludeText(fileName string) (content, resolvedPath string, ok bool)
}

// ExpandIncludes replaces every include directive with the parsed content of
// the file it names. Includes nest; a file that includes itself, directly or
// through others, is reported instead of expanded. Directives carrying
// once="true" are expanded only the first time their file is seen.
func ExpandIncludes(pt *ParsedTemplate, loader IncludeLoader) {
	if loader == nil || len(pt.DirectivesNamed("include")) == 0 {
		return
	}

	x := &expander{
		loader: loader,
		errs:   pt.Errors,
		seen:   make(map[string]bool),
		stack:  []string{pt.File},
	}
	pt.Segments, pt.Directives = x.expand(pt)
}

type expander struct {
	loader IncludeLoader
	errs   *errors.TemplateErrorList
	seen   map[string]bool
	stack  []string
}

func (x *expander) expand(pt *ParsedTemplate) ([]Segment, []*Directive) {
	segments := make([]Segment, 0, len(pt.Segments))
	directives := make([]*Directive, 0, len(pt.Directives))
	next := 0

	for _, d := range pt.Directives {
		for next < d.SegmentIndex && next < len(pt.Segments) {
			segments = append(segments, pt.Segments[next])
			next++
		}

		if d.Name != "include" {
			d.SegmentIndex = len(segments)
			directives = append(directives, d)
			continue
		}

		child, ok := x.load(d)
		if !ok {
			continue
		}

		childSegments, childDirectives := x.expand(child)
		x.stack = x.stack[:len(x.stack)-1]

		offset := len(segments)
		for _, cd := range childDirectives {
			cd.SegmentIndex += offset
			directives = append(directives, cd)
		}
		segments = append(segments, childSegments...)
	}

	segments = append(segments, pt.Segments[next:]...)
	return segments, directives
}

// load parses the file named by an include directive and pushes it on the
// include stack. It returns false when the include is skipped.
func (x *expander) load(d *Directive) (*ParsedTemplate, bool) {
	file, ok := d.Lookup("file")
	if !ok || strings.TrimSpace(file) == "" {
		x.errs.AddError(errors.ErrCodeIncludeFailed, "include directive requires a file attribute", d.Start)
		return nil, false
	}

	content, resolved, ok := x.loader.LoadIncludeText(file)
	if !ok {
		x.errs.AddError(errors.ErrCodeIncludeFailed,
			fmt.Sprintf("could not read included file %q", file), d.Start)
		return nil, false
	}
	if resolved == "" {
		resolved = file
	}

	for _, open := range x.stack {
		if open == resolved {
			x.errs.AddError(errors.ErrCodeIncludeFailed,
				fmt.Sprintf("include cycle: %s -> %s", strings.Join(x.stack, " -> "), resolved), d.Start)
			return nil, false
		}
	}

	if strings.EqualFold(d.Get("once"), "true") && x.seen[resolved] {
		return nil, false
	}
	x.seen[resolved] = true
	x.stack = append(x.stack, resolved)

	return Parse(content, resolved, x.errs), true
}
