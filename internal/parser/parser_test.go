package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/textform/internal/errors"
)

func kinds(segments []Segment) []SegmentKind {
	out := make([]SegmentKind, len(segments))
	for i, s := range segments {
		out[i] = s.Kind
	}
	return out
}

func codes(list *errors.TemplateErrorList) []string {
	var out []string
	for _, e := range list.Errors() {
		out = append(out, e.Code)
	}
	return out
}

func TestParseBlockKinds(t *testing.T) {
	pt := Parse("Hello <#= name #>!<# if true { #>yes<# } #>\n<#+ func (t *T) x() {} #>", "a.tt", nil)

	require.False(t, pt.Errors.HasErrors(), pt.Errors.String())
	assert.Equal(t, []SegmentKind{
		SegmentText,
		SegmentExpression,
		SegmentText,
		SegmentStatement,
		SegmentText,
		SegmentStatement,
		SegmentText,
		SegmentClassFeature,
	}, kinds(pt.Segments))

	assert.Equal(t, "Hello ", pt.Segments[0].Text)
	assert.Equal(t, " name ", pt.Segments[1].Text)
	assert.Equal(t, " if true { ", pt.Segments[3].Text)
	assert.Equal(t, "\n", pt.Segments[6].Text)
	assert.Equal(t, " func (t *T) x() {} ", pt.Segments[7].Text)
}

func TestParseLocations(t *testing.T) {
	pt := Parse("line one\n  <#= x #>\r\nafter", "loc.tt", nil)
	require.Len(t, pt.Segments, 3)

	expr := pt.Segments[1]
	assert.Equal(t, errors.Location{File: "loc.tt", Line: 2, Column: 3}, expr.BlockStart)
	assert.Equal(t, errors.Location{File: "loc.tt", Line: 2, Column: 6}, expr.Start)

	last := pt.Segments[2]
	assert.Equal(t, "\r\nafter", last.Text)
	assert.Equal(t, 2, last.Start.Line)
	assert.Equal(t, errors.Location{File: "loc.tt", Line: 3, Column: 6}, last.End)
}

func TestParseEscapedMarkers(t *testing.T) {
	pt := Parse(`a \<# not a block \#> b`, "", nil)

	require.Len(t, pt.Segments, 1)
	assert.Equal(t, "a <# not a block #> b", pt.Segments[0].Text)
	assert.Empty(t, pt.Directives)
}

func TestParseDirectives(t *testing.T) {
	pt := Parse("<#@ Template Language=\"go\" debug='true' #>\n<#@ import namespace=\"strings\" #>\r\nbody", "d.tt", nil)

	require.False(t, pt.Errors.HasErrors(), pt.Errors.String())
	require.Len(t, pt.Directives, 2)

	tmpl := pt.Directives[0]
	assert.Equal(t, "template", tmpl.Name)
	assert.Equal(t, map[string]string{"language": "go", "debug": "true"}, tmpl.Attributes)
	assert.Equal(t, 0, tmpl.SegmentIndex)
	assert.Equal(t, errors.Location{File: "d.tt", Line: 1, Column: 1}, tmpl.Start)

	assert.Equal(t, "strings", pt.Directives[1].Get("NAMESPACE"))

	// the newline after each directive is swallowed
	require.Len(t, pt.Segments, 1)
	assert.Equal(t, "body", pt.Segments[0].Text)
}

func TestParseDirectiveQuoteEscapes(t *testing.T) {
	pt := Parse(`<#@ parameter name="q" default="say \"hi\" \n" #>`, "", nil)

	require.False(t, pt.Errors.HasErrors())
	require.Len(t, pt.Directives, 1)
	assert.Equal(t, `say "hi" \n`, pt.Directives[0].Get("default"))
}

func TestParseDirectiveErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		codes     []string
		directive bool
		attrs     map[string]string
	}{
		{
			name:  "missing name",
			input: `<#@ #>`,
			codes: []string{errors.ErrCodeMalformedDirective},
		},
		{
			name:      "duplicate attribute",
			input:     `<#@ assembly name="a" NAME="b" #>`,
			codes:     []string{errors.ErrCodeDuplicateAttribute},
			directive: true,
			attrs:     map[string]string{"name": "a"},
		},
		{
			name:      "unterminated quote",
			input:     `<#@ import namespace="fmt #>`,
			codes:     []string{errors.ErrCodeUnterminatedQuote},
			directive: true,
			attrs:     map[string]string{},
		},
		{
			name:      "missing equals",
			input:     `<#@ output extension ".go" encoding="utf-8" #>`,
			codes:     []string{errors.ErrCodeMalformedDirective, errors.ErrCodeMalformedDirective},
			directive: true,
			attrs:     map[string]string{"encoding": "utf-8"},
		},
		{
			name:      "unquoted value",
			input:     `<#@ output extension=go #>`,
			codes:     []string{errors.ErrCodeMalformedDirective},
			directive: true,
			attrs:     map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt := Parse(tt.input, "e.tt", nil)

			assert.Equal(t, tt.codes, codes(pt.Errors))
			if !tt.directive {
				assert.Empty(t, pt.Directives)
				return
			}
			require.Len(t, pt.Directives, 1)
			assert.Equal(t, tt.attrs, pt.Directives[0].Attributes)
		})
	}
}

func TestParseUnterminatedBlockContinues(t *testing.T) {
	pt := Parse("before <#@ import namespace=\"x\"\nlost <#= value #> after", "u.tt", nil)

	errs := pt.Errors.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, errors.ErrCodeUnterminatedBlock, errs[0].Code)
	assert.Equal(t, errors.Location{File: "u.tt", Line: 1, Column: 8}, errs[0].Location)

	assert.Equal(t, []SegmentKind{SegmentText, SegmentExpression, SegmentText}, kinds(pt.Segments))
	assert.Equal(t, "before ", pt.Segments[0].Text)
	assert.Equal(t, " after", pt.Segments[2].Text)
	assert.Empty(t, pt.Directives)
}

func TestParseUnterminatedAtEnd(t *testing.T) {
	pt := Parse("text <# unfinished", "", nil)

	assert.Equal(t, []string{errors.ErrCodeUnterminatedBlock}, codes(pt.Errors))
	require.Len(t, pt.Segments, 1)
	assert.Equal(t, "text ", pt.Segments[0].Text)
}

func TestParseSharedErrorList(t *testing.T) {
	list := errors.NewTemplateErrorList()
	list.AddError("X", "existing", errors.Location{})

	pt := Parse("<#", "", list)
	assert.Same(t, list, pt.Errors)
	assert.Equal(t, 2, list.Len())
}

func TestParseDeterministic(t *testing.T) {
	input := "<#@ template language=\"go\" #>\nA<#= 1 #>B<# x := 1 #>\n<#+ func f() {} #>tail \\<#"

	first := Parse(input, "same.tt", nil)
	second := Parse(input, "same.tt", nil)

	if diff := cmp.Diff(first.Segments, second.Segments); diff != "" {
		t.Errorf("segments differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Directives, second.Directives); diff != "" {
		t.Errorf("directives differ (-first +second):\n%s", diff)
	}
}

func TestBodyAndFeatures(t *testing.T) {
	pt := Parse("a<#+ func f() {} #>b", "", nil)

	assert.Equal(t, []SegmentKind{SegmentText}, kinds(pt.Body()))
	assert.Equal(t, []SegmentKind{SegmentClassFeature, SegmentText}, kinds(pt.Features()))

	plain := Parse("just text", "", nil)
	assert.Len(t, plain.Body(), 1)
	assert.Nil(t, plain.Features())
}

func TestDirectiveExtract(t *testing.T) {
	d := &Directive{Name: "x", Attributes: map[string]string{"processor": "p", "a": "1"}}

	v, ok := d.Extract("Processor")
	assert.True(t, ok)
	assert.Equal(t, "p", v)
	_, ok = d.Lookup("processor")
	assert.False(t, ok)
	assert.Equal(t, "1", d.Get("A"))
}

func TestSegmentKindString(t *testing.T) {
	assert.Equal(t, "text", SegmentText.String())
	assert.Equal(t, "class feature", SegmentClassFeature.String())
	assert.Equal(t, "unknown", SegmentKind(99).String())
}
