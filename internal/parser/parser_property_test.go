//go:build property

package parser

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var stringType = reflect.TypeOf("")

// TestParserProperties checks the parser laws over generated input
func TestParserProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// Property: text without markers parses to a single text segment equal to the input
	properties.Property("plain text is preserved", prop.ForAll(
		func(text string) bool {
			if strings.Contains(text, "<#") || strings.Contains(text, "#>") || strings.Contains(text, "\\") {
				return true
			}

			pt := Parse(text, "p.tt", nil)
			if pt.Errors.Len() != 0 || len(pt.Directives) != 0 {
				return false
			}
			if text == "" {
				return len(pt.Segments) == 0
			}
			return len(pt.Segments) == 1 && pt.Segments[0].Text == text
		},
		gen.AnyString(),
	))

	// Property: parsing is deterministic for arbitrary input, markers included
	properties.Property("parsing is deterministic", prop.ForAll(
		func(parts []string) bool {
			input := strings.Join(parts, "")
			first := Parse(input, "d.tt", nil)
			second := Parse(input, "d.tt", nil)

			return cmp.Equal(first.Segments, second.Segments) &&
				cmp.Equal(first.Directives, second.Directives) &&
				first.Errors.Len() == second.Errors.Len()
		},
		gen.SliceOf(gen.OneConstOf("<#", "<#@", "<#=", "<#+", "#>", "\\<#", " a=\"b\" ", "text", "\n", "\r\n", "'"), stringType),
	))

	// Property: no empty text segment is ever emitted
	properties.Property("text segments never empty", prop.ForAll(
		func(parts []string) bool {
			pt := Parse(strings.Join(parts, ""), "e.tt", nil)
			for _, s := range pt.Segments {
				if s.Kind == SegmentText && s.Text == "" {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.OneConstOf("<#", "#>", "<#= x #>", "abc", "\n"), stringType),
	))

	properties.TestingRun(t)
}
