// Package errors provides the error model of a template processing run and
// the parsing of compiler output into structured diagnostics.
//
// Every stage of a run (parsing, directive resolution, compilation and
// execution) appends to a shared TemplateErrorList instead of stopping at the
// first problem. Compiler output from the Go toolchain is parsed into
// Diagnostics, whose locations already point into the original template when
// the generated source carried line directives.
package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// Severity of a compiler diagnostic
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is one structured message reported by a compiler backend.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Location Location `json:"location"`
	Message  string   `json:"message"`
	Raw      string   `json:"raw,omitempty"`
}

// ToTemplateError converts the diagnostic into a run error entry
func (d Diagnostic) ToTemplateError() TemplateError {
	return TemplateError{
		Message:   d.Message,
		Code:      ErrCodeCompileFailed,
		Location:  d.Location,
		IsWarning: d.Severity == SeverityWarning,
	}
}

// DiagnosticParser parses Go toolchain output into diagnostics
type DiagnosticParser struct {
	patterns []diagnosticPattern
	skip     []*regexp.Regexp
}

type diagnosticPattern struct {
	regex       *regexp.Regexp
	severity    Severity
	parseFields func(matches []string) (loc Location, message string)
}

// NewDiagnosticParser creates a new diagnostic parser
func NewDiagnosticParser() *DiagnosticParser {
	return &DiagnosticParser{
		patterns: buildGoPatterns(),
		skip: []*regexp.Regexp{
			regexp.MustCompile(`^# `),
			regexp.MustCompile(`too many errors$`),
		},
	}
}

// Parse splits output into diagnostics. Indented lines continue the message
// of the previous diagnostic.
func (dp *DiagnosticParser) Parse(output string) []Diagnostic {
	var diags []Diagnostic

	for _, raw := range strings.Split(output, "\n") {
		raw = strings.TrimRight(raw, "\r")
		line := strings.TrimSpace(raw)
		if line == "" || dp.skipped(line) {
			continue
		}

		if len(diags) > 0 && (strings.HasPrefix(raw, "\t") || strings.HasPrefix(raw, "  ")) {
			last := &diags[len(diags)-1]
			last.Message += "\n" + line
			last.Raw += "\n" + raw
			continue
		}

		diags = append(diags, dp.parseLine(line))
	}

	return diags
}

func (dp *DiagnosticParser) skipped(line string) bool {
	for _, re := range dp.skip {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (dp *DiagnosticParser) parseLine(line string) Diagnostic {
	for _, pattern := range dp.patterns {
		matches := pattern.regex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		loc, message := pattern.parseFields(matches)
		return Diagnostic{
			Severity: pattern.severity,
			Location: loc,
			Message:  message,
			Raw:      line,
		}
	}

	// Anything the toolchain prints that we cannot place is still fatal to the build
	return Diagnostic{
		Severity: SeverityError,
		Message:  line,
		Raw:      line,
	}
}

func buildGoPatterns() []diagnosticPattern {
	return []diagnosticPattern{
		{
			regex:    regexp.MustCompile(`^(.+?):(\d+):(\d+): (.+)$`),
			severity: SeverityError,
			parseFields: func(matches []string) (Location, string) {
				line, _ := strconv.Atoi(matches[2])
				column, _ := strconv.Atoi(matches[3])
				return Location{File: strings.TrimPrefix(matches[1], "./"), Line: line, Column: column}, matches[4]
			},
		},
		{
			regex:    regexp.MustCompile(`^(.+?):(\d+): (.+)$`),
			severity: SeverityError,
			parseFields: func(matches []string) (Location, string) {
				line, _ := strconv.Atoi(matches[2])
				return Location{File: strings.TrimPrefix(matches[1], "./"), Line: line}, matches[3]
			},
		},
		{
			regex:    regexp.MustCompile(`^go: (?:warning: )(.+)$`),
			severity: SeverityWarning,
			parseFields: func(matches []string) (Location, string) {
				return Location{}, matches[1]
			},
		},
		{
			regex:    regexp.MustCompile(`^go: (.+)$`),
			severity: SeverityError,
			parseFields: func(matches []string) (Location, string) {
				return Location{}, matches[1]
			},
		},
	}
}

// HasErrors reports whether any diagnostic has error severity
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
