package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/textform/internal/errors"
)

const (
	openMarker  = "<#"
	closeMarker = "#>"
)

// Parse scans text into a ParsedTemplate. Problems are appended to errs (a new
// list is created when errs is nil) and never stop the scan.
func Parse(text, file string, errs *errors.TemplateErrorList) *ParsedTemplate {
	if errs == nil {
		errs = errors.NewTemplateErrorList()
	}

	s := &scanner{
		src:        text,
		lineStarts: lineStarts(text),
		pt: &ParsedTemplate{
			File:       file,
			Segments:   make([]Segment, 0),
			Directives: make([]*Directive, 0),
			Errors:     errs,
		},
	}
	s.run()

	return s.pt
}

type scanner struct {
	src        string
	lineStarts []int
	pt         *ParsedTemplate

	text      strings.Builder
	textStart int
}

func lineStarts(src string) []int {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// loc converts a byte offset into a 1-based line and byte column
func (s *scanner) loc(offset int) errors.Location {
	line := sort.Search(len(s.lineStarts), func(i int) bool {
		return s.lineStarts[i] > offset
	}) - 1
	if line < 0 {
		line = 0
	}
	return errors.Location{
		File:   s.pt.File,
		Line:   line + 1,
		Column: offset - s.lineStarts[line] + 1,
	}
}

func (s *scanner) run() {
	src := s.src
	i := 0

	for i < len(src) {
		// \<# and \#> are literal markers
		if src[i] == '\\' && (strings.HasPrefix(src[i+1:], openMarker) || strings.HasPrefix(src[i+1:], closeMarker)) {
			s.appendText(i, src[i+1:i+3])
			i += 3
			continue
		}

		if !strings.HasPrefix(src[i:], openMarker) {
			s.appendText(i, src[i:i+1])
			i++
			continue
		}

		s.flushText(i)
		i = s.block(i)
		s.textStart = i
	}

	s.flushText(len(src))
}

func (s *scanner) appendText(offset int, text string) {
	if s.text.Len() == 0 {
		s.textStart = offset
	}
	s.text.WriteString(text)
}

func (s *scanner) flushText(end int) {
	if s.text.Len() == 0 {
		return
	}
	s.pt.Segments = append(s.pt.Segments, Segment{
		Kind:       SegmentText,
		Text:       s.text.String(),
		Start:      s.loc(s.textStart),
		End:        s.loc(end),
		BlockStart: s.loc(s.textStart),
	})
	s.text.Reset()
}

type blockKind int

const (
	blockStatement blockKind = iota
	blockExpression
	blockFeature
	blockDirective
)

func (k blockKind) String() string {
	switch k {
	case blockExpression:
		return "expression"
	case blockFeature:
		return "class feature"
	case blockDirective:
		return "directive"
	default:
		return "statement"
	}
}

// block parses the block opening at offset and returns the offset scanning
// resumes from.
func (s *scanner) block(offset int) int {
	src := s.src
	kind := blockStatement
	contentStart := offset + len(openMarker)

	if contentStart < len(src) {
		switch src[contentStart] {
		case '@':
			kind = blockDirective
			contentStart++
		case '=':
			kind = blockExpression
			contentStart++
		case '+':
			kind = blockFeature
			contentStart++
		}
	}

	rest := src[contentStart:]
	closeIdx := strings.Index(rest, closeMarker)
	nextOpen := strings.Index(rest, openMarker)

	if closeIdx < 0 || (nextOpen >= 0 && nextOpen < closeIdx) {
		s.pt.LogError(
			errors.ErrCodeUnterminatedBlock,
			fmt.Sprintf("unterminated %s block", kind),
			s.loc(offset),
		)
		if nextOpen >= 0 {
			return contentStart + nextOpen
		}
		return len(src)
	}

	contentEnd := contentStart + closeIdx
	next := contentEnd + len(closeMarker)

	switch kind {
	case blockDirective:
		if d := s.directive(contentStart, contentEnd); d != nil {
			d.Start = s.loc(offset)
			d.End = s.loc(next)
			d.SegmentIndex = len(s.pt.Segments)
			s.pt.Directives = append(s.pt.Directives, d)
		}
		next = skipNewline(src, next)
	case blockFeature:
		s.addBlock(SegmentClassFeature, offset, contentStart, contentEnd)
		next = skipNewline(src, next)
	case blockExpression:
		s.addBlock(SegmentExpression, offset, contentStart, contentEnd)
	default:
		s.addBlock(SegmentStatement, offset, contentStart, contentEnd)
	}

	return next
}

func (s *scanner) addBlock(kind SegmentKind, opener, start, end int) {
	s.pt.Segments = append(s.pt.Segments, Segment{
		Kind:       kind,
		Text:       s.src[start:end],
		Start:      s.loc(start),
		End:        s.loc(end),
		BlockStart: s.loc(opener),
	})
}

func skipNewline(src string, i int) int {
	switch {
	case strings.HasPrefix(src[i:], "\r\n"):
		return i + 2
	case strings.HasPrefix(src[i:], "\n"):
		return i + 1
	default:
		return i
	}
}

// directive tokenizes `name key="value" ...` found in src[start:end]. It
// returns nil when no name could be read.
func (s *scanner) directive(start, end int) *Directive {
	src := s.src
	p := skipSpace(src, start, end)

	nameStart := p
	for p < end && isNameChar(src[p]) {
		p++
	}
	if p == nameStart {
		s.pt.LogError(errors.ErrCodeMalformedDirective, "directive name is missing", s.loc(nameStart))
		return nil
	}

	d := &Directive{
		Name:       strings.ToLower(src[nameStart:p]),
		Attributes: make(map[string]string),
	}

	for {
		p = skipSpace(src, p, end)
		if p >= end {
			break
		}

		keyStart := p
		for p < end && isNameChar(src[p]) {
			p++
		}
		if p == keyStart {
			s.pt.LogError(errors.ErrCodeMalformedDirective,
				fmt.Sprintf("unexpected character %q in directive %q", src[p], d.Name), s.loc(p))
			p = skipToken(src, p, end)
			continue
		}
		key := strings.ToLower(src[keyStart:p])

		p = skipSpace(src, p, end)
		if p >= end || src[p] != '=' {
			s.pt.LogError(errors.ErrCodeMalformedDirective,
				fmt.Sprintf("attribute %q in directive %q has no value", key, d.Name), s.loc(keyStart))
			continue
		}
		p = skipSpace(src, p+1, end)

		if p >= end || (src[p] != '"' && src[p] != '\'') {
			s.pt.LogError(errors.ErrCodeMalformedDirective,
				fmt.Sprintf("value of attribute %q in directive %q must be quoted", key, d.Name), s.loc(p))
			p = skipToken(src, p, end)
			continue
		}

		value, next, ok := readQuoted(src, p, end)
		if !ok {
			s.pt.LogError(errors.ErrCodeUnterminatedQuote,
				fmt.Sprintf("unterminated quote in attribute %q of directive %q", key, d.Name), s.loc(p))
			break
		}
		p = next

		if _, dup := d.Attributes[key]; dup {
			s.pt.LogError(errors.ErrCodeDuplicateAttribute,
				fmt.Sprintf("duplicate attribute %q in directive %q", key, d.Name), s.loc(keyStart))
			continue
		}
		d.Attributes[key] = value
	}

	return d
}

// readQuoted reads a value opened by the quote at src[p]. A backslash escapes
// the quote character; other backslashes are kept as-is.
func readQuoted(src string, p, end int) (string, int, bool) {
	quote := src[p]
	var b strings.Builder

	for i := p + 1; i < end; i++ {
		c := src[i]
		if c == '\\' && i+1 < end && src[i+1] == quote {
			b.WriteByte(quote)
			i++
			continue
		}
		if c == quote {
			return b.String(), i + 1, true
		}
		b.WriteByte(c)
	}

	return "", end, false
}

func isNameChar(c byte) bool {
	return c == '_' || c == '-' || c == '.' || c == ':' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func skipSpace(src string, p, end int) int {
	for p < end && isSpace(src[p]) {
		p++
	}
	return p
}

func skipToken(src string, p, end int) int {
	for p < end && !isSpace(src[p]) {
		p++
	}
	return p
}
