package codegen

import (
	"bytes"
	"fmt"
	"strings"
)

// sourceWriter accumulates generated source and tracks the line the next
// write starts on, so line directives can point back into the generated file.
type sourceWriter struct {
	buf  strings.Builder
	line int
	last byte
}

func newSourceWriter() *sourceWriter {
	return &sourceWriter{line: 1}
}

// Write implements io.Writer so text/template output is counted too
func (w *sourceWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.line += bytes.Count(p, []byte{'\n'})
	w.last = p[len(p)-1]
	return w.buf.Write(p)
}

func (w *sourceWriter) WriteString(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	w.line += strings.Count(s, "\n")
	w.last = s[len(s)-1]
	return w.buf.WriteString(s)
}

func (w *sourceWriter) printf(format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

func (w *sourceWriter) println(s string) {
	w.WriteString(s)
	w.WriteString("\n")
}

// terminate ends a partial line
func (w *sourceWriter) terminate() {
	if w.buf.Len() > 0 && w.last != '\n' {
		w.WriteString("\n")
	}
}

// Line returns the line number the next write starts on
func (w *sourceWriter) Line() int {
	return w.line
}

func (w *sourceWriter) String() string {
	return w.buf.String()
}
