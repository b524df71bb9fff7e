package errors

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Location points at a position in a template or generated source file.
// A zero Line or Column means the coordinate is unknown.
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// IsEmpty reports whether nothing is known about the location.
func (l Location) IsEmpty() bool {
	return l.File == "" && l.Line <= 0 && l.Column <= 0
}

// String renders the location as file(line,col).
func (l Location) String() string {
	file := l.File
	if file == "" {
		file = "<template>"
	}
	if l.Line <= 0 {
		return file
	}
	if l.Column <= 0 {
		return fmt.Sprintf("%s(%d)", file, l.Line)
	}
	return fmt.Sprintf("%s(%d,%d)", file, l.Line, l.Column)
}

// TemplateError is one entry of a processing run's error list.
type TemplateError struct {
	Message   string   `json:"message"`
	Code      string   `json:"code,omitempty"`
	Location  Location `json:"location"`
	IsWarning bool     `json:"is_warning,omitempty"`
}

// Error implements the error interface
func (te TemplateError) Error() string {
	kind := "ERROR"
	if te.IsWarning {
		kind = "WARNING"
	}
	if te.Code != "" {
		return fmt.Sprintf("%s: %s %s: %s", te.Location, kind, te.Code, te.Message)
	}
	return fmt.Sprintf("%s: %s %s", te.Location, kind, te.Message)
}

// TemplateErrorList collects the errors of one processing run. Entries are
// only ever appended; Clear is the single way to remove them.
type TemplateErrorList struct {
	errors []TemplateError
	mutex  sync.RWMutex
}

// NewTemplateErrorList creates an empty error list
func NewTemplateErrorList() *TemplateErrorList {
	return &TemplateErrorList{
		errors: make([]TemplateError, 0),
	}
}

// Add appends an entry
func (l *TemplateErrorList) Add(err TemplateError) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.errors = append(l.errors, err)
}

// AddError appends an error-severity entry
func (l *TemplateErrorList) AddError(code, message string, loc Location) {
	l.Add(TemplateError{Message: message, Code: code, Location: loc})
}

// AddWarning appends a warning entry
func (l *TemplateErrorList) AddWarning(code, message string, loc Location) {
	l.Add(TemplateError{Message: message, Code: code, Location: loc, IsWarning: true})
}

// AddEngineError converts a structured error and appends it
func (l *TemplateErrorList) AddEngineError(err *EngineError) {
	if err == nil {
		return
	}
	l.Add(err.ToTemplateError())
}

// AddRange appends every entry of other, preserving order
func (l *TemplateErrorList) AddRange(other *TemplateErrorList) {
	if other == nil || other == l {
		return
	}
	entries := other.Errors()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.errors = append(l.errors, entries...)
}

// Errors returns a copy of all entries in insertion order
func (l *TemplateErrorList) Errors() []TemplateError {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	result := make([]TemplateError, len(l.errors))
	copy(result, l.errors)
	return result
}

// Len returns the number of entries, warnings included
func (l *TemplateErrorList) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.errors)
}

// HasErrors returns true if any entry has error severity
func (l *TemplateErrorList) HasErrors() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	for _, e := range l.errors {
		if !e.IsWarning {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any entry is a warning
func (l *TemplateErrorList) HasWarnings() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	for _, e := range l.errors {
		if e.IsWarning {
			return true
		}
	}
	return false
}

// Clear removes all entries
func (l *TemplateErrorList) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.errors = l.errors[:0]
}

// Err combines the error-severity entries into a single error, or returns nil.
func (l *TemplateErrorList) Err() error {
	var err error
	for _, e := range l.Errors() {
		if e.IsWarning {
			continue
		}
		err = multierr.Append(err, e)
	}
	return err
}

// String renders one entry per line
func (l *TemplateErrorList) String() string {
	entries := l.Errors()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}
