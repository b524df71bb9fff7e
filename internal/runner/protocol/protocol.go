// Package protocol defines the messages exchanged between the runner and a
// transformation running in isolation. Generated programs read a Request as
// JSON on stdin and write a Response as JSON on stdout.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/conneroisu/textform/internal/errors"
)

// HostSnapshot is the part of the host a transformation can see
type HostSnapshot struct {
	TemplateFile string            `json:"template_file,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// Request starts one transformation. Host is nil unless the template is
// host specific.
type Request struct {
	Session    map[string]any    `json:"session,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Host       *HostSnapshot     `json:"host,omitempty"`
	Culture    string            `json:"culture,omitempty"`
}

// ResponseError is an error or warning reported by the transformation
type ResponseError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Warning bool   `json:"warning,omitempty"`
}

// TemplateError converts the entry, defaulting the code and file
func (e ResponseError) TemplateError(defaultCode, defaultFile string) errors.TemplateError {
	code := e.Code
	if code == "" {
		code = defaultCode
	}
	file := e.File
	if file == "" {
		file = defaultFile
	}
	return errors.TemplateError{
		Message:   e.Message,
		Code:      code,
		Location:  errors.Location{File: file, Line: e.Line, Column: e.Column},
		IsWarning: e.Warning,
	}
}

// Response is the outcome of one transformation
type Response struct {
	Output string          `json:"output"`
	Errors []ResponseError `json:"errors,omitempty"`
}

// HasErrors reports whether any entry has error severity
func (r *Response) HasErrors() bool {
	for _, e := range r.Errors {
		if !e.Warning {
			return true
		}
	}
	return false
}

// WriteRequest encodes a request
func WriteRequest(w io.Writer, req *Request) error {
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return nil
}

// ReadResponse decodes a response
func ReadResponse(r io.Reader) (*Response, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// ReadRequest decodes a request
func ReadRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

// WriteResponse encodes a response
func WriteResponse(w io.Writer, resp *Response) error {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}

// Transformation is the lifecycle every generated class implements
type Transformation interface {
	Initialize() error
	TransformText() string
}

// Receiver is implemented by in-process transformations that accept the
// request state before Initialize runs.
type Receiver interface {
	Receive(req *Request)
}

// Reporter is implemented by in-process transformations that record errors
type Reporter interface {
	ReportedErrors() []ResponseError
}
