// Package processor defines the contract for directive processors: plugins
// that interpret custom directives and contribute code to the generated
// program.
package processor

import (
	"github.com/conneroisu/textform/internal/settings"
)

// Host is the part of the template host a processor may use
type Host interface {
	TemplateFile() string
	ResolvePath(path string) string
	LoadIncludeText(fileName string) (content, resolvedPath string, ok bool)
	GetHostOption(name string) (interface{}, bool)
	ResolveParameterValue(directiveID, processorName, parameterName string) (string, bool)
}

// DirectiveProcessor interprets one or more custom directives. The resolver
// calls Initialize once per run, ProcessDirective for every directive routed
// to the processor, then Finish; the code accessors are read after Finish.
type DirectiveProcessor interface {
	// Name returns the registered name of the processor
	Name() string

	// Initialize prepares the processor for one template run
	Initialize(host Host, settings *settings.TemplateSettings) error

	// IsDirectiveSupported reports whether the processor handles the directive name
	IsDirectiveSupported(name string) bool

	// ProcessDirective handles one directive instance
	ProcessDirective(name string, attributes map[string]string) error

	// Imports returns Go import paths the contributed code needs
	Imports() []string

	// References returns module references the contributed code needs
	References() []string

	// ClassCode returns struct field declarations added to the generated class
	ClassCode() string

	// PreInitCode returns statements run at the start of Initialize
	PreInitCode() string

	// PostInitCode returns statements run at the end of Initialize
	PostInitCode() string

	// Finish completes processing for the run
	Finish() error
}

// Contribution is what one processor added to a run
type Contribution struct {
	Processor    string
	Imports      []string
	References   []string
	ClassCode    string
	PreInitCode  string
	PostInitCode string
}

// Collect reads the code accessors of a finished processor
func Collect(p DirectiveProcessor) Contribution {
	return Contribution{
		Processor:    p.Name(),
		Imports:      p.Imports(),
		References:   p.References(),
		ClassCode:    p.ClassCode(),
		PreInitCode:  p.PreInitCode(),
		PostInitCode: p.PostInitCode(),
	}
}

// Base implements the processor contract with no-ops. Processors embed it
// and override what they need.
type Base struct {
	ProcessorName string
	Host          Host
	Settings      *settings.TemplateSettings
}

// Name returns the processor name
func (b *Base) Name() string { return b.ProcessorName }

// Initialize stores the host and settings for the run
func (b *Base) Initialize(host Host, s *settings.TemplateSettings) error {
	b.Host = host
	b.Settings = s
	return nil
}

// IsDirectiveSupported accepts nothing
func (b *Base) IsDirectiveSupported(string) bool { return false }

// ProcessDirective ignores the directive
func (b *Base) ProcessDirective(string, map[string]string) error { return nil }

func (b *Base) Imports() []string    { return nil }
func (b *Base) References() []string { return nil }
func (b *Base) ClassCode() string    { return "" }
func (b *Base) PreInitCode() string  { return "" }
func (b *Base) PostInitCode() string { return "" }
func (b *Base) Finish() error        { return nil }
