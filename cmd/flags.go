package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/textform/internal/config"
	"github.com/conneroisu/textform/internal/host"
	"github.com/conneroisu/textform/internal/processor"
	"github.com/conneroisu/textform/internal/validation"
)

// TransformFlags holds the flags shared by commands that process templates
type TransformFlags struct {
	References     []string
	Imports        []string
	IncludePaths   []string
	ReferencePaths []string
	Processors     []string
	Parameters     []string

	InProcess bool
	NoCache   bool
	Debug     bool
	Timeout   time.Duration
}

// AddTransformFlags adds the template processing flags to a command
func AddTransformFlags(cmd *cobra.Command) *TransformFlags {
	flags := &TransformFlags{}
	f := cmd.Flags()

	f.StringArrayVarP(&flags.References, "reference", "r", nil, "Module reference added to every build (path, path@version or path=dir)")
	f.StringArrayVarP(&flags.Imports, "using", "u", nil, "Import added to every generated program")
	f.StringArrayVarP(&flags.IncludePaths, "include", "I", nil, "Directory searched for include files")
	f.StringArrayVarP(&flags.ReferencePaths, "refpath", "P", nil, "Directory searched for local references")
	f.StringArrayVar(&flags.Processors, "dp", nil, "Directive processor mapping name!kind")
	f.StringArrayVarP(&flags.Parameters, "parameter", "a", nil, "Parameter [processor!][directive!]name!value or name=value")

	f.BoolVar(&flags.InProcess, "in-process", false, "Run transformations in process when they are linked into the binary")
	f.BoolVar(&flags.NoCache, "no-cache", false, "Compile every template even when an identical one was compiled before")
	f.BoolVar(&flags.Debug, "debug", false, "Keep build directories and compile without optimizations")
	f.DurationVar(&flags.Timeout, "timeout", 0, "Bound a single transformation (default from config)")

	AddFlagValidation(cmd, "dp", func(v string) error {
		_, _, err := host.ParseProcessorMapping(v)
		return err
	})
	AddFlagValidation(cmd, "parameter", func(v string) error {
		if _, _, ok := host.ParseParameter(v); !ok {
			return fmt.Errorf("parameter must be name=value or [processor!][directive!]name!value: %s", v)
		}
		return nil
	})
	AddFlagValidation(cmd, "include", ValidatePath)
	AddFlagValidation(cmd, "refpath", ValidatePath)

	return flags
}

// ValidateFlags validates flag combinations and values
func (f *TransformFlags) ValidateFlags() error {
	if f.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", f.Timeout)
	}
	for _, ref := range f.References {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("reference cannot be empty")
		}
	}
	for _, imp := range f.Imports {
		if err := validation.ValidateArgument(imp); err != nil {
			return fmt.Errorf("invalid import %q: %w", imp, err)
		}
	}
	return nil
}

// Apply configures h from the configuration and the flags. Flags come after
// configured values so they win for the same key.
func (f *TransformFlags) Apply(h *host.FileHost, cfg *config.Config) error {
	h.IncludePaths = append(append([]string(nil), cfg.Host.IncludePaths...), f.IncludePaths...)
	h.ReferencePaths = append(append([]string(nil), cfg.Host.ReferencePaths...), f.ReferencePaths...)

	for name, value := range cfg.Host.Options {
		h.SetHostOption(name, value)
	}

	for name, kind := range cfg.Processors {
		h.AddDirectiveProcessor(name, kind)
	}
	known := processor.Default()
	for _, spec := range f.Processors {
		name, kind, err := host.ParseProcessorMapping(spec)
		if err != nil {
			return err
		}
		if _, ok := known.Lookup(kind); !ok {
			return fmt.Errorf("unknown directive processor kind %q (available: %v)", kind, known.Names())
		}
		h.AddDirectiveProcessor(name, kind)
	}

	for _, spec := range f.Parameters {
		if !h.TryAddParameter(spec) {
			return fmt.Errorf("invalid parameter: %s", spec)
		}
	}
	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePath rejects empty paths and ones holding shell metacharacters
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsAny(path, ";&|$`<>\"'") || strings.ContainsFunc(path, unicode.IsControl) {
		return fmt.Errorf("invalid path %q: contains a shell metacharacter or control character", path)
	}
	return nil
}

// ValidateFileExists checks that a template file exists
func ValidateFileExists(filename string) error {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filename)
	}
	return nil
}
