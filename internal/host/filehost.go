package host

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/cast"

	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/processor"
)

// FileHost resolves includes, references and parameters against a filesystem.
// Production code uses the OS filesystem; tests pass an in-memory one.
type FileHost struct {
	fs           afero.Fs
	registry     *processor.Registry
	logger       logging.Logger
	templateFile string

	IncludePaths   []string
	ReferencePaths []string

	parameters map[ParameterKey]string
	aliases    map[string]string
	options    map[string]interface{}
	session    Session
	errors     *errors.TemplateErrorList

	mu sync.Mutex
}

// NewFileHost creates a host reading from fs. A nil registry selects the
// built-in processors; a nil logger discards output.
func NewFileHost(fs afero.Fs, registry *processor.Registry, logger logging.Logger) *FileHost {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if registry == nil {
		registry = processor.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &FileHost{
		fs:         fs,
		registry:   registry,
		logger:     logger.WithComponent("host"),
		parameters: make(map[ParameterKey]string),
		aliases:    make(map[string]string),
		options:    make(map[string]interface{}),
		errors:     errors.NewTemplateErrorList(),
	}
}

// Fs returns the filesystem the host reads and writes
func (h *FileHost) Fs() afero.Fs {
	return h.fs
}

// SetTemplateFile sets the path of the template being processed
func (h *FileHost) SetTemplateFile(path string) {
	if abs, err := filepath.Abs(path); err == nil && !isMemFs(h.fs) {
		path = abs
	}
	h.templateFile = path
}

// TemplateFile returns the path of the template being processed
func (h *FileHost) TemplateFile() string {
	return h.templateFile
}

// ReadTemplate loads the template text and makes it the current template
func (h *FileHost) ReadTemplate(path string) (string, error) {
	data, err := afero.ReadFile(h.fs, path)
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeInternalError,
			fmt.Sprintf("could not read template %s", path), err)
	}
	h.SetTemplateFile(path)
	return string(data), nil
}

// WriteOutput writes data to path, creating parent directories
func (h *FileHost) WriteOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := h.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError(errors.ErrCodeInternalError,
				fmt.Sprintf("could not create output directory %s", dir), err)
		}
	}
	if err := afero.WriteFile(h.fs, path, data, 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeInternalError,
			fmt.Sprintf("could not write output %s", path), err)
	}
	return nil
}

// ResolvePath resolves path relative to the template's directory
func (h *FileHost) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if h.templateFile != "" {
		return filepath.Join(filepath.Dir(h.templateFile), path)
	}
	return path
}

// LoadIncludeText reads an included file. Relative names are searched in the
// template's directory first, then in each include path.
func (h *FileHost) LoadIncludeText(fileName string) (string, string, bool) {
	for _, candidate := range h.candidates(fileName, h.IncludePaths) {
		data, err := afero.ReadFile(h.fs, candidate)
		if err == nil {
			return string(data), candidate, true
		}
	}

	h.logger.Debug(context.Background(), "Include not found", "file", fileName)
	return "", "", false
}

// ResolveAssemblyReference maps a reference to something the compiler
// understands. Local references (starting with "." or "/") must name an
// existing directory and resolve to its absolute path; anything else is a
// module path and passes through unchanged.
func (h *FileHost) ResolveAssemblyReference(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	modulePath, local, hasLocal := strings.Cut(name, "=")
	if !hasLocal {
		local = name
	}
	if !isLocalPath(local) {
		return name, true
	}

	for _, candidate := range h.candidates(local, h.ReferencePaths) {
		if ok, _ := afero.DirExists(h.fs, candidate); ok {
			if abs, err := filepath.Abs(candidate); err == nil && !isMemFs(h.fs) {
				candidate = abs
			}
			if hasLocal {
				return modulePath + "=" + candidate, true
			}
			return candidate, true
		}
	}

	return "", false
}

func (h *FileHost) candidates(name string, searchPaths []string) []string {
	if filepath.IsAbs(name) {
		return []string{name}
	}

	out := make([]string, 0, len(searchPaths)+2)
	if h.templateFile != "" {
		out = append(out, filepath.Join(filepath.Dir(h.templateFile), name))
	}
	for _, dir := range searchPaths {
		out = append(out, filepath.Join(dir, name))
	}
	out = append(out, name)

	return out
}

// ResolveDirectiveProcessor looks up a processor by name, following aliases
func (h *FileHost) ResolveDirectiveProcessor(name string) (processor.DirectiveProcessor, bool) {
	h.mu.Lock()
	kind, ok := h.aliases[strings.ToLower(name)]
	h.mu.Unlock()

	if !ok {
		kind = name
	}
	return h.registry.Lookup(kind)
}

// AddDirectiveProcessor maps a directive processor name to a registered kind
func (h *FileHost) AddDirectiveProcessor(name, kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aliases[strings.ToLower(name)] = kind
}

// AddParameter stores a parameter value
func (h *FileHost) AddParameter(key ParameterKey, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parameters[key] = value
}

// TryAddParameter parses and stores a parameter given as name=value or
// [processor!][directive!]name!value.
func (h *FileHost) TryAddParameter(spec string) bool {
	key, value, ok := ParseParameter(spec)
	if !ok {
		return false
	}
	h.AddParameter(key, value)
	return true
}

// ResolveParameterValue finds a parameter value, trying the exact key first,
// then the key without directive, then the bare name.
func (h *FileHost) ResolveParameterValue(directiveID, processorName, parameterName string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lookups := []ParameterKey{
		{Processor: processorName, Directive: directiveID, Name: parameterName},
		{Processor: processorName, Name: parameterName},
		{Name: parameterName},
	}
	for _, key := range lookups {
		if v, ok := h.parameters[key]; ok {
			return v, true
		}
	}
	return "", false
}

// ParameterSnapshot flattens the stored parameters into the keyed form the
// generated program understands: proc!dir!name, proc!name or name.
func (h *FileHost) ParameterSnapshot() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]string, len(h.parameters))
	for key, v := range h.parameters {
		out[key.String()] = v
	}
	return out
}

// OptionSnapshot returns the host options coerced to strings
func (h *FileHost) OptionSnapshot() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]string, len(h.options))
	for name, v := range h.options {
		out[name] = cast.ToString(v)
	}
	return out
}

// SetHostOption stores a host option
func (h *FileHost) SetHostOption(name string, value interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.options[name] = value
}

// GetHostOption returns a host option
func (h *FileHost) GetHostOption(name string) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.options[name]
	return v, ok
}

// HostOptionBool returns a host option coerced to bool
func (h *FileHost) HostOptionBool(name string) bool {
	v, ok := h.GetHostOption(name)
	if !ok {
		return false
	}
	return cast.ToBool(v)
}

// Session returns the current session
func (h *FileHost) Session() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		h.session = make(Session)
	}
	return h.session
}

// CreateSession starts a new empty session
func (h *FileHost) CreateSession() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = make(Session)
	return h.session
}

// LogErrors records the errors of a run and logs each of them
func (h *FileHost) LogErrors(errs *errors.TemplateErrorList) {
	if errs == nil {
		return
	}
	h.errors.AddRange(errs)

	ctx := context.Background()
	for _, e := range errs.Errors() {
		if e.IsWarning {
			h.logger.Debug(ctx, "Template warning", "location", e.Location.String(), "code", e.Code, "message", e.Message)
			continue
		}
		h.logger.Debug(ctx, "Template error", "location", e.Location.String(), "code", e.Code, "message", e.Message)
	}
}

// Errors returns every error logged to the host
func (h *FileHost) Errors() *errors.TemplateErrorList {
	return h.errors
}

// ParseParameter parses name=value or [processor!][directive!]name!value.
// Three parts are read as processor!name!value.
func ParseParameter(spec string) (ParameterKey, string, bool) {
	eq := strings.IndexByte(spec, '=')
	bang := strings.IndexByte(spec, '!')
	if eq > 0 && (bang < 0 || eq < bang) {
		return ParameterKey{Name: spec[:eq]}, spec[eq+1:], true
	}

	parts := strings.SplitN(spec, "!", 4)
	switch len(parts) {
	case 2:
		if parts[0] == "" {
			return ParameterKey{}, "", false
		}
		return ParameterKey{Name: parts[0]}, parts[1], true
	case 3:
		if parts[1] == "" {
			return ParameterKey{}, "", false
		}
		return ParameterKey{Processor: parts[0], Name: parts[1]}, parts[2], true
	case 4:
		if parts[2] == "" {
			return ParameterKey{}, "", false
		}
		return ParameterKey{Processor: parts[0], Directive: parts[1], Name: parts[2]}, parts[3], true
	default:
		return ParameterKey{}, "", false
	}
}

// ParseProcessorMapping parses a name!kind directive processor mapping
func ParseProcessorMapping(spec string) (name, kind string, err error) {
	name, kind, ok := strings.Cut(spec, "!")
	if !ok || name == "" || kind == "" || strings.Contains(kind, "!") {
		return "", "", fmt.Errorf("directive processor must be name!kind: %s", spec)
	}
	return name, kind, nil
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, ".") || filepath.IsAbs(p)
}

func isMemFs(fs afero.Fs) bool {
	_, ok := fs.(*afero.MemMapFs)
	return ok
}
