package codegen

import "text/template"

// runtimeData names the types a generated runtime declares. Execution mode
// uses fixed names; preprocessed classes prefix them with the class name so
// several templates can share a package.
type runtimeData struct {
	Base  string
	Host  string
	Error string
}

// harnessData configures the process harness of an executable program
type harnessData struct {
	runtimeData
	Class        string
	TemplateFile string
	GoFile       string
	HostSpecific bool
}

var (
	runtimeTemplate = template.Must(template.New("runtime").Parse(runtimeSource))
	harnessTemplate = template.Must(template.New("harness").Parse(harnessSource))
)

const runtimeSource = `// {{.Error}} is an error or warning recorded while the template runs.
type {{.Error}} struct {
	Message string ` + "`json:\"message\"`" + `
	Code    string ` + "`json:\"code,omitempty\"`" + `
	File    string ` + "`json:\"file,omitempty\"`" + `
	Line    int    ` + "`json:\"line,omitempty\"`" + `
	Column  int    ` + "`json:\"column,omitempty\"`" + `
	Warning bool   ` + "`json:\"warning,omitempty\"`" + `
}

// {{.Host}} exposes the engine host to host-specific templates.
type {{.Host}} struct {
	TemplateFile string            ` + "`json:\"template_file,omitempty\"`" + `
	Options      map[string]string ` + "`json:\"options,omitempty\"`" + `
	Parameters   map[string]string ` + "`json:\"parameters,omitempty\"`" + `
}

// ResolvePath resolves path relative to the template's directory.
func (h *{{.Host}}) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || h.TemplateFile == "" {
		return path
	}
	return filepath.Join(filepath.Dir(h.TemplateFile), path)
}

// GetHostOption returns a host option.
func (h *{{.Host}}) GetHostOption(name string) (string, bool) {
	v, ok := h.Options[name]
	return v, ok
}

// ResolveParameterValue finds a parameter value, trying the exact key first,
// then the key without directive, then the bare name.
func (h *{{.Host}}) ResolveParameterValue(directiveID, processorName, name string) (string, bool) {
	keys := []string{
		processorName + "!" + directiveID + "!" + name,
		processorName + "!" + name,
		name,
	}
	for _, key := range keys {
		if v, ok := h.Parameters[key]; ok {
			return v, true
		}
	}
	return "", false
}

// {{.Base}} is the runtime every generated transformation embeds.
type {{.Base}} struct {
	GenerationEnvironment strings.Builder

	Session    map[string]any
	Parameters map[string]string
	Host       *{{.Host}}
	Culture    string
	Errors     []{{.Error}}

	indent          string
	indentLengths   []int
	endsWithNewline bool
}

// Write appends text to the output, indenting every new line.
func (b *{{.Base}}) Write(text string) {
	if text == "" {
		return
	}
	if b.indent == "" {
		b.GenerationEnvironment.WriteString(text)
		b.endsWithNewline = strings.HasSuffix(text, "\n")
		return
	}

	if b.GenerationEnvironment.Len() == 0 || b.endsWithNewline {
		b.GenerationEnvironment.WriteString(b.indent)
	}
	b.endsWithNewline = strings.HasSuffix(text, "\n")
	if b.endsWithNewline {
		text = text[:len(text)-1]
	}
	b.GenerationEnvironment.WriteString(strings.ReplaceAll(text, "\n", "\n"+b.indent))
	if b.endsWithNewline {
		b.GenerationEnvironment.WriteByte('\n')
	}
}

// WriteLine appends text and a newline.
func (b *{{.Base}}) WriteLine(text string) {
	b.Write(text + "\n")
}

// Writef appends formatted text.
func (b *{{.Base}}) Writef(format string, args ...any) {
	b.Write(fmt.Sprintf(format, args...))
}

// PushIndent adds indent to the current indentation.
func (b *{{.Base}}) PushIndent(indent string) {
	b.indent += indent
	b.indentLengths = append(b.indentLengths, len(indent))
}

// PopIndent removes the most recently pushed indentation and returns it.
func (b *{{.Base}}) PopIndent() string {
	if len(b.indentLengths) == 0 {
		return ""
	}
	n := b.indentLengths[len(b.indentLengths)-1]
	b.indentLengths = b.indentLengths[:len(b.indentLengths)-1]
	removed := b.indent[len(b.indent)-n:]
	b.indent = b.indent[:len(b.indent)-n]
	return removed
}

// ClearIndent removes all indentation.
func (b *{{.Base}}) ClearIndent() {
	b.indent = ""
	b.indentLengths = nil
}

// CurrentIndent returns the current indentation.
func (b *{{.Base}}) CurrentIndent() string {
	return b.indent
}

// Error records an error; the engine reports it after the run.
func (b *{{.Base}}) Error(message string) {
	b.Errors = append(b.Errors, {{.Error}}{Message: message})
}

// Warning records a warning.
func (b *{{.Base}}) Warning(message string) {
	b.Errors = append(b.Errors, {{.Error}}{Message: message, Warning: true})
}

// HasErrors reports whether an error was recorded.
func (b *{{.Base}}) HasErrors() bool {
	for _, e := range b.Errors {
		if !e.Warning {
			return true
		}
	}
	return false
}

// ToStringHelper converts an expression value to text.
func (b *{{.Base}}) ToStringHelper(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

// Parameter looks a parameter up in the supplied values, the session and
// finally the host.
func (b *{{.Base}}) Parameter(name string) (string, bool) {
	if v, ok := b.Parameters[name]; ok {
		return v, true
	}
	if v, ok := b.Session[name]; ok {
		return b.ToStringHelper(v), true
	}
	if b.Host != nil {
		return b.Host.ResolveParameterValue("parameter", "ParameterDirectiveProcessor", name)
	}
	return "", false
}

func (b *{{.Base}}) textformString(name, fallback string) string {
	if v, ok := b.Parameter(name); ok {
		return v
	}
	return fallback
}

func (b *{{.Base}}) textformInt(name string, fallback int) int {
	v, ok := b.Parameter(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		b.Error(fmt.Sprintf("parameter %s: %v", name, err))
		return fallback
	}
	return n
}

func (b *{{.Base}}) textformInt64(name string, fallback int64) int64 {
	v, ok := b.Parameter(name)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		b.Error(fmt.Sprintf("parameter %s: %v", name, err))
		return fallback
	}
	return n
}

func (b *{{.Base}}) textformFloat64(name string, fallback float64) float64 {
	v, ok := b.Parameter(name)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		b.Error(fmt.Sprintf("parameter %s: %v", name, err))
		return fallback
	}
	return n
}

func (b *{{.Base}}) textformBool(name string, fallback bool) bool {
	v, ok := b.Parameter(name)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		b.Error(fmt.Sprintf("parameter %s: %v", name, err))
		return fallback
	}
	return n
}

func (b *{{.Base}}) textformBase() *{{.Base}} {
	return b
}
`

const harnessSource = `const (
	textformTemplateFile = {{printf "%q" .TemplateFile}}
	textformGoFile       = {{printf "%q" .GoFile}}
	textformHostSpecific = {{.HostSpecific}}
)

type textformRequest struct {
	Session    map[string]any    ` + "`json:\"session,omitempty\"`" + `
	Parameters map[string]string ` + "`json:\"parameters,omitempty\"`" + `
	Host       *{{.Host}}        ` + "`json:\"host,omitempty\"`" + `
	Culture    string            ` + "`json:\"culture,omitempty\"`" + `
}

type textformResponse struct {
	Output string   ` + "`json:\"output\"`" + `
	Errors []{{.Error}} ` + "`json:\"errors,omitempty\"`" + `
}

type textformLifecycle interface {
	Initialize() error
	TransformText() string
}

type textformEmbedsBase interface {
	textformBase() *{{.Base}}
}

func main() {
	out := json.NewEncoder(os.Stdout)
	os.Stdout = os.Stderr

	var req textformRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "textform: decode request: %v\n", err)
		os.Exit(3)
	}

	resp := textformRun(&req, any(new({{.Class}})))
	if err := out.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "textform: encode response: %v\n", err)
		os.Exit(3)
	}
}

func textformRun(req *textformRequest, instance any) (resp textformResponse) {
	tt, ok := instance.(textformLifecycle)
	if !ok {
		resp.Errors = append(resp.Errors, {{.Error}}{
			Code:    "TT0030",
			Message: "generated class does not implement Initialize() error and TransformText() string",
			File:    textformTemplateFile,
		})
		return resp
	}

	var base *{{.Base}}
	if eb, ok := instance.(textformEmbedsBase); ok {
		base = eb.textformBase()
		base.Session = req.Session
		base.Parameters = req.Parameters
		base.Culture = req.Culture
		if textformHostSpecific {
			base.Host = req.Host
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e := {{.Error}}{Code: "TT0031", Message: fmt.Sprintf("transformation failed: %v", r)}
			e.File, e.Line = textformPanicSite()
			resp.Output = ""
			resp.Errors = append(textformErrors(base), e)
		}
	}()

	if err := tt.Initialize(); err != nil {
		resp.Errors = append(textformErrors(base), {{.Error}}{
			Code:    "TT0031",
			Message: err.Error(),
			File:    textformTemplateFile,
		})
		return resp
	}

	resp.Output = tt.TransformText()
	resp.Errors = textformErrors(base)
	return resp
}

func textformErrors(base *{{.Base}}) []{{.Error}} {
	if base == nil {
		return nil
	}
	return base.Errors
}

// textformPanicSite finds the innermost template frame of a panic.
func textformPanicSite() (string, int) {
	pcs := make([]uintptr, 64)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if strings.HasPrefix(frame.Function, "main.") && filepath.Base(frame.File) != textformGoFile {
			return frame.File, frame.Line
		}
		if !more {
			return textformTemplateFile, 0
		}
	}
}
`
