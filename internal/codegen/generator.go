// Package codegen turns a resolved template into Go source.
//
// In execution mode the result is a standalone main package that reads a JSON
// request on stdin, runs the transformation and writes a JSON response on
// stdout. In preprocess mode the result is a reusable type in an ordinary
// package.
package codegen

import (
	"fmt"
	"go/token"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/parser"
	"github.com/conneroisu/textform/internal/processor"
	"github.com/conneroisu/textform/internal/settings"
)

// DefaultFileName is the name of the generated file in execution mode
const DefaultFileName = "main.go"

// Names of the runtime types in execution mode
const (
	RuntimeBase  = "TextTransformation"
	RuntimeHost  = "TemplateHost"
	RuntimeError = "TemplateError"
)

var (
	execImports       = []string{"encoding/json", "fmt", "os", "path/filepath", "runtime", "strconv", "strings"}
	preprocessImports = []string{"fmt", "path/filepath", "strconv", "strings"}
)

// Options controls how source is generated
type Options struct {
	// Preprocess emits a reusable type instead of an executable program
	Preprocess bool

	// FileName is the name the generated source is compiled under; line
	// directives that leave template code point back to it.
	FileName string
}

type generator struct {
	pt       *parser.ParsedTemplate
	settings *settings.TemplateSettings
	contribs []processor.Contribution
	opts     Options

	w       *sourceWriter
	class   string
	runtime runtimeData
	mapped  bool
}

// Generate produces Go source for a parsed and resolved template
func Generate(pt *parser.ParsedTemplate, ts *settings.TemplateSettings, contribs []processor.Contribution, opts Options) (string, error) {
	if pt == nil || ts == nil {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "generate requires a parsed template and settings", nil)
	}

	g := &generator{
		pt:       pt,
		settings: ts,
		contribs: contribs,
		opts:     opts,
		w:        newSourceWriter(),
	}
	if err := g.names(); err != nil {
		return "", err
	}

	g.header()
	g.imports()
	g.classDecl()
	g.initialize()
	g.transformText()
	g.features()
	if err := g.runtimeAndHarness(); err != nil {
		return "", err
	}

	return g.w.String(), nil
}

func (g *generator) names() error {
	class := g.settings.Name
	if class == "" {
		class = settings.DefaultName
	}
	if !token.IsIdentifier(class) {
		return errors.NewCompileError(errors.ErrCodeInvalidAttribute,
			fmt.Sprintf("class name %q is not a valid identifier", class), nil)
	}

	if !g.opts.Preprocess {
		g.class = class
		g.runtime = runtimeData{Base: RuntimeBase, Host: RuntimeHost, Error: RuntimeError}
		if g.opts.FileName == "" {
			g.opts.FileName = DefaultFileName
		}
		if class == RuntimeBase || class == RuntimeHost || class == RuntimeError {
			return errors.NewCompileError(errors.ErrCodeInvalidAttribute,
				fmt.Sprintf("class name %q is reserved", class), nil)
		}
		return nil
	}

	if g.settings.InternalVisibility {
		class = lowerFirst(class)
	}
	g.class = class
	g.runtime = runtimeData{Base: class + "Base", Host: class + "Host", Error: class + "Error"}
	if g.opts.FileName == "" {
		g.opts.FileName = strings.ToLower(class) + ".go"
	}
	return nil
}

func (g *generator) header() {
	source := filepath.Base(g.settings.TemplateFile)
	if g.settings.TemplateFile == "" {
		source = "template"
	}
	g.w.printf("// Code generated by textform from %s. DO NOT EDIT.\n\n", source)

	if g.opts.Preprocess {
		g.w.printf("package %s\n\n", g.settings.PackageName())
		return
	}
	g.w.println("package main\n")
}

// withRuntime reports whether the runtime base is emitted
func (g *generator) withRuntime() bool {
	return !g.opts.Preprocess || g.settings.Inherits == ""
}

func (g *generator) imports() {
	set := settings.NewStringSet()
	switch {
	case !g.opts.Preprocess:
		for _, imp := range execImports {
			set.Add(imp)
		}
	case g.withRuntime():
		for _, imp := range preprocessImports {
			set.Add(imp)
		}
	case len(g.requiredParameters()) > 0:
		set.Add("fmt")
	}
	for _, c := range g.contribs {
		for _, imp := range c.Imports {
			set.Add(strings.TrimSpace(imp))
		}
	}
	for _, imp := range g.settings.Imports.Ordered() {
		set.Add(strings.TrimSpace(imp))
	}

	specs := make([]importSpec, 0, set.Len())
	for _, imp := range set.Values() {
		if imp == "" {
			continue
		}
		specs = append(specs, parseImport(imp))
	}
	if len(specs) == 0 {
		return
	}
	sort.SliceStable(specs, func(i, j int) bool {
		if specs[i].path != specs[j].path {
			return specs[i].path < specs[j].path
		}
		return specs[i].alias < specs[j].alias
	})

	g.w.println("import (")
	for _, spec := range specs {
		g.w.printf("\t%s\n", spec)
	}
	g.w.println(")\n")
}

type importSpec struct {
	alias string
	path  string
}

func (s importSpec) String() string {
	if s.alias != "" {
		return s.alias + " " + strconv.Quote(s.path)
	}
	return strconv.Quote(s.path)
}

// parseImport accepts "path", a quoted path, or "alias path"
func parseImport(imp string) importSpec {
	var spec importSpec
	if alias, path, ok := strings.Cut(imp, " "); ok {
		spec.alias = alias
		imp = strings.TrimSpace(path)
	}
	if unquoted, err := strconv.Unquote(imp); err == nil {
		imp = unquoted
	}
	spec.path = imp
	return spec
}

func (g *generator) classDecl() {
	g.w.printf("// %s is the transformation generated from the template.\n", g.class)
	g.w.printf("type %s struct {\n", g.class)
	if g.withRuntime() {
		g.w.printf("\t%s\n", g.runtime.Base)
	}
	if g.settings.Inherits != "" {
		g.w.printf("\t%s\n", g.settings.Inherits)
	}
	for _, c := range g.contribs {
		if code := strings.TrimSpace(c.ClassCode); code != "" {
			g.w.println("")
			g.w.println(indent(code))
		}
	}
	g.w.println("}\n")

	if !g.opts.Preprocess {
		g.w.printf("type self = %s\n\n", g.class)
	}
}

func (g *generator) requiredParameters() []settings.Parameter {
	var out []settings.Parameter
	for _, p := range g.settings.Parameters {
		if !p.HasDefault {
			out = append(out, p)
		}
	}
	return out
}

func (g *generator) initialize() {
	g.w.println("// Initialize runs directive processor setup and checks parameters.")
	g.w.printf("func (t *%s) Initialize() error {\n", g.class)
	for _, c := range g.contribs {
		if code := strings.TrimSpace(c.PreInitCode); code != "" {
			g.w.println(indent(code))
		}
	}
	for _, p := range g.requiredParameters() {
		g.w.printf("\tif _, ok := t.Parameter(%q); !ok {\n", p.Name)
		g.w.printf("\t\treturn fmt.Errorf(\"parameter %%q was not supplied\", %q)\n", p.Name)
		g.w.println("\t}")
	}
	for _, c := range g.contribs {
		if code := strings.TrimSpace(c.PostInitCode); code != "" {
			g.w.println(indent(code))
		}
	}
	g.w.println("\treturn nil")
	g.w.println("}\n")
}

func (g *generator) transformText() {
	g.w.println("// TransformText renders the template and returns the output.")
	g.w.printf("func (t *%s) TransformText() string {\n", g.class)
	for _, p := range g.settings.Parameters {
		g.w.printf("\t%s := t.%s(%q, %s)\n", p.Name, parameterHelper(p.Type), p.Name, parameterDefault(p))
		g.w.printf("\t_ = %s\n", p.Name)
	}

	for _, seg := range g.pt.Body() {
		g.segment(seg)
	}
	g.resetPragma()

	g.w.println("\treturn t.GenerationEnvironment.String()")
	g.w.println("}\n")
}

func (g *generator) features() {
	segs := g.pt.Features()
	if len(segs) == 0 {
		return
	}

	for _, seg := range segs {
		if seg.Kind == parser.SegmentText && strings.TrimSpace(seg.Text) == "" {
			continue
		}
		g.segment(seg)
	}
	g.resetPragma()
	g.w.println("")
}

func (g *generator) segment(seg parser.Segment) {
	switch seg.Kind {
	case parser.SegmentText:
		g.pragma(seg.Start)
		g.w.printf("\tt.Write(%s)\n", strconv.Quote(seg.Text))

	case parser.SegmentExpression:
		expr := strings.TrimSpace(seg.Text)
		if expr == "" {
			return
		}
		lead := seg.Text[:strings.Index(seg.Text, expr)]
		g.w.terminate()
		g.w.printf("\tt.Write(t.ToStringHelper(%s%s))\n", g.inlinePragma(advance(seg.Start, lead)), expr)

	case parser.SegmentStatement, parser.SegmentClassFeature:
		if strings.TrimSpace(seg.Text) == "" {
			return
		}
		g.pragma(seg.Start)
		g.w.WriteString(seg.Text)
		g.w.terminate()
	}
}

func (g *generator) pragmaFile(loc errors.Location) string {
	if loc.File != "" {
		return loc.File
	}
	return g.settings.TemplateFile
}

// pragma emits a //line directive mapping the next line to loc
func (g *generator) pragma(loc errors.Location) {
	file := g.pragmaFile(loc)
	if !g.settings.LinePragmas || file == "" || loc.Line <= 0 {
		return
	}
	g.w.terminate()
	if loc.Column > 0 {
		g.w.printf("//line %s:%d:%d\n", file, loc.Line, loc.Column)
	} else {
		g.w.printf("//line %s:%d\n", file, loc.Line)
	}
	g.mapped = true
}

// inlinePragma returns a /*line*/ directive mapping the following token to loc
func (g *generator) inlinePragma(loc errors.Location) string {
	file := g.pragmaFile(loc)
	if !g.settings.LinePragmas || file == "" || loc.Line <= 0 {
		return ""
	}
	g.mapped = true
	if loc.Column <= 0 {
		loc.Column = 1
	}
	return fmt.Sprintf("/*line %s:%d:%d*/", file, loc.Line, loc.Column)
}

// resetPragma maps the following lines back to the generated file
func (g *generator) resetPragma() {
	if !g.mapped {
		return
	}
	g.w.terminate()
	// the directive names the line after itself
	g.w.printf("//line %s:%d\n", g.opts.FileName, g.w.Line()+1)
	g.mapped = false
}

func (g *generator) runtimeAndHarness() error {
	if g.withRuntime() {
		if err := runtimeTemplate.Execute(g.w, g.runtime); err != nil {
			return errors.NewInternalError(errors.ErrCodeInternalError, "failed to render runtime", err)
		}
	}
	if g.opts.Preprocess {
		return nil
	}

	g.w.println("")
	data := harnessData{
		runtimeData:  g.runtime,
		Class:        g.class,
		TemplateFile: g.settings.TemplateFile,
		GoFile:       g.opts.FileName,
		HostSpecific: g.settings.IsHostSpecific(),
	}
	if err := harnessTemplate.Execute(g.w, data); err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "failed to render harness", err)
	}
	return nil
}

func parameterHelper(typ string) string {
	switch typ {
	case "int":
		return "textformInt"
	case "int64":
		return "textformInt64"
	case "float64":
		return "textformFloat64"
	case "bool":
		return "textformBool"
	default:
		return "textformString"
	}
}

func parameterDefault(p settings.Parameter) string {
	switch p.Type {
	case "int", "int64", "float64":
		if p.HasDefault && p.Default != "" {
			return p.Default
		}
		return "0"
	case "bool":
		if p.HasDefault && p.Default != "" {
			return p.Default
		}
		return "false"
	default:
		return strconv.Quote(p.Default)
	}
}

// advance moves loc past prefix
func advance(loc errors.Location, prefix string) errors.Location {
	for i := 0; i < len(prefix); i++ {
		if prefix[i] == '\n' {
			loc.Line++
			loc.Column = 1
			continue
		}
		loc.Column++
	}
	return loc
}

func indent(code string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "\t" + line
		}
	}
	return strings.Join(lines, "\n")
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
