package codegen

import (
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/textform/internal/parser"
	"github.com/conneroisu/textform/internal/processor"
	"github.com/conneroisu/textform/internal/settings"
)

const templateFile = "/tpl/hello.tt"

func generate(t *testing.T, text string, ts *settings.TemplateSettings, opts Options, contribs ...processor.Contribution) string {
	t.Helper()
	pt := parser.Parse(text, templateFile, nil)
	require.False(t, pt.Errors.HasErrors(), pt.Errors.String())

	if ts == nil {
		ts = settings.New()
	}
	if ts.TemplateFile == "" {
		ts.TemplateFile = templateFile
	}

	src, err := Generate(pt, ts, contribs, opts)
	require.NoError(t, err)
	return src
}

func parseGo(t *testing.T, src string) (*token.FileSet, *ast.File) {
	t.Helper()
	fset := token.NewFileSet()
	f, err := goparser.ParseFile(fset, "main.go", src, goparser.ParseComments)
	require.NoError(t, err, src)
	return fset, f
}

func method(f *ast.File, name string) *ast.FuncDecl {
	for _, decl := range f.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == name && fn.Recv != nil {
			return fn
		}
	}
	return nil
}

func TestGenerateExecutable(t *testing.T) {
	src := generate(t, "Hello <#= name #>!\n", nil, Options{})
	_, f := parseGo(t, src)

	assert.True(t, strings.HasPrefix(src, "// Code generated by textform from hello.tt. DO NOT EDIT.\n"))
	assert.Equal(t, "main", f.Name.Name)
	assert.NotNil(t, method(f, "Initialize"))
	assert.NotNil(t, method(f, "TransformText"))
	assert.Contains(t, src, "type self = GeneratedTextTransformation")
	assert.Contains(t, src, "\tTextTransformation\n")
	assert.Contains(t, src, "func main() {")
	assert.Contains(t, src, `textformTemplateFile = "/tpl/hello.tt"`)
	assert.Contains(t, src, "\tt.Write(\"Hello \")\n")
	assert.Contains(t, src, "\tt.Write(\"!\\n\")\n")

	var imports []string
	for _, imp := range f.Imports {
		imports = append(imports, imp.Path.Value)
	}
	assert.Equal(t, []string{
		`"encoding/json"`, `"fmt"`, `"os"`, `"path/filepath"`, `"runtime"`, `"strconv"`, `"strings"`,
	}, imports)
}

func TestExpressionPositionMapsToTemplate(t *testing.T) {
	src := generate(t, "Hello <#=  name #>!", nil, Options{})
	fset, f := parseGo(t, src)

	var arg ast.Expr
	ast.Inspect(method(f, "TransformText"), func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if sel, ok := call.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == "ToStringHelper" {
			arg = call.Args[0]
		}
		return true
	})
	require.NotNil(t, arg)

	pos := fset.Position(arg.Pos())
	assert.Equal(t, templateFile, pos.Filename)
	assert.Equal(t, 1, pos.Line)
	assert.Equal(t, 12, pos.Column)
}

func TestStatementPositionMapsToTemplate(t *testing.T) {
	src := generate(t, "a\n<# if true { #>yes<# } #>", nil, Options{})
	fset, f := parseGo(t, src)

	var stmt *ast.IfStmt
	ast.Inspect(method(f, "TransformText"), func(n ast.Node) bool {
		if s, ok := n.(*ast.IfStmt); ok {
			stmt = s
		}
		return true
	})
	require.NotNil(t, stmt)

	pos := fset.Position(stmt.Pos())
	assert.Equal(t, templateFile, pos.Filename)
	assert.Equal(t, 2, pos.Line)
	assert.Equal(t, 4, pos.Column)
}

func TestResetPragmaRestoresGeneratedLines(t *testing.T) {
	src := generate(t, "x<# if true { #>y<# } #>\n<#+\nfunc (t *self) helper() string { return \"h\" }\n#>", nil, Options{})
	fset, f := parseGo(t, src)

	for _, name := range []string{"TransformText", "textformBase", "ResolvePath"} {
		var fn *ast.FuncDecl
		for _, decl := range f.Decls {
			if d, ok := decl.(*ast.FuncDecl); ok && d.Name.Name == name {
				fn = d
			}
		}
		require.NotNil(t, fn, name)

		end := fn.Body.Rbrace
		if name == "TransformText" {
			end = fn.Body.List[len(fn.Body.List)-1].Pos()
		}
		adjusted := fset.PositionFor(end, true)
		raw := fset.PositionFor(end, false)
		assert.Equal(t, "main.go", adjusted.Filename, name)
		assert.Equal(t, raw.Line, adjusted.Line, name)
	}

	helper := method(f, "helper")
	require.NotNil(t, helper)
	assert.Equal(t, 3, fset.Position(helper.Pos()).Line)
}

func TestLinePragmasDisabled(t *testing.T) {
	ts := settings.New()
	ts.LinePragmas = false

	src := generate(t, "Hello <#= name #><# _ = 1 #>", ts, Options{})
	parseGo(t, src)
	assert.NotContains(t, src, "//line")
	assert.NotContains(t, src, "/*line")
}

func TestPlainTextIsWrittenVerbatim(t *testing.T) {
	text := "line \"one\"\n\ttab\\slash `tick`\n"
	src := generate(t, text, nil, Options{})
	parseGo(t, src)

	assert.Contains(t, src, "t.Write("+`"line \"one\"\n\ttab\\slash `+"`tick`"+`\n"`+")")
}

func TestFeaturesRegion(t *testing.T) {
	text := "<#= t.greet() #><#+\nfunc (t *self) greet() string {\n#>\nHi <#= 1 #>\n<#+\n\treturn t.GenerationEnvironment.String()\n}\n#>\n\n"
	src := generate(t, text, nil, Options{})
	_, f := parseGo(t, src)

	require.NotNil(t, method(f, "greet"))
	assert.Contains(t, src, "t.Write(\"Hi \")")
	assert.NotContains(t, src, `t.Write("\n")`)
}

func TestParametersAndContributions(t *testing.T) {
	ts := settings.New()
	ts.Parameters = []settings.Parameter{
		{Name: "name", Type: "string", Default: "World", HasDefault: true},
		{Name: "count", Type: "int"},
		{Name: "ratio", Type: "float64", Default: "0.5", HasDefault: true},
		{Name: "on", Type: "bool"},
	}
	ts.Imports.Add("sort")
	ts.Imports.Add("fmt")

	contrib := processor.Contribution{
		Processor:    "data",
		Imports:      []string{"encoding/json"},
		ClassCode:    "model map[string]any",
		PreInitCode:  "if err := json.Unmarshal([]byte(`{}`), &t.model); err != nil {\n\treturn err\n}",
		PostInitCode: "_ = sort.Strings",
	}

	src := generate(t, "<#= name #> <#= count #>", ts, Options{}, contrib)
	_, f := parseGo(t, src)

	assert.Contains(t, src, "\tname := t.textformString(\"name\", \"World\")\n\t_ = name\n")
	assert.Contains(t, src, "\tcount := t.textformInt(\"count\", 0)\n")
	assert.Contains(t, src, "\tratio := t.textformFloat64(\"ratio\", 0.5)\n")
	assert.Contains(t, src, "\ton := t.textformBool(\"on\", false)\n")
	assert.Contains(t, src, "\tmodel map[string]any\n")
	assert.Contains(t, src, `if _, ok := t.Parameter("count"); !ok {`)
	assert.NotContains(t, src, `t.Parameter("name"); !ok`)

	body := src[strings.Index(src, ") Initialize() error {"):]
	assert.Less(t, strings.Index(body, "json.Unmarshal"), strings.Index(body, `t.Parameter("count")`))
	assert.Less(t, strings.Index(body, `t.Parameter("count")`), strings.Index(body, "_ = sort.Strings"))

	var sortImports int
	for _, imp := range f.Imports {
		if imp.Path.Value == `"sort"` || imp.Path.Value == `"fmt"` {
			sortImports++
		}
	}
	assert.Equal(t, 2, sortImports)
}

func TestPreprocessMode(t *testing.T) {
	ts := settings.New()
	ts.Name = "Report"
	ts.Namespace = "Acme.Reports"

	src := generate(t, "Hello", ts, Options{Preprocess: true})
	_, f := parseGo(t, src)

	assert.Equal(t, "reports", f.Name.Name)
	assert.Contains(t, src, "type Report struct {\n\tReportBase\n")
	assert.Contains(t, src, "type ReportBase struct {")
	assert.Contains(t, src, "type ReportHost struct {")
	assert.NotContains(t, src, "func main()")
	assert.NotContains(t, src, "type self")
	assert.Len(t, f.Imports, 4)
}

func TestPreprocessInternalVisibilityAndInherits(t *testing.T) {
	ts := settings.New()
	ts.Name = "Report"
	ts.Namespace = "gen"
	ts.InternalVisibility = true
	ts.Inherits = "ReportBase"

	src := generate(t, "Hello", ts, Options{Preprocess: true})
	_, f := parseGo(t, src)

	assert.Contains(t, src, "type report struct {\n\tReportBase\n}")
	assert.NotContains(t, src, "type reportBase struct")
	assert.Empty(t, f.Imports)
}

func TestGenerateRejectsBadClassNames(t *testing.T) {
	pt := parser.Parse("x", templateFile, nil)

	for _, name := range []string{"not-valid", "TextTransformation"} {
		ts := settings.New()
		ts.Name = name
		_, err := Generate(pt, ts, nil, Options{})
		assert.Error(t, err, name)
	}

	_, err := Generate(nil, settings.New(), nil, Options{})
	assert.Error(t, err)
}

func TestParseImport(t *testing.T) {
	assert.Equal(t, importSpec{path: "strings"}, parseImport("strings"))
	assert.Equal(t, importSpec{path: "strings"}, parseImport(`"strings"`))
	assert.Equal(t, importSpec{alias: "str", path: "strings"}, parseImport("str strings"))
	assert.Equal(t, `str "strings"`, parseImport("str strings").String())
}

func TestSourceWriterCountsLines(t *testing.T) {
	w := newSourceWriter()
	assert.Equal(t, 1, w.Line())

	w.WriteString("a\nb")
	assert.Equal(t, 2, w.Line())
	w.terminate()
	assert.Equal(t, 3, w.Line())
	w.terminate()
	assert.Equal(t, 3, w.Line())

	_, err := w.Write([]byte("c\n\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, w.Line())
	assert.Equal(t, "a\nb\nc\n\n", w.String())
}
