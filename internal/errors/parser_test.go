package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticParserGoBuildOutput(t *testing.T) {
	output := `# command-line-arguments
/work/hello.tt:3:5: undefined: missing
./main.go:120:2: declared and not used: x
./main.go:121: syntax error: unexpected newline
	have (int)
	want (string)
too many errors
`
	parser := NewDiagnosticParser()
	diags := parser.Parse(output)

	require.Len(t, diags, 3)

	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Equal(t, Location{File: "/work/hello.tt", Line: 3, Column: 5}, diags[0].Location)
	assert.Equal(t, "undefined: missing", diags[0].Message)

	assert.Equal(t, Location{File: "main.go", Line: 120, Column: 2}, diags[1].Location)

	assert.Equal(t, Location{File: "main.go", Line: 121}, diags[2].Location)
	assert.Equal(t, "syntax error: unexpected newline\nhave (int)\nwant (string)", diags[2].Message)
	assert.True(t, HasErrors(diags))
}

func TestDiagnosticParserToolchainMessages(t *testing.T) {
	parser := NewDiagnosticParser()

	diags := parser.Parse("go: warning: ignoring go.mod in $GOPATH\ngo: cannot find main module\n")
	require.Len(t, diags, 2)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
	assert.Equal(t, "ignoring go.mod in $GOPATH", diags[0].Message)
	assert.Equal(t, SeverityError, diags[1].Severity)
	assert.True(t, diags[1].Location.IsEmpty())

	unknown := parser.Parse("something odd happened")
	require.Len(t, unknown, 1)
	assert.Equal(t, SeverityError, unknown[0].Severity)

	assert.Empty(t, parser.Parse("\n\n"))
	assert.False(t, HasErrors(diags[:1]))
}

func TestDiagnosticToTemplateError(t *testing.T) {
	d := Diagnostic{
		Severity: SeverityWarning,
		Location: Location{File: "a.tt", Line: 2, Column: 3},
		Message:  "unused",
	}
	te := d.ToTemplateError()

	assert.True(t, te.IsWarning)
	assert.Equal(t, ErrCodeCompileFailed, te.Code)
	assert.Equal(t, d.Location, te.Location)
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "unknown", Severity(9).String())
}
