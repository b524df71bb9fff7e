package host

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/processor"
)

func newTestHost(t *testing.T) (*FileHost, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/main.tt", []byte("main"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/local.tt", []byte("local"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/shared/common.tt", []byte("common"), 0o644))
	require.NoError(t, fs.MkdirAll("/work/lib", 0o755))

	h := NewFileHost(fs, nil, nil)
	h.SetTemplateFile("/work/main.tt")
	return h, fs
}

func TestLoadIncludeText(t *testing.T) {
	h, _ := newTestHost(t)
	h.IncludePaths = []string{"/shared"}

	content, resolved, ok := h.LoadIncludeText("local.tt")
	require.True(t, ok)
	assert.Equal(t, "local", content)
	assert.Equal(t, "/work/local.tt", resolved)

	content, resolved, ok = h.LoadIncludeText("common.tt")
	require.True(t, ok)
	assert.Equal(t, "common", content)
	assert.Equal(t, "/shared/common.tt", resolved)

	_, _, ok = h.LoadIncludeText("missing.tt")
	assert.False(t, ok)
}

func TestReadTemplateAndWriteOutput(t *testing.T) {
	h, fs := newTestHost(t)

	text, err := h.ReadTemplate("/work/main.tt")
	require.NoError(t, err)
	assert.Equal(t, "main", text)
	assert.Equal(t, "/work/main.tt", h.TemplateFile())
	assert.Equal(t, "/work/sub/x.txt", h.ResolvePath("sub/x.txt"))
	assert.Equal(t, "/abs", h.ResolvePath("/abs"))

	require.NoError(t, h.WriteOutput("/out/dir/result.txt", []byte("done")))
	data, err := afero.ReadFile(fs, "/out/dir/result.txt")
	require.NoError(t, err)
	assert.Equal(t, "done", string(data))

	_, err = h.ReadTemplate("/nope.tt")
	assert.Error(t, err)
}

func TestResolveAssemblyReference(t *testing.T) {
	h, _ := newTestHost(t)

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"github.com/acme/lib@v1.2.3", "github.com/acme/lib@v1.2.3", true},
		{"./lib", "/work/lib", true},
		{"example.com/lib=./lib", "example.com/lib=/work/lib", true},
		{"./missing", "", false},
		{"  ", "", false},
	}

	for _, tt := range tests {
		got, ok := h.ResolveAssemblyReference(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestParameters(t *testing.T) {
	h, _ := newTestHost(t)

	require.True(t, h.TryAddParameter("name=World"))
	require.True(t, h.TryAddParameter("proc!dir!name!Exact"))
	require.True(t, h.TryAddParameter("proc!other!Proc"))
	assert.False(t, h.TryAddParameter("novalue"))

	v, ok := h.ResolveParameterValue("dir", "proc", "name")
	require.True(t, ok)
	assert.Equal(t, "Exact", v)

	v, ok = h.ResolveParameterValue("parameter", "ParameterDirectiveProcessor", "name")
	require.True(t, ok)
	assert.Equal(t, "World", v)

	v, ok = h.ResolveParameterValue("any", "proc", "other")
	require.True(t, ok)
	assert.Equal(t, "Proc", v)

	_, ok = h.ResolveParameterValue("", "", "absent")
	assert.False(t, ok)
}

func TestParseParameter(t *testing.T) {
	tests := []struct {
		spec  string
		key   ParameterKey
		value string
		ok    bool
	}{
		{"a=b=c", ParameterKey{Name: "a"}, "b=c", true},
		{"a!b", ParameterKey{Name: "a"}, "b", true},
		{"a!x=y", ParameterKey{Name: "a"}, "x=y", true},
		{"p!n!v", ParameterKey{Processor: "p", Name: "n"}, "v", true},
		{"p!d!n!v!w", ParameterKey{Processor: "p", Directive: "d", Name: "n"}, "v!w", true},
		{"=v", ParameterKey{}, "", false},
		{"!v", ParameterKey{}, "", false},
		{"plain", ParameterKey{}, "", false},
	}

	for _, tt := range tests {
		key, value, ok := ParseParameter(tt.spec)
		assert.Equal(t, tt.ok, ok, tt.spec)
		assert.Equal(t, tt.key, key, tt.spec)
		assert.Equal(t, tt.value, value, tt.spec)
	}
}

func TestResolveDirectiveProcessor(t *testing.T) {
	registry := processor.NewRegistry()
	require.NoError(t, registry.Register("data", processor.NewDataProcessor))

	h := NewFileHost(afero.NewMemMapFs(), registry, nil)
	h.AddDirectiveProcessor("Model", "data")

	p, ok := h.ResolveDirectiveProcessor("model")
	require.True(t, ok)
	assert.Equal(t, "data", p.Name())

	_, ok = h.ResolveDirectiveProcessor("data")
	assert.True(t, ok)

	_, ok = h.ResolveDirectiveProcessor("unknown")
	assert.False(t, ok)

	name, kind, err := ParseProcessorMapping("model!data")
	require.NoError(t, err)
	assert.Equal(t, "model", name)
	assert.Equal(t, "data", kind)

	_, _, err = ParseProcessorMapping("model!data!extra")
	assert.Error(t, err)
	_, _, err = ParseProcessorMapping("model")
	assert.Error(t, err)
}

func TestOptionsAndSession(t *testing.T) {
	h, _ := newTestHost(t)

	h.SetHostOption("flag", "true")
	assert.True(t, h.HostOptionBool("flag"))
	assert.False(t, h.HostOptionBool("absent"))

	s := h.Session()
	s["k"] = 1
	assert.Equal(t, 1, h.Session()["k"])
	assert.Empty(t, h.CreateSession())

	var _ SessionHost = h
}

func TestLogErrors(t *testing.T) {
	h, _ := newTestHost(t)

	list := errors.NewTemplateErrorList()
	list.AddError(errors.ErrCodeCompileFailed, "bad", errors.Location{File: "a.tt", Line: 1})
	list.AddWarning(errors.ErrCodeCompileFailed, "meh", errors.Location{})

	h.LogErrors(list)
	h.LogErrors(nil)

	assert.Equal(t, 2, h.Errors().Len())
	assert.True(t, h.Errors().HasErrors())
}

func TestSnapshots(t *testing.T) {
	h, _ := newTestHost(t)
	require.True(t, h.TryAddParameter("name=World"))
	require.True(t, h.TryAddParameter("proc!dir!name!Exact"))
	require.True(t, h.TryAddParameter("proc!other!Proc"))
	h.SetHostOption("count", 3)

	assert.Equal(t, map[string]string{
		"name":          "World",
		"proc!dir!name": "Exact",
		"proc!other":    "Proc",
	}, h.ParameterSnapshot())
	assert.Equal(t, map[string]string{"count": "3"}, h.OptionSnapshot())

	var _ Snapshotter = h
}
