package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/settings"
)

type fakeHost struct {
	files   map[string]string
	options map[string]interface{}
}

func (h *fakeHost) TemplateFile() string { return "/tmpl/main.tt" }

func (h *fakeHost) ResolvePath(path string) string { return "/tmpl/" + path }

func (h *fakeHost) ResolveParameterValue(_, _, _ string) (string, bool) {
	return "", false
}

func (h *fakeHost) LoadIncludeText(name string) (string, string, bool) {
	content, ok := h.files[name]
	return content, "/tmpl/" + name, ok
}

func (h *fakeHost) GetHostOption(name string) (interface{}, bool) {
	v, ok := h.options[name]
	return v, ok
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("Data", NewDataProcessor))
	assert.Error(t, r.Register("data", NewDataProcessor))
	assert.Error(t, r.Register("", NewDataProcessor))
	assert.Error(t, r.Register("nil", nil))

	p, ok := r.Lookup("DATA")
	require.True(t, ok)
	assert.Equal(t, DataProcessorName, p.Name())

	other, _ := r.Lookup("data")
	assert.NotSame(t, p, other, "each lookup creates a fresh instance")

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"data"}, r.Names())
	assert.Equal(t, []string{"data", "env"}, Default().Names())
}

func TestBaseIsNoop(t *testing.T) {
	b := &Base{ProcessorName: "noop"}
	s := settings.New()

	require.NoError(t, b.Initialize(&fakeHost{}, s))
	assert.Same(t, s, b.Settings)
	assert.False(t, b.IsDirectiveSupported("x"))
	assert.NoError(t, b.ProcessDirective("x", nil))
	assert.NoError(t, b.Finish())

	c := Collect(b)
	assert.Equal(t, Contribution{Processor: "noop"}, c)
}

func TestDataProcessor(t *testing.T) {
	host := &fakeHost{files: map[string]string{
		"model.yaml": "name: World\ncount: 3\nnested:\n  1: one\n",
		"list.json":  `["a", "b"]`,
	}}
	p := NewDataProcessor()
	require.NoError(t, p.Initialize(host, settings.New()))

	assert.True(t, p.IsDirectiveSupported("DATA"))
	require.NoError(t, p.ProcessDirective("data", map[string]string{"file": "model.yaml", "name": "model"}))
	require.NoError(t, p.ProcessDirective("data", map[string]string{"file": "list.json", "name": "items"}))
	require.NoError(t, p.Finish())

	c := Collect(p)
	assert.Equal(t, []string{"encoding/json"}, c.Imports)
	assert.Equal(t, "model map[string]any\nitems []any\n", c.ClassCode)
	assert.Contains(t, c.PreInitCode, `json.Unmarshal([]byte("{\"count\":3,\"name\":\"World\",\"nested\":{\"1\":\"one\"}}"), &t.model)`)
	assert.Contains(t, c.PreInitCode, `&t.items`)
}

func TestDataProcessorErrors(t *testing.T) {
	host := &fakeHost{files: map[string]string{"bad.yaml": "a: [unclosed"}}

	tests := []struct {
		name  string
		attrs map[string]string
		code  string
	}{
		{"missing file", map[string]string{"name": "x"}, errors.ErrCodeInvalidAttribute},
		{"bad identifier", map[string]string{"file": "bad.yaml", "name": "1x"}, errors.ErrCodeInvalidAttribute},
		{"unreadable", map[string]string{"file": "nope.yaml", "name": "x"}, errors.ErrCodeProcessorFailed},
		{"undecodable", map[string]string{"file": "bad.yaml", "name": "x"}, errors.ErrCodeProcessorFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDataProcessor()
			require.NoError(t, p.Initialize(host, settings.New()))

			err := p.ProcessDirective("data", tt.attrs)
			var ee *errors.EngineError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.code, ee.Code)
		})
	}
}

func TestEnvProcessor(t *testing.T) {
	t.Setenv("TEXTFORM_TEST_VALUE", "from-env")

	host := &fakeHost{options: map[string]interface{}{"env.PINNED": 42}}
	p := NewEnvProcessor()
	require.NoError(t, p.Initialize(host, settings.New()))

	require.NoError(t, p.ProcessDirective("env", map[string]string{"name": "TEXTFORM_TEST_VALUE", "field": "value"}))
	require.NoError(t, p.ProcessDirective("env", map[string]string{"name": "PINNED"}))
	require.NoError(t, p.ProcessDirective("env", map[string]string{"name": "TEXTFORM_UNSET_VALUE", "field": "fallback", "default": "dflt"}))

	err := p.ProcessDirective("env", map[string]string{"name": "TEXTFORM_UNSET_VALUE"})
	assert.Error(t, err)

	c := Collect(p)
	assert.Nil(t, c.Imports)
	assert.Equal(t, "value string\npinned string\nfallback string\n", c.ClassCode)
	assert.Equal(t, "t.value = \"from-env\"\nt.pinned = \"42\"\nt.fallback = \"dflt\"\n", c.PreInitCode)
}
