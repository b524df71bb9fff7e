package processor

import (
	"encoding/json"
	"fmt"
	"go/token"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/textform/internal/errors"
)

// Receiver is the name generated methods use for the transformation instance.
// Processor code refers to class fields through it.
const Receiver = "t"

// DataProcessorName is the kind of the built-in data processor
const DataProcessorName = "data"

// DataProcessor loads a YAML or JSON file at resolve time and exposes its
// content to the template as a class field:
//
//	<#@ data file="model.yaml" name="model" #>
//	Hello <#= t.model["name"] #>
//
// The document is embedded as JSON and decoded when the transformation
// initializes, so the generated program needs nothing beyond the standard
// library.
type DataProcessor struct {
	Base
	fields []dataField
}

type dataField struct {
	name   string
	goType string
	json   string
}

// NewDataProcessor creates a data processor
func NewDataProcessor() DirectiveProcessor {
	return &DataProcessor{Base: Base{ProcessorName: DataProcessorName}}
}

// IsDirectiveSupported accepts the data directive
func (p *DataProcessor) IsDirectiveSupported(name string) bool {
	return strings.EqualFold(name, "data")
}

// ProcessDirective loads the file named by the directive
func (p *DataProcessor) ProcessDirective(name string, attributes map[string]string) error {
	file := attributes["file"]
	if file == "" {
		return errors.NewResolveError(errors.ErrCodeInvalidAttribute, "data directive requires a file attribute")
	}

	field := attributes["name"]
	if !token.IsIdentifier(field) {
		return errors.NewResolveError(errors.ErrCodeInvalidAttribute,
			fmt.Sprintf("data directive name %q is not a valid identifier", field))
	}
	for _, f := range p.fields {
		if f.name == field {
			return errors.NewResolveError(errors.ErrCodeInvalidAttribute,
				fmt.Sprintf("data field %q declared twice", field))
		}
	}

	if p.Host == nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "data processor used before initialization", nil)
	}
	content, resolved, ok := p.Host.LoadIncludeText(file)
	if !ok {
		return errors.NewIOError(errors.ErrCodeProcessorFailed,
			fmt.Sprintf("could not read data file %q", file), nil)
	}

	var doc interface{}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return errors.NewResolveError(errors.ErrCodeProcessorFailed,
			fmt.Sprintf("could not decode data file %s", resolved)).WithCause(err)
	}
	doc = normalize(doc)

	encoded, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeProcessorFailed,
			fmt.Sprintf("could not encode data file %s", resolved), err)
	}

	p.fields = append(p.fields, dataField{
		name:   field,
		goType: goTypeOf(doc),
		json:   string(encoded),
	})

	return nil
}

// Imports returns the packages the pre-init code needs
func (p *DataProcessor) Imports() []string {
	if len(p.fields) == 0 {
		return nil
	}
	return []string{"encoding/json"}
}

// ClassCode declares one field per data directive
func (p *DataProcessor) ClassCode() string {
	var b strings.Builder
	for _, f := range p.fields {
		fmt.Fprintf(&b, "%s %s\n", f.name, f.goType)
	}
	return b.String()
}

// PreInitCode decodes every embedded document into its field
func (p *DataProcessor) PreInitCode() string {
	var b strings.Builder
	for _, f := range p.fields {
		fmt.Fprintf(&b, "if err := json.Unmarshal([]byte(%s), &%s.%s); err != nil {\n\treturn err\n}\n",
			strconv.Quote(f.json), Receiver, f.name)
	}
	return b.String()
}

func goTypeOf(doc interface{}) string {
	switch doc.(type) {
	case map[string]interface{}:
		return "map[string]any"
	case []interface{}:
		return "[]any"
	default:
		return "any"
	}
}

// normalize converts YAML mappings with non-string keys into
// map[string]interface{} so the document can be encoded as JSON.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[cast.ToString(k)] = normalize(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
