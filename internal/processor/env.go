package processor

import (
	"fmt"
	"go/token"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/conneroisu/textform/internal/errors"
)

// EnvProcessorName is the kind of the built-in environment processor
const EnvProcessorName = "env"

// EnvProcessor snapshots a value into a string field of the generated class
// when the template is resolved:
//
//	<#@ env name="HOME" field="home" default="/root" #>
//
// The host option "env.<name>" takes precedence over the process
// environment, so hosts can pin values for reproducible output.
type EnvProcessor struct {
	Base
	values []envValue
}

type envValue struct {
	field string
	value string
}

// NewEnvProcessor creates an environment processor
func NewEnvProcessor() DirectiveProcessor {
	return &EnvProcessor{Base: Base{ProcessorName: EnvProcessorName}}
}

// IsDirectiveSupported accepts the env directive
func (p *EnvProcessor) IsDirectiveSupported(name string) bool {
	return strings.EqualFold(name, "env")
}

// ProcessDirective captures one value
func (p *EnvProcessor) ProcessDirective(name string, attributes map[string]string) error {
	key := attributes["name"]
	if key == "" {
		return errors.NewResolveError(errors.ErrCodeInvalidAttribute, "env directive requires a name attribute")
	}

	field := attributes["field"]
	if field == "" {
		field = strings.ToLower(key)
	}
	if !token.IsIdentifier(field) {
		return errors.NewResolveError(errors.ErrCodeInvalidAttribute,
			fmt.Sprintf("env field %q is not a valid identifier", field))
	}

	value, found := p.lookup(key)
	if !found {
		def, ok := attributes["default"]
		if !ok {
			return errors.NewResolveError(errors.ErrCodeUnresolvedParameter,
				fmt.Sprintf("environment value %s is not set and has no default", key))
		}
		value = def
	}

	for i := range p.values {
		if p.values[i].field == field {
			p.values[i].value = value
			return nil
		}
	}
	p.values = append(p.values, envValue{field: field, value: value})

	return nil
}

func (p *EnvProcessor) lookup(key string) (string, bool) {
	if p.Host != nil {
		if v, ok := p.Host.GetHostOption("env." + key); ok {
			return cast.ToString(v), true
		}
	}
	return os.LookupEnv(key)
}

// ClassCode declares one string field per captured value
func (p *EnvProcessor) ClassCode() string {
	var b strings.Builder
	for _, v := range p.values {
		fmt.Fprintf(&b, "%s string\n", v.field)
	}
	return b.String()
}

// PreInitCode assigns the captured values
func (p *EnvProcessor) PreInitCode() string {
	var b strings.Builder
	for _, v := range p.values {
		fmt.Fprintf(&b, "%s.%s = %s\n", Receiver, v.field, strconv.Quote(v.value))
	}
	return b.String()
}
