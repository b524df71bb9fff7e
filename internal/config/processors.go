package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/textform/internal/processor"
)

// validateProcessorsConfig checks directive processor aliases. Keys are the
// names templates use in <#@ processor="..." #>, values the registered kind.
func validateProcessorsConfig(processors map[string]string, result *ValidationResult) {
	known := processor.Default().Names()

	names := make([]string, 0, len(processors))
	for name := range processors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validateProcessorName(name); err != nil {
			result.addError("processors", name, err.Error())
			continue
		}

		kind := processors[name]
		if !containsString(known, kind) {
			result.addError("processors."+name, kind,
				fmt.Sprintf("unknown directive processor kind %q", kind),
				fmt.Sprintf("Available kinds: %s", strings.Join(known, ", ")))
		}
	}
}

// Processor names should be alphanumeric with dashes, dots or underscores
func validateProcessorName(name string) error {
	if name == "" {
		return fmt.Errorf("processor name cannot be empty")
	}
	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_' || char == '.') {
			return fmt.Errorf("processor name contains invalid character: %s", name)
		}
	}
	return nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
