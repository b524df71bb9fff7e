package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("❌ Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("⚠️  Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateCompilerConfig(&config.Compiler, result)
	validateCacheConfig(&config.Cache, result)
	validateRunnerConfig(&config.Runner, result)
	validateHostConfig(&config.Host, result)
	validateProcessorsConfig(config.Processors, result)
	validateLoggingConfig(&config.Logging, result)

	return result
}

// validateConfig returns the first validation error, if any
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if result.HasErrors() {
		return &result.Errors[0]
	}
	return nil
}

func validateCompilerConfig(config *CompilerConfig, result *ValidationResult) {
	if err := validation.ValidateCommand(config.Command, map[string]bool{"go": true}); err != nil {
		result.addError("compiler.command", config.Command, err.Error(),
			"Only the go toolchain can build generated programs")
	}
	if config.Timeout < 0 {
		result.addError("compiler.timeout", config.Timeout, "timeout cannot be negative")
	}
	if config.WorkRoot != "" {
		if err := validatePath(config.WorkRoot); err != nil {
			result.addError("compiler.work_root", config.WorkRoot, err.Error())
		}
	}
	if config.KeepTemp {
		result.addWarning("compiler.keep_temp", config.KeepTemp,
			"build directories are never removed",
			"Disable keep_temp once debugging is done")
	}
}

func validateCacheConfig(config *CacheConfig, result *ValidationResult) {
	if config.MaxEntries < 0 {
		result.addError("cache.max_entries", config.MaxEntries, "max_entries cannot be negative")
	}
	if config.TTL < 0 {
		result.addError("cache.ttl", config.TTL, "ttl cannot be negative")
	}
	if config.Enabled && config.MaxEntries == 0 {
		result.addWarning("cache.max_entries", config.MaxEntries,
			"cache is unbounded",
			"Set max_entries to limit the number of compiled programs kept")
	}
}

func validateRunnerConfig(config *RunnerConfig, result *ValidationResult) {
	switch config.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		result.addError("runner.isolation", config.Isolation,
			fmt.Sprintf("unknown isolation %q", config.Isolation),
			fmt.Sprintf("Use %q or %q", IsolationProcess, IsolationInProcess))
	}
	if config.Timeout < 0 {
		result.addError("runner.timeout", config.Timeout, "timeout cannot be negative")
	}
	if config.Timeout == 0 && config.Isolation == IsolationProcess {
		result.addWarning("runner.timeout", config.Timeout,
			"transformations run without a time limit")
	}
}

func validateHostConfig(config *HostConfig, result *ValidationResult) {
	for _, path := range config.IncludePaths {
		if err := validatePath(path); err != nil {
			result.addError("host.include_paths", path, fmt.Sprintf("invalid include path '%s': %v", path, err))
		}
	}
	for _, path := range config.ReferencePaths {
		if err := validatePath(path); err != nil {
			result.addError("host.reference_paths", path, fmt.Sprintf("invalid reference path '%s': %v", path, err))
		}
	}
}

func validateLoggingConfig(config *LoggingConfig, result *ValidationResult) {
	level := strings.ToLower(strings.TrimSpace(config.Level))
	if level != "info" && logging.ParseLevel(level) == logging.LevelInfo {
		result.addError("logging.level", config.Level,
			fmt.Sprintf("unknown log level %q", config.Level),
			"Use debug, info, warn or error")
	}
	switch config.Format {
	case "text", "json":
	default:
		result.addError("logging.format", config.Format,
			fmt.Sprintf("unknown log format %q", config.Format),
			"Use text or json")
	}
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	// Clean the path
	cleanPath := filepath.Clean(path)

	// Reject dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
