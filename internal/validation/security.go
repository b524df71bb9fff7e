// Package validation guards the values that reach the compiler toolchain:
// the command itself, its arguments, user supplied build flags and the
// module references written into generated go.mod files.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// allowedBuildFlags lists the go build flags a template may pass through
// its compileroptions attribute.
var allowedBuildFlags = map[string]bool{
	"-trimpath": true,
	"-tags":     true,
	"-ldflags":  true,
	"-gcflags":  true,
	"-buildvcs": true,
}

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	// Check for shell metacharacters that could be used for command injection
	dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if strings.ContainsFunc(arg, unicode.IsControl) {
		return fmt.Errorf("contains control character: %q", arg)
	}

	// Check for path traversal attempts
	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	// Check for absolute paths (prefer relative paths for security)
	if filepath.IsAbs(arg) && !strings.HasPrefix(arg, "/usr/bin/") && !strings.HasPrefix(arg, "/bin/") {
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name against an allowlist
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	// Check if command is in allowlist
	if !allowedCommands[command] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	// Additional security checks for the command itself
	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	return nil
}

// ValidateBuildFlags splits a compileroptions value into go build flags,
// rejecting flags outside the allowlist.
func ValidateBuildFlags(options string) ([]string, error) {
	fields := strings.Fields(options)
	if len(fields) == 0 {
		return nil, nil
	}

	flags := make([]string, 0, len(fields))
	for _, field := range fields {
		name, _, _ := strings.Cut(field, "=")
		if !allowedBuildFlags[name] {
			return nil, fmt.Errorf("build flag '%s' is not allowed", name)
		}
		if err := ValidateArgument(field); err != nil {
			return nil, fmt.Errorf("invalid build flag '%s': %w", field, err)
		}
		flags = append(flags, field)
	}

	return flags, nil
}

// ValidateModuleReference checks a reference before it is written into a
// go.mod file. Accepted forms are a module path with an optional @version,
// an absolute directory, or module=directory.
func ValidateModuleReference(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("reference cannot be empty")
	}
	if strings.ContainsFunc(ref, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) {
		return fmt.Errorf("reference contains whitespace: %q", ref)
	}
	for _, char := range []string{"\"", "`", "'", "//", "=>", "(", ")"} {
		if strings.Contains(ref, char) {
			return fmt.Errorf("reference contains '%s': %s", char, ref)
		}
	}

	modulePath, dir, hasDir := strings.Cut(ref, "=")
	if hasDir {
		if modulePath == "" || strings.HasPrefix(modulePath, "/") {
			return fmt.Errorf("reference %s needs a module path before '='", ref)
		}
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("reference directory must be absolute: %s", dir)
		}
		return nil
	}

	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("reference cannot start with '-': %s", ref)
	}
	return nil
}
