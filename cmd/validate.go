package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conneroisu/textform/internal/watcher"
)

var (
	validateFormat string
	validateFlags  *TransformFlags
)

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate [template...]",
	Short: "Check templates without building or running them",
	Long: `Validate parses templates, expands includes, resolves directives and
directive processors, and generates the program without building it.

This reports:

- Unterminated blocks and malformed directives
- Missing include files and include cycles
- Unknown directive processors and invalid attributes
- Parameters without a value

With no arguments every template under the current directory is checked.

Examples:
  textform validate                    # Validate all templates
  textform validate model.tt view.tt   # Validate specific templates
  textform validate --format json      # Output results as JSON`,
	RunE: runValidateCommand,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "text", "Output format (text, json)")
	validateFlags = AddTransformFlags(validateCmd)
}

type ValidationResult struct {
	Template string   `json:"template"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type ValidationSummary struct {
	Total   int                `json:"total"`
	Valid   int                `json:"valid"`
	Invalid int                `json:"invalid"`
	Results []ValidationResult `json:"results"`
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	if validateFormat != "text" && validateFormat != "json" {
		return fmt.Errorf("unsupported format: %s", validateFormat)
	}
	if err := validateFlags.ValidateFlags(); err != nil {
		return err
	}

	templates := args
	if len(templates) == 0 {
		found, err := findTemplates(".")
		if err != nil {
			return err
		}
		templates = found
	}
	for _, t := range templates {
		if err := ValidateFileExists(t); err != nil {
			return err
		}
	}
	if len(templates) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No templates found to validate")
		return nil
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	e := newEngine(cfg, validateFlags, logger)
	defer e.Close()

	summary := ValidationSummary{
		Total:   len(templates),
		Results: make([]ValidationResult, 0, len(templates)),
	}
	for _, template := range templates {
		result := ValidationResult{
			Template: template,
			Errors:   make([]string, 0),
			Warnings: make([]string, 0),
		}

		h, err := newHost(cfg, validateFlags, template, logger)
		if err != nil {
			return err
		}
		content, err := h.ReadTemplate(template)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			pre, err := e.PreprocessTemplate(cmdContext(cmd), h, content, "textform.Validation")
			if err != nil {
				return err
			}
			for _, te := range pre.Errors.Errors() {
				if te.IsWarning {
					result.Warnings = append(result.Warnings, te.Error())
				} else {
					result.Errors = append(result.Errors, te.Error())
				}
			}
		}

		result.Valid = len(result.Errors) == 0
		if result.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
		summary.Results = append(summary.Results, result)
	}

	if validateFormat == "json" {
		if err := outputValidationJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		outputValidationText(cmd.OutOrStdout(), summary)
	}
	if summary.Invalid > 0 {
		return fmt.Errorf("validation failed: %d invalid template(s)", summary.Invalid)
	}
	return nil
}

// findTemplates lists templates under root, skipping .git and vendor
func findTemplates(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == ".git" || d.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if watcher.TemplateFilter(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates in %s: %w", root, err)
	}
	sort.Strings(found)
	return found, nil
}

func outputValidationText(out io.Writer, summary ValidationSummary) {
	fmt.Fprintf(out, "Validation Summary:\n")
	fmt.Fprintf(out, "  Total templates: %d\n", summary.Total)
	fmt.Fprintf(out, "  Valid: %d\n", summary.Valid)
	fmt.Fprintf(out, "  Invalid: %d\n", summary.Invalid)
	fmt.Fprintln(out)

	for _, result := range summary.Results {
		status := "✅"
		if !result.Valid {
			status = "❌"
		}
		fmt.Fprintf(out, "%s %s\n", status, result.Template)

		for _, err := range result.Errors {
			fmt.Fprintf(out, "    %s\n", err)
		}
		for _, warning := range result.Warnings {
			fmt.Fprintf(out, "    %s\n", warning)
		}
		if len(result.Errors) > 0 || len(result.Warnings) > 0 {
			fmt.Fprintln(out)
		}
	}

	if summary.Invalid == 0 {
		fmt.Fprintln(out, "✅ All templates are valid!")
	}
}

func outputValidationJSON(out io.Writer, summary ValidationSummary) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}
