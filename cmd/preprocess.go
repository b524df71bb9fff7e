package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/textform/internal/engine"
	"github.com/conneroisu/textform/internal/errors"
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess <template>",
	Short: "Generate a reusable Go type from a template",
	Long: `Preprocess generates Go source for a template instead of running it. The
generated type can be compiled into another program and run there, or
registered with the in-process transformations of a textform build.

The class name is Namespace.Class; the last element of the namespace names
the generated package.

Examples:
  textform preprocess -c Acme.Reports.Summary summary.tt   # Writes summary.go
  textform preprocess -c reports.Summary -o - summary.tt   # Print the source`,
	Args: cobra.ExactArgs(1),
	RunE: runPreprocess,
}

var (
	preprocessClass string
	preprocessOut   string
	preprocessFlags *TransformFlags
)

func init() {
	rootCmd.AddCommand(preprocessCmd)

	preprocessCmd.Flags().StringVarP(&preprocessClass, "class", "c", "", "Name of the generated type, Namespace.Class (required)")
	preprocessCmd.Flags().StringVarP(&preprocessOut, "out", "o", "", "Output file, - for stdout (default template name with .go)")
	_ = preprocessCmd.MarkFlagRequired("class")
	preprocessFlags = AddTransformFlags(preprocessCmd)
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	template := args[0]
	if err := validateClassName(preprocessClass); err != nil {
		return err
	}
	if err := preprocessFlags.ValidateFlags(); err != nil {
		return err
	}
	if err := ValidateFileExists(template); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	e := newEngine(cfg, preprocessFlags, logger)
	defer e.Close()

	h, err := newHost(cfg, preprocessFlags, template, logger)
	if err != nil {
		return err
	}

	res := transformResult{template: template, errors: errors.NewTemplateErrorList()}
	content, err := h.ReadTemplate(template)
	if err != nil {
		res.errors.AddError(errors.ErrCodeInternalError, err.Error(), errors.Location{File: template})
		return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), []transformResult{res}, "Preprocessing '%s' failed.")
	}

	pre, err := e.PreprocessTemplate(cmdContext(cmd), h, content, preprocessClass)
	if err != nil {
		return err
	}
	res.errors = pre.Errors

	if !pre.Errors.HasErrors() {
		out := preprocessOut
		switch out {
		case "-":
			if _, err := io.WriteString(cmd.OutOrStdout(), pre.Source); err != nil {
				return err
			}
		default:
			if out == "" {
				out = strings.TrimSuffix(template, filepath.Ext(template)) + ".go"
			}
			if samePath(out, template) {
				res.errors.AddError(errors.ErrCodeInternalError,
					fmt.Sprintf("output %s would overwrite the template", out), errors.Location{File: template})
			} else if err := h.WriteOutput(out, []byte(pre.Source)); err != nil {
				res.errors.AddError(errors.ErrCodeInternalError, err.Error(), errors.Location{File: template})
			}
		}
		if len(pre.References) > 0 {
			logger.Info(cmdContext(cmd), "Generated type needs module references", "references", pre.References)
		}
	}

	return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), []transformResult{res}, "Preprocessing '%s' failed.")
}

// validateClassName checks Namespace.Class; the namespace may be empty
func validateClassName(name string) error {
	if name == "" {
		return fmt.Errorf("class name is required")
	}
	_, class := engine.SplitClassName(name)
	if class == "" {
		return fmt.Errorf("class name %q ends with a dot", name)
	}
	for _, part := range strings.Split(name, ".") {
		if !isIdentifier(part) {
			return fmt.Errorf("class name %q: %q is not an identifier", name, part)
		}
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 0x7f
		if !letter && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}
