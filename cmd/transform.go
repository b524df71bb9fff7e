package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/textform/internal/config"
	"github.com/conneroisu/textform/internal/engine"
	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/logging"
)

var transformCmd = &cobra.Command{
	Use:     "transform <template>...",
	Aliases: []string{"t"},
	Short:   "Transform templates into output files",
	Long: `Transform compiles each template into a program, runs it and writes the
output next to the template. The output extension comes from the template's
output directive and defaults to .txt.

Errors are printed as file(line,col): ERROR message. The command exits with a
non-zero status when any template recorded an error, in which case no output
file is written for that template.

Examples:
  textform transform model.tt                      # Writes model.txt
  textform transform -o - model.tt                 # Print the output
  textform transform -a name=World hello.tt        # Pass a parameter
  textform transform -a Data!!rows!3 table.tt      # Parameter for a processor
  textform transform --dp Data!data -I ./shared x.tt
  textform transform ./templates/*.tt              # Several templates at once`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTransform,
}

var (
	transformOut   string
	transformFlags *TransformFlags
)

func init() {
	rootCmd.AddCommand(transformCmd)

	transformCmd.Flags().StringVarP(&transformOut, "out", "o", "", "Output file, - for stdout (only with a single template)")
	transformFlags = AddTransformFlags(transformCmd)
}

// transformResult is the outcome of one template
type transformResult struct {
	template string
	output   string
	errors   *errors.TemplateErrorList
}

func runTransform(cmd *cobra.Command, args []string) error {
	if transformOut != "" && len(args) > 1 {
		return fmt.Errorf("--out can only be used with a single template")
	}
	if err := transformFlags.ValidateFlags(); err != nil {
		return err
	}
	for _, arg := range args {
		if err := ValidateFileExists(arg); err != nil {
			return err
		}
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	e := newEngine(cfg, transformFlags, logger)
	defer e.Close()

	results, err := transformAll(cmdContext(cmd), e, cfg, transformFlags, logger, args, transformOut, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), results, "Processing '%s' failed.")
}

// transformAll processes templates concurrently. The returned error is
// reserved for fatal conditions; template errors are in the results.
func transformAll(ctx context.Context, e *engine.Engine, cfg *config.Config, flags *TransformFlags, logger logging.Logger, templates []string, out string, stdout io.Writer) ([]transformResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]transformResult, len(templates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, template := range templates {
		i, template := i, template
		g.Go(func() error {
			res, err := transformOne(ctx, e, cfg, flags, logger, template, out)
			if err != nil {
				return fmt.Errorf("transforming %s: %w", template, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if out == "-" && len(results) == 1 && !results[0].errors.HasErrors() {
		if _, err := io.WriteString(stdout, results[0].output); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func transformOne(ctx context.Context, e *engine.Engine, cfg *config.Config, flags *TransformFlags, logger logging.Logger, template, out string) (transformResult, error) {
	res := transformResult{template: template, errors: errors.NewTemplateErrorList()}

	h, err := newHost(cfg, flags, template, logger)
	if err != nil {
		return res, err
	}
	content, err := h.ReadTemplate(template)
	if err != nil {
		res.errors.AddError(errors.ErrCodeInternalError, err.Error(), errors.Location{File: template})
		return res, nil
	}

	output, err := e.ProcessTemplate(ctx, h, content)
	if err != nil {
		return res, err
	}
	res.errors = output.Errors
	res.output = output.Text
	if output.Failed() || out == "-" {
		return res, nil
	}

	if out == "" {
		out = outputPath(template, output.Extension)
	}
	if samePath(out, template) {
		res.errors.AddError(errors.ErrCodeInternalError,
			fmt.Sprintf("output %s would overwrite the template", out),
			errors.Location{File: template})
		return res, nil
	}
	data, err := output.Bytes()
	if err == nil {
		err = h.WriteOutput(out, data)
	}
	if err != nil {
		res.errors.AddError(errors.ErrCodeInternalError,
			fmt.Sprintf("could not write output %s: %v", out, err),
			errors.Location{File: template})
	}
	return res, nil
}

// outputPath replaces the template's extension with ext. A template that
// already has ext gets ".out" before it, so notes.txt becomes notes.out.txt.
func outputPath(template, ext string) string {
	if ext == "" {
		ext = ".txt"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := strings.TrimSuffix(template, filepath.Ext(template))
	if strings.EqualFold(filepath.Ext(template), ext) {
		return base + ".out" + ext
	}
	return base + ext
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// report prints every template's errors and fails when any of them has one
func report(stdout, stderr io.Writer, results []transformResult, failed string) error {
	var failures int
	for _, res := range results {
		if res.errors.HasErrors() {
			failures++
			fmt.Fprintf(stdout, failed+"\n", res.template)
		}
		for _, te := range res.errors.Errors() {
			fmt.Fprintln(stderr, te.Error())
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d template(s) failed", failures, len(results))
	}
	return nil
}
