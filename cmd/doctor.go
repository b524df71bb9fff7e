package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/textform/internal/config"
	"github.com/conneroisu/textform/internal/processor"
	"github.com/conneroisu/textform/internal/version"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the environment templates are compiled and run in",
	Long: `Diagnose the environment templates are compiled and run in.

The doctor command checks:

- Configuration file and its validation
- The go toolchain generated programs are built with
- That the build directory root is writable
- Directive processors and their configured aliases
- Transformations linked into this binary for in-process runs

Examples:
  textform doctor                    # Full environment diagnosis
  textform doctor --verbose          # Detailed diagnostic output
  textform doctor --format json      # Output as JSON for tooling`,
	RunE: runDoctor,
}

var (
	doctorVerbose bool
	doctorFormat  string
)

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name       string                 `json:"name" yaml:"name"`
	Category   string                 `json:"category" yaml:"category"`
	Status     string                 `json:"status" yaml:"status"` // "ok", "warning", "error", "info"
	Message    string                 `json:"message" yaml:"message"`
	Suggestion string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
	Environment map[string]string  `json:"environment" yaml:"environment"`
	Results     []DiagnosticResult `json:"results" yaml:"results"`
	Summary     ReportSummary      `json:"summary" yaml:"summary"`
}

// ReportSummary provides an overview of diagnostic results
type ReportSummary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
	Info     int `json:"info" yaml:"info"`
}

type diagnosticCheck func(context.Context, *config.Config) DiagnosticResult

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show verbose diagnostic information")
	doctorCmd.Flags().StringVarP(&doctorFormat, "format", "f", "table", "Output format (table|json|yaml)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := cmdContext(cmd)

	report := &DoctorReport{
		Timestamp:   time.Now(),
		Environment: gatherEnvironmentInfo(),
	}

	cfg, cfgResult := checkConfiguration()
	report.Results = append(report.Results, cfgResult)
	if cfg == nil {
		cfg = config.Default()
	}

	checks := []diagnosticCheck{
		checkToolchain,
		checkWorkRoot,
		checkProcessors,
		checkTransformations,
	}
	for _, check := range checks {
		report.Results = append(report.Results, check(ctx, cfg))
	}
	report.Summary = calculateSummary(report.Results)

	if doctorFormat != "table" {
		return outputReport(out, report, doctorFormat)
	}

	fmt.Fprintln(out, "🔍 textform Environment Doctor")
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out)
	for _, result := range report.Results {
		if !doctorVerbose && result.Status == "info" {
			continue
		}
		displayResult(out, result)
	}
	fmt.Fprintln(out, "📊 Summary")
	fmt.Fprintln(out, "==========")
	displaySummary(out, report.Summary)

	if report.Summary.Errors > 0 {
		return fmt.Errorf("%d check(s) failed", report.Summary.Errors)
	}
	return nil
}

func gatherEnvironmentInfo() map[string]string {
	env := map[string]string{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"textform":   version.GetShortVersion(),
		"gopath":     os.Getenv("GOPATH"),
		"goflags":    os.Getenv("GOFLAGS"),
	}
	if wd, err := os.Getwd(); err == nil {
		env["working_dir"] = wd
	}
	return env
}

func checkConfiguration() (*config.Config, DiagnosticResult) {
	result := DiagnosticResult{
		Name:     "Configuration",
		Category: "Configuration",
		Status:   "ok",
	}

	cfg, err := config.Load()
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Configuration has errors: %v", err)
		result.Suggestion = "Run 'textform config validate' for details"
		return nil, result
	}

	result.Message = "Configuration is valid"
	result.Details = map[string]interface{}{
		"isolation":     cfg.Runner.Isolation,
		"cache_enabled": cfg.Cache.Enabled,
		"include_paths": cfg.Host.IncludePaths,
	}

	validation := config.ValidateConfigWithDetails(cfg)
	if validation.HasWarnings() {
		result.Status = "warning"
		result.Message = fmt.Sprintf("Configuration is valid with %d warning(s)", len(validation.Warnings))
		result.Suggestion = validation.Warnings[0].Message
	}
	if _, err := os.Stat(config.DefaultFile); os.IsNotExist(err) && os.Getenv("TEXTFORM_CONFIG_FILE") == "" {
		result.Status = "info"
		result.Message = "No " + config.DefaultFile + " found, using defaults"
		result.Suggestion = "Run 'textform config init' to write one"
	}
	return cfg, result
}

func checkToolchain(ctx context.Context, cfg *config.Config) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Go Toolchain",
		Category: "Tools",
		Status:   "ok",
	}

	tc, err := version.Toolchain(ctx, cfg.Compiler.Command)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("%s is not usable: %v", cfg.Compiler.Command, err)
		result.Suggestion = "Install Go from https://go.dev/dl or set compiler.command"
		if cfg.Runner.Isolation == config.IsolationInProcess {
			result.Status = "warning"
			result.Suggestion = "Only transformations linked into this binary can run"
		}
		return result
	}

	result.Message = tc
	result.Details = map[string]interface{}{
		"path":    getCommandPath(cfg.Compiler.Command),
		"timeout": cfg.Compiler.Timeout.String(),
	}
	return result
}

func checkWorkRoot(ctx context.Context, cfg *config.Config) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Build Directory",
		Category: "System",
		Status:   "ok",
	}

	root := cfg.Compiler.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "textform-doctor-")
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("Cannot create build directories in %s", root)
		result.Suggestion = "Check permissions or set compiler.work_root"
		return result
	}
	os.RemoveAll(dir)

	result.Message = fmt.Sprintf("Build directories are created in %s", root)
	if cfg.Compiler.KeepTemp {
		result.Status = "warning"
		result.Suggestion = "compiler.keep_temp is set; build directories accumulate"
	}
	return result
}

func checkProcessors(ctx context.Context, cfg *config.Config) DiagnosticResult {
	registry := processor.Default()
	result := DiagnosticResult{
		Name:     "Directive Processors",
		Category: "Templates",
		Status:   "info",
		Message:  fmt.Sprintf("Available kinds: %s", strings.Join(registry.Names(), ", ")),
	}

	if len(cfg.Processors) > 0 {
		result.Details = map[string]interface{}{"aliases": cfg.Processors}
	}
	for name, kind := range cfg.Processors {
		if _, ok := registry.Lookup(kind); !ok {
			result.Status = "error"
			result.Message = fmt.Sprintf("Processor %s maps to unknown kind %s", name, kind)
			result.Suggestion = "Use one of: " + strings.Join(registry.Names(), ", ")
			break
		}
	}
	return result
}

func checkTransformations(ctx context.Context, cfg *config.Config) DiagnosticResult {
	ids := Transformations.Identities()
	result := DiagnosticResult{
		Name:     "Linked Transformations",
		Category: "Runner",
		Status:   "info",
		Message:  fmt.Sprintf("%d transformation(s) can run in process", len(ids)),
	}
	if len(ids) > 0 {
		result.Details = map[string]interface{}{"identities": ids}
	}
	if cfg.Runner.Isolation == config.IsolationInProcess && len(ids) == 0 {
		result.Status = "warning"
		result.Suggestion = "Every template falls back to a separate process"
	}
	return result
}

func getCommandPath(command string) string {
	if path, err := exec.LookPath(command); err == nil {
		return path
	}
	return "not found"
}

func displayResult(out io.Writer, result DiagnosticResult) {
	var icon string
	switch result.Status {
	case "ok":
		icon = "✅"
	case "warning":
		icon = "⚠️"
	case "error":
		icon = "❌"
	case "info":
		icon = "ℹ️"
	default:
		icon = "•"
	}

	fmt.Fprintf(out, "%s [%s] %s: %s\n", icon, strings.ToUpper(result.Category), result.Name, result.Message)
	if result.Suggestion != "" {
		fmt.Fprintf(out, "   💡 %s\n", result.Suggestion)
	}
	if doctorVerbose && len(result.Details) > 0 {
		fmt.Fprintf(out, "   📋 Details: %+v\n", result.Details)
	}
	fmt.Fprintln(out)
}

func calculateSummary(results []DiagnosticResult) ReportSummary {
	summary := ReportSummary{
		Total: len(results),
	}

	for _, result := range results {
		switch result.Status {
		case "ok":
			summary.OK++
		case "warning":
			summary.Warnings++
		case "error":
			summary.Errors++
		case "info":
			summary.Info++
		}
	}

	return summary
}

func displaySummary(out io.Writer, summary ReportSummary) {
	fmt.Fprintf(out, "Total Checks: %d\n", summary.Total)
	fmt.Fprintf(out, "✅ OK: %d\n", summary.OK)
	fmt.Fprintf(out, "⚠️  Warnings: %d\n", summary.Warnings)
	fmt.Fprintf(out, "❌ Errors: %d\n", summary.Errors)
	fmt.Fprintf(out, "ℹ️  Info: %d\n", summary.Info)
}

func outputReport(out io.Writer, report *DoctorReport, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(report)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
