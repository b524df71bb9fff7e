package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ConfigWizard provides an interactive setup experience for new projects
type ConfigWizard struct {
	reader *bufio.Reader
	out    io.Writer
	config *Config
}

// NewConfigWizard creates a wizard that prompts on out and reads answers from in
func NewConfigWizard(in io.Reader, out io.Writer) *ConfigWizard {
	return &ConfigWizard{
		reader: bufio.NewReader(in),
		out:    out,
		config: Default(),
	}
}

// Run executes the interactive configuration wizard
func (w *ConfigWizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "🧙 textform Configuration Wizard")
	fmt.Fprintln(w.out, "================================")
	fmt.Fprintln(w.out)

	if err := w.configureCompiler(); err != nil {
		return nil, fmt.Errorf("compiler configuration failed: %w", err)
	}
	if err := w.configureRunner(); err != nil {
		return nil, fmt.Errorf("runner configuration failed: %w", err)
	}
	if err := w.configureHost(); err != nil {
		return nil, fmt.Errorf("host configuration failed: %w", err)
	}

	if err := validateConfig(w.config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "✅ Configuration completed successfully!")
	return w.config, nil
}

func (w *ConfigWizard) configureCompiler() error {
	fmt.Fprintln(w.out, "🔨 Compiler Configuration")
	fmt.Fprintln(w.out, "------------------------")

	timeout, err := w.askDuration("Build timeout", w.config.Compiler.Timeout)
	if err != nil {
		return err
	}
	w.config.Compiler.Timeout = timeout

	w.config.Cache.Enabled = w.askBool("Cache compiled templates", w.config.Cache.Enabled)
	if w.config.Cache.Enabled {
		entries, err := w.askInt("Maximum cached templates (0 for unbounded)", w.config.Cache.MaxEntries, 0, 1<<16)
		if err != nil {
			return err
		}
		w.config.Cache.MaxEntries = entries
	}

	fmt.Fprintln(w.out)
	return nil
}

func (w *ConfigWizard) configureRunner() error {
	fmt.Fprintln(w.out, "🏃 Runner Configuration")
	fmt.Fprintln(w.out, "----------------------")

	w.config.Runner.Isolation = w.askChoice("Isolation",
		[]string{IsolationProcess, IsolationInProcess}, w.config.Runner.Isolation)

	timeout, err := w.askDuration("Transformation timeout", w.config.Runner.Timeout)
	if err != nil {
		return err
	}
	w.config.Runner.Timeout = timeout

	fmt.Fprintln(w.out)
	return nil
}

func (w *ConfigWizard) configureHost() error {
	fmt.Fprintln(w.out, "📁 Search Paths")
	fmt.Fprintln(w.out, "--------------")

	includes := w.askString("Include paths (comma-separated)", strings.Join(w.config.Host.IncludePaths, ","))
	w.config.Host.IncludePaths = splitList(includes)

	fmt.Fprintln(w.out)
	return nil
}

func (w *ConfigWizard) askString(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, defaultValue)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	input, err := w.reader.ReadString('\n')
	if err != nil && input == "" {
		return defaultValue
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}

	return input
}

func (w *ConfigWizard) askInt(prompt string, defaultValue, min, max int) (int, error) {
	for {
		input := w.askString(prompt, strconv.Itoa(defaultValue))

		value, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(w.out, "❌ Invalid number. Please enter a number between %d and %d.\n", min, max)
			if w.exhausted() {
				return defaultValue, nil
			}
			continue
		}

		if value < min || value > max {
			fmt.Fprintf(w.out, "❌ Number out of range. Please enter a number between %d and %d.\n", min, max)
			if w.exhausted() {
				return defaultValue, nil
			}
			continue
		}

		return value, nil
	}
}

func (w *ConfigWizard) askDuration(prompt string, defaultValue time.Duration) (time.Duration, error) {
	for {
		input := w.askString(prompt, defaultValue.String())

		value, err := time.ParseDuration(input)
		if err == nil && value >= 0 {
			return value, nil
		}

		fmt.Fprintln(w.out, "❌ Invalid duration. Use values like 30s or 2m.")
		if w.exhausted() {
			return defaultValue, nil
		}
	}
}

func (w *ConfigWizard) askBool(prompt string, defaultValue bool) bool {
	defaultStr := "n"
	if defaultValue {
		defaultStr = "y"
	}

	input := strings.ToLower(w.askString(prompt, defaultStr))
	return input == "y" || input == "yes" || input == "true"
}

func (w *ConfigWizard) askChoice(prompt string, choices []string, defaultValue string) string {
	for {
		input := w.askString(fmt.Sprintf("%s (options: %s)", prompt, strings.Join(choices, ", ")), defaultValue)

		for _, choice := range choices {
			if strings.EqualFold(input, choice) {
				return choice
			}
		}

		fmt.Fprintf(w.out, "❌ Invalid choice. Please select from: %s\n", strings.Join(choices, ", "))
		if w.exhausted() {
			return defaultValue
		}
	}
}

// exhausted reports whether the input has no more answers
func (w *ConfigWizard) exhausted() bool {
	_, err := w.reader.Peek(1)
	return err != nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
