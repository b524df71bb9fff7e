package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/textform/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage textform configuration",
	Long: `Manage textform configuration files and settings.

This command provides subcommands for:
- Creating a configuration file from a profile or an interactive wizard
- Validating existing configuration files
- Showing current configuration values

Examples:
  textform config init                         # Write .textform.yml with defaults
  textform config init --profile development   # Keep build directories, debug logs
  textform config init --interactive           # Answer a few questions
  textform config validate                     # Validate current configuration
  textform config show --format json           # Show current configuration`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a configuration file from a profile or from the answers to an
interactive wizard.

Profiles:
  default       Run each transformation in its own process with a bounded cache
  development   Keep build directories and log at debug level
  ci            Disable the cache and tighten timeouts

Examples:
  textform config init                          # Write .textform.yml
  textform config init --profile ci -o ci.yml   # Write a CI configuration
  textform config init --interactive --force    # Replace an existing file`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a textform configuration file for correctness.

This command checks for:
- Allowed compiler commands and non-negative timeouts
- Cache limits and isolation modes
- Search paths free of shell metacharacters
- Directive processor aliases and kinds
- Logging level and format

Examples:
  textform config validate                     # Validate .textform.yml
  textform config validate --file config.yml   # Validate specific file
  textform config validate --strict            # Treat warnings as errors`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the current textform configuration including all resolved values.

This shows the final configuration after:
- Loading from configuration file
- Applying environment variable overrides
- Setting default values
- Processing command-line flags

Examples:
  textform config show                  # Show all configuration
  textform config show --format json   # Show in JSON format`,
	RunE: runConfigShow,
}

var (
	configOutput      string
	configFile        string
	configFormat      string
	configProfile     string
	configStrict      bool
	configInteractive bool
	configForce       bool
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringVarP(&configOutput, "output", "o", config.DefaultFile, "Output configuration file")
	configInitCmd.Flags().StringVar(&configProfile, "profile", string(config.ProfileDefault), "Profile to start from (default, development, ci)")
	configInitCmd.Flags().BoolVarP(&configInteractive, "interactive", "i", false, "Run the configuration wizard")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")

	configValidateCmd.Flags().StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: "+config.DefaultFile+")")
	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !configForce {
		if _, err := os.Stat(configOutput); err == nil {
			return fmt.Errorf("configuration file %s already exists (use --force to overwrite)", configOutput)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if configInteractive {
		cfg, err = config.NewConfigWizard(cmd.InOrStdin(), out).Run()
		if err != nil {
			return fmt.Errorf("configuration wizard failed: %w", err)
		}
	} else {
		cfg, err = config.NewConfigBuilder().
			WithProfile(config.Profile(configProfile)).
			Build()
		if err != nil {
			return err
		}
	}

	if err := config.WriteFile(configOutput, cfg, configForce); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	fmt.Fprintf(out, "Configuration saved to: %s\n", configOutput)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Review the configuration file")
	fmt.Fprintln(out, "  2. Run 'textform transform <template>' to transform a template")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	targetFile := configFile
	if targetFile == "" {
		if _, err := os.Stat(config.DefaultFile); err != nil {
			return errors.New("no configuration file found. Use --file to specify a config file " +
				"or run 'textform config init' to create one")
		}
		targetFile = config.DefaultFile
	}
	if _, err := os.Stat(targetFile); os.IsNotExist(err) {
		return fmt.Errorf("configuration file %s does not exist", targetFile)
	}

	fmt.Fprintf(out, "🔍 Validating configuration file: %s\n", targetFile)

	cfg, err := readConfigFile(targetFile)
	if err != nil {
		return err
	}

	validation := config.ValidateConfigWithDetails(cfg)
	if validation.Valid && !validation.HasWarnings() {
		fmt.Fprintln(out, "✅ Configuration is valid!")
		return nil
	}

	fmt.Fprint(out, validation.String())
	if validation.HasErrors() {
		return fmt.Errorf("configuration validation failed with %d errors", len(validation.Errors))
	}
	if configStrict {
		return fmt.Errorf("configuration validation failed in strict mode with %d warnings", len(validation.Warnings))
	}
	fmt.Fprintf(out, "✅ Configuration is valid with %d warnings. Use --strict to treat warnings as errors.\n",
		len(validation.Warnings))
	return nil
}

// readConfigFile decodes path over the defaults without consulting the
// environment or the global configuration
func readConfigFile(path string) (*config.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	switch configFormat {
	case "yaml", "yml":
		return showConfigYAML(cmd.OutOrStdout(), cfg)
	case "json":
		return showConfigJSON(cmd.OutOrStdout(), cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
}

func showConfigYAML(out io.Writer, cfg *config.Config) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "# Resolved from all sources (file, env vars, defaults)")
	_, err = out.Write(data)
	return err
}

// showConfigJSON goes through the YAML form so keys keep their file names
func showConfigJSON(out io.Writer, cfg *config.Config) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}
