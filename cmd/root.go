// Package cmd provides the command-line interface for textform.
//
// Configuration System:
//
//	The CLI reads configuration from several sources, highest priority first:
//	1. Command-line flags (--config, --log-level, --timeout, etc.)
//	2. TEXTFORM_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (TEXTFORM_RUNNER_ISOLATION, etc.)
//	4. Configuration files (.textform.yml) - lowest priority
//
// Environment Variables:
//
//	TEXTFORM_CONFIG_FILE: Path to custom configuration file
//	TEXTFORM_CACHE_ENABLED: Enable/disable the compiled template cache
//	TEXTFORM_RUNNER_TIMEOUT: Bound a single transformation
//	And more following the TEXTFORM_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/textform/internal/config"
	"github.com/conneroisu/textform/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "textform",
	Short: "A text template compiler and runner",
	Long: `textform turns text templates into generated programs, compiles them with
the go toolchain and runs them to produce output files.

Templates mix literal text with control blocks (<# #>), expression blocks
(<#= #>), class feature blocks (<#+ #>) and directives (<#@ #>).

Quick Start:
  textform transform model.tt              Transform a template next to itself
  textform transform -a name=World x.tt    Pass a parameter
  textform preprocess -c Acme.Report r.tt  Generate a reusable type
  textform watch ./templates               Transform again on change
  textform config init                     Write a .textform.yml`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteWith runs the root command with args, writing to out and errOut
func ExecuteWith(ctx context.Context, args []string, out, errOut io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .textform.yml, can also use TEXTFORM_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. TEXTFORM_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .textform.yml in current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("TEXTFORM_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.DefaultFile, ".yml"))
	}

	// Examples: TEXTFORM_RUNNER_TIMEOUT, TEXTFORM_CACHE_ENABLED
	viper.SetEnvPrefix("TEXTFORM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// A missing or unreadable file leaves the defaults in place
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads the configuration and builds the logger it describes
func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		Component: "textform",
	})
	return cfg, logger, nil
}
