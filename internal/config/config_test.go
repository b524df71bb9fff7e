package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, config *Config)
	}{
		{
			name:  "defaults",
			setup: func() { viper.Reset() },
			check: func(t *testing.T, config *Config) {
				assert.Equal(t, Default(), config)
			},
		},
		{
			name: "overrides",
			setup: func() {
				viper.Reset()
				viper.Set("compiler.timeout", "30s")
				viper.Set("cache.enabled", false)
				viper.Set("cache.max_entries", 8)
				viper.Set("runner.isolation", IsolationInProcess)
				viper.Set("runner.timeout", 0)
				viper.Set("host.include_paths", []string{"./includes", "./shared"})
				viper.Set("processors", map[string]interface{}{"mydata": "data"})
			},
			check: func(t *testing.T, config *Config) {
				assert.Equal(t, 30*time.Second, config.Compiler.Timeout)
				assert.False(t, config.Cache.Enabled)
				assert.Equal(t, 8, config.Cache.MaxEntries)
				assert.Equal(t, IsolationInProcess, config.Runner.Isolation)
				assert.Zero(t, config.Runner.Timeout)
				assert.Equal(t, []string{"./includes", "./shared"}, config.Host.IncludePaths)
				assert.Equal(t, map[string]string{"mydata": "data"}, config.Processors)
			},
		},
		{
			name: "log-level flag",
			setup: func() {
				viper.Reset()
				viper.Set("log-level", "debug")
			},
			check: func(t *testing.T, config *Config) {
				assert.Equal(t, "debug", config.Logging.Level)
			},
		},
		{
			name: "logging section wins over flag",
			setup: func() {
				viper.Reset()
				viper.Set("log-level", "debug")
				viper.Set("logging.level", "warn")
			},
			check: func(t *testing.T, config *Config) {
				assert.Equal(t, "warn", config.Logging.Level)
			},
		},
		{
			name: "invalid timeout",
			setup: func() {
				viper.Reset()
				viper.Set("runner.timeout", "soon")
			},
			expectError: true,
		},
		{
			name: "invalid isolation",
			setup: func() {
				viper.Reset()
				viper.Set("runner.isolation", "container")
			},
			expectError: true,
		},
		{
			name: "disallowed compiler",
			setup: func() {
				viper.Reset()
				viper.Set("compiler.command", "gcc")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			config, err := Load()

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, config)
			tt.check(t, config)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), DefaultFile)
	content := `compiler:
  command: go
  timeout: 45s
cache:
  enabled: true
  max_entries: 3
runner:
  isolation: inprocess
host:
  include_paths:
    - ./includes
  options:
    mode: fast
processors:
  environment: env
logging:
  level: error
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, config.Compiler.Timeout)
	assert.Equal(t, 3, config.Cache.MaxEntries)
	assert.Equal(t, IsolationInProcess, config.Runner.Isolation)
	assert.Equal(t, time.Minute, config.Runner.Timeout, "unset keys keep defaults")
	assert.Equal(t, []string{"./includes"}, config.Host.IncludePaths)
	assert.Equal(t, "fast", config.Host.Options["mode"])
	assert.Equal(t, "env", config.Processors["environment"])
	assert.Equal(t, LoggingConfig{Level: "error", Format: "json"}, config.Logging)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)

	config := Default()
	config.Processors["mydata"] = "data"
	require.NoError(t, WriteFile(path, config, false))

	err := WriteFile(path, config, false)
	assert.Error(t, err, "existing files are kept")
	require.NoError(t, WriteFile(path, config, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# textform configuration\n"))

	viper.Reset()
	defer viper.Reset()
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, config.Compiler, loaded.Compiler)
	assert.Equal(t, config.Cache, loaded.Cache)
	assert.Equal(t, config.Runner, loaded.Runner)
	assert.Equal(t, config.Processors, loaded.Processors)
}

func TestValidateConfigWithDetails(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errors   []string
		warnings []string
	}{
		{
			name:   "default is valid",
			mutate: func(*Config) {},
		},
		{
			name: "negative values",
			mutate: func(c *Config) {
				c.Compiler.Timeout = -1
				c.Cache.MaxEntries = -1
				c.Cache.TTL = -1
				c.Runner.Timeout = -1
			},
			errors: []string{"compiler.timeout", "cache.max_entries", "cache.ttl", "runner.timeout"},
		},
		{
			name: "unbounded cache",
			mutate: func(c *Config) {
				c.Cache.MaxEntries = 0
			},
			warnings: []string{"cache.max_entries"},
		},
		{
			name: "keep temp and no timeout",
			mutate: func(c *Config) {
				c.Compiler.KeepTemp = true
				c.Runner.Timeout = 0
			},
			warnings: []string{"compiler.keep_temp", "runner.timeout"},
		},
		{
			name: "unknown processor kind",
			mutate: func(c *Config) {
				c.Processors["Data"] = "sql"
			},
			errors: []string{"processors.Data"},
		},
		{
			name: "invalid processor alias",
			mutate: func(c *Config) {
				c.Processors["bad name"] = "data"
			},
			errors: []string{"processors"},
		},
		{
			name: "logging",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
				c.Logging.Format = "xml"
			},
			errors: []string{"logging.level", "logging.format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			result := ValidateConfigWithDetails(config)
			assert.Equal(t, tt.errors, fields(result.Errors), result.String())
			assert.Equal(t, tt.warnings, fields(result.Warnings), result.String())
			assert.Equal(t, len(tt.errors) == 0, result.Valid)
		})
	}
}

func fields(issues []ValidationError) []string {
	var out []string
	for _, issue := range issues {
		out = append(out, issue.Field)
	}
	return out
}

func TestConfigBuilder(t *testing.T) {
	config, err := NewConfigBuilder().
		WithProfile(ProfileCI).
		WithIncludePaths("./includes").
		WithHostOption("mode", "ci").
		WithProcessor("Data", "data").
		Build()
	require.NoError(t, err)

	assert.False(t, config.Cache.Enabled)
	assert.Equal(t, 30*time.Second, config.Runner.Timeout)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, []string{"./includes"}, config.Host.IncludePaths)
	assert.Equal(t, "ci", config.Host.Options["mode"])

	_, err = NewConfigBuilder().WithProfile("staging").Build()
	assert.ErrorContains(t, err, "unknown profile")

	_, err = NewConfigBuilder().WithIsolation("container", 0).Build()
	assert.ErrorContains(t, err, "runner.isolation")

	_, err = NewConfigBuilder().
		AddValidator(func(c *Config) error {
			if len(c.Host.IncludePaths) == 0 {
				return assert.AnError
			}
			return nil
		}).
		Build()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConfigBuilderFromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("runner.isolation", IsolationInProcess)
	viper.Set("cache.enabled", false)

	config, err := NewConfigBuilder().WithProfile(ProfileDevelopment).FromViper().Build()
	require.NoError(t, err)

	assert.Equal(t, IsolationInProcess, config.Runner.Isolation)
	assert.False(t, config.Cache.Enabled)
	assert.True(t, config.Compiler.KeepTemp)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestConfigWizard(t *testing.T) {
	answers := strings.Join([]string{
		"90s",       // build timeout
		"y",         // cache
		"abc",       // max entries, rejected
		"16",        // max entries
		"inprocess", // isolation
		"",          // transformation timeout, keep default
		"./a, ./b",  // include paths
	}, "\n") + "\n"

	var out strings.Builder
	config, err := NewConfigWizard(strings.NewReader(answers), &out).Run()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, config.Compiler.Timeout)
	assert.True(t, config.Cache.Enabled)
	assert.Equal(t, 16, config.Cache.MaxEntries)
	assert.Equal(t, IsolationInProcess, config.Runner.Isolation)
	assert.Equal(t, time.Minute, config.Runner.Timeout)
	assert.Equal(t, []string{"./a", "./b"}, config.Host.IncludePaths)
	assert.Contains(t, out.String(), "Invalid number")
}

func TestConfigWizardEmptyInput(t *testing.T) {
	var out strings.Builder
	config, err := NewConfigWizard(strings.NewReader(""), &out).Run()
	require.NoError(t, err)
	assert.Equal(t, Default(), config)
}
