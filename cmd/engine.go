package cmd

import (
	"github.com/spf13/afero"

	"github.com/conneroisu/textform/internal/cache"
	"github.com/conneroisu/textform/internal/compiler"
	"github.com/conneroisu/textform/internal/config"
	"github.com/conneroisu/textform/internal/engine"
	"github.com/conneroisu/textform/internal/host"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/runner"
	"github.com/conneroisu/textform/internal/settings"
)

// Transformations linked into the binary. Programs wrapping Execute register
// preprocessed types here; with --in-process or runner.isolation=inprocess
// templates whose identity is registered run without a build.
var Transformations = compiler.NewPrecompiled(settings.DefaultLanguage)

// newEngine builds an engine from the configuration and flags
func newEngine(cfg *config.Config, flags *TransformFlags, logger logging.Logger) *engine.Engine {
	timeout := cfg.Runner.Timeout
	if flags.Timeout > 0 {
		timeout = flags.Timeout
	}

	goCompiler := compiler.NewGoCompiler(
		compiler.WithCommand(cfg.Compiler.Command),
		compiler.WithWorkRoot(cfg.Compiler.WorkRoot),
		compiler.WithKeepTemp(cfg.Compiler.KeepTemp || flags.Debug),
		compiler.WithTimeout(cfg.Compiler.Timeout),
		compiler.WithLogger(logger),
	)

	var isolation runner.Isolation = runner.NewProcessIsolation(timeout, logger)
	var goBackend compiler.Compiler = goCompiler
	if flags.InProcess || cfg.Runner.Isolation == config.IsolationInProcess {
		isolation = runner.NewPreferInProcess(isolation, logger)
		goBackend = Transformations.WithFallback(goCompiler)
	}

	return engine.New(engine.Config{
		CachedTemplates: cfg.Cache.Enabled && !flags.NoCache,
		Debug:           flags.Debug,
		Timeout:         timeout,
		Imports:         flags.Imports,
		References:      flags.References,
	},
		engine.WithCompiler(goBackend),
		engine.WithCache(cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL, cache.WithLogger(logger))),
		engine.WithIsolation(isolation),
		engine.WithLogger(logger),
	)
}

// newHost builds a host for one template on the OS filesystem
func newHost(cfg *config.Config, flags *TransformFlags, templateFile string, logger logging.Logger) (*host.FileHost, error) {
	h := host.NewFileHost(afero.NewOsFs(), nil, logger)
	h.SetTemplateFile(templateFile)
	if err := flags.Apply(h, cfg); err != nil {
		return nil, err
	}
	return h, nil
}
