package compiler

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/textform/internal/codegen"
	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/validation"
)

const (
	binaryName     = "transform"
	goModVersion   = "1.21"
	placeholderVer = "v0.0.0-00010101000000-000000000000"
)

var nonModuleChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// GoCompiler builds generated programs with the go toolchain
type GoCompiler struct {
	command  string
	workRoot string
	keepTemp bool
	timeout  time.Duration
	logger   logging.Logger
	parser   *errors.DiagnosticParser
}

// GoOption configures a GoCompiler
type GoOption func(*GoCompiler)

// WithCommand sets the toolchain command. Only "go" is accepted at compile time.
func WithCommand(command string) GoOption {
	return func(c *GoCompiler) {
		c.command = command
	}
}

// WithWorkRoot sets the directory work directories are created in
func WithWorkRoot(dir string) GoOption {
	return func(c *GoCompiler) {
		c.workRoot = dir
	}
}

// WithKeepTemp keeps work directories after their module is released
func WithKeepTemp(keep bool) GoOption {
	return func(c *GoCompiler) {
		c.keepTemp = keep
	}
}

// WithTimeout bounds a single go build; zero means no limit
func WithTimeout(timeout time.Duration) GoOption {
	return func(c *GoCompiler) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) GoOption {
	return func(c *GoCompiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewGoCompiler creates a new go toolchain compiler
func NewGoCompiler(opts ...GoOption) *GoCompiler {
	c := &GoCompiler{
		command: "go",
		logger:  logging.NewNop(),
		parser:  errors.NewDiagnosticParser(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("compiler")
	return c
}

// Language returns the template language this compiler accepts
func (c *GoCompiler) Language() string {
	return "go"
}

// Compile writes the source into a fresh module and runs go build on it
func (c *GoCompiler) Compile(ctx context.Context, req *Request) (*Result, error) {
	// Validate command and arguments to prevent command injection
	if err := c.validateCommand(); err != nil {
		return nil, errors.NewCompileError(errors.ErrCodeCompileFailed, "command validation failed", err)
	}

	flags, err := validation.ValidateBuildFlags(req.Options)
	if err != nil {
		return &Result{Diagnostics: []errors.Diagnostic{errorDiagnostic("compiler options: %v", err)}}, nil
	}
	modFile, diags := c.goMod(req)
	if errors.HasErrors(diags) {
		return &Result{Diagnostics: diags}, nil
	}

	workDir, err := os.MkdirTemp(c.workRoot, "textform-")
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeCompileFailed, "could not create work directory", err)
	}
	keep := c.keepTemp || req.Debug

	fs := afero.NewBasePathFs(afero.NewOsFs(), workDir)
	if err := afero.WriteFile(fs, "go.mod", []byte(modFile), 0o644); err != nil {
		c.cleanup(workDir, false)
		return nil, errors.NewIOError(errors.ErrCodeCompileFailed, "could not write go.mod", err)
	}
	if err := afero.WriteFile(fs, codegen.DefaultFileName, []byte(req.Source), 0o644); err != nil {
		c.cleanup(workDir, false)
		return nil, errors.NewIOError(errors.ErrCodeCompileFailed, "could not write generated source", err)
	}

	args := []string{"build", "-o", binaryName}
	if req.Debug {
		args = append(args, "-gcflags=all=-N -l")
	} else {
		args = append(args, "-trimpath")
	}
	args = append(args, flags...)
	args = append(args, ".")

	op := logging.StartOperation(c.logger, "go build")

	buildCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(buildCtx, c.command, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "GOWORK=off", "GOFLAGS=-mod=mod", "CGO_ENABLED=0")

	output, runErr := cmd.CombinedOutput()
	if ctx.Err() != nil {
		c.cleanup(workDir, false)
		op.EndWithError(ctx, ctx.Err())
		return nil, fmt.Errorf("go build cancelled: %w", ctx.Err())
	}
	if buildCtx.Err() != nil {
		c.cleanup(workDir, false)
		op.EndWithError(ctx, buildCtx.Err())
		return &Result{Diagnostics: []errors.Diagnostic{errorDiagnostic("go build timed out after %s", c.timeout)}}, nil
	}
	if runErr != nil && stderrors.Is(runErr, exec.ErrNotFound) {
		c.cleanup(workDir, false)
		op.EndWithError(ctx, runErr)
		return nil, errors.NewCompileError(errors.ErrCodeCompileFailed, "go toolchain not found", runErr)
	}

	diags = append(diags, c.diagnostics(string(output), req, workDir)...)
	if runErr != nil && !errors.HasErrors(diags) {
		diags = append(diags, errorDiagnostic("go build failed: %v", runErr))
	}
	if errors.HasErrors(diags) {
		c.cleanup(workDir, keep)
		op.EndWithError(ctx, fmt.Errorf("%d diagnostics", len(diags)))
		return &Result{Diagnostics: diags}, nil
	}

	op.End(ctx)
	return &Result{
		Module:      NewExecutable(req.Identity, filepath.Join(workDir, binaryName), workDir, keep),
		Diagnostics: diags,
	}, nil
}

// goMod renders the go.mod of a generated program. References become
// require lines; local ones also get a replace directive.
func (c *GoCompiler) goMod(req *Request) (string, []errors.Diagnostic) {
	var b strings.Builder
	var diags []errors.Diagnostic

	fmt.Fprintf(&b, "module textform.local/%s\n\ngo %s\n", moduleName(req.Identity), goModVersion)

	for _, ref := range req.References {
		if err := validation.ValidateModuleReference(ref); err != nil {
			diags = append(diags, errorDiagnostic("reference %s: %v", ref, err))
			continue
		}

		modulePath, dir, local := strings.Cut(ref, "=")
		if !local && filepath.IsAbs(ref) {
			dir = ref
			name, err := readModulePath(ref)
			if err != nil {
				diags = append(diags, errorDiagnostic("reference %s: %v", ref, err))
				continue
			}
			modulePath, local = name, true
		}

		if local {
			fmt.Fprintf(&b, "\nrequire %s %s\nreplace %s => %s\n", modulePath, placeholderVer, modulePath, dir)
			continue
		}
		if path, version, ok := strings.Cut(ref, "@"); ok {
			fmt.Fprintf(&b, "\nrequire %s %s\n", path, version)
		}
	}

	return b.String(), diags
}

// readModulePath returns the module path declared in dir/go.mod
func readModulePath(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("no go.mod: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "module"); ok && rest != "" && (rest[0] == ' ' || rest[0] == '\t') {
			return strings.Trim(strings.TrimSpace(rest), `"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("go.mod declares no module")
}

// diagnostics parses build output. Positions in the template already carry
// the template's name; anything still in the generated file is renamed after
// the program identity.
func (c *GoCompiler) diagnostics(output string, req *Request, workDir string) []errors.Diagnostic {
	diags := c.parser.Parse(output)
	templateBase := filepath.Base(req.TemplateFile)

	for i := range diags {
		loc := &diags[i].Location
		if loc.File == "" {
			continue
		}
		switch base := filepath.Base(loc.File); {
		case req.TemplateFile != "" && base == templateBase:
			loc.File = req.TemplateFile
		case base == codegen.DefaultFileName:
			loc.File = moduleName(req.Identity) + ".go"
		case !filepath.IsAbs(loc.File):
			loc.File = filepath.Join(workDir, loc.File)
		}
	}
	return diags
}

func (c *GoCompiler) cleanup(workDir string, keep bool) {
	if keep {
		c.logger.Debug(context.Background(), "Keeping work directory", "dir", workDir)
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		c.logger.Warn(context.Background(), err, "Failed to remove work directory", "dir", workDir)
	}
}

// validateCommand validates the command and arguments to prevent command injection
func (c *GoCompiler) validateCommand() error {
	// Allowlist of permitted commands
	allowedCommands := map[string]bool{
		"go": true,
	}

	return validation.ValidateCommand(c.command, allowedCommands)
}

func moduleName(identity string) string {
	name := nonModuleChars.ReplaceAllString(strings.ToLower(identity), "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return "transformation"
	}
	return name
}

type executable struct {
	identity string
	path     string
	workDir  string
	keep     bool

	once sync.Once
	err  error
}

// NewExecutable wraps a built program. Unless keep is set, Release removes
// workDir; an empty workDir leaves the file system untouched.
func NewExecutable(identity, path, workDir string, keep bool) Executable {
	return &executable{identity: identity, path: path, workDir: workDir, keep: keep}
}

func (e *executable) Identity() string {
	return e.identity
}

func (e *executable) Path() string {
	return e.path
}

func (e *executable) Release() error {
	e.once.Do(func() {
		if e.keep || e.workDir == "" {
			return
		}
		e.err = os.RemoveAll(e.workDir)
	})
	return e.err
}
