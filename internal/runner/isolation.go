package runner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/conneroisu/textform/internal/compiler"
	"github.com/conneroisu/textform/internal/errors"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/runner/protocol"
)

// Isolation runs a compiled module apart from the engine's own state.
//
// Run returns a response for every outcome the template is responsible for,
// including failed transformations. A non-nil error is either fatal
// (cancellation, a crashed runtime) or an isolation failure the runner
// records as TT0032.
type Isolation interface {
	Run(ctx context.Context, m compiler.Module, req *protocol.Request) (*protocol.Response, error)
	Close() error
}

const maxStderr = 64 << 10

// ProcessIsolation starts every transformation in its own OS process
type ProcessIsolation struct {
	timeout time.Duration
	logger  logging.Logger
}

// NewProcessIsolation creates a process isolation context. A zero timeout
// leaves runs bounded only by the caller's context.
func NewProcessIsolation(timeout time.Duration, logger logging.Logger) *ProcessIsolation {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ProcessIsolation{timeout: timeout, logger: logger.WithComponent("isolation")}
}

// Run executes the module's program, feeding req on stdin
func (p *ProcessIsolation) Run(ctx context.Context, m compiler.Module, req *protocol.Request) (*protocol.Response, error) {
	exe, ok := m.(compiler.Executable)
	if !ok {
		return nil, errors.NewExecuteError(errors.ErrCodeIsolationFailed,
			fmt.Sprintf("module %s cannot run in a separate process", m.Identity()), nil)
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var stdin bytes.Buffer
	if err := protocol.WriteRequest(&stdin, req); err != nil {
		return nil, errors.NewExecuteError(errors.ErrCodeIsolationFailed, "could not encode request", err)
	}

	var stdout bytes.Buffer
	stderr := &limitedBuffer{limit: maxStderr}

	cmd := exec.CommandContext(runCtx, exe.Path())
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("transformation cancelled: %w", ctx.Err())
	}
	if runCtx.Err() != nil {
		return nil, errors.NewExecuteError(errors.ErrCodeIsolationFailed,
			fmt.Sprintf("transformation timed out after %s", p.timeout), nil)
	}

	errOutput := stderr.String()
	if errOutput != "" {
		p.logger.Debug(ctx, "Transformation stderr", "identity", m.Identity(), "output", errOutput)
	}
	if err != nil && crashed(errOutput) {
		return nil, errors.NewFatalError("transformation crashed: "+firstLine(errOutput), err)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return nil, errors.NewExecuteError(errors.ErrCodeIsolationFailed,
				fmt.Sprintf("transformation exited with code %d: %s", exitErr.ExitCode(), firstLine(errOutput)), err)
		}
		return nil, errors.NewExecuteError(errors.ErrCodeIsolationFailed, "could not start transformation", err)
	}

	resp, err := protocol.ReadResponse(&stdout)
	if err != nil {
		return nil, errors.NewExecuteError(errors.ErrCodeIsolationFailed, "transformation produced no response", err)
	}

	p.logger.Debug(ctx, "Transformation finished", "identity", m.Identity(), "duration", duration)
	return resp, nil
}

// Close implements Isolation; processes do not outlive their run
func (p *ProcessIsolation) Close() error {
	return nil
}

// InProcessIsolation runs transformations linked into this binary. Panics
// are contained; state cannot be isolated beyond what the transformation
// itself keeps per instance.
type InProcessIsolation struct {
	logger logging.Logger
}

// NewInProcessIsolation creates an in-process isolation context
func NewInProcessIsolation(logger logging.Logger) *InProcessIsolation {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &InProcessIsolation{logger: logger.WithComponent("isolation")}
}

// Run instantiates the module's transformation and drives its lifecycle
func (p *InProcessIsolation) Run(ctx context.Context, m compiler.Module, req *protocol.Request) (resp *protocol.Response, err error) {
	inst, ok := m.(compiler.Instantiable)
	if !ok {
		return nil, errors.NewExecuteError(errors.ErrCodeIsolationFailed,
			fmt.Sprintf("module %s cannot run in process", m.Identity()), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp = &protocol.Response{}
	obj := inst.NewTransformation()
	tt, ok := obj.(protocol.Transformation)
	if !ok {
		resp.Errors = append(resp.Errors, protocol.ResponseError{
			Code:    errors.ErrCodeMissingLifecycle,
			Message: fmt.Sprintf("%T does not implement Initialize() error and TransformText() string", obj),
		})
		return resp, nil
	}
	if r, ok := obj.(protocol.Receiver); ok {
		r.Receive(req)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if errors.IsFatalPanic(r) {
			resp, err = nil, errors.NewFatalError(fmt.Sprintf("transformation crashed: %v", r), nil)
			return
		}
		resp.Output = ""
		resp.Errors = append(reported(obj), protocol.ResponseError{
			Code:    errors.ErrCodeTransformFailed,
			Message: fmt.Sprintf("transformation failed: %v", r),
		})
		err = nil
	}()

	if ierr := tt.Initialize(); ierr != nil {
		resp.Errors = append(reported(obj), protocol.ResponseError{
			Code:    errors.ErrCodeTransformFailed,
			Message: ierr.Error(),
		})
		return resp, nil
	}

	resp.Output = tt.TransformText()
	resp.Errors = reported(obj)
	return resp, nil
}

// Close implements Isolation
func (p *InProcessIsolation) Close() error {
	return nil
}

// PreferInProcess runs instantiable modules in process and everything else
// through a fallback isolation
type PreferInProcess struct {
	inProcess *InProcessIsolation
	fallback  Isolation
}

// NewPreferInProcess creates an isolation that avoids a process per run when
// the module allows it
func NewPreferInProcess(fallback Isolation, logger logging.Logger) *PreferInProcess {
	return &PreferInProcess{inProcess: NewInProcessIsolation(logger), fallback: fallback}
}

// Run implements Isolation
func (p *PreferInProcess) Run(ctx context.Context, m compiler.Module, req *protocol.Request) (*protocol.Response, error) {
	if _, ok := m.(compiler.Instantiable); ok {
		return p.inProcess.Run(ctx, m, req)
	}
	return p.fallback.Run(ctx, m, req)
}

// Close implements Isolation
func (p *PreferInProcess) Close() error {
	return p.fallback.Close()
}

func reported(obj any) []protocol.ResponseError {
	if r, ok := obj.(protocol.Reporter); ok {
		return append([]protocol.ResponseError(nil), r.ReportedErrors()...)
	}
	return nil
}

func crashed(stderr string) bool {
	return strings.Contains(stderr, "fatal error:") || errors.IsFatalOutput(stderr)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// limitedBuffer keeps the first limit bytes written to it
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
