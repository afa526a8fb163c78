package codemode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"utcp/internal/audit"
	"utcp/internal/tools"
	"utcp/internal/transports"
	"utcp/pkg/logging"
)

// ToolCaller is the client surface the engine exposes to scripts. The UTCP
// client satisfies it; tests substitute fakes.
type ToolCaller interface {
	CallTool(ctx context.Context, qualifiedName string, args map[string]any) (any, error)
	CallToolStream(ctx context.Context, qualifiedName string, args map[string]any) (transports.StreamResult, error)
	SearchTools(ctx context.Context, query string, limit int) ([]tools.Tool, error)
}

// Engine runs scripts. It is stateless across executions and safe for
// concurrent use; every Execute builds a fresh interpreter, so concurrent
// runs never share interpreter state or serialize on a common lock.
type Engine struct {
	caller ToolCaller
	limits Limits
	sink   audit.Sink
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimits replaces the default resource limits.
func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithSink replaces the default audit sink.
func WithSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// New builds an engine over the given client surface.
func New(caller ToolCaller, opts ...Option) *Engine {
	e := &Engine{
		caller: caller,
		limits: DefaultLimits(),
		sink:   audit.LogSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the engine's effective limits.
func (e *Engine) Limits() Limits { return e.limits }

// Request is one script execution: source text plus an optional wall-clock
// timeout. A zero timeout uses the engine default; a timeout above the
// configured maximum is rejected during validation, never clamped.
type Request struct {
	Code    string
	Timeout time.Duration
}

// Result is a completed execution. Value is the script's completion value
// normalized to the JSON type system (nil, bool, float64, string, []any,
// map[string]any).
type Result struct {
	ExecutionID string
	Value       any
	Duration    time.Duration
	OpsUsed     int
}

// Execute validates and runs one script. Validation failures surface as
// ValidationError before any interpreter exists; runs that exhaust a quota
// surface ResourceLimitError, and runs that outlive their timeout surface
// TimeoutError. Failures of the script itself keep the causing error in the
// chain, so host-callback errors stay matchable with errors.As.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	execID := uuid.NewString()

	timeout, err := e.limits.resolveTimeout(req.Timeout)
	if err != nil {
		e.auditRejected(execID, err)
		return nil, err
	}
	if err := validateScript(req.Code, e.limits); err != nil {
		e.auditRejected(execID, err)
		return nil, err
	}

	start := time.Now()
	e.sink.Record(audit.Success(audit.KindExecuteStart).
		With("execution", execID).
		With("bytes", len(req.Code)).
		With("timeout", timeout))

	// A script that is already a JSON document is data, not code: return it
	// without building an interpreter.
	if value, ok := decodeJSONScript(req.Code); ok {
		if err := e.checkResultSize(value); err != nil {
			e.auditFailed(execID, err)
			return nil, err
		}
		e.sink.Record(audit.Success(audit.KindExecuteComplete).
			With("execution", execID).With("mode", "json"))
		return &Result{ExecutionID: execID, Value: value, Duration: time.Since(start)}, nil
	}

	run := &runState{
		engine: e,
		execID: execID,
		vm:     goja.New(),
	}
	run.vm.SetMaxCallStackSize(e.limits.MaxCallStack)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	run.ctx = runCtx

	if err := run.install(); err != nil {
		e.auditFailed(execID, err)
		return nil, err
	}

	// The watchdog interrupts the interpreter when the deadline elapses or
	// the caller cancels, independent of whatever the script is executing.
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-runCtx.Done():
			run.vm.Interrupt(runCtx.Err())
		case <-stop:
		}
	}()

	value, evalErr := run.vm.RunString(req.Code)
	close(stop)
	<-exited
	run.closeStreams()
	duration := time.Since(start)

	if run.limitErr != nil {
		e.auditFailed(execID, run.limitErr)
		return nil, run.limitErr
	}
	if evalErr != nil {
		// The deadline kills a run two ways: the watchdog interrupt, or a
		// host call returning the context error into the script. Both
		// classify as timeout.
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			timeoutErr := &tools.TimeoutError{Op: "script", Timeout: timeout}
			e.sink.Record(audit.Failure(audit.KindExecuteTimeout).
				With("execution", execID).With("timeout", timeout).WithError(timeoutErr))
			return nil, timeoutErr
		}
		if ctx.Err() != nil {
			err := fmt.Errorf("script canceled: %w", ctx.Err())
			e.auditFailed(execID, err)
			return nil, err
		}
		err := fmt.Errorf("script failed: %w", unwrapScriptError(evalErr))
		e.auditFailed(execID, err)
		return nil, err
	}

	result, err := e.normalizeResult(value)
	if err != nil {
		e.auditFailed(execID, err)
		return nil, err
	}

	e.sink.Record(audit.Success(audit.KindExecuteComplete).
		With("execution", execID).
		With("ops", run.opsUsed).
		With("duration", duration.Round(time.Millisecond)))
	logging.Debug("CodeMode", "execution %s completed in %s (%d ops)", execID, duration, run.opsUsed)

	return &Result{
		ExecutionID: execID,
		Value:       result,
		Duration:    duration,
		OpsUsed:     run.opsUsed,
	}, nil
}

func (e *Engine) auditRejected(execID string, err error) {
	e.sink.Record(audit.Failure(audit.KindScriptRejected).
		With("execution", execID).WithError(err))
}

func (e *Engine) auditFailed(execID string, err error) {
	e.sink.Record(audit.Failure(audit.KindExecuteFailed).
		With("execution", execID).WithError(err))
}

// decodeJSONScript reports whether the source is a complete JSON document
// and returns its decoded value. Only a single document counts; an
// identifier like "x" or a script with trailing statements is not JSON.
func decodeJSONScript(code string) (any, bool) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, false
	}
	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, false
	}
	return value, true
}

// normalizeResult converts the interpreter's completion value to the JSON
// type system and enforces the result-size cap. Oversize results fail;
// nothing is truncated.
func (e *Engine) normalizeResult(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	exported := v.Export()
	encoded, err := json.Marshal(exported)
	if err != nil {
		return nil, tools.NewValidationError("result", "not serializable: %v", err)
	}
	if len(encoded) > e.limits.MaxResultBytes {
		return nil, &tools.ResourceLimitError{
			Limit:  "result size",
			Max:    int64(e.limits.MaxResultBytes),
			Actual: int64(len(encoded)),
		}
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return out, nil
}

func (e *Engine) checkResultSize(value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return tools.NewValidationError("result", "not serializable: %v", err)
	}
	if len(encoded) > e.limits.MaxResultBytes {
		return &tools.ResourceLimitError{
			Limit:  "result size",
			Max:    int64(e.limits.MaxResultBytes),
			Actual: int64(len(encoded)),
		}
	}
	return nil
}

// unwrapScriptError digs the original Go error out of an uncaught
// interpreter exception, so a host-callback failure keeps its type through
// the script boundary. Bound functions that return an error surface in the
// interpreter as a GoError object carrying the error under "value".
func unwrapScriptError(err error) error {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return err
	}
	val := exc.Value()
	if val == nil {
		return err
	}
	if exported, ok := val.Export().(error); ok && exported != nil {
		return exported
	}
	if obj, ok := val.(*goja.Object); ok {
		if inner := obj.Get("value"); inner != nil {
			if exported, ok := inner.Export().(error); ok && exported != nil {
				return exported
			}
		}
	}
	return err
}
