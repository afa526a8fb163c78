package codemode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/dop251/goja"

	"utcp/internal/audit"
	"utcp/internal/tools"
	"utcp/internal/transports"
)

// runState is the per-execution sandbox: one interpreter, one context, one
// operation counter. Host callbacks run on the interpreter goroutine, so
// opsUsed and limitErr need no locking; only the watchdog touches the
// interpreter concurrently, and only through Interrupt.
type runState struct {
	engine   *Engine
	execID   string
	vm       *goja.Runtime
	ctx      context.Context
	opsUsed  int
	limitErr error
	streams  []*streamHandle
}

// install binds the host callbacks and neutralizes the dynamic-evaluation
// globals. The validator already rejects scripts that mention eval or
// Function; clearing the globals is the backstop for anything that slips
// through as computed access.
func (rs *runState) install() error {
	global := rs.vm.GlobalObject()
	if err := global.Set("eval", goja.Undefined()); err != nil {
		return err
	}
	if err := global.Set("Function", goja.Undefined()); err != nil {
		return err
	}

	if err := rs.vm.Set("call_tool", rs.callTool); err != nil {
		return err
	}
	if err := rs.vm.Set("call_tool_stream", rs.callToolStream); err != nil {
		return err
	}
	if err := rs.vm.Set("search_tools", rs.searchTools); err != nil {
		return err
	}
	return rs.vm.Set("sprintf", rs.sprintf)
}

// charge debits n operations from the budget. Exhaustion is terminal: the
// interpreter is interrupted so the script cannot catch its way past the
// limit.
func (rs *runState) charge(n int) error {
	rs.opsUsed += n
	if rs.opsUsed > rs.engine.limits.OpBudget {
		err := &tools.ResourceLimitError{
			Limit:  "operation budget",
			Max:    int64(rs.engine.limits.OpBudget),
			Actual: int64(rs.opsUsed),
		}
		rs.terminal(err)
		return err
	}
	return nil
}

// terminal records a quota breach and interrupts the interpreter. The first
// breach wins; later ones keep the original classification.
func (rs *runState) terminal(err error) {
	if rs.limitErr == nil {
		rs.limitErr = err
	}
	rs.vm.Interrupt(err)
}

func (rs *runState) closeStreams() {
	for _, h := range rs.streams {
		h.closeOnce()
	}
}

// callTool invokes one tool synchronously. Input problems are catchable
// ValidationErrors; transport and lookup failures pass through with their
// types intact so scripts can branch on them.
func (rs *runState) callTool(name string, args goja.Value) (any, error) {
	argMap, err := rs.validateCall(name, args)
	if err != nil {
		return nil, err
	}
	if err := rs.charge(1); err != nil {
		return nil, err
	}

	rs.engine.sink.Record(audit.Success(audit.KindCallTool).
		With("execution", rs.execID).With("tool", name))

	result, err := rs.engine.caller.CallTool(rs.ctx, name, argMap)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// callToolStream opens a streaming call and hands the script an object with
// next(), close() and collect(). Each delivered item costs one operation;
// a single stream may not exceed the per-stream item cap.
func (rs *runState) callToolStream(name string, args goja.Value) (*goja.Object, error) {
	argMap, err := rs.validateCall(name, args)
	if err != nil {
		return nil, err
	}
	if err := rs.charge(1); err != nil {
		return nil, err
	}

	rs.engine.sink.Record(audit.Success(audit.KindCallToolStream).
		With("execution", rs.execID).With("tool", name))

	stream, err := rs.engine.caller.CallToolStream(rs.ctx, name, argMap)
	if err != nil {
		return nil, err
	}

	handle := &streamHandle{rs: rs, stream: stream}
	rs.streams = append(rs.streams, handle)

	obj := rs.vm.NewObject()
	if err := obj.Set("next", handle.next); err != nil {
		return nil, err
	}
	if err := obj.Set("close", handle.close); err != nil {
		return nil, err
	}
	if err := obj.Set("collect", handle.collect); err != nil {
		return nil, err
	}
	return obj, nil
}

// searchTools exposes tag search. The limit is clamped to the configured
// maximum; scripts cannot widen the window beyond it.
func (rs *runState) searchTools(query string, limit ...int) ([]map[string]any, error) {
	if len(query) > rs.engine.limits.MaxQueryLen {
		return nil, tools.NewValidationError("query",
			"length %d exceeds maximum %d", len(query), rs.engine.limits.MaxQueryLen)
	}

	max := rs.engine.limits.MaxSearchResults
	effective := max
	if len(limit) > 0 {
		effective = limit[0]
		if effective > max {
			effective = max
		}
	}

	if err := rs.charge(1); err != nil {
		return nil, err
	}

	rs.engine.sink.Record(audit.Success(audit.KindSearchTools).
		With("execution", rs.execID).With("query", query).With("limit", effective))

	found, err := rs.engine.caller.SearchTools(rs.ctx, query, effective)
	if err != nil {
		return nil, err
	}

	descriptors := make([]map[string]any, 0, len(found))
	for _, tool := range found {
		tags := make([]any, 0, len(tool.Tags))
		for _, tag := range tool.Tags {
			tags = append(tags, tag)
		}
		descriptors = append(descriptors, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"tags":        tags,
		})
	}
	return descriptors, nil
}

// sprintf substitutes arguments into "{}" placeholders left to right, the
// way the tool descriptions in manuals are written. Input caps are
// catchable; an oversize output is a terminal quota breach.
func (rs *runState) sprintf(format string, args ...goja.Value) (string, error) {
	limits := rs.engine.limits
	if len(format) > limits.SprintfMaxFormatLen {
		return "", tools.NewValidationError("format",
			"length %d exceeds maximum %d", len(format), limits.SprintfMaxFormatLen)
	}
	if len(args) > limits.SprintfMaxArgs {
		return "", tools.NewValidationError("args",
			"%d arguments exceed maximum %d", len(args), limits.SprintfMaxArgs)
	}

	rendered := make([]string, 0, len(args))
	for i, arg := range args {
		s, err := stringifyArg(arg)
		if err != nil {
			return "", tools.NewValidationError("args", "argument %d: %v", i, err)
		}
		if len(s) > limits.SprintfMaxArgLen {
			return "", tools.NewValidationError("args",
				"argument %d length %d exceeds maximum %d", i, len(s), limits.SprintfMaxArgLen)
		}
		rendered = append(rendered, s)
	}

	if err := rs.charge(1); err != nil {
		return "", err
	}

	out := format
	for _, s := range rendered {
		out = strings.Replace(out, "{}", s, 1)
	}
	if len(out) > limits.SprintfMaxOutputLen {
		err := &tools.ResourceLimitError{
			Limit:  "sprintf output",
			Max:    int64(limits.SprintfMaxOutputLen),
			Actual: int64(len(out)),
		}
		rs.terminal(err)
		return "", err
	}

	rs.engine.sink.Record(audit.Success(audit.KindSprintf).
		With("execution", rs.execID).With("args", len(args)))
	return out, nil
}

// validateCall checks a tool name and argument object against the input
// caps and returns the arguments normalized to JSON types.
func (rs *runState) validateCall(name string, args goja.Value) (map[string]any, error) {
	if name == "" {
		return nil, tools.NewValidationError("tool", "name must not be empty")
	}
	if len(name) > rs.engine.limits.MaxToolNameLen {
		return nil, tools.NewValidationError("tool",
			"name length %d exceeds maximum %d", len(name), rs.engine.limits.MaxToolNameLen)
	}

	argMap := map[string]any{}
	if args != nil && !goja.IsUndefined(args) && !goja.IsNull(args) {
		exported := args.Export()
		m, ok := exported.(map[string]any)
		if !ok {
			return nil, tools.NewValidationError("args",
				"must be an object, got %T", exported)
		}
		argMap = m
	}

	encoded, err := json.Marshal(argMap)
	if err != nil {
		return nil, tools.NewValidationError("args", "not serializable: %v", err)
	}
	if len(encoded) > rs.engine.limits.MaxArgBytes {
		return nil, tools.NewValidationError("args",
			"size %d exceeds maximum %d", len(encoded), rs.engine.limits.MaxArgBytes)
	}

	// Round-trip so the transport sees JSON types regardless of how the
	// interpreter exported the values.
	normalized := map[string]any{}
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, tools.NewValidationError("args", "not serializable: %v", err)
	}
	return normalized, nil
}

func stringifyArg(arg goja.Value) (string, error) {
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return "null", nil
	}
	exported := arg.Export()
	if s, ok := exported.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(exported)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// streamHandle adapts a transport stream for script consumption.
type streamHandle struct {
	rs     *runState
	stream transports.StreamResult
	items  int
	closed bool
}

// next returns {value, done}. A finished or closed stream yields
// {done: true}; item delivery charges the budget and counts against the
// per-stream cap.
func (h *streamHandle) next() (map[string]any, error) {
	if h.closed {
		return map[string]any{"done": true}, nil
	}

	item, err := h.stream.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			h.closeOnce()
			return map[string]any{"done": true}, nil
		}
		return nil, err
	}

	if err := h.rs.charge(1); err != nil {
		return nil, err
	}
	h.items++
	if h.items > h.rs.engine.limits.MaxStreamItems {
		limitErr := &tools.ResourceLimitError{
			Limit:  "stream items",
			Max:    int64(h.rs.engine.limits.MaxStreamItems),
			Actual: int64(h.items),
		}
		h.rs.terminal(limitErr)
		return nil, limitErr
	}

	return map[string]any{"value": item, "done": false}, nil
}

// collect drains the stream and returns every remaining item. The budget
// and the per-stream cap still apply item by item.
func (h *streamHandle) collect() ([]any, error) {
	values := []any{}
	for {
		step, err := h.next()
		if err != nil {
			return nil, err
		}
		if done, _ := step["done"].(bool); done {
			return values, nil
		}
		values = append(values, step["value"])
	}
}

func (h *streamHandle) close() error {
	h.closeOnce()
	return nil
}

func (h *streamHandle) closeOnce() {
	if h.closed {
		return
	}
	h.closed = true
	if err := h.stream.Close(); err != nil {
		h.rs.engine.sink.Record(audit.Failure(audit.KindCallToolStream).
			With("execution", h.rs.execID).WithError(err))
	}
}
