package codemode

import (
	"time"

	"utcp/internal/config"
	"utcp/internal/tools"
)

// Limits bounds a single script execution. The zero value is not usable;
// start from DefaultLimits. String, array and map growth inside the
// interpreter has no direct knob, so size is enforced where it matters: on
// every value crossing the host boundary and on the final result. The
// wall-clock watchdog backstops anything the interpreter does in between.
type Limits struct {
	// ScriptMaxBytes caps the source text. Checked before any other work.
	ScriptMaxBytes int

	// OpBudget is the number of budget units a run may spend. Host calls
	// charge one unit each; streamed items charge one unit per item.
	// Exhausting the budget terminates the run.
	OpBudget int

	// MaxCallStack bounds interpreter call-stack depth.
	MaxCallStack int

	// MaxNestingDepth bounds bracket nesting in the source text, checked
	// during validation.
	MaxNestingDepth int

	// MaxResultBytes caps the JSON-serialized size of the final value.
	MaxResultBytes int

	// MaxArgBytes caps the JSON-serialized size of a single host-call
	// argument object.
	MaxArgBytes int

	// MaxToolNameLen caps tool names passed to call_tool and
	// call_tool_stream.
	MaxToolNameLen int

	// MaxQueryLen caps the query passed to search_tools.
	MaxQueryLen int

	// MaxSearchResults caps how many tools one search_tools call may
	// return; larger requested limits are capped, not rejected.
	MaxSearchResults int

	// MaxStreamItems caps the items one call_tool_stream handle may yield.
	MaxStreamItems int

	// Sprintf caps on the formatting helper.
	SprintfMaxFormatLen int
	SprintfMaxArgs      int
	SprintfMaxArgLen    int
	SprintfMaxOutputLen int

	// DefaultTimeout applies when a request carries none. MaxTimeout is the
	// hard ceiling: a request above it is rejected, never clamped.
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// DefaultLimits returns the engine defaults.
func DefaultLimits() Limits {
	return Limits{
		ScriptMaxBytes:      64 * 1024,
		OpBudget:            1000,
		MaxCallStack:        64,
		MaxNestingDepth:     32,
		MaxResultBytes:      1024 * 1024,
		MaxArgBytes:         64 * 1024,
		MaxToolNameLen:      256,
		MaxQueryLen:         512,
		MaxSearchResults:    50,
		MaxStreamItems:      100,
		SprintfMaxFormatLen: 1024,
		SprintfMaxArgs:      16,
		SprintfMaxArgLen:    1024,
		SprintfMaxOutputLen: 4096,
		DefaultTimeout:      5 * time.Second,
		MaxTimeout:          30 * time.Second,
	}
}

// LimitsFromConfig overlays the configurable subset of limits onto the
// defaults. Zero config values keep the defaults.
func LimitsFromConfig(cfg config.CodeModeLimits) Limits {
	limits := DefaultLimits()
	if cfg.ScriptMaxBytes > 0 {
		limits.ScriptMaxBytes = cfg.ScriptMaxBytes
	}
	if cfg.OpBudget > 0 {
		limits.OpBudget = cfg.OpBudget
	}
	if cfg.MaxCallStack > 0 {
		limits.MaxCallStack = cfg.MaxCallStack
	}
	if cfg.MaxResultBytes > 0 {
		limits.MaxResultBytes = cfg.MaxResultBytes
	}
	if cfg.DefaultTimeout > 0 {
		limits.DefaultTimeout = cfg.DefaultTimeout.Std()
	}
	if cfg.MaxTimeout > 0 {
		limits.MaxTimeout = cfg.MaxTimeout.Std()
	}
	return limits
}

// resolveTimeout validates a requested timeout against the limits. Zero
// means "use the default"; negative values and values above MaxTimeout are
// rejected before any execution resources are allocated.
func (l Limits) resolveTimeout(requested time.Duration) (time.Duration, error) {
	if requested < 0 {
		return 0, tools.NewValidationError("timeout", "must not be negative")
	}
	if requested == 0 {
		return l.DefaultTimeout, nil
	}
	if requested > l.MaxTimeout {
		return 0, tools.NewValidationError("timeout",
			"%s exceeds the maximum %s", requested, l.MaxTimeout)
	}
	return requested, nil
}
