// Package codemode executes untrusted scripts against the UTCP client under
// strict resource quotas ("code mode").
//
// Scripts are JavaScript, run one per fresh goja interpreter with nothing
// installed beyond four host callbacks: call_tool, call_tool_stream,
// search_tools and sprintf. The interpreter is a constrained calculator, not
// a trust boundary: every value crossing from script to host is re-validated
// on the host side regardless of what the script-side code claims, and the
// script cannot reach modules, the filesystem, or the network except through
// those callbacks.
//
// Each execution moves through a fixed state machine: Received, Validated,
// Running, then one of Completed, TimedOut or Failed. Validation (size cap,
// construct denylist, nesting depth, timeout bounds) happens entirely before
// any interpreter is constructed. Running is bounded three ways: an
// operation budget charged at the host boundary, a call-stack depth cap
// inside the interpreter, and an external wall-clock watchdog that
// interrupts the interpreter regardless of what it is executing. Every state
// transition and every host callback appends an audit event.
//
// The Orchestrator builds on the engine: a four-stage pipeline
// (Decide, Select, Generate, Execute) that asks a language model whether a
// natural-language prompt needs tools, picks candidate tools via search,
// has the model write a script against the code mode API, and runs it.
package codemode
