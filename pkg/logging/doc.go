// Package logging provides structured logging for the UTCP client runtime
// with unified log handling and level filtering.
//
// The package wraps Go's standard slog with a subsystem-first printf-style
// API so call sites stay short:
//
//	logging.Info("Client", "registered provider %q with %d tools", name, count)
//	logging.Error("HttpTransport", err, "manifest fetch failed for %s", url)
//
// # Log Levels
//
//   - Debug: detailed information for development and troubleshooting
//   - Info: registration, deregistration, and call lifecycle events
//   - Warn: recoverable conditions such as filtered tools or replaced
//     protocol registrations
//   - Error: failures surfaced to callers
//
// # Initialization
//
//	// Long-running use: level, format, and destination are explicit.
//	logging.Init(logging.LevelInfo, true, os.Stderr)
//
//	// Command-line invocations: WARN by default, DEBUG with --debug.
//	logging.InitForCLI(debug)
//
// # Subsystem Organization
//
// Logs carry a subsystem attribute for filtering:
//
//   - Client: provider registration and tool dispatch
//   - Repository: tool storage
//   - TagSearch: relevance scoring
//   - ProtocolRegistry: communication protocol bindings
//   - CodeMode: sandboxed script execution
//   - Orchestrator: LLM-driven tool selection
//   - Audit: security-relevant event records
//
// The package is safe for concurrent use from multiple goroutines.
package logging
