// Package transports defines the CommunicationProtocol capability interface,
// the protocol registry, and the streaming result types.
//
// Each wire protocol (HTTP, CLI subprocess, MCP, sockets, ...) lives in its
// own subpackage and registers an implementation under its protocol key.
// The registry supports a process-wide default plus isolated instances, so
// tests and embedders can swap protocols without affecting each other.
package transports
