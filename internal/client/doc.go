// Package client implements the UTCP client: the orchestrator that composes
// the tool repository, the tag search strategy, and the communication
// protocol registry into the user-facing operations register, deregister,
// search and call.
//
// Tools are addressed by qualified name, "<provider>.<local>", split on the
// first dot. The client owns that convention: provider names are normalized
// so they never contain dots, tool names are qualified at registration, and
// the prefix is stripped again before any transport sees a call. Protocol
// implementations only ever receive local names.
//
// A client is safe for concurrent use. It holds no lock across transport
// calls; atomicity of registration is the repository's job.
package client
