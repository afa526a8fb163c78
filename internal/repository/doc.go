// Package repository stores registered providers and their tools.
//
// The Repository interface keeps the storage contract small so alternative
// backends can replace the in-memory default. The contract that matters to
// callers: provider saves are atomic (readers never observe a partially
// replaced tool set), removal of unknown providers is a silent no-op, and
// listing follows provider insertion order so downstream ordering (search
// tie-breaks, table output) is deterministic.
package repository
