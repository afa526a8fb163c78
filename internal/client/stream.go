package client

import (
	"errors"
	"io"
	"sync"

	"utcp/internal/audit"
	"utcp/internal/transports"
)

// auditedStream decorates a transport stream with a single audit record at
// its terminal event and guarantees idempotent Close even when the wrapped
// implementation is not. A terminal stream error latches: once Next has
// failed, every later Next fails the same way instead of drifting into EOF.
type auditedStream struct {
	inner    transports.StreamResult
	sink     audit.Sink
	provider string
	tool     string

	mu       sync.Mutex
	items    int
	finished bool
	closed   bool
	terminal error
}

func newAuditedStream(inner transports.StreamResult, sink audit.Sink, provider, tool string) *auditedStream {
	return &auditedStream{inner: inner, sink: sink, provider: provider, tool: tool}
}

func (s *auditedStream) Next() (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, transports.ErrStreamClosed
	}
	if s.terminal != nil {
		err := s.terminal
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	value, err := s.inner.Next()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.items++
		return value, nil
	case errors.Is(err, io.EOF):
		s.finish(nil)
		return nil, io.EOF
	case errors.Is(err, transports.ErrStreamClosed):
		return nil, err
	default:
		s.terminal = err
		s.finish(err)
		return nil, err
	}
}

func (s *auditedStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.finish(nil)
	s.mu.Unlock()
	return s.inner.Close()
}

// finish records the stream outcome exactly once. Callers hold s.mu.
func (s *auditedStream) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true
	if err != nil {
		s.sink.Record(audit.Failure(audit.KindToolStream).
			With("provider", s.provider).With("tool", s.tool).
			With("items", s.items).WithError(err))
		return
	}
	s.sink.Record(audit.Success(audit.KindToolStream).
		With("provider", s.provider).With("tool", s.tool).With("items", s.items))
}
