package transports

import (
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by Next after Close has been called.
var ErrStreamClosed = errors.New("stream closed")

// ErrStreamingNotSupported marks transports that only implement unary calls.
// It arrives wrapped in a TransportError so callers keep provider context.
var ErrStreamingNotSupported = errors.New("streaming not supported")

// StreamResult delivers incremental tool results. Next returns io.EOF once
// the stream is exhausted. Close is idempotent, releases the underlying
// resources immediately, and makes subsequent Next calls fail with
// ErrStreamClosed. A StreamResult is not safe for concurrent use.
type StreamResult interface {
	Next() (any, error)
	Close() error
}

// SliceStream adapts an eager result list to the StreamResult interface.
// Transports without native streaming wrap their single response this way.
type SliceStream struct {
	mu      sync.Mutex
	items   []any
	idx     int
	closed  bool
	closeFn func() error
}

// NewSliceStream creates a stream over items. closeFn may be nil; when set
// it runs exactly once, on Close or never.
func NewSliceStream(items []any, closeFn func() error) *SliceStream {
	return &SliceStream{items: items, closeFn: closeFn}
}

func (s *SliceStream) Next() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.idx >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.idx]
	s.idx++
	return item, nil
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closeFn != nil {
		fn := s.closeFn
		s.closeFn = nil
		return fn()
	}
	return nil
}

// Item carries one streamed value or a terminal error.
type Item struct {
	Value any
	Err   error
}

// ChannelStream adapts a producer goroutine to the StreamResult interface.
// The producer sends Items and closes the channel at EOF. Close runs closeFn
// once, which must stop the producer (typically by cancelling its context)
// so the channel drains and no goroutine leaks.
type ChannelStream struct {
	mu      sync.Mutex
	ch      <-chan Item
	closed  bool
	closeFn func() error
}

// NewChannelStream creates a stream fed by ch.
func NewChannelStream(ch <-chan Item, closeFn func() error) *ChannelStream {
	return &ChannelStream{ch: ch, closeFn: closeFn}
}

func (s *ChannelStream) Next() (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	s.mu.Unlock()

	item, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	if item.Err != nil {
		return nil, item.Err
	}
	return item.Value, nil
}

func (s *ChannelStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closeFn != nil {
		fn := s.closeFn
		s.closeFn = nil
		return fn()
	}
	return nil
}
