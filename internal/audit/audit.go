// Package audit appends structured, append-only records of client and
// engine activity. Events render as single pipe-delimited lines:
//
//	TOOL_CALL | status=SUCCESS | provider=weather, tool=get_forecast | 120ms
//
// Free-text values are sanitized and length-truncated before rendering, so
// a hostile tool description cannot break the line format. Callers pass
// credential material only in redacted form (auth.Redacted); this package
// never receives raw secrets.
package audit

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"utcp/pkg/logging"
	pkgstrings "utcp/pkg/strings"
)

// Status marks an event as succeeded or failed.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Event kinds emitted by the client.
const (
	KindProviderRegister   = "PROVIDER_REGISTER"
	KindProviderDeregister = "PROVIDER_DEREGISTER"
	KindToolCall           = "TOOL_CALL"
	KindToolStream         = "TOOL_STREAM"
	KindToolSearch         = "TOOL_SEARCH"
	KindOrchestrate        = "ORCHESTRATE"
)

// Event kinds emitted by the code mode engine: one per state transition and
// one per host callback a script invokes.
const (
	KindScriptRejected  = "SCRIPT_REJECTED"
	KindExecuteStart    = "EXECUTE_START"
	KindExecuteComplete = "EXECUTE_COMPLETE"
	KindExecuteTimeout  = "EXECUTE_TIMEOUT"
	KindExecuteFailed   = "EXECUTE_FAILED"
	KindCallTool        = "CALL_TOOL"
	KindCallToolStream  = "CALL_TOOL_STREAM"
	KindSearchTools     = "SEARCH_TOOLS"
	KindSprintf         = "SPRINTF"
)

const (
	fieldValueMaxLen = 60
	detailMaxLen     = 120
)

// Field is one key=value pair. Fields keep insertion order so rendered
// lines are deterministic.
type Field struct {
	Key   string
	Value string
}

// Event is a single audit record.
type Event struct {
	ID     string
	Time   time.Time
	Kind   string
	Status Status
	Fields []Field
	Detail string
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(kind string, status Status) *Event {
	return &Event{
		ID:     uuid.NewString(),
		Time:   time.Now().UTC(),
		Kind:   kind,
		Status: status,
	}
}

// Success creates a succeeded event.
func Success(kind string) *Event { return NewEvent(kind, StatusSuccess) }

// Failure creates a failed event.
func Failure(kind string) *Event { return NewEvent(kind, StatusFailure) }

// With appends a field. The value is rendered with %v and sanitized when
// the line is built.
func (e *Event) With(key string, value any) *Event {
	e.Fields = append(e.Fields, Field{Key: key, Value: fmt.Sprintf("%v", value)})
	return e
}

// WithError appends the error text as an "error" field. A nil error adds
// nothing.
func (e *Event) WithError(err error) *Event {
	if err == nil {
		return e
	}
	return e.With("error", err.Error())
}

// WithDetail sets the free-text tail of the line.
func (e *Event) WithDetail(format string, args ...any) *Event {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Line renders the event in the pipe-delimited shape. Empty sections are
// omitted; field values and the detail are sanitized and truncated.
func (e *Event) Line() string {
	sections := []string{e.Kind, "status=" + string(e.Status)}

	if len(e.Fields) > 0 {
		pairs := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			pairs = append(pairs, f.Key+"="+pkgstrings.SanitizeFieldValue(f.Value, fieldValueMaxLen))
		}
		sections = append(sections, strings.Join(pairs, ", "))
	}
	if e.Detail != "" {
		sections = append(sections, pkgstrings.SanitizeFieldValue(e.Detail, detailMaxLen))
	}
	return strings.Join(sections, " | ")
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(event *Event)
}

// LogSink writes events through pkg/logging at Info level.
type LogSink struct{}

func (LogSink) Record(event *Event) {
	logging.Info("Audit", "%s", event.Line())
}

// WriterSink appends one line per event to an io.Writer, prefixed with the
// event time. Writes are serialized.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Record(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s | %s\n", event.Time.Format(time.RFC3339), event.Line())
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Record(*Event) {}
