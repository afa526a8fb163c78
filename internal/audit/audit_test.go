package audit

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_LineShape(t *testing.T) {
	event := Success(KindToolCall).
		With("provider", "weather").
		With("tool", "get_forecast").
		WithDetail("took 120ms")

	assert.Equal(t,
		"TOOL_CALL | status=SUCCESS | provider=weather, tool=get_forecast | took 120ms",
		event.Line())
}

func TestEvent_LineWithoutFieldsOrDetail(t *testing.T) {
	assert.Equal(t, "EXECUTE_START | status=SUCCESS", Success(KindExecuteStart).Line())
}

func TestEvent_FailureStatus(t *testing.T) {
	line := Failure(KindProviderRegister).With("provider", "broken").Line()
	assert.Equal(t, "PROVIDER_REGISTER | status=FAILURE | provider=broken", line)
}

func TestEvent_SanitizesFieldValues(t *testing.T) {
	line := Success(KindToolSearch).
		With("query", "pipes | and, commas\nand newlines").
		Line()

	assert.Equal(t,
		"TOOL_SEARCH | status=SUCCESS | query=pipes / and; commas and newlines",
		line)
}

func TestEvent_TruncatesLongValues(t *testing.T) {
	long := strings.Repeat("x", 500)
	line := Success(KindToolCall).With("args", long).WithDetail("%s", long).Line()

	assert.Contains(t, line, "...")
	assert.Less(t, len(line), 250)
}

func TestEvent_WithError(t *testing.T) {
	line := Failure(KindToolCall).WithError(assert.AnError).Line()
	assert.Contains(t, line, "error=")

	// Nil errors add no field.
	assert.Equal(t, "TOOL_CALL | status=FAILURE", Failure(KindToolCall).WithError(nil).Line())
}

func TestEvent_FieldOrderIsInsertionOrder(t *testing.T) {
	line := Success(KindToolCall).
		With("z", 1).
		With("a", 2).
		With("m", 3).
		Line()

	zi := strings.Index(line, "z=1")
	ai := strings.Index(line, "a=2")
	mi := strings.Index(line, "m=3")
	require.True(t, zi >= 0 && ai >= 0 && mi >= 0)
	assert.True(t, zi < ai && ai < mi)
}

func TestEvent_UniqueIDs(t *testing.T) {
	a := Success(KindToolCall)
	b := Success(KindToolCall)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Time.IsZero())
}

func TestWriterSink(t *testing.T) {
	var buf strings.Builder
	sink := NewWriterSink(&buf)

	sink.Record(Success(KindProviderRegister).With("provider", "weather"))
	sink.Record(Failure(KindProviderDeregister).With("provider", "weather"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "PROVIDER_REGISTER | status=SUCCESS | provider=weather")
	assert.Contains(t, lines[1], "PROVIDER_DEREGISTER | status=FAILURE")
	// Timestamp prefix on each line.
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T`, lines[0])
}

type countingWriter struct {
	mu    sync.Mutex
	lines int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines += strings.Count(string(p), "\n")
	return len(p), nil
}

func TestWriterSink_ConcurrentRecords(t *testing.T) {
	w := &countingWriter{}
	sink := NewWriterSink(w)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Record(Success(KindToolCall).With("n", 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, w.lines)
}

func TestNopSink(t *testing.T) {
	NopSink{}.Record(Success(KindToolCall))
}
