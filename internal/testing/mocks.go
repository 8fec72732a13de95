package testing

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/boostd/boostd/internal/models"
)

// ErrInjected is returned by writers and reporters configured to fail.
var ErrInjected = errors.New("injected failure")

// NodeWrite is one recorded hardware write.
type NodeWrite struct {
	Path  string
	Value string
}

// RecordingWriter records node writes in memory. It is safe for use from
// several partition goroutines.
type RecordingWriter struct {
	mu     sync.Mutex
	writes []NodeWrite
	fail   map[string]bool
}

// NewRecordingWriter creates an empty recording writer.
func NewRecordingWriter() *RecordingWriter {
	return &RecordingWriter{fail: make(map[string]bool)}
}

// Write records the write, or returns ErrInjected for paths marked with
// FailPath. Failed writes are still recorded.
func (w *RecordingWriter) Write(path, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, NodeWrite{Path: path, Value: value})
	if w.fail[path] {
		return ErrInjected
	}
	return nil
}

// FailPath makes every later write to path fail.
func (w *RecordingWriter) FailPath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail[path] = true
}

// Writes returns a copy of every write so far.
func (w *RecordingWriter) Writes() []NodeWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]NodeWrite(nil), w.writes...)
}

// WritesTo returns the values written to path in order.
func (w *RecordingWriter) WritesTo(path string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, wr := range w.writes {
		if wr.Path == path {
			out = append(out, wr.Value)
		}
	}
	return out
}

// Last returns the most recent value written to path.
func (w *RecordingWriter) Last(path string) (string, bool) {
	values := w.WritesTo(path)
	if len(values) == 0 {
		return "", false
	}
	return values[len(values)-1], true
}

// Reset forgets recorded writes.
func (w *RecordingWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = nil
}

// MockReporter is a testify mock of the external report sink.
type MockReporter struct {
	mock.Mock
}

// Report records the call.
func (m *MockReporter) Report(ctx context.Context, entries []models.ReportEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

// RecordingReporter keeps every reported batch.
type RecordingReporter struct {
	mu      sync.Mutex
	batches [][]models.ReportEntry
}

// Report records a copy of entries.
func (r *RecordingReporter) Report(_ context.Context, entries []models.ReportEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]models.ReportEntry(nil), entries...))
	return nil
}

// Batches returns the recorded batches.
func (r *RecordingReporter) Batches() [][]models.ReportEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]models.ReportEntry(nil), r.batches...)
}
