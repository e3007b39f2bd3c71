package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/keygate/keygate/internal/model"
)

type memorySink struct {
	mu      sync.Mutex
	entries []model.AuditLog
	fail    bool
}

func (s *memorySink) InsertAuditEvent(ctx context.Context, entry *model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordDrainsToSink(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink, discardLogger())

	rec.Record(model.ActionLogin, 1, "Operator alice logged in", "192.0.2.1")
	rec.Record(model.ActionSuspiciousAccess, 2, "Package mismatch", "192.0.2.2")
	rec.Close()

	if sink.count() != 2 {
		t.Fatalf("sink entries: got %d, want 2", sink.count())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.entries[0].Action != model.ActionLogin {
		t.Errorf("first action: got %q", sink.entries[0].Action)
	}
	if sink.entries[1].IPAddress != "192.0.2.2" {
		t.Errorf("second ip: got %q", sink.entries[1].IPAddress)
	}
	if sink.entries[0].CreatedAt.IsZero() {
		t.Error("created_at should be stamped")
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink, discardLogger())
	rec.Close()

	// Must not panic or block.
	rec.Record(model.ActionLogin, 1, "late event", "")

	if sink.count() != 0 {
		t.Errorf("sink entries: got %d, want 0", sink.count())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rec := NewRecorder(&memorySink{}, discardLogger())
	rec.Close()
	rec.Close()
}

func TestSinkFailureDoesNotPropagate(t *testing.T) {
	sink := &memorySink{fail: true}
	rec := NewRecorder(sink, discardLogger())

	rec.Record(model.ActionLogin, 1, "doomed event", "")
	rec.Close()
}

func TestConcurrentRecord(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(model.ActionLogin, 1, "event", "")
		}()
	}
	wg.Wait()
	rec.Close()

	if sink.count() != 50 {
		t.Errorf("sink entries: got %d, want 50", sink.count())
	}
}
