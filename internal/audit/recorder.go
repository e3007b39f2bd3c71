// Package audit provides a best-effort, fire-and-forget recorder for
// security-relevant events. Recording never blocks the decision path and sink
// failures are logged, never propagated.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// Sink receives audit entries. *store.Store satisfies this.
type Sink interface {
	InsertAuditEvent(ctx context.Context, entry *model.AuditLog) error
}

const (
	bufferSize  = 256
	sinkTimeout = 5 * time.Second
)

// Recorder drains audit events into a Sink from a background goroutine.
// Events are dropped when the buffer is full or after Close; callers never
// observe sink latency or failure.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	events chan model.AuditLog

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder starts a recorder draining into sink.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	r := &Recorder{
		sink:   sink,
		logger: logger,
		events: make(chan model.AuditLog, bufferSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := r.sink.InsertAuditEvent(ctx, &e); err != nil {
			r.logger.Warn("audit event dropped", "action", e.Action, "error", err)
		}
		cancel()
	}
}

// Record enqueues an audit event. It never blocks: if the buffer is full or
// the recorder is closed, the event is dropped with a warning.
func (r *Recorder) Record(action string, targetID int64, details, sourceIP string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	e := model.AuditLog{
		Action:    action,
		TargetID:  targetID,
		Details:   details,
		IPAddress: sourceIP,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case r.events <- e:
	default:
		r.logger.Warn("audit buffer full, event dropped", "action", action)
	}
}

// Close stops accepting events and drains everything already queued.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	r.wg.Wait()
}
