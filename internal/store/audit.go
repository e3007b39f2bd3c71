package store

import (
	"context"
	"fmt"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// InsertAuditEvent appends an entry to the audit log. The log is append-only
// and is never read by the decision path.
func (s *Store) InsertAuditEvent(ctx context.Context, entry *model.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO audit_logs (action, target_id, details, ip_address, created_at)
		VALUES (:action, :target_id, :details, :ip_address, :created_at)`

	id, err := s.namedInsert(ctx, q, entry)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	entry.ID = id
	return nil
}

// CountAuditEvents returns the number of audit entries with the given action
// tag. Used by tests; the decision path never reads the log.
func (s *Store) CountAuditEvents(ctx context.Context, action string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		s.rebind("SELECT COUNT(*) FROM audit_logs WHERE action = ?"), action); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}
