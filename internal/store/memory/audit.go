package memory

import (
	"context"
	"sync"

	"gatekeep.org/internal/audit"
)

// AuditSink keeps records in order of arrival. It backs tests and
// development runs where no database is configured.
type AuditSink struct {
	mu      sync.Mutex
	records []audit.Record
}

// NewAuditSink returns an empty sink.
func NewAuditSink() *AuditSink { return &AuditSink{} }

var (
	_ audit.Sink = (*AuditSink)(nil)
	_ audit.Log  = (*AuditSink)(nil)
)

// Append stores the record.
func (a *AuditSink) Append(ctx context.Context, rec audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

// Records returns a snapshot of everything appended so far.
func (a *AuditSink) Records() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Record, len(a.records))
	copy(out, a.records)
	return out
}

// List returns matching records, newest first.
func (a *AuditSink) List(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Record
	for i := len(a.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := a.records[i]
		if q.ActorID != "" && rec.ActorID != q.ActorID {
			continue
		}
		if q.Action != "" && rec.Action != q.Action {
			continue
		}
		if q.ResourceType != "" && rec.ResourceType != q.ResourceType {
			continue
		}
		if q.ResourceID != "" && rec.ResourceID != q.ResourceID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
