package audit

import (
	"context"
	"strings"
	"time"

	"gatekeep.org/internal/ids"
	"gatekeep.org/internal/obs"
)

func newRecordID() string { return ids.New() }

func normalizeKey(k string) string { return strings.ToLower(strings.TrimSpace(k)) }

// LogSink writes audit records as structured JSON lines through the shared
// logger. It is the default sink when no durable store is configured.
type LogSink struct{}

// Append emits the record as one log line. It never fails.
func (LogSink) Append(_ context.Context, rec Record) error {
	entry := map[string]any{
		"ts":            rec.OccurredAt.Format(time.RFC3339Nano),
		"type":          "audit",
		"id":            rec.ID,
		"actor_id":      rec.ActorID,
		"actor_type":    rec.ActorType,
		"action":        rec.Action,
		"resource_type": rec.ResourceType,
		"decision":      rec.Decision,
	}
	if rec.ResourceID != "" {
		entry["resource_id"] = rec.ResourceID
	}
	if rec.Reason != "" {
		entry["reason"] = rec.Reason
	}
	if rec.RequestID != "" {
		entry["request_id"] = rec.RequestID
	}
	if rec.SourceAddr != "" {
		entry["source_addr"] = rec.SourceAddr
	}
	if len(rec.Details) > 0 {
		entry["details"] = rec.Details
	}
	obs.LogEvent(entry)
	return nil
}

// Tee fans one record out to several sinks. Append stops at the first
// failure so the recorder can buffer and retry the whole record.
type Tee []Sink

// Append writes the record to each sink in order.
func (t Tee) Append(ctx context.Context, rec Record) error {
	for _, s := range t {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
