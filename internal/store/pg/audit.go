package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gatekeep.org/internal/audit"
)

// AuditSink returns the append-only audit sink view.
func (s *Store) AuditSink() audit.Sink { return &auditSink{store: s} }

// AuditLog returns the read view over the same table.
func (s *Store) AuditLog() audit.Log { return &auditSink{store: s} }

type auditSink struct{ store *Store }

// Append writes one record. audit_records has no update or delete path;
// the table is insert-only by construction.
func (a *auditSink) Append(ctx context.Context, rec audit.Record) error {
	details := []byte("{}")
	if len(rec.Details) > 0 {
		raw, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = raw
	}
	_, err := a.store.db.ExecContext(ctx, `
		insert into audit_records (id, occurred_at, actor_id, actor_type, action,
			resource_type, resource_id, decision, reason, details, source_addr, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.OccurredAt, nullIfEmpty(rec.ActorID), rec.ActorType, rec.Action,
		nullIfEmpty(rec.ResourceType), nullIfEmpty(rec.ResourceID), rec.Decision,
		nullIfEmpty(rec.Reason), details, nullIfEmpty(rec.SourceAddr), nullIfEmpty(rec.RequestID))
	return err
}

// List returns matching records, newest first. Filters compose with and;
// an empty filter value is skipped.
func (a *auditSink) List(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	query := `
		select id, occurred_at, coalesce(actor_id, ''), actor_type, action,
			coalesce(resource_type, ''), coalesce(resource_id, ''), decision,
			coalesce(reason, ''), details, coalesce(source_addr, ''), coalesce(request_id, '')
		from audit_records`
	var (
		conds []string
		args  []any
	)
	addCond := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addCond("actor_id", q.ActorID)
	addCond("action", q.Action)
	addCond("resource_type", q.ResourceType)
	addCond("resource_id", q.ResourceID)
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by occurred_at desc, id desc limit $%d", len(args))

	rows, err := a.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec        audit.Record
			rawDetails []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &rec.ActorID, &rec.ActorType,
			&rec.Action, &rec.ResourceType, &rec.ResourceID, &rec.Decision,
			&rec.Reason, &rawDetails, &rec.SourceAddr, &rec.RequestID); err != nil {
			return nil, err
		}
		if len(rawDetails) > 0 && string(rawDetails) != "{}" {
			if err := json.Unmarshal(rawDetails, &rec.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
