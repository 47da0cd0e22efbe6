package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakySink fails while broken is set and records appends otherwise.
type flakySink struct {
	broken  bool
	records []Record
}

func (s *flakySink) Append(_ context.Context, rec Record) error {
	if s.broken {
		return errors.New("sink down")
	}
	s.records = append(s.records, rec)
	return nil
}

func TestRecorderStampsAndAppends(t *testing.T) {
	sink := &flakySink{}
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := NewRecorder(sink, WithClock(func() time.Time { return fixed }))

	err := rec.Record(context.Background(), Record{
		ActorID:      "user-1",
		ActorType:    ActorUser,
		Action:       "subscription.approve",
		ResourceType: "subscription",
		ResourceID:   "sub-1",
		Decision:     DecisionAllowed,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	got := sink.records[0]
	if got.ID == "" {
		t.Fatalf("record must be assigned an id")
	}
	if !got.OccurredAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp: %v", got.OccurredAt)
	}
}

func TestRecorderBuffersWhileSinkDown(t *testing.T) {
	sink := &flakySink{broken: true}
	rec := NewRecorder(sink)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := rec.Record(ctx, Record{ActorID: "u", Action: "a", Decision: DecisionAllowed}); err != nil {
			t.Fatalf("Record %d should not fail in best-effort mode: %v", i, err)
		}
	}
	if rec.Pending() != 3 {
		t.Fatalf("expected 3 buffered records, got %d", rec.Pending())
	}

	sink.broken = false
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if rec.Pending() != 0 {
		t.Fatalf("backlog should be empty after flush, got %d", rec.Pending())
	}
	if len(sink.records) != 3 {
		t.Fatalf("expected 3 records after flush, got %d", len(sink.records))
	}
}

func TestRecorderFlushesBacklogBeforeNewRecord(t *testing.T) {
	sink := &flakySink{broken: true}
	rec := NewRecorder(sink)

	ctx := context.Background()
	rec.Record(ctx, Record{Action: "first", Decision: DecisionAllowed})
	rec.Record(ctx, Record{Action: "second", Decision: DecisionAllowed})

	sink.broken = false
	rec.Record(ctx, Record{Action: "third", Decision: DecisionAllowed})

	if len(sink.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(sink.records))
	}
	// Submission order survives the outage.
	for i, want := range []string{"first", "second", "third"} {
		if sink.records[i].Action != want {
			t.Fatalf("record %d: got action %q want %q", i, sink.records[i].Action, want)
		}
	}
}

func TestRecorderMandatoryModePropagatesFailure(t *testing.T) {
	sink := &flakySink{broken: true}
	rec := NewRecorder(sink, WithMandatory())

	err := rec.Record(context.Background(), Record{Action: "a", Decision: DecisionAllowed})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRecorderBacklogLimitDropsOldest(t *testing.T) {
	sink := &flakySink{broken: true}
	rec := NewRecorder(sink, WithBacklogLimit(2))

	ctx := context.Background()
	rec.Record(ctx, Record{Action: "a", Decision: DecisionAllowed})
	rec.Record(ctx, Record{Action: "b", Decision: DecisionAllowed})
	rec.Record(ctx, Record{Action: "c", Decision: DecisionAllowed})

	if rec.Pending() != 2 {
		t.Fatalf("backlog should be capped at 2, got %d", rec.Pending())
	}

	sink.broken = false
	rec.Flush(ctx)
	if len(sink.records) != 2 {
		t.Fatalf("expected 2 records after flush, got %d", len(sink.records))
	}
	if sink.records[0].Action != "b" || sink.records[1].Action != "c" {
		t.Fatalf("oldest entry should have been dropped, got %q %q", sink.records[0].Action, sink.records[1].Action)
	}
}

func TestRecorderRedactsSensitiveDetails(t *testing.T) {
	sink := &flakySink{}
	rec := NewRecorder(sink)

	err := rec.Record(context.Background(), Record{
		Action:   "auth.login",
		Decision: DecisionDenied,
		Details: map[string]any{
			"email":         "dev@example.com",
			"password":      "hunter2",
			"Client_Secret": "s3cret",
			"api_key":       "gk_abc",
		},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	details := sink.records[0].Details
	if details["email"] != "dev@example.com" {
		t.Fatalf("non-sensitive detail must pass through, got %v", details["email"])
	}
	for _, key := range []string{"password", "Client_Secret", "api_key"} {
		if details[key] != redactedValue {
			t.Fatalf("detail %q must be redacted, got %v", key, details[key])
		}
	}
}

func TestRecorderDefaultsActorType(t *testing.T) {
	sink := &flakySink{}
	rec := NewRecorder(sink)

	rec.Record(context.Background(), Record{Action: "migrate.up", Decision: DecisionAllowed})
	if got := sink.records[0].ActorType; got != ActorSystem {
		t.Fatalf("expected system actor default, got %q", got)
	}
}

func TestRecorderStampsRequestOrigin(t *testing.T) {
	sink := &flakySink{}
	rec := NewRecorder(sink)

	ctx := ContextWithRequestInfo(context.Background(), RequestInfo{
		RequestID:  "req-9",
		SourceAddr: "203.0.113.7",
	})
	if err := rec.Record(ctx, Record{ActorID: "u", Action: "auth.login", Decision: DecisionDenied}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got := sink.records[0]
	if got.RequestID != "req-9" || got.SourceAddr != "203.0.113.7" {
		t.Fatalf("origin not stamped from context: request_id=%q source_addr=%q", got.RequestID, got.SourceAddr)
	}

	// Explicit fields on the record win over the context.
	if err := rec.Record(ctx, Record{ActorID: "u", Action: "auth.login", RequestID: "req-10", SourceAddr: "198.51.100.4"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got = sink.records[1]
	if got.RequestID != "req-10" || got.SourceAddr != "198.51.100.4" {
		t.Fatalf("explicit origin overwritten: request_id=%q source_addr=%q", got.RequestID, got.SourceAddr)
	}

	// Without request info in the context the fields stay empty.
	if err := rec.Record(context.Background(), Record{ActorID: "u", Action: "auth.login"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got = sink.records[2]
	if got.RequestID != "" || got.SourceAddr != "" {
		t.Fatalf("unexpected origin on a context without request info: %+v", got)
	}
}

func TestTeeFansOutAndStopsOnFailure(t *testing.T) {
	a := &flakySink{}
	b := &flakySink{}
	tee := Tee{a, b}

	if err := tee.Append(context.Background(), Record{ID: "r1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("record should reach both sinks: %d/%d", len(a.records), len(b.records))
	}

	a.broken = true
	if err := tee.Append(context.Background(), Record{ID: "r2"}); err == nil {
		t.Fatal("expected failure from the first sink")
	}
	if len(b.records) != 1 {
		t.Fatalf("a failed record must not reach later sinks, got %d", len(b.records))
	}
}
