// Package audit provides the append-only decision log shared by every
// component of the control plane. Records are immutable once written; the
// package exposes no update or delete operation.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the sink rejects a record and the
// recorder runs in mandatory mode.
var ErrUnavailable = errors.New("audit: sink unavailable")

// Actor types recorded on entries.
const (
	ActorUser      = "user"
	ActorAppClient = "app_client"
	ActorSystem    = "system"
	ActorAnonymous = "anonymous"
)

// Decisions recorded on entries.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

// Record is the immutable audit tuple appended for every decision and
// lifecycle event.
type Record struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	ActorID      string         `json:"actor_id"`
	ActorType    string         `json:"actor_type"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Decision     string         `json:"decision"`
	Reason       string         `json:"reason,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	SourceAddr   string         `json:"source_addr,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
}

// Sink accepts append-only records. Implementations must preserve
// submission order for records appended from the same goroutine.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Query filters a trail listing. Zero-valued fields match everything.
type Query struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	// Limit caps the result set; DefaultQueryLimit applies when zero.
	Limit int
}

// DefaultQueryLimit bounds listings that name no limit of their own.
const DefaultQueryLimit = 100

// Log is the read side of the trail, newest records first.
type Log interface {
	List(ctx context.Context, q Query) ([]Record, error)
}

// redactedKeys lists detail keys whose values never reach the sink.
var redactedKeys = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"authorization": {},
	"api_key":       {},
	"client_secret": {},
}

const redactedValue = "***REDACTED***"
