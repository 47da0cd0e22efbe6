package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gatekeep.org/internal/obs"
)

const defaultBacklogLimit = 1024

// Recorder appends records to a sink. When the sink fails, records are
// buffered locally and flushed on a best-effort basis ahead of the next
// append, unless mandatory mode is configured, in which case the failure
// propagates to the triggering operation.
type Recorder struct {
	sink      Sink
	mandatory bool
	now       func() time.Time

	mu           sync.Mutex
	backlog      []Record
	backlogLimit int
	dropped      uint64
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithMandatory makes audit failures fail the triggering operation.
func WithMandatory() Option {
	return func(r *Recorder) { r.mandatory = true }
}

// WithBacklogLimit bounds the local fallback buffer.
func WithBacklogLimit(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.backlogLimit = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:         sink,
		now:          time.Now,
		backlogLimit: defaultBacklogLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry. The entry is stamped and redacted before it
// reaches the sink. Holding a single lock across flush+append keeps
// per-actor submission order intact.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = newRecordID()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = r.now().UTC()
	}
	if rec.ActorType == "" {
		rec.ActorType = ActorSystem
	}
	if info, ok := RequestInfoFromContext(ctx); ok {
		if rec.RequestID == "" {
			rec.RequestID = info.RequestID
		}
		if rec.SourceAddr == "" {
			rec.SourceAddr = info.SourceAddr
		}
	}
	rec.Details = redact(rec.Details)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flushLocked(ctx); err == nil {
		if err := r.sink.Append(ctx, rec); err == nil {
			return nil
		} else if r.mandatory {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	} else if r.mandatory {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.bufferLocked(rec)
	return nil
}

// Flush drains the fallback buffer into the sink.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

// Pending reports the number of buffered records awaiting flush.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backlog)
}

func (r *Recorder) flushLocked(ctx context.Context) error {
	for len(r.backlog) > 0 {
		if err := r.sink.Append(ctx, r.backlog[0]); err != nil {
			return err
		}
		r.backlog = r.backlog[1:]
	}
	return nil
}

func (r *Recorder) bufferLocked(rec Record) {
	if len(r.backlog) >= r.backlogLimit {
		// Oldest entries give way; the drop counter surfaces the loss.
		r.backlog = r.backlog[1:]
		r.dropped++
	}
	r.backlog = append(r.backlog, rec)
	obs.LogEvent(map[string]any{
		"level":   "warn",
		"msg":     "audit sink unavailable, record buffered",
		"pending": len(r.backlog),
		"dropped": r.dropped,
	})
}

func redact(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if _, sensitive := redactedKeys[normalizeKey(k)]; sensitive {
			out[k] = redactedValue
			continue
		}
		out[k] = v
	}
	return out
}
