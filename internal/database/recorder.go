package database

import (
	"context"
	"log/slog"
	"sync/atomic"

	"gorm.io/gorm"
)

// Recorder writes audit events from a single background goroutine so callers
// never wait on disk. A nil *Recorder discards everything.
type Recorder struct {
	db      *gorm.DB
	events  chan AuthEvent
	dropped atomic.Uint64
}

func NewRecorder(db *gorm.DB, queueSize int) *Recorder {
	return &Recorder{
		db:     db,
		events: make(chan AuthEvent, queueSize),
	}
}

// Record queues e. When the queue is saturated the event is dropped.
func (r *Recorder) Record(e AuthEvent) {
	if r == nil {
		return
	}
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Run drains the queue until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e := <-r.events:
			r.write(ctx, e)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.events:
			r.write(context.Background(), e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e AuthEvent) {
	if err := Create(ctx, r.db, &e); err != nil {
		slog.Error("failed to record audit event", "outcome", e.Outcome, "connection_id", e.ConnectionID, "error", err)
	}
}
