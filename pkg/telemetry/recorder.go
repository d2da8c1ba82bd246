package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Recorder receives telemetry records. Implementations must tolerate
// concurrent calls.
type Recorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord)
	RecordDirectEdit(ctx context.Context, rec DirectEditRecord)
	Close() error
}

// AsyncRecorder decorates a sink with a buffered, single-drainer pipeline so
// the turn hot path never waits on sink I/O. Turn completion records ride a
// channel that is never shed; direct-edit records are dropped oldest-first
// when their buffer overflows. Close drains both buffers into the sink.
type AsyncRecorder struct {
	sink   Recorder
	logger *slog.Logger

	turns chan TurnRecord
	edits chan DirectEditRecord

	stop    chan struct{}
	drained chan struct{}
	once    sync.Once

	droppedEdits atomic.Int64
}

// NewAsyncRecorder starts the drainer goroutine. buffer sizes both queues.
func NewAsyncRecorder(sink Recorder, buffer int, logger *slog.Logger) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	r := &AsyncRecorder{
		sink:    sink,
		logger:  logger,
		turns:   make(chan TurnRecord, buffer),
		edits:   make(chan DirectEditRecord, buffer),
		stop:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go r.drain()
	return r
}

// RecordTurn enqueues a turn completion record. Blocks rather than drops
// when the buffer is full: completions must reach the sink.
func (r *AsyncRecorder) RecordTurn(_ context.Context, rec TurnRecord) {
	select {
	case <-r.stop:
		r.logger.Warn("Turn record arrived after recorder close", "turn_id", rec.TurnID)
	case r.turns <- rec:
	}
}

// RecordDirectEdit enqueues an edit record, shedding the oldest queued edit
// on overflow.
func (r *AsyncRecorder) RecordDirectEdit(_ context.Context, rec DirectEditRecord) {
	select {
	case <-r.stop:
		return
	default:
	}
	for {
		select {
		case r.edits <- rec:
			return
		default:
		}
		select {
		case <-r.edits:
			r.droppedEdits.Add(1)
		default:
			// Raced with the drainer freeing space; loop and retry.
		}
	}
}

// DroppedEdits reports how many edit records were shed.
func (r *AsyncRecorder) DroppedEdits() int64 { return r.droppedEdits.Load() }

// Close stops intake, flushes everything queued, and closes the sink.
func (r *AsyncRecorder) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.drained
	return r.sink.Close()
}

func (r *AsyncRecorder) drain() {
	defer close(r.drained)
	ctx := context.Background()
	for {
		select {
		case rec := <-r.turns:
			r.sink.RecordTurn(ctx, rec)
		case rec := <-r.edits:
			r.sink.RecordDirectEdit(ctx, rec)
		case <-r.stop:
			for {
				select {
				case rec := <-r.turns:
					r.sink.RecordTurn(ctx, rec)
				case rec := <-r.edits:
					r.sink.RecordDirectEdit(ctx, rec)
				default:
					return
				}
			}
		}
	}
}
