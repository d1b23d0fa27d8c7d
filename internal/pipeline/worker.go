package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
)

// State is the position of a worker in its loop.
type State int32

const (
	Idle State = iota
	Fetching
	Mapping
	Publishing
	Committing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Mapping:
		return "mapping"
	case Publishing:
		return "publishing"
	case Committing:
		return "committing"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Worker runs one sequential fetch, map, publish, mark loop over its source.
type Worker struct {
	id          int
	source      Source
	sink        Sink
	transformer Transformer
	audit       Auditor

	state     atomic.Int32
	published atomic.Uint64
	rejected  atomic.Uint64
	skipped   atomic.Uint64
	lastError atomic.Value // string
	lastEvent atomic.Int64 // unix millis
}

// WorkerStatus is a point-in-time view of a worker.
type WorkerStatus struct {
	ID        int       `json:"id"`
	State     string    `json:"state"`
	Published uint64    `json:"published"`
	Rejected  uint64    `json:"rejected"`
	Skipped   uint64    `json:"skipped"`
	LastError string    `json:"last_error,omitempty"`
	LastEvent time.Time `json:"last_event,omitempty"`
}

func NewWorker(id int, source Source, sink Sink, t Transformer, audit Auditor) *Worker {
	if audit == nil {
		audit = nopAuditor{}
	}
	return &Worker{
		id:          id,
		source:      source,
		sink:        sink,
		transformer: t,
		audit:       audit,
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	if old := State(w.state.Swap(int32(s))); old != s {
		slog.Debug("Worker state", "worker", w.id, "from", old, "to", s)
	}
}

func (w *Worker) Status() WorkerStatus {
	st := WorkerStatus{
		ID:        w.id,
		State:     w.State().String(),
		Published: w.published.Load(),
		Rejected:  w.rejected.Load(),
		Skipped:   w.skipped.Load(),
	}
	if v, ok := w.lastError.Load().(string); ok {
		st.LastError = v
	}
	if ms := w.lastEvent.Load(); ms > 0 {
		st.LastEvent = time.UnixMilli(ms)
	}
	return st
}

// Run loops until ctx is cancelled or a transport error occurs. A record
// whose publish has started when ctx is cancelled is still published and
// marked processed before Run returns. Records fetched but not started are
// left unmarked and will be delivered again.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(Stopped)

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.setState(Fetching)
		records, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.fail(err)
			return fmt.Errorf("worker %d: fetch: %w", w.id, err)
		}

		for _, r := range records {
			if ctx.Err() != nil {
				return nil
			}
			if err := w.handle(ctx, r); err != nil {
				w.fail(err)
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
		}
		w.setState(Idle)
	}
}

// handle processes one record. Only transport errors are returned.
func (w *Worker) handle(ctx context.Context, r Record) error {
	// once a record is taken it is finished even if ctx is cancelled
	ctx = context.WithoutCancel(ctx)

	if len(r.Value) == 0 {
		w.skipped.Add(1)
		slog.Debug("Skipping tombstone", "topic", r.Topic, "partition", r.Partition, "offset", r.Offset)
		return w.commit(ctx, r)
	}

	w.setState(Mapping)
	out, err := w.transform(r)
	if err != nil {
		if !IsRejectable(err) {
			return fmt.Errorf("transform offset %d: %w", r.Offset, err)
		}
		w.rejected.Add(1)
		slog.Warn("Record rejected",
			"topic", r.Topic,
			"partition", r.Partition,
			"offset", r.Offset,
			"error", err)
		w.audit.Rejected(ctx, r, err)
		return w.commit(ctx, r)
	}

	w.setState(Publishing)
	if err := w.sink.Publish(ctx, out); err != nil {
		return fmt.Errorf("publish offset %d: %w", r.Offset, err)
	}
	w.published.Add(1)
	w.audit.Published(ctx, r)

	return w.commit(ctx, r)
}

func (w *Worker) transform(r Record) (OutputRecord, error) {
	msg, err := hl7.Parse(r.Value)
	if err != nil {
		return OutputRecord{}, err
	}
	bundle, err := w.transformer.Transform(msg)
	if err != nil {
		return OutputRecord{}, err
	}

	key := r.Key
	if len(key) == 0 {
		key = []byte(msg.ControlID)
	}
	return OutputRecord{Key: key, Value: bundle, Source: r}, nil
}

func (w *Worker) commit(ctx context.Context, r Record) error {
	w.setState(Committing)
	if err := w.source.MarkProcessed(ctx, r); err != nil {
		return fmt.Errorf("mark offset %d processed: %w", r.Offset, err)
	}
	w.lastEvent.Store(time.Now().UnixMilli())
	return nil
}

func (w *Worker) fail(err error) {
	w.lastError.Store(err.Error())
	slog.Error("Worker stopped", "worker", w.id, "error", err)
}
