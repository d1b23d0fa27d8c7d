package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// SourceFactory opens the source for worker id. Each worker gets its own
// client so partitions are split between workers by the broker.
type SourceFactory func(id int) (Source, error)

// Driver runs a fixed set of workers sharing one sink and transformer.
type Driver struct {
	workers []*Worker
	sources []Source
}

// NewDriver opens n sources and binds one worker to each. Sources opened
// before a failure are closed again.
func NewDriver(n int, open SourceFactory, sink Sink, t Transformer, audit Auditor) (*Driver, error) {
	if n < 1 {
		n = 1
	}
	d := &Driver{}
	for id := 0; id < n; id++ {
		src, err := open(id)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("open source for worker %d: %w", id, err)
		}
		d.sources = append(d.sources, src)
		d.workers = append(d.workers, NewWorker(id, src, sink, t, audit))
	}
	return d, nil
}

// Run starts all workers and blocks until ctx is cancelled or one of them
// fails. A failing worker stops the others. Sources are closed after every
// worker has drained.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(w)
	}

	slog.Info("Pipeline started", "workers", len(d.workers))
	wg.Wait()
	d.close()
	slog.Info("Pipeline stopped")

	return errors.Join(errs...)
}

// Status returns a snapshot of every worker.
func (d *Driver) Status() []WorkerStatus {
	result := make([]WorkerStatus, len(d.workers))
	for i, w := range d.workers {
		result[i] = w.Status()
	}
	return result
}

func (d *Driver) close() {
	for _, src := range d.sources {
		if err := src.Close(); err != nil {
			slog.Error("Source close failed", "error", err)
		}
	}
	d.sources = nil
}
