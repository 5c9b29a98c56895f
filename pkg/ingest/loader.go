package ingest

import (
	"context"
	"sync"
)

// Result is the outcome of one background load
type Result struct {
	Gen      uint64
	Path     string
	Ingested *Ingested
	Err      error
}

// Loader runs ingestions off the caller's goroutine. Starting a new load
// cancels the previous one and its result is dropped. Partial progress is
// never visible: a result appears only once its ingestion has returned.
type Loader struct {
	ingester *Ingester

	mu      sync.Mutex
	gen     uint64
	path    string
	cancel  context.CancelFunc
	done    chan struct{}
	result  *Result
	running bool
}

// NewLoader returns a loader backed by ing
func NewLoader(ing *Ingester) *Loader {
	return &Loader{ingester: ing}
}

// Load starts ingesting path and returns its generation
func (l *Loader) Load(ctx context.Context, path string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}

	l.gen++
	gen := l.gen
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.path = path
	l.cancel = cancel
	l.done = done
	l.result = nil
	l.running = true

	go l.run(runCtx, gen, path, done)
	return gen
}

func (l *Loader) run(ctx context.Context, gen uint64, path string, done chan struct{}) {
	defer close(done)

	ingested, err := l.ingester.Ingest(ctx, path)

	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.gen {
		l.ingester.logger().WithField("component", "loader").
			WithField("path", path).Debug("Discarding superseded load")
		return
	}

	l.result = &Result{Gen: gen, Path: path, Ingested: ingested, Err: err}
	l.running = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Pending returns the path of the load in flight, if any
func (l *Loader) Pending() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path, l.running
}

// Poll hands over the finished result of the latest load once
func (l *Loader) Poll() (*Result, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.result
	l.result = nil
	return r, r != nil
}

// Wait blocks until the latest load finishes and returns its result. A
// load started while waiting replaces the one being waited on.
func (l *Loader) Wait(ctx context.Context) (*Result, error) {
	for {
		l.mu.Lock()
		if l.result != nil {
			r := l.result
			l.result = nil
			l.mu.Unlock()
			return r, nil
		}
		done := l.done
		l.mu.Unlock()

		if done == nil {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}

		l.mu.Lock()
		idle := l.result == nil && !l.running
		l.mu.Unlock()
		if idle {
			return nil, nil
		}
	}
}

// Cancel aborts the load in flight. Its result is dropped.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.running {
		l.gen++
		l.running = false
	}
}
