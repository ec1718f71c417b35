package core

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Priority orders AnalysisQueue work. Higher values drain first;
// within one priority, FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh

	numPriorities = int(PriorityHigh) + 1
)

// AnalysisItem is one unit of analysis work.
type AnalysisItem struct {
	Run func(ctx context.Context) error
}

// AnalysisQueue is a priority FIFO work queue with cooperative
// cancellation and an unhandled-error signal for panics/errors that
// escape Run.
type AnalysisQueue struct {
	logger *zap.Logger
	m      *metrics

	mu      sync.Mutex
	cond    *sync.Cond
	buckets [numPriorities][]AnalysisItem
	closed  bool

	inFlight *VolatileCounter

	unhandledMu sync.Mutex
	unhandled   []func(error)

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewAnalysisQueue starts workers workers, each pulling the
// highest-priority non-empty bucket. Call Close to stop them.
func NewAnalysisQueue(ctx context.Context, workers int, logger *zap.Logger, m *metrics) *AnalysisQueue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	q := &AnalysisQueue{
		logger:   logger,
		m:        m,
		inFlight: NewVolatileCounter(),
		group:    group,
		cancel:   cancel,
	}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			q.worker(gctx)
			return nil
		})
	}
	// unblock workers waiting on cond when ctx is canceled.
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	return q
}

// Enqueue adds item at priority p.
func (q *AnalysisQueue) Enqueue(item AnalysisItem, p Priority) {
	release := q.inFlight.Increment()
	q.m.analysisEnqueue()

	q.mu.Lock()
	q.buckets[p] = append(q.buckets[p], AnalysisItem{Run: func(ctx context.Context) error {
		defer release()
		return item.Run(ctx)
	}})
	q.cond.Signal()
	q.mu.Unlock()
}

// Count returns the number of items queued or currently running.
func (q *AnalysisQueue) Count() int64 {
	return q.inFlight.Value()
}

// WaitForComplete blocks until the queue is drained (Count() == 0) or
// ctx is done.
func (q *AnalysisQueue) WaitForComplete(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inFlight.WaitForZero()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnUnhandledError registers a listener invoked whenever an
// analysis.Run panics, returns an error, or the queue context is
// canceled mid-item.
func (q *AnalysisQueue) OnUnhandledError(fn func(error)) {
	q.unhandledMu.Lock()
	defer q.unhandledMu.Unlock()
	q.unhandled = append(q.unhandled, fn)
}

func (q *AnalysisQueue) emitUnhandled(err error) {
	q.unhandledMu.Lock()
	listeners := append([]func(error){}, q.unhandled...)
	q.unhandledMu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// Close stops accepting new work and cancels any blocked workers.
// Already-running items are allowed to return.
func (q *AnalysisQueue) Close() {
	q.cancel()
	_ = q.group.Wait()
}

func (q *AnalysisQueue) worker(ctx context.Context) {
	for {
		item, ok := q.dequeue()
		if !ok {
			return
		}
		q.run(ctx, item)
	}
}

// dequeue blocks until an item is available or the queue is closed.
func (q *AnalysisQueue) dequeue() (AnalysisItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for p := numPriorities - 1; p >= 0; p-- {
			if len(q.buckets[p]) > 0 {
				item := q.buckets[p][0]
				q.buckets[p] = q.buckets[p][1:]
				return item, true
			}
		}
		if q.closed {
			return AnalysisItem{}, false
		}
		q.cond.Wait()
	}
}

func (q *AnalysisQueue) run(ctx context.Context, item AnalysisItem) {
	defer func() {
		if r := recover(); r != nil {
			q.m.analysisComplete(false)
			q.emitUnhandled(&Error{Code: CodeInternal, Message: "analysis panic"})
			if q.logger != nil {
				q.logger.Error("analysis task panicked", zap.Any("recover", r))
			}
		}
	}()

	err := item.Run(ctx)
	switch {
	case err == nil:
		q.m.analysisComplete(false)
	case ctx.Err() != nil:
		q.m.analysisComplete(true)
		q.emitUnhandled(&Error{Code: CodeCancelled, Message: "shutdown"})
		if q.logger != nil {
			q.logger.Warn("analysis canceled", zap.Error(err))
		}
	default:
		q.m.analysisComplete(false)
		q.emitUnhandled(err)
		if q.logger != nil {
			q.logger.Error("analysis failed", zap.Error(err))
		}
	}
}
