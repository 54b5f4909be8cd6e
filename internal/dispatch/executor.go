package dispatch

import "sync"

// Executor runs subscriber callbacks on the application's delivery context.
// On mobile hosts this is the UI thread; the default is a single serial
// goroutine, which gives the same guarantee the engine relies on: submissions
// run one at a time, in order.
type Executor interface {
	Do(fn func())
}

// InlineExecutor runs callbacks synchronously on the calling goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Do(fn func()) { fn() }

// SerialExecutor is the default application-side executor: one worker
// goroutine draining a FIFO of callbacks.
type SerialExecutor struct {
	mu     sync.Mutex
	queue  chan func()
	closed bool
	done   chan struct{}
}

func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		for fn := range e.queue {
			fn()
		}
	}()
	return e
}

// Do enqueues fn; it blocks when the queue is full rather than dropping a
// delivery. Calls after Close are discarded.
func (e *SerialExecutor) Do(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	// Holding the lock through the send keeps Close from closing the queue
	// underneath a blocked producer.
	e.queue <- fn
}

// Close drains outstanding callbacks and stops the worker.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	<-e.done
}
