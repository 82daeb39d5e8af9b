package server

import "fmt"

// runRequest represents one unit of work for a session's run goroutine.
type runRequest struct {
	fn   func() (any, error)
	done chan runResult
}

// runResult holds the outcome of one unit of work.
type runResult struct {
	value any
	err   error
}

// Worker serializes all script runs and variable writes of one session
// through a single goroutine. Execution contexts sharing a variable store
// must never overlap; all HTTP handlers go through the worker to keep that
// guarantee.
type Worker struct {
	requests chan runRequest
	quit     chan struct{}
}

// NewWorker creates a Worker and starts its processing goroutine.
func NewWorker() *Worker {
	w := &Worker{
		requests: make(chan runRequest, 16),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs one unit of work, recovering from panics.
func (w *Worker) execute(fn func() (any, error)) runResult {
	var result runResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value, result.err = fn()
	}()
	return result
}

// Do submits a function for execution on the session goroutine and blocks
// until it completes. Returns the result and any error, including panics.
func (w *Worker) Do(fn func() (any, error)) (any, error) {
	req := runRequest{fn: fn, done: make(chan runResult, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, fmt.Errorf("session worker stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, fmt.Errorf("session worker stopped")
	}
}

// Stop shuts the worker down. Pending requests are abandoned.
func (w *Worker) Stop() {
	close(w.quit)
}
