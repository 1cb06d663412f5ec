package eventloop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Completion is the outcome of an async host call, waiting to be applied
// to its engine promise on the evaluating goroutine.
type Completion struct {
	JobID int64
	Value any
	Err   error
}

type job struct {
	cancel context.CancelFunc
}

// EventLoop tracks in-flight async host calls and queues their results
// until the goroutine that owns the engine applies them. Completions never
// block the producing goroutine.
type EventLoop struct {
	mu     sync.Mutex
	jobs   map[int64]*job
	queue  []Completion
	notify chan struct{}
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		jobs:   make(map[int64]*job),
		notify: make(chan struct{}, 1),
	}
}

// Go runs fn on a new goroutine as job id. The context passed to fn is
// derived from parent and is cancelled by CancelAll. A panic in fn is
// turned into an error completion.
func (el *EventLoop) Go(parent context.Context, id int64, fn func(ctx context.Context) (any, error)) {
	ctx, cancel := context.WithCancel(parent)
	el.mu.Lock()
	el.jobs[id] = &job{cancel: cancel}
	el.mu.Unlock()

	go func() {
		var (
			value any
			err   error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("async host function panicked: %v\n%s", r, debug.Stack())
				}
			}()
			value, err = fn(ctx)
		}()
		el.complete(id, value, err)
	}()
}

func (el *EventLoop) complete(id int64, value any, err error) {
	el.mu.Lock()
	_, tracked := el.jobs[id]
	if tracked {
		el.queue = append(el.queue, Completion{JobID: id, Value: value, Err: err})
	}
	el.mu.Unlock()
	if !tracked {
		// cancelled
		return
	}
	select {
	case el.notify <- struct{}{}:
	default:
	}
}

// Take removes and returns the queued completions. Their jobs stop being
// tracked.
func (el *EventLoop) Take() []Completion {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.queue) == 0 {
		return nil
	}
	out := el.queue
	el.queue = nil
	for _, c := range out {
		if j, ok := el.jobs[c.JobID]; ok {
			j.cancel()
			delete(el.jobs, c.JobID)
		}
	}
	return out
}

// Active returns the number of jobs that are running or have a result
// waiting to be taken.
func (el *EventLoop) Active() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.jobs)
}

// CancelAll cancels every tracked job and discards queued completions. It
// returns the ids of the cancelled jobs.
func (el *EventLoop) CancelAll() []int64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	ids := make([]int64, 0, len(el.jobs))
	for id, j := range el.jobs {
		j.cancel()
		ids = append(ids, id)
	}
	clear(el.jobs)
	el.queue = nil
	return ids
}

// Wait blocks until a completion is queued, closed is closed, or ctx is
// done. It returns ctx.Err() in the last case.
func (el *EventLoop) Wait(ctx context.Context, closed <-chan struct{}) error {
	el.mu.Lock()
	ready := len(el.queue) > 0
	el.mu.Unlock()
	if ready {
		return nil
	}
	select {
	case <-el.notify:
		return nil
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
