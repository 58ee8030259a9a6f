package app

import (
	"context"
	"sync"

	"tunebot/internal/session"
	"tunebot/internal/transport"
)

type handleFunc func(ctx context.Context, key session.Key, up transport.Update)

// router serializes events per session key while keeping distinct keys fully
// parallel. Session state transitions are not commutative, so two events
// from the same (user, chat) must be processed in arrival order; no global
// lock may serialize unrelated users.
type router struct {
	mu      sync.Mutex
	queues  map[session.Key][]transport.Update
	running map[session.Key]bool

	handle handleFunc
	wg     sync.WaitGroup
}

func newRouter(handle handleFunc) *router {
	return &router{
		queues:  map[session.Key][]transport.Update{},
		running: map[session.Key]bool{},
		handle:  handle,
	}
}

// dispatch enqueues the update on its key's FIFO and starts a drain worker
// if the key has none. Idle keys hold no goroutine.
func (r *router) dispatch(ctx context.Context, key session.Key, up transport.Update) {
	r.mu.Lock()
	r.queues[key] = append(r.queues[key], up)
	if !r.running[key] {
		r.running[key] = true
		r.wg.Add(1)
		go r.drain(ctx, key)
	}
	r.mu.Unlock()
}

func (r *router) drain(ctx context.Context, key session.Key) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		q := r.queues[key]
		if len(q) == 0 {
			delete(r.queues, key)
			delete(r.running, key)
			r.mu.Unlock()
			return
		}
		up := q[0]
		r.queues[key] = q[1:]
		r.mu.Unlock()

		if ctx.Err() != nil {
			continue // keep draining so the queue empties and the worker exits
		}
		r.handle(ctx, key, up)
	}
}

// wait blocks until all drain workers have exited.
func (r *router) wait() { r.wg.Wait() }
