package transport

import (
	"sync"

	"github.com/pithecene-io/voxlink/types"
)

// requestQueue is a mutex-guarded FIFO of outgoing requests.
type requestQueue struct {
	mu    sync.Mutex
	items []*types.MessageRequest
}

func (q *requestQueue) push(r *types.MessageRequest) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// peek returns the head without removing it, or nil.
func (q *requestQueue) peek() *types.MessageRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *requestQueue) pop() *types.MessageRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r
}

// drain removes and returns every queued request.
func (q *requestQueue) drain() []*types.MessageRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
