// Package inqueue implements the shared inbound queue: a
// multi-producer/multi-consumer queue of (Package, Handle) pairs that
// receive-message tasks enqueue to and the peer client's dispatch
// goroutine drains. Enqueue never blocks the caller; it logs a
// one-shot-per-crossing warning once the queue length passes the
// warn threshold, matching the reference design's bound on how long a
// burst may run before somebody notices.
package inqueue

import (
	"sync"

	"github.com/samharper/streampeer/internal/xlog"
	"github.com/samharper/streampeer/pkg/wire"
)

// WarnThreshold is the queue length at which Enqueue starts logging.
const WarnThreshold = 10000

// Handle identifies the Connection a package arrived on, opaque to
// this package.
type Handle any

type item struct {
	pkg    *wire.Package
	handle Handle
}

type Queue struct {
	mu      sync.Mutex
	items   []item
	warned  bool
	maxSeen int

	// notify is a buffered-1 wake channel: Enqueue tries a
	// non-blocking send so a consumer can select on it instead of
	// busy-polling TryDequeue. Missing a send is harmless since a
	// consumer that is already awake will drain everything present.
	notify chan struct{}
}

func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends a (package, handle) pair. It is non-blocking: the
// only work done under the lock is a slice append.
func (q *Queue) Enqueue(pkg *wire.Package, handle Handle) {
	q.mu.Lock()
	q.items = append(q.items, item{pkg: pkg, handle: handle})
	n := len(q.items)
	if n > q.maxSeen {
		q.maxSeen = n
	}
	crossed := n >= WarnThreshold && !q.warned
	if crossed {
		q.warned = true
	}
	if n < WarnThreshold {
		q.warned = false
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	if crossed {
		xlog.VV("inqueue: length crossed warn threshold (%d >= %d)", n, WarnThreshold)
	}
}

// Notify returns the wake channel a consumer can select on between
// TryDequeue calls.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// TryDequeue removes and returns the oldest pair, or reports empty.
func (q *Queue) TryDequeue() (pkg *wire.Package, handle Handle, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it.pkg, it.handle, true
}

// Len reports the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
