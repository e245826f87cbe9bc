// Package queue holds one FIFO task queue per role.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/golang-collections/collections/queue"
	"github.com/me/rolesched/pkg/model"
)

// Queue is an unbounded FIFO of tasks safe for concurrent producers and
// consumers. Enqueue never blocks.
type Queue struct {
	mu         sync.Mutex
	items      *queue.Queue
	unfinished int
	notify     chan struct{}
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		items:  queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends task to the tail of the queue.
func (q *Queue) Enqueue(task model.Task) {
	q.mu.Lock()
	q.items.Enqueue(task)
	q.unfinished++
	q.mu.Unlock()
	q.signal()
}

// Dequeue removes the task at the head of the queue, waiting up to timeout
// for one to arrive. It returns false on timeout or when ctx is done.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (model.Task, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if task, ok := q.tryDequeue(); ok {
			return task, true
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return q.tryDequeue()
		case <-ctx.Done():
			return model.Task{}, false
		}
	}
}

func (q *Queue) tryDequeue() (model.Task, bool) {
	q.mu.Lock()
	if q.items.Len() == 0 {
		q.mu.Unlock()
		return model.Task{}, false
	}
	task := q.items.Dequeue().(model.Task)
	more := q.items.Len() > 0
	q.mu.Unlock()

	// Pass the wakeup on so another waiting consumer sees the remaining items.
	if more {
		q.signal()
	}
	return task, true
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Done acknowledges that a dequeued task has been fully handled.
func (q *Queue) Done() {
	q.mu.Lock()
	if q.unfinished > 0 {
		q.unfinished--
	}
	q.mu.Unlock()
}

// Len returns the number of tasks waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Unfinished returns the number of enqueued tasks not yet acknowledged.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Set is the fixed collection of per-role queues. It is built once and never
// mutated, so lookups need no locking.
type Set struct {
	queues map[model.RoleID]*Queue
}

// NewSet creates one empty queue for each role.
func NewSet(roles []model.RoleID) *Set {
	s := &Set{queues: make(map[model.RoleID]*Queue, len(roles))}
	for _, r := range roles {
		s.queues[r] = New()
	}
	return s
}

// Get returns the queue for role.
func (s *Set) Get(role model.RoleID) (*Queue, bool) {
	q, ok := s.queues[role]
	return q, ok
}
