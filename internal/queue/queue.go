// Package queue provides a fixed-capacity, mutex-guarded FIFO ring buffer.
//
// Push and Pop never block: Push fails with ErrFull when the queue holds
// Cap() items and Pop fails with ErrEmpty when it holds none. Callers that
// want to wait implement that themselves.
//
// Several queues may share one lock. All cursor and slot mutations happen
// under it. IsEmpty, IsFull and Len read an atomic size without taking the
// lock, so under concurrency their answers are advisory.
//
// Front followed by Pop is not atomic. A queue read that way must have
// exactly one consumer; other consumers use TakeFront.
package queue

import (
	"sync"
	"sync/atomic"
)

// Kind names which payload a queue carries.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool { return k == KindRequest || k == KindResult }

// Bounded is a circular buffer of fixed capacity.
type Bounded[T any] struct {
	kind     Kind
	mu       sync.Locker
	slots    []T
	capacity int
	front    int
	rear     int
	size     atomic.Int64
	freed    bool
}

// New allocates a queue of the given kind and capacity. If lock is nil the
// queue gets a mutex of its own.
func New[T any](kind Kind, capacity int, lock sync.Locker) (*Bounded[T], error) {
	if !kind.valid() {
		return nil, ErrUnsupportedKind
	}
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Bounded[T]{
		kind:     kind,
		mu:       lock,
		slots:    make([]T, capacity),
		capacity: capacity,
		// rear sits one behind front so the first Push lands in slot 0
		rear: capacity - 1,
	}, nil
}

// Kind returns the payload kind chosen at construction.
func (q *Bounded[T]) Kind() Kind { return q.kind }

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int { return q.capacity }

// Len returns the number of occupied slots.
func (q *Bounded[T]) Len() int { return int(q.size.Load()) }

// IsEmpty reports whether the queue holds no items.
func (q *Bounded[T]) IsEmpty() bool { return q.size.Load() == 0 }

// IsFull reports whether the queue holds Cap() items.
func (q *Bounded[T]) IsFull() bool { return q.size.Load() == int64(q.capacity) }

// Push copies item into the slot after rear.
func (q *Bounded[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.freed {
		return ErrFreed
	}
	if int(q.size.Load()) == q.capacity {
		return ErrFull
	}
	q.rear = (q.rear + 1) % q.capacity
	q.slots[q.rear] = item
	q.size.Add(1)
	return nil
}

// Pop discards the front item.
func (q *Bounded[T]) Pop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.freed {
		return ErrFreed
	}
	if !q.popLocked() {
		return ErrEmpty
	}
	return nil
}

// Front returns the oldest item without removing it.
func (q *Bounded[T]) Front() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.freed || q.size.Load() == 0 {
		return zero, false
	}
	return q.slots[q.front], true
}

// Rear returns the newest item without removing it.
func (q *Bounded[T]) Rear() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.freed || q.size.Load() == 0 {
		return zero, false
	}
	return q.slots[q.rear], true
}

// TakeFront removes and returns the oldest item under a single lock hold.
func (q *Bounded[T]) TakeFront() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.freed {
		return zero, ErrFreed
	}
	if q.size.Load() == 0 {
		return zero, ErrEmpty
	}
	item := q.slots[q.front]
	q.popLocked()
	return item, nil
}

// Free releases the slot storage. The queue is unusable afterwards.
func (q *Bounded[T]) Free() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.freed {
		return ErrFreed
	}
	q.freed = true
	q.slots = nil
	q.size.Store(0)
	return nil
}

func (q *Bounded[T]) popLocked() bool {
	if q.size.Load() == 0 {
		return false
	}
	var zero T
	q.slots[q.front] = zero
	q.front = (q.front + 1) % q.capacity
	q.size.Add(-1)
	return true
}
