package queue

import "errors"

var (
	// ErrFull is returned by Push when every slot is occupied.
	ErrFull = errors.New("queue full")

	// ErrEmpty is returned by Pop and TakeFront when no slot is occupied.
	ErrEmpty = errors.New("queue empty")

	// ErrUnsupportedKind is returned by New for a kind other than KindRequest or KindResult.
	ErrUnsupportedKind = errors.New("queue type not supported")

	// ErrInvalidCapacity is returned by New for a capacity below one.
	ErrInvalidCapacity = errors.New("queue capacity must be at least 1")

	// ErrFreed is returned by operations on a queue whose storage was released.
	ErrFreed = errors.New("queue already freed")
)
