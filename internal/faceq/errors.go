package faceq

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/faceapi/internal/queue"
)

var (
	// ErrQueueFull is returned by Submit when the request queue has no free slot.
	// It wraps queue.ErrFull.
	ErrQueueFull = fmt.Errorf("request %w", queue.ErrFull)

	// ErrClosed is returned once Shutdown has started.
	ErrClosed = errors.New("queue subsystem is shut down")

	// ErrNilSink is returned when a request has no result table.
	ErrNilSink = errors.New("result table is nil")

	// ErrNilBackend is returned by New without a backend.
	ErrNilBackend = errors.New("backend is nil")
)
