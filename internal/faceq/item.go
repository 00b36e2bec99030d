package faceq

import (
	"context"
	"io"

	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/google/uuid"
)

// Backend performs the engine operations. Each call may be slow; the worker
// makes at most one call at a time.
type Backend interface {
	Detect(ctx context.Context, input io.ReadSeeker, size int64, table *types.DetectTable) error
	Register(ctx context.Context, input io.ReadSeeker, size int64, table *types.RegisterTable) error
	Identify(ctx context.Context, input io.ReadSeeker, size int64, table *types.IdentifyTable) error
}

// WorkItem is a pending request. Input and Sink belong to the submitter; from
// Submit until the matching Result is taken only the worker touches them.
type WorkItem struct {
	ID    uuid.UUID
	Input io.ReadSeeker
	Size  int64
	Sink  types.Table

	terminate bool
}

// Op returns the operation the item requests.
func (w WorkItem) Op() types.Op {
	if w.terminate {
		return types.OpTerminate
	}
	return w.Sink.Op()
}

// Result is a completed request. It hands Input and Sink back to the caller,
// who is responsible for releasing them.
type Result struct {
	ID    uuid.UUID
	Op    types.Op
	Sink  types.Table
	Input io.ReadSeeker

	// Err is set only for failed operations when Config.ReportFailures is on.
	Err error
}

// Close closes Input if it implements io.Closer.
func (r Result) Close() error {
	if c, ok := r.Input.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
