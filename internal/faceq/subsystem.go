package faceq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/faceapi/internal/metrics"
	"github.com/andresmejia3/faceapi/internal/queue"
	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Subsystem owns the request and result queues and the worker that connects them.
type Subsystem struct {
	cfg     Config
	backend Backend
	log     logr.Logger

	// qmu guards the cursors and slots of both queues.
	qmu      sync.Mutex
	requests *queue.Bounded[WorkItem]
	results  *queue.Bounded[Result]

	// wake carries one token per request in the request queue.
	wake chan struct{}
	// Edge notifications; each holds at most one pending signal.
	requestSpace chan struct{}
	resultSpace  chan struct{}
	resultReady  chan struct{}
	// done is closed when the worker goroutine returns.
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// lifeMu orders submissions against the start of Shutdown.
	lifeMu    sync.RWMutex
	accepting bool
	closed    bool

	// shutdownMu serializes Shutdown calls.
	shutdownMu     sync.Mutex
	sentinelQueued bool

	// takeMu serializes result consumers so Front and Pop pair up.
	takeMu sync.Mutex

	submitted atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(s *Subsystem) { s.log = l }
}

// New builds both queues and starts the worker.
func New(backend Backend, cfg Config, opts ...Option) (*Subsystem, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Subsystem{
		cfg:          cfg,
		backend:      backend,
		log:          logr.Discard(),
		wake:         make(chan struct{}, cfg.RequestCapacity),
		requestSpace: make(chan struct{}, 1),
		resultSpace:  make(chan struct{}, 1),
		resultReady:  make(chan struct{}, 1),
		done:         make(chan struct{}),
		accepting:    true,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.requests, err = queue.New[WorkItem](queue.KindRequest, cfg.RequestCapacity, &s.qmu)
	if err != nil {
		return nil, fmt.Errorf("failed to create request queue: %w", err)
	}
	s.results, err = queue.New[Result](queue.KindResult, cfg.ResultCapacity, &s.qmu)
	if err != nil {
		return nil, fmt.Errorf("failed to create result queue: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()

	s.log.V(1).Info("queue subsystem started",
		"requestCapacity", cfg.RequestCapacity, "resultCapacity", cfg.ResultCapacity)
	return s, nil
}

// SubmitDetect queues a detect request.
func (s *Subsystem) SubmitDetect(input io.ReadSeeker, size int64, table *types.DetectTable) (uuid.UUID, error) {
	if table == nil {
		return uuid.Nil, ErrNilSink
	}
	return s.submit(input, size, table)
}

// SubmitRegister queues a register request.
func (s *Subsystem) SubmitRegister(input io.ReadSeeker, size int64, table *types.RegisterTable) (uuid.UUID, error) {
	if table == nil {
		return uuid.Nil, ErrNilSink
	}
	return s.submit(input, size, table)
}

// SubmitIdentify queues an identify request.
func (s *Subsystem) SubmitIdentify(input io.ReadSeeker, size int64, table *types.IdentifyTable) (uuid.UUID, error) {
	if table == nil {
		return uuid.Nil, ErrNilSink
	}
	return s.submit(input, size, table)
}

// Submit queues a request whose operation is chosen by the table type.
func (s *Subsystem) Submit(input io.ReadSeeker, size int64, table types.Table) (uuid.UUID, error) {
	switch t := table.(type) {
	case *types.DetectTable:
		return s.SubmitDetect(input, size, t)
	case *types.RegisterTable:
		return s.SubmitRegister(input, size, t)
	case *types.IdentifyTable:
		return s.SubmitIdentify(input, size, t)
	default:
		return uuid.Nil, ErrNilSink
	}
}

func (s *Subsystem) submit(input io.ReadSeeker, size int64, table types.Table) (uuid.UUID, error) {
	op := table.Op().String()

	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if !s.accepting {
		return uuid.Nil, ErrClosed
	}

	item := WorkItem{ID: uuid.New(), Input: input, Size: size, Sink: table}
	if err := s.requests.Push(item); err != nil {
		if errors.Is(err, queue.ErrFull) {
			s.rejected.Add(1)
			metrics.RecordRejected(op)
			return uuid.Nil, ErrQueueFull
		}
		return uuid.Nil, err
	}
	s.wake <- struct{}{}

	s.submitted.Add(1)
	metrics.RecordSubmitted(op)
	metrics.RecordQueueDepth(queue.KindRequest.String(), s.requests.Len())
	s.log.V(1).Info("request queued", "id", item.ID, "op", op)
	return item.ID, nil
}

// Poll returns the oldest completed result without blocking. Ownership of the
// result's Input and Sink passes to the caller.
func (s *Subsystem) Poll() (Result, bool) {
	s.takeMu.Lock()
	defer s.takeMu.Unlock()

	res, ok := s.results.Front()
	// The terminate acknowledgement is left for Shutdown.
	if !ok || res.Op == types.OpTerminate {
		return Result{}, false
	}
	if err := s.results.Pop(); err != nil {
		return Result{}, false
	}
	s.afterTake()
	return res, true
}

// Next blocks until a result is available, the worker has exited, or ctx is done.
func (s *Subsystem) Next(ctx context.Context) (Result, error) {
	for {
		if res, ok := s.Poll(); ok {
			return res, nil
		}
		select {
		case <-s.resultReady:
		case <-s.done:
			if res, ok := s.Poll(); ok {
				return res, nil
			}
			return Result{}, ErrClosed
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// afterTake runs with takeMu held after a result left the queue.
func (s *Subsystem) afterTake() {
	notify(s.resultSpace)
	if !s.results.IsEmpty() {
		// Another waiter may have consumed the only ready signal.
		notify(s.resultReady)
	}
	metrics.RecordQueueDepth(queue.KindResult.String(), s.results.Len())
}

// Shutdown stops the worker after it finishes all queued requests. Results
// that no caller collected are returned so their inputs can be released.
//
// If ctx ends first, Shutdown returns ctx.Err() together with any results it
// already collected, and may be called again to finish the handshake.
// Once the handshake completes further calls return ErrClosed.
func (s *Subsystem) Shutdown(ctx context.Context) ([]Result, error) {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil, ErrClosed
	}
	s.accepting = false
	s.lifeMu.Unlock()

	if !s.sentinelQueued {
		if err := s.queueSentinel(ctx); err != nil {
			s.lifeMu.Lock()
			s.accepting = true
			s.lifeMu.Unlock()
			return nil, err
		}
		s.sentinelQueued = true
	}

	var leftover []Result
	for {
		acked, err := s.drain(&leftover)
		if err != nil {
			return leftover, err
		}
		if acked {
			break
		}
		select {
		case <-s.resultReady:
		case <-s.done:
		case <-ctx.Done():
			return leftover, ctx.Err()
		}
	}

	<-s.done
	s.cancel()

	s.lifeMu.Lock()
	s.closed = true
	s.lifeMu.Unlock()

	s.takeMu.Lock()
	errReq := s.requests.Free()
	errRes := s.results.Free()
	s.takeMu.Unlock()
	if err := errors.Join(errReq, errRes); err != nil {
		return leftover, fmt.Errorf("failed to release queues: %w", err)
	}

	s.log.V(1).Info("queue subsystem stopped", "uncollected", len(leftover))
	return leftover, nil
}

// queueSentinel waits for a free request slot and enqueues the terminate item.
func (s *Subsystem) queueSentinel(ctx context.Context) error {
	sentinel := WorkItem{ID: uuid.New(), terminate: true}
	for {
		err := s.requests.Push(sentinel)
		if err == nil {
			s.wake <- struct{}{}
			return nil
		}
		if !errors.Is(err, queue.ErrFull) {
			return err
		}
		select {
		case <-s.requestSpace:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain moves every ordinary result into out and reports whether the
// terminate acknowledgement was found.
func (s *Subsystem) drain(out *[]Result) (bool, error) {
	s.takeMu.Lock()
	defer s.takeMu.Unlock()

	for {
		res, err := s.results.TakeFront()
		if errors.Is(err, queue.ErrEmpty) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		notify(s.resultSpace)
		if res.Op == types.OpTerminate {
			return true, nil
		}
		*out = append(*out, res)
	}
}

// Stats is a snapshot of queue depths and lifetime counters.
type Stats struct {
	Requests  int
	Results   int
	Submitted uint64
	Rejected  uint64
	Completed uint64

	// Failed counts engine failures, whether dropped or reported.
	Failed uint64
}

// Stats returns current depths and counters. Depths are advisory.
func (s *Subsystem) Stats() Stats {
	return Stats{
		Requests:  s.requests.Len(),
		Results:   s.results.Len(),
		Submitted: s.submitted.Load(),
		Rejected:  s.rejected.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}

// Done is closed when the worker has exited.
func (s *Subsystem) Done() <-chan struct{} { return s.done }

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
