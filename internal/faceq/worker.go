package faceq

import (
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/faceapi/internal/metrics"
	"github.com/andresmejia3/faceapi/internal/queue"
	"github.com/andresmejia3/faceapi/internal/types"
)

// run is the worker loop. It is the only reader of the request queue.
func (s *Subsystem) run() {
	defer close(s.done)

	for {
		// Idle: one token per queued request, the sentinel included.
		<-s.wake

		// Dispatching: read the front item but leave it queued until it is handled.
		item, ok := s.requests.Front()
		if !ok {
			s.log.Error(nil, "woken with an empty request queue")
			continue
		}

		if item.terminate {
			s.deliver(Result{ID: item.ID, Op: types.OpTerminate})
			s.popRequest()
			s.log.V(1).Info("worker terminated", "id", item.ID)
			return
		}

		// Executing
		op := item.Op().String()
		start := time.Now()
		err := s.execute(item)
		elapsed := time.Since(start)

		if err != nil {
			s.failed.Add(1)
			metrics.RecordFailed(op, elapsed)
			s.log.Error(err, "operation failed", "id", item.ID, "op", op)
			if !s.cfg.ReportFailures {
				s.popRequest()
				continue
			}
		} else {
			s.completed.Add(1)
			metrics.RecordCompleted(op, elapsed)
			s.log.V(1).Info("operation complete", "id", item.ID, "op", op, "duration", elapsed)
		}

		s.deliver(Result{
			ID:    item.ID,
			Op:    item.Op(),
			Sink:  item.Sink,
			Input: item.Input,
			Err:   err,
		})
		s.popRequest()
	}
}

// execute dispatches the item to the backend call matching its table.
func (s *Subsystem) execute(item WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()

	switch t := item.Sink.(type) {
	case *types.DetectTable:
		return s.backend.Detect(s.ctx, item.Input, item.Size, t)
	case *types.RegisterTable:
		return s.backend.Register(s.ctx, item.Input, item.Size, t)
	case *types.IdentifyTable:
		return s.backend.Identify(s.ctx, item.Input, item.Size, t)
	default:
		return fmt.Errorf("no operation for table %T", item.Sink)
	}
}

// deliver pushes res, waiting for a consumer to make room. It does not give
// up: results are only ever lost by being left uncollected.
func (s *Subsystem) deliver(res Result) {
	for {
		err := s.results.Push(res)
		if err == nil {
			notify(s.resultReady)
			metrics.RecordQueueDepth(queue.KindResult.String(), s.results.Len())
			return
		}
		if !errors.Is(err, queue.ErrFull) {
			s.log.Error(err, "failed to deliver result", "id", res.ID)
			return
		}
		s.log.V(1).Info("result queue full, waiting", "id", res.ID)
		<-s.resultSpace
	}
}

func (s *Subsystem) popRequest() {
	if err := s.requests.Pop(); err != nil {
		s.log.Error(err, "failed to pop handled request")
	}
	notify(s.requestSpace)
	metrics.RecordQueueDepth(queue.KindRequest.String(), s.requests.Len())
}
