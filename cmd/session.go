package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/faceapi/internal/faceq"
	"github.com/andresmejia3/faceapi/internal/utils"
	"github.com/andresmejia3/faceapi/internal/worker"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the wait for the engine to finish queued requests.
const shutdownTimeout = 30 * time.Second

// startBackend launches the face engine. Tests swap in an in-process backend.
var startBackend = func(ctx context.Context, o Options) (faceq.Backend, func(), *utils.SafeCommand, error) {
	cfg, err := engineConfig(o)
	if err != nil {
		return nil, nil, nil, err
	}
	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	e, err := worker.NewEngine(ctx, 0, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return e, e.Close, e.Cmd, nil
}

// session couples the queue subsystem with the engine behind it.
type session struct {
	sub    *faceq.Subsystem
	close  func()
	engine *utils.SafeCommand

	stopped bool
}

func openSession(ctx context.Context, o Options) (*session, error) {
	if err := o.Queue.Validate(); err != nil {
		return nil, err
	}
	backend, closeFn, engineCmd, err := startBackend(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("failed to start face engine: %w", err)
	}
	sub, err := faceq.New(backend, o.Queue, faceq.WithLogger(logger.WithName("faceq")))
	if err != nil {
		closeFn()
		return nil, err
	}
	return &session{sub: sub, close: closeFn, engine: engineCmd}, nil
}

// shutdown stops the subsystem and returns the results nobody collected.
// It does not use the command context: after Ctrl+C the engine is already
// dead and the handshake completes quickly.
func (s *session) shutdown() ([]faceq.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	left, err := s.sub.Shutdown(ctx)
	if err == nil {
		s.stopped = true
	}
	return left, err
}

// run drives one session. produce submits requests; handle receives every
// result in submission order. Only the collector goroutine takes results, and
// it runs the shutdown handshake itself once produce returns, so results still
// queued at that point are handled after everything collected before.
func (s *session) run(ctx context.Context, produce func(context.Context) error, handle func(faceq.Result) error) error {
	produced := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	// Producer
	g.Go(func() error {
		defer close(produced)
		return produce(gctx)
	})

	// Collector
	g.Go(func() error {
		waitCtx, cancel := context.WithCancel(gctx)
		defer cancel()
		go func() {
			select {
			case <-produced:
				cancel()
			case <-waitCtx.Done():
			}
		}()

		// waitCtx ending on its own only means production is over
		err := collect(waitCtx, s.sub, handle)
		if err != nil && (gctx.Err() != nil || !errors.Is(err, context.Canceled)) {
			return err
		}

		left, err := s.shutdown()
		for _, res := range left {
			if herr := handle(res); herr != nil {
				return errors.Join(herr, err)
			}
		}
		return err
	})

	err := g.Wait()
	if !s.stopped {
		// A failed run still stops the worker before the engine goes away
		if _, serr := s.shutdown(); serr != nil && !errors.Is(serr, faceq.ErrClosed) {
			logger.Error(serr, "failed to stop queue subsystem")
		}
	}
	return err
}

// submitWithRetry retries a submission while the request queue is full.
func submitWithRetry(ctx context.Context, sub *faceq.Subsystem, submit func() (uuid.UUID, error)) (uuid.UUID, error) {
	backoff := time.Millisecond
	for {
		id, err := submit()
		if !errors.Is(err, faceq.ErrQueueFull) {
			return id, err
		}
		logger.V(1).Info("request queue full, retrying", "backoff", backoff, "pending", sub.Stats().Requests)
		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

// collect hands every result to handle until the worker exits.
func collect(ctx context.Context, sub *faceq.Subsystem, handle func(faceq.Result) error) error {
	for {
		res, err := sub.Next(ctx)
		if errors.Is(err, faceq.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handle(res); err != nil {
			return err
		}
	}
}

// sourceOf names the input a result was produced for.
func sourceOf(res faceq.Result) string {
	if n, ok := res.Input.(interface{ Name() string }); ok {
		return n.Name()
	}
	return res.ID.String()
}

// journal records res in the results journal when one is configured.
func journal(ctx context.Context, res faceq.Result) error {
	if DB == nil {
		return nil
	}
	source := sourceOf(res)
	var sourceID string
	if _, ok := res.Input.(*os.File); ok {
		sourceID, _ = utils.GenerateImageID(source)
	}
	if err := DB.RecordResult(ctx, source, sourceID, res); err != nil {
		return fmt.Errorf("failed to journal result %s: %w", res.ID, err)
	}
	return nil
}

func closeAll[T io.Closer](cs []T) {
	for _, c := range cs {
		c.Close()
	}
}
