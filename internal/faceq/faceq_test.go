package faceq

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/faceapi/internal/types"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// image is an in-memory input handle with a name the fake backend can key on.
type image struct {
	*bytes.Reader
	name   string
	closed bool
}

func newImage(name string) *image {
	return &image{Reader: bytes.NewReader([]byte(name)), name: name}
}

func (i *image) Close() error {
	i.closed = true
	return nil
}

// fakeBackend fills tables from the input name. Inputs named "bad" fail.
// When gate is set every call blocks until the test sends on it.
type fakeBackend struct {
	gate    chan struct{}
	entered chan string

	mu    sync.Mutex
	calls []string
}

func (f *fakeBackend) enter(ctx context.Context, in io.ReadSeeker) (string, error) {
	name := in.(*image).name
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- name
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return name, ctx.Err()
		}
	}
	if name == "bad" {
		return name, errors.New("engine rejected image")
	}
	if name == "panic" {
		panic("engine crashed")
	}
	return name, nil
}

func (f *fakeBackend) Detect(ctx context.Context, in io.ReadSeeker, size int64, t *types.DetectTable) error {
	if _, err := f.enter(ctx, in); err != nil {
		return err
	}
	t.Append(types.DetectResult{Rect: types.Rect{Width: int(size)}})
	return nil
}

func (f *fakeBackend) Register(ctx context.Context, in io.ReadSeeker, size int64, t *types.RegisterTable) error {
	name, err := f.enter(ctx, in)
	if err != nil {
		return err
	}
	t.Append(types.RegisterResult{PersonID: "person-" + name})
	return nil
}

func (f *fakeBackend) Identify(ctx context.Context, in io.ReadSeeker, size int64, t *types.IdentifyTable) error {
	name, err := f.enter(ctx, in)
	if err != nil {
		return err
	}
	t.Append(types.IdentifyResult{PersonID: "person-" + name, Confidence: 0.9})
	return nil
}

func newSubsystem(t *testing.T, b Backend, reqCap, resCap int) *Subsystem {
	t.Helper()
	s, err := New(b, Config{RequestCapacity: reqCap, ResultCapacity: resCap})
	require.NoError(t, err)
	return s
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilBackend)

	_, err = New(&fakeBackend{}, Config{RequestCapacity: 0, ResultCapacity: 1})
	assert.Error(t, err)

	_, err = New(&fakeBackend{}, Config{RequestCapacity: 1, ResultCapacity: -1})
	assert.Error(t, err)
}

func TestSubmitNilSink(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 2, 2)
	defer s.Shutdown(context.Background())

	_, err := s.SubmitDetect(newImage("a"), 1, nil)
	assert.ErrorIs(t, err, ErrNilSink)
	_, err = s.Submit(newImage("a"), 1, nil)
	assert.ErrorIs(t, err, ErrNilSink)
	assert.Equal(t, 0, s.Stats().Requests)
}

// Capacity 4: four detect requests come back bound to their own tables in
// submission order, and a fifth poll finds nothing.
func TestResultsInSubmissionOrder(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 4, 4)
	ctx := ctxTimeout(t)

	var (
		tables []*types.DetectTable
		inputs []*image
		ids    []uuid.UUID
	)
	for i, name := range []string{"s1", "s2", "s3", "s4"} {
		tbl := &types.DetectTable{}
		in := newImage(name)
		id, err := s.SubmitDetect(in, int64(i+1), tbl)
		require.NoError(t, err)
		tables = append(tables, tbl)
		inputs = append(inputs, in)
		ids = append(ids, id)
	}

	var gotIDs []uuid.UUID
	for i := range tables {
		res, err := s.Next(ctx)
		require.NoError(t, err)
		gotIDs = append(gotIDs, res.ID)

		assert.Equal(t, types.OpDetect, res.Op)
		assert.Same(t, tables[i], res.Sink)
		assert.Same(t, inputs[i], res.Input)
		require.Equal(t, 1, tables[i].Len())
		assert.Equal(t, i+1, tables[i].Results[0].Rect.Width)
	}
	if diff := cmp.Diff(ids, gotIDs); diff != "" {
		t.Errorf("result order mismatch (-want +got):\n%s", diff)
	}

	_, ok := s.Poll()
	assert.False(t, ok)

	leftover, err := s.Shutdown(ctx)
	require.NoError(t, err)
	assert.Empty(t, leftover)
}

func TestPollEmptyDoesNotBlock(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 2, 2)
	defer s.Shutdown(context.Background())

	before := s.Stats()
	_, ok := s.Poll()
	assert.False(t, ok)
	assert.Equal(t, before, s.Stats())
}

// Capacity 1: the second submission fails while the worker holds the first,
// and succeeds once the first is popped.
func TestSubmitFullQueue(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), entered: make(chan string, 4)}
	s := newSubsystem(t, b, 1, 4)
	ctx := ctxTimeout(t)

	_, err := s.SubmitIdentify(newImage("first"), 1, &types.IdentifyTable{})
	require.NoError(t, err)
	require.Equal(t, "first", <-b.entered)

	_, err = s.SubmitIdentify(newImage("second"), 1, &types.IdentifyTable{})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, s.Stats().Requests)
	assert.Equal(t, uint64(1), s.Stats().Rejected)

	b.gate <- struct{}{}
	res, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.OpIdentify, res.Op)

	// The request slot frees just after the result is delivered.
	tbl := &types.IdentifyTable{}
	require.Eventually(t, func() bool {
		_, err := s.SubmitIdentify(newImage("third"), 1, tbl)
		return err == nil
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, "third", <-b.entered)
	b.gate <- struct{}{}
	res, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Same(t, tbl, res.Sink)

	_, err = s.Shutdown(ctx)
	require.NoError(t, err)
}

func TestFailedOperationIsDropped(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 4, 4)
	ctx := ctxTimeout(t)

	good1 := &types.RegisterTable{}
	good2 := &types.RegisterTable{}
	_, err := s.SubmitRegister(newImage("good1"), 1, good1)
	require.NoError(t, err)
	_, err = s.SubmitRegister(newImage("bad"), 1, &types.RegisterTable{})
	require.NoError(t, err)
	_, err = s.SubmitRegister(newImage("good2"), 1, good2)
	require.NoError(t, err)

	res, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Same(t, good1, res.Sink)

	res, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Same(t, good2, res.Sink)
	assert.Equal(t, "person-good2", good2.Results[0].PersonID)

	leftover, err := s.Shutdown(ctx)
	require.NoError(t, err)
	assert.Empty(t, leftover)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(2), st.Completed)
}

func TestBackendPanicIsDropped(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 2, 2)
	ctx := ctxTimeout(t)

	_, err := s.SubmitDetect(newImage("panic"), 1, &types.DetectTable{})
	require.NoError(t, err)
	tbl := &types.DetectTable{}
	_, err = s.SubmitDetect(newImage("ok"), 1, tbl)
	require.NoError(t, err)

	res, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Same(t, tbl, res.Sink)
	assert.Equal(t, uint64(1), s.Stats().Failed)

	_, err = s.Shutdown(ctx)
	require.NoError(t, err)
}

func TestReportFailures(t *testing.T) {
	s, err := New(&fakeBackend{}, Config{RequestCapacity: 2, ResultCapacity: 2, ReportFailures: true})
	require.NoError(t, err)
	ctx := ctxTimeout(t)

	in := newImage("bad")
	id, err := s.SubmitDetect(in, 1, &types.DetectTable{})
	require.NoError(t, err)

	res, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.Error(t, res.Err)
	assert.Equal(t, 0, res.Sink.Len())

	require.NoError(t, res.Close())
	assert.True(t, in.closed)

	// A reported failure is still a failure, not a completion.
	st := s.Stats()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(0), st.Completed)

	_, err = s.Shutdown(ctx)
	require.NoError(t, err)
}

// An idle worker acknowledges the sentinel straight away.
func TestShutdownIdle(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 1, 1)
	ctx := ctxTimeout(t)

	leftover, err := s.Shutdown(ctx)
	require.NoError(t, err)
	assert.Empty(t, leftover)

	select {
	case <-s.Done():
	default:
		t.Fatal("worker still running after shutdown")
	}

	_, err = s.Shutdown(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.SubmitDetect(newImage("late"), 1, &types.DetectTable{})
	assert.ErrorIs(t, err, ErrClosed)

	_, ok := s.Poll()
	assert.False(t, ok)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

// Results nobody collected come back from Shutdown, in order, even when they
// overflow the result queue.
func TestShutdownReturnsUncollected(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 4, 1)
	ctx := ctxTimeout(t)

	var want []uuid.UUID
	for _, name := range []string{"a", "b", "c"} {
		id, err := s.SubmitDetect(newImage(name), 1, &types.DetectTable{})
		require.NoError(t, err)
		want = append(want, id)
	}

	leftover, err := s.Shutdown(ctx)
	require.NoError(t, err)

	var got []uuid.UUID
	for _, r := range leftover {
		got = append(got, r.ID)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("uncollected results mismatch (-want +got):\n%s", diff)
	}
}

// Shutdown waits for room in a full request queue before queuing the sentinel.
func TestShutdownWaitsForRequestSlot(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), entered: make(chan string, 1)}
	s := newSubsystem(t, b, 1, 1)
	ctx := ctxTimeout(t)

	_, err := s.SubmitDetect(newImage("slow"), 1, &types.DetectTable{})
	require.NoError(t, err)
	<-b.entered

	type outcome struct {
		leftover []Result
		err      error
	}
	finished := make(chan outcome, 1)
	go func() {
		l, err := s.Shutdown(ctx)
		finished <- outcome{l, err}
	}()

	select {
	case <-finished:
		t.Fatal("shutdown returned while a request was still executing")
	case <-time.After(50 * time.Millisecond):
	}

	b.gate <- struct{}{}
	out := <-finished
	require.NoError(t, out.err)
	require.Len(t, out.leftover, 1)
	assert.Equal(t, types.OpDetect, out.leftover[0].Op)
}

func TestShutdownContextExpired(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), entered: make(chan string, 1)}
	s := newSubsystem(t, b, 1, 1)

	_, err := s.SubmitDetect(newImage("slow"), 1, &types.DetectTable{})
	require.NoError(t, err)
	<-b.entered

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Shutdown(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The sentinel never made it in, so the subsystem still accepts work.
	_, err = s.SubmitDetect(newImage("more"), 1, &types.DetectTable{})
	assert.ErrorIs(t, err, ErrQueueFull)

	b.gate <- struct{}{}
	leftover, err := s.Shutdown(ctxTimeout(t))
	require.NoError(t, err)
	assert.Len(t, leftover, 1)
}

func TestConcurrentSubmitters(t *testing.T) {
	s := newSubsystem(t, &fakeBackend{}, 3, 2)
	ctx := ctxTimeout(t)

	const producers, perProducer = 4, 25
	submitted := make(chan uuid.UUID, producers*perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; {
				id, err := s.SubmitDetect(newImage("img"), 1, &types.DetectTable{})
				if errors.Is(err, ErrQueueFull) {
					time.Sleep(time.Millisecond)
					continue
				}
				if err != nil {
					t.Errorf("submit: %v", err)
					return
				}
				submitted <- id
				i++
			}
		}()
	}

	seen := make(map[uuid.UUID]bool)
	for len(seen) < producers*perProducer {
		res, err := s.Next(ctx)
		require.NoError(t, err)
		require.False(t, seen[res.ID], "duplicate result %s", res.ID)
		seen[res.ID] = true
	}
	wg.Wait()
	close(submitted)

	for id := range submitted {
		assert.True(t, seen[id], "missing result for %s", id)
	}

	leftover, err := s.Shutdown(ctx)
	require.NoError(t, err)
	assert.Empty(t, leftover)
	assert.Equal(t, uint64(producers*perProducer), s.Stats().Completed)
}
