// Package stream is a reference readable stream host: the buffering state
// machine (waiting, readable, closed, errored) that drives an underlying
// source through its start/pull hooks and consults a queuing strategy before
// every pull.
package stream

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"stream-gate/internal/eventloop"
	"stream-gate/internal/strategy"
)

var (
	// ErrNotReadable is returned by Read outside the readable state.
	ErrNotReadable = errors.New("stream: not readable")
	// ErrInvalidSize errors the stream when the strategy sizes a chunk as
	// negative, NaN or infinite.
	ErrInvalidSize = errors.New("stream: invalid chunk size")
)

// DefaultHighWaterMark is used when New is given a nil strategy.
const DefaultHighWaterMark = 1

type State int

const (
	Waiting State = iota
	Readable
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Readable:
		return "readable"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// QueuingStrategy decides when the stream stops pulling.
type QueuingStrategy interface {
	ShouldApplyBackpressure(queueSize float64) bool
	Size(chunk any) float64
}

// UnderlyingSource is the construction surface: Start runs once, Pull runs
// whenever the stream wants one more chunk. Pull is never called again
// before the previous pull has called enqueue, finish or fail.
type UnderlyingSource[T any] interface {
	Start() *eventloop.Future[struct{}]
	Pull(enqueue func(T), finish func(), fail func(error))
}

// Canceler is implemented by sources that release resources on Cancel.
type Canceler interface {
	Cancel(reason error) *eventloop.Future[struct{}]
}

type queued[T any] struct {
	chunk T
	size  float64
}

// ReadableStream buffers chunks pulled from an UnderlyingSource.
type ReadableStream[T any] struct {
	src      UnderlyingSource[T]
	strategy QueuingStrategy
	closed   *eventloop.Future[struct{}]

	mu        sync.Mutex
	state     State
	queue     []queued[T]
	queueSize float64
	started   bool
	pulling   bool
	draining  bool
	err       error
	// ready is closed exactly when state != Waiting.
	ready chan struct{}

	inPullLoop    bool
	pullRequested bool
}

// New constructs a stream and calls src.Start. Pulling begins once the start
// future resolves; a rejected start errors the stream.
func New[T any](src UnderlyingSource[T], qs QueuingStrategy) *ReadableStream[T] {
	if qs == nil {
		qs = strategy.NewCount(DefaultHighWaterMark)
	}
	s := &ReadableStream[T]{
		src:      src,
		strategy: qs,
		closed:   eventloop.NewFuture[struct{}](),
		state:    Waiting,
		ready:    make(chan struct{}),
	}
	src.Start().Then(func(_ struct{}, err error) {
		if err != nil {
			s.fail(err)
			return
		}
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		s.pullIfNeeded()
	})
	return s
}

func (s *ReadableStream[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the error that moved the stream to Errored, if any.
func (s *ReadableStream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// QueueSize is the summed strategy size of the buffered chunks.
func (s *ReadableStream[T]) QueueSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueSize
}

// Ready is closed once the stream leaves the waiting state. Each waiting
// period gets a fresh channel, so callers re-fetch it after every wakeup.
func (s *ReadableStream[T]) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Closed resolves when the stream closes and rejects when it errors.
func (s *ReadableStream[T]) Closed() *eventloop.Future[struct{}] {
	return s.closed
}

// Read removes the next buffered chunk.
func (s *ReadableStream[T]) Read() (T, error) {
	var zero T
	s.mu.Lock()
	if s.state != Readable {
		st := s.state
		s.mu.Unlock()
		return zero, fmt.Errorf("%w (state %s)", ErrNotReadable, st)
	}
	q := s.queue[0]
	s.queue[0] = queued[T]{}
	s.queue = s.queue[1:]
	s.queueSize -= q.size

	nowClosed := false
	if len(s.queue) == 0 {
		s.queue = nil
		s.queueSize = 0
		if s.draining {
			s.state = Closed
			nowClosed = true
		} else {
			s.state = Waiting
			s.ready = make(chan struct{})
		}
	}
	s.mu.Unlock()

	if nowClosed {
		s.closed.Resolve(struct{}{})
	} else {
		s.pullIfNeeded()
	}
	return q.chunk, nil
}

// Cancel discards buffered chunks, closes the stream and forwards reason to
// the source when it implements Canceler.
func (s *ReadableStream[T]) Cancel(reason error) *eventloop.Future[struct{}] {
	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		return eventloop.Resolved(struct{}{})
	case Errored:
		err := s.err
		s.mu.Unlock()
		return eventloop.Rejected[struct{}](err)
	}
	s.leaveWaitingLocked()
	s.state = Closed
	s.queue = nil
	s.queueSize = 0
	s.mu.Unlock()

	s.closed.Resolve(struct{}{})
	if c, ok := s.src.(Canceler); ok {
		return c.Cancel(reason)
	}
	return eventloop.Resolved(struct{}{})
}

func (s *ReadableStream[T]) leaveWaitingLocked() {
	if s.state == Waiting {
		close(s.ready)
	}
}

func (s *ReadableStream[T]) shouldPullLocked() bool {
	if !s.started || s.pulling || s.draining {
		return false
	}
	if s.state != Waiting && s.state != Readable {
		return false
	}
	return !s.strategy.ShouldApplyBackpressure(s.queueSize)
}

// pullIfNeeded pulls until backpressure applies or a pull goes async. Pulls
// that complete synchronously are iterated here instead of recursing through
// enqueue.
func (s *ReadableStream[T]) pullIfNeeded() {
	s.mu.Lock()
	if s.inPullLoop {
		s.pullRequested = true
		s.mu.Unlock()
		return
	}
	s.inPullLoop = true
	for {
		s.pullRequested = false
		if !s.shouldPullLocked() {
			break
		}
		s.pulling = true
		s.mu.Unlock()
		s.src.Pull(s.enqueue, s.finish, s.fail)
		s.mu.Lock()
		if !s.pullRequested {
			break
		}
	}
	s.inPullLoop = false
	s.mu.Unlock()
}

func (s *ReadableStream[T]) enqueue(chunk T) {
	s.mu.Lock()
	s.pulling = false
	if s.state == Closed || s.state == Errored || s.draining {
		s.mu.Unlock()
		return
	}
	size := s.strategy.Size(chunk)
	if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
		s.mu.Unlock()
		s.fail(fmt.Errorf("%w: %v", ErrInvalidSize, size))
		return
	}
	s.queue = append(s.queue, queued[T]{chunk: chunk, size: size})
	s.queueSize += size
	s.leaveWaitingLocked()
	s.state = Readable
	s.mu.Unlock()

	s.pullIfNeeded()
}

func (s *ReadableStream[T]) finish() {
	s.mu.Lock()
	s.pulling = false
	if s.state == Closed || s.state == Errored {
		s.mu.Unlock()
		return
	}
	if len(s.queue) > 0 {
		s.draining = true
		s.mu.Unlock()
		return
	}
	s.leaveWaitingLocked()
	s.state = Closed
	s.mu.Unlock()

	s.closed.Resolve(struct{}{})
}

func (s *ReadableStream[T]) fail(err error) {
	s.mu.Lock()
	s.pulling = false
	if s.state == Closed || s.state == Errored {
		s.mu.Unlock()
		return
	}
	s.leaveWaitingLocked()
	s.state = Errored
	s.err = err
	s.queue = nil
	s.queueSize = 0
	s.mu.Unlock()

	s.closed.Reject(err)
}
