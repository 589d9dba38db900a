package source

import (
	"sync"

	"stream-gate/internal/eventloop"
)

// Sequential yields the integers 1..limit, one per Read, and then signals
// exhaustion. The chunk value is the read position itself, which makes
// ordering and completeness easy to check downstream.
//
// Sequential never reports a read error; the error slot of the Read future
// exists for sources that can fail.
type Sequential struct {
	exec eventloop.Executor

	mu       sync.Mutex
	position int
	limit    int
	opened   bool
	closed   bool
}

// NewSequential returns a source producing limit chunks on exec. A nil exec
// means eventloop.Immediate. Negative limits are treated as zero.
func NewSequential(limit int, exec eventloop.Executor) *Sequential {
	if exec == nil {
		exec = eventloop.Immediate{}
	}
	if limit < 0 {
		limit = 0
	}
	return &Sequential{exec: exec, limit: limit}
}

// Open marks the source opened. Opening twice simply re-runs the setup.
func (s *Sequential) Open() *eventloop.Future[struct{}] {
	f := eventloop.NewFuture[struct{}]()
	s.exec.Run(func() {
		s.mu.Lock()
		s.opened = true
		s.mu.Unlock()
		f.Resolve(struct{}{})
	})
	return f
}

// Read advances the position by one and yields it, or reports Done once the
// position passes the limit.
func (s *Sequential) Read() *eventloop.Future[ReadResult[int]] {
	f := eventloop.NewFuture[ReadResult[int]]()
	s.exec.Run(func() {
		s.mu.Lock()
		s.position++
		pos := s.position
		s.mu.Unlock()

		if pos <= s.limit {
			f.Resolve(ReadResult[int]{Chunk: pos})
			return
		}
		f.Resolve(ReadResult[int]{Done: true})
	})
	return f
}

// Close marks the source closed. Closing again leaves the position alone and
// still completes.
func (s *Sequential) Close() *eventloop.Future[struct{}] {
	f := eventloop.NewFuture[struct{}]()
	s.exec.Run(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		f.Resolve(struct{}{})
	})
	return f
}

func (s *Sequential) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Sequential) Limit() int { return s.limit }

func (s *Sequential) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *Sequential) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
