// Package source holds the chunk producers that feed a readable stream.
//
// Pull sources (Sequential, Transcript, and the remote source in package
// remote) yield one chunk per Read under the caller's pacing. Each lifecycle
// operation returns an eventual result whose continuation runs on the
// source's executor: immediately for eventloop.Immediate, on a later turn for
// an eventloop.Loop.
//
// Push is the odd one out: it emits chunks on its own timer through the
// OnData/OnEnd callbacks and is never pulled.
package source

import "stream-gate/internal/eventloop"

// ReadResult is the outcome of one Read: a chunk, or exhaustion when Done.
type ReadResult[T any] struct {
	Chunk T
	Done  bool
}

// PullSource is a producer with an explicit open/read/close lifecycle.
// Callers must not issue a Read while a previous Read is still pending.
type PullSource[T any] interface {
	Open() *eventloop.Future[struct{}]
	Read() *eventloop.Future[ReadResult[T]]
	Close() *eventloop.Future[struct{}]
}

type mapped[T, U any] struct {
	src PullSource[T]
	fn  func(T) U
}

// Map converts the chunks of src with fn. Open and Close pass through.
func Map[T, U any](src PullSource[T], fn func(T) U) PullSource[U] {
	return &mapped[T, U]{src: src, fn: fn}
}

func (m *mapped[T, U]) Open() *eventloop.Future[struct{}]  { return m.src.Open() }
func (m *mapped[T, U]) Close() *eventloop.Future[struct{}] { return m.src.Close() }

func (m *mapped[T, U]) Read() *eventloop.Future[ReadResult[U]] {
	out := eventloop.NewFuture[ReadResult[U]]()
	m.src.Read().Then(func(r ReadResult[T], err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		if r.Done {
			out.Resolve(ReadResult[U]{Done: true})
			return
		}
		out.Resolve(ReadResult[U]{Chunk: m.fn(r.Chunk)})
	})
	return out
}
