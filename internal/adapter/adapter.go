// Package adapter bridges a pull source into a readable stream's start/pull
// protocol.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stream-gate/internal/audit"
	"stream-gate/internal/eventloop"
	"stream-gate/internal/source"
	"stream-gate/internal/stream"
)

// Journal receives one record per stream lifecycle step. *audit.Store
// satisfies it.
type Journal interface {
	Write(ctx context.Context, r audit.Record) error
}

type options struct {
	journal  Journal
	name     string
	streamID string
	logger   *slog.Logger
}

type Option func(*options)

// WithJournal records start/enqueue/finish/error/cancel steps to j.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithName labels the source in logs and journal records.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithStreamID overrides the generated stream id.
func WithStreamID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.streamID = id
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Adapter owns one pull source and exposes it as a stream.UnderlyingSource.
// It keeps no buffer of its own and relies on the host stream never having
// two pulls in flight.
type Adapter[T any] struct {
	src  source.PullSource[T]
	opts options
	seq  atomic.Int64
}

func New[T any](src source.PullSource[T], opts ...Option) *Adapter[T] {
	o := options{
		name:     "source",
		streamID: uuid.NewString(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("stream", o.streamID, "source", o.name)
	return &Adapter[T]{src: src, opts: o}
}

// NewStream builds a readable stream over a new adapter for src.
func NewStream[T any](src source.PullSource[T], qs stream.QueuingStrategy, opts ...Option) (*stream.ReadableStream[T], *Adapter[T]) {
	a := New(src, opts...)
	return stream.New[T](a, qs), a
}

// Sequential is NewStream over a fresh source.Sequential.
func Sequential(limit int, exec eventloop.Executor, qs stream.QueuingStrategy, opts ...Option) (*stream.ReadableStream[int], *source.Sequential) {
	src := source.NewSequential(limit, exec)
	opts = append([]Option{WithName("sequential")}, opts...)
	s, _ := NewStream[int](src, qs, opts...)
	return s, src
}

func (a *Adapter[T]) Source() source.PullSource[T] { return a.src }

func (a *Adapter[T]) StreamID() string { return a.opts.streamID }

// Start opens the source.
func (a *Adapter[T]) Start() *eventloop.Future[struct{}] {
	out := eventloop.NewFuture[struct{}]()
	a.src.Open().Then(func(_ struct{}, err error) {
		if err != nil {
			a.record(audit.EventError, "", err)
			out.Reject(err)
			return
		}
		a.record(audit.EventStart, "", nil)
		out.Resolve(struct{}{})
	})
	return out
}

// Pull reads one chunk and reports it through exactly one of enqueue, finish
// or fail. Exhaustion closes the source before finish is called.
func (a *Adapter[T]) Pull(enqueue func(T), finish func(), fail func(error)) {
	a.src.Read().Then(func(r source.ReadResult[T], err error) {
		if err != nil {
			a.record(audit.EventError, "", err)
			fail(err)
			return
		}
		if r.Done {
			a.src.Close().Then(func(_ struct{}, err error) {
				if err != nil {
					a.record(audit.EventError, "", err)
					fail(err)
					return
				}
				a.record(audit.EventFinish, "", nil)
				finish()
			})
			return
		}
		a.record(audit.EventEnqueue, fmt.Sprint(r.Chunk), nil)
		enqueue(r.Chunk)
	})
}

// Cancel closes the source on behalf of a canceled stream.
func (a *Adapter[T]) Cancel(reason error) *eventloop.Future[struct{}] {
	a.record(audit.EventCancel, "", reason)
	return a.src.Close()
}

func (a *Adapter[T]) record(event audit.Event, chunk string, err error) {
	seq := int(a.seq.Add(1) - 1)
	if err != nil {
		a.opts.logger.Debug("stream event", "event", event, "seq", seq, "err", err)
	} else {
		a.opts.logger.Debug("stream event", "event", event, "seq", seq, "chunk", chunk)
	}
	if a.opts.journal == nil {
		return
	}
	r := audit.Record{
		Timestamp: time.Now(),
		StreamID:  a.opts.streamID,
		Source:    a.opts.name,
		Event:     event,
		Seq:       seq,
		Chunk:     chunk,
	}
	if err != nil {
		r.Error = err.Error()
	}
	if werr := a.opts.journal.Write(context.Background(), r); werr != nil {
		a.opts.logger.Warn("journal write failed", "event", event, "err", werr)
	}
}
