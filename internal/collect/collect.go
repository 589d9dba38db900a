// Package collect drains readable streams into slices.
package collect

import (
	"context"
	"fmt"

	"stream-gate/internal/eventloop"
	"stream-gate/internal/stream"
)

// Readable is the read surface Drain needs from a stream.
type Readable[T any] interface {
	State() stream.State
	Read() (T, error)
	Ready() <-chan struct{}
	Closed() *eventloop.Future[struct{}]
}

// Drain reads every chunk until the stream closes and returns them in
// order. An errored stream fails the drain with the stream's error.
func Drain[T any](ctx context.Context, r Readable[T]) ([]T, error) {
	var chunks []T
	for {
		switch st := r.State(); st {
		case stream.Readable:
			for r.State() == stream.Readable {
				chunk, err := r.Read()
				if err != nil {
					// Lost a race with a state change; re-check.
					break
				}
				chunks = append(chunks, chunk)
			}
		case stream.Waiting:
			select {
			case <-r.Ready():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case stream.Closed:
			return chunks, nil
		case stream.Errored:
			_, err := r.Closed().Wait(ctx)
			if err == nil {
				err = fmt.Errorf("collect: stream errored")
			}
			return nil, err
		default:
			return nil, fmt.Errorf("collect: unexpected stream state %s", st)
		}
	}
}

// DrainAsync runs Drain on its own goroutine and hands back the eventual
// result.
func DrainAsync[T any](ctx context.Context, r Readable[T]) *eventloop.Future[[]T] {
	f := eventloop.NewFuture[[]T]()
	go func() {
		chunks, err := Drain(ctx, r)
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(chunks)
	}()
	return f
}
