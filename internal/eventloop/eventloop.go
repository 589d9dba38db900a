// Package eventloop provides the execution capabilities stream sources run
// on: an immediate executor, a single-goroutine deferred loop, periodic task
// handles and the Future type used for eventual results.
package eventloop

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Post once the loop has shut down.
var ErrClosed = errors.New("eventloop: closed")

// minInterval bounds how fast a periodic task may tick.
const minInterval = time.Millisecond

// Executor decides when a task runs relative to the caller. Run must
// eventually execute every task it accepts; futures are settled through it.
type Executor interface {
	Run(task func())
}

// Immediate runs every task synchronously, in the calling turn.
type Immediate struct{}

func (Immediate) Run(task func()) { task() }

// Loop runs tasks one at a time, in FIFO order, on a single goroutine.
// A task handed to Run never executes in the caller's turn, which makes
// Loop the deferred counterpart of Immediate (a zero-delay timer queue).
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closing bool
	exited  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewLoop starts a loop goroutine. Call Close to stop it.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			if l.closing {
				l.exited = true
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
	}
}

// Run schedules task for a later turn. Once the loop has exited, task runs
// in the caller's turn instead, so futures settled through a closed loop
// still settle.
func (l *Loop) Run(task func()) {
	if err := l.Post(task); err != nil {
		task()
	}
}

// Post is Run with an error report for a loop that has already exited.
func (l *Loop) Post(task func()) error {
	l.mu.Lock()
	if l.exited {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	l.signal()
	return nil
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close lets the queue drain, including tasks enqueued by running tasks,
// then stops the loop goroutine and waits for it to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}

// Periodic is a handle on a repeating task started by Every.
type Periodic struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Every runs task on exec once per interval until Stop is called. Ticks
// that were already handed to exec when Stop is called are skipped.
func Every(exec Executor, interval time.Duration, task func()) *Periodic {
	if interval < minInterval {
		interval = minInterval
	}
	p := &Periodic{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				exec.Run(func() {
					if p.Stopped() {
						return
					}
					task()
				})
			}
		}
	}()
	return p
}

// Stop cancels the periodic task. It is safe to call more than once and
// from inside the task itself.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Stopped reports whether Stop has been called.
func (p *Periodic) Stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Done is closed once the ticker goroutine has exited.
func (p *Periodic) Done() <-chan struct{} {
	return p.done
}
