package source

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"stream-gate/internal/eventloop"
)

// ErrNotStarted is returned by ReadStop on a push source that was never
// started.
var ErrNotStarted = errors.New("source: can't pause reading an unstarted source")

const (
	DefaultPushInterval  = 23 * time.Millisecond
	DefaultPushChunkSize = 128
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// PushOption configures a Push source.
type PushOption func(*Push)

// WithExecutor runs ticks on exec instead of the ticker goroutine.
func WithExecutor(exec eventloop.Executor) PushOption {
	return func(p *Push) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// WithInterval sets the tick period.
func WithInterval(d time.Duration) PushOption {
	return func(p *Push) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithChunkSize sets the length of each emitted chunk.
func WithChunkSize(n int) PushOption {
	return func(p *Push) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithSeed makes chunk contents deterministic.
func WithSeed(seed uint64) PushOption {
	return func(p *Push) {
		r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		p.intn = r.IntN
	}
}

// Push emits a random alphanumeric chunk through OnData on every tick until
// toPush chunks were emitted, then calls OnEnd once. A toPush of zero or less
// never ends. Set OnData and OnEnd before calling ReadStart.
type Push struct {
	OnData func(chunk string)
	OnEnd  func()

	exec      eventloop.Executor
	interval  time.Duration
	chunkSize int
	intn      func(int) int

	mu      sync.Mutex
	toPush  int
	pushed  int
	started bool
	paused  bool
	closed  bool
	ticker  *eventloop.Periodic
}

// NewPush returns an idle push source; nothing is emitted until ReadStart.
func NewPush(toPush int, opts ...PushOption) *Push {
	p := &Push{
		exec:      eventloop.Immediate{},
		interval:  DefaultPushInterval,
		chunkSize: DefaultPushChunkSize,
		intn:      rand.IntN,
		toPush:    toPush,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReadStart starts emission, or resumes it after ReadStop. It does nothing
// once the source has ended.
func (p *Push) ReadStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !p.started || p.paused {
		p.ticker = eventloop.Every(p.exec, p.interval, p.tick)
		p.started = true
		p.paused = false
	}
}

// ReadStop pauses emission. Pausing a paused source is a no-op; pausing a
// source that never started returns ErrNotStarted.
func (p *Push) ReadStop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return nil
	}
	if !p.started {
		return ErrNotStarted
	}
	p.paused = true
	p.ticker.Stop()
	return nil
}

func (p *Push) tick() {
	p.mu.Lock()
	if p.paused || p.closed {
		p.mu.Unlock()
		return
	}
	p.pushed++
	if p.toPush > 0 && p.pushed > p.toPush {
		p.ticker.Stop()
		p.closed = true
		onEnd := p.OnEnd
		p.mu.Unlock()
		if onEnd != nil {
			onEnd()
		}
		return
	}
	chunk := p.randomChunk()
	onData := p.OnData
	p.mu.Unlock()
	if onData != nil {
		onData(chunk)
	}
}

func (p *Push) randomChunk() string {
	b := make([]byte, p.chunkSize)
	for i := range b {
		b[i] = alphabet[p.intn(len(alphabet))]
	}
	return string(b)
}

// Pushed counts ticks, including the final one that ended the source.
func (p *Push) Pushed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushed
}

func (p *Push) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Push) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Push) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
