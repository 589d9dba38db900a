package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"stream-gate/internal/acpinspect"
	"stream-gate/internal/eventloop"
)

const maxTranscriptLine = 4 << 20

var errTranscriptNotOpen = errors.New("source: transcript read before open")

// Transcript pulls ACP JSON-RPC messages, one per line, from a reader and
// yields a summary of each. Blank lines are skipped. A line that is not
// valid JSON fails the Read.
type Transcript struct {
	exec eventloop.Executor
	open func() (io.Reader, error)

	mu     sync.Mutex
	r      io.Reader
	sc     *bufio.Scanner
	line   int
	closed bool
}

// NewTranscript reads messages from r. If r is an io.Closer it is closed by
// Close.
func NewTranscript(r io.Reader, exec eventloop.Executor) *Transcript {
	return newTranscript(func() (io.Reader, error) { return r, nil }, exec)
}

// NewTranscriptFile opens path lazily, on Open.
func NewTranscriptFile(path string, exec eventloop.Executor) *Transcript {
	path = filepath.Clean(path)
	return newTranscript(func() (io.Reader, error) { return os.Open(path) }, exec)
}

func newTranscript(open func() (io.Reader, error), exec eventloop.Executor) *Transcript {
	if exec == nil {
		exec = eventloop.Immediate{}
	}
	return &Transcript{exec: exec, open: open}
}

func (t *Transcript) Open() *eventloop.Future[struct{}] {
	f := eventloop.NewFuture[struct{}]()
	t.exec.Run(func() {
		r, err := t.open()
		if err != nil {
			f.Reject(fmt.Errorf("open transcript: %w", err))
			return
		}
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxTranscriptLine)

		t.mu.Lock()
		t.r, t.sc = r, sc
		t.mu.Unlock()
		f.Resolve(struct{}{})
	})
	return f
}

func (t *Transcript) Read() *eventloop.Future[ReadResult[acpinspect.Summary]] {
	f := eventloop.NewFuture[ReadResult[acpinspect.Summary]]()
	t.exec.Run(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.sc == nil {
			f.Reject(errTranscriptNotOpen)
			return
		}
		for t.sc.Scan() {
			t.line++
			line := bytes.TrimSpace(t.sc.Bytes())
			if len(line) == 0 {
				continue
			}
			s, err := acpinspect.Decode(line)
			if err != nil {
				f.Reject(fmt.Errorf("transcript line %d: %w", t.line, err))
				return
			}
			f.Resolve(ReadResult[acpinspect.Summary]{Chunk: s})
			return
		}
		if err := t.sc.Err(); err != nil {
			f.Reject(fmt.Errorf("read transcript: %w", err))
			return
		}
		f.Resolve(ReadResult[acpinspect.Summary]{Done: true})
	})
	return f
}

func (t *Transcript) Close() *eventloop.Future[struct{}] {
	f := eventloop.NewFuture[struct{}]()
	t.exec.Run(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			f.Resolve(struct{}{})
			return
		}
		t.closed = true
		if c, ok := t.r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				f.Reject(fmt.Errorf("close transcript: %w", err))
				return
			}
		}
		f.Resolve(struct{}{})
	})
	return f
}
