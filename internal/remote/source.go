package remote

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"stream-gate/internal/eventloop"
	"stream-gate/internal/source"
)

type reply struct {
	op      op
	payload []byte
}

// Source is a source.PullSource[[]byte] served by a PullService on the far
// side of a tunnel. Each operation is one request/reply round trip performed
// off the caller's turn; its future settles through the executor.
type Source struct {
	exec   eventloop.Executor
	tunnel Pull_TunnelClient
	conn   *grpc.ClientConn

	// mu keeps request/reply pairs from interleaving on the tunnel.
	mu sync.Mutex

	closeMu sync.Mutex
	closing *eventloop.Future[struct{}]
}

var _ source.PullSource[[]byte] = (*Source)(nil)

// Dial connects to a PullService at addr and opens a tunnel. ctx bounds the
// lifetime of the tunnel, not just the dial.
func Dial(ctx context.Context, addr string, exec eventloop.Executor, opts ...grpc.DialOption) (*Source, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(FrameCodec)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	tunnel, err := NewPullClient(conn).Tunnel(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open tunnel: %w", err)
	}
	s := NewSource(tunnel, exec)
	s.conn = conn
	return s, nil
}

// NewSource wraps an already open tunnel.
func NewSource(tunnel Pull_TunnelClient, exec eventloop.Executor) *Source {
	if exec == nil {
		exec = eventloop.Immediate{}
	}
	return &Source{exec: exec, tunnel: tunnel}
}

func (s *Source) roundTrip(o op) (reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tunnel.Send(encodeFrame(o, nil)); err != nil {
		return reply{}, fmt.Errorf("send %s: %w", o, err)
	}
	b, err := s.tunnel.Recv()
	if err != nil {
		return reply{}, fmt.Errorf("recv %s: %w", o, err)
	}
	rop, payload, err := decodeFrame(b)
	if err != nil {
		return reply{}, err
	}
	if rop == opErr {
		return reply{}, &Error{Op: o.String(), Msg: string(payload)}
	}
	return reply{op: rop, payload: payload}, nil
}

func settle[T any](exec eventloop.Executor, f *eventloop.Future[T], v T, err error) {
	exec.Run(func() {
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	})
}

func (s *Source) Open() *eventloop.Future[struct{}] {
	f := eventloop.NewFuture[struct{}]()
	go func() {
		r, err := s.roundTrip(opOpen)
		if err == nil && r.op != opOK {
			err = fmt.Errorf("open: unexpected reply %s", r.op)
		}
		settle(s.exec, f, struct{}{}, err)
	}()
	return f
}

func (s *Source) Read() *eventloop.Future[source.ReadResult[[]byte]] {
	f := eventloop.NewFuture[source.ReadResult[[]byte]]()
	go func() {
		r, err := s.roundTrip(opRead)
		var res source.ReadResult[[]byte]
		if err == nil {
			switch r.op {
			case opData:
				res.Chunk = r.payload
			case opEnd:
				res.Done = true
			default:
				err = fmt.Errorf("read: unexpected reply %s", r.op)
			}
		}
		settle(s.exec, f, res, err)
	}()
	return f
}

// Close closes the remote source, then the tunnel and, for a dialed Source,
// the connection. Later calls return the first call's future.
func (s *Source) Close() *eventloop.Future[struct{}] {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closing != nil {
		return s.closing
	}
	f := eventloop.NewFuture[struct{}]()
	s.closing = f
	go func() {
		r, err := s.roundTrip(opClose)
		if err == nil && r.op != opOK {
			err = fmt.Errorf("close: unexpected reply %s", r.op)
		}
		_ = s.tunnel.CloseSend()
		if s.conn != nil {
			if cerr := s.conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		settle(s.exec, f, struct{}{}, err)
	}()
	return f
}
