package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// frameCodec hands tunnel frames to gRPC as they are. Both ends force it, so
// the service needs no .proto file.
type frameCodec struct{}

func (frameCodec) Name() string { return "streamgate-frame" }

func (frameCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return nil, fmt.Errorf("frame codec: cannot marshal %T", v)
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	dst, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("frame codec: cannot unmarshal into %T", v)
	}
	*dst = append((*dst)[:0], data...)
	return nil
}

// FrameCodec must be forced on the server (grpc.ForceServerCodec) and is
// forced on every client call by NewPullClient.
var FrameCodec = frameCodec{}

const (
	PullServiceName  = "streamgate.v1.Pull"
	PullTunnelMethod = "/" + PullServiceName + "/Tunnel"
)

// One bidi stream per source: each request frame gets exactly one reply.
var tunnelDesc = grpc.StreamDesc{
	StreamName:    "Tunnel",
	ServerStreams: true,
	ClientStreams: true,
}

// PullServer is implemented by PullService.
type PullServer interface {
	Tunnel(Pull_TunnelServer) error
}

// Pull_TunnelServer is the server half of a tunnel.
type Pull_TunnelServer interface {
	Send([]byte) error
	Recv() ([]byte, error)
	grpc.ServerStream
}

// Pull_TunnelClient is the client half of a tunnel.
type Pull_TunnelClient interface {
	Send([]byte) error
	Recv() ([]byte, error)
	grpc.ClientStream
}

// RegisterPullServer exposes srv as streamgate.v1.Pull on s.
func RegisterPullServer(s *grpc.Server, srv PullServer) {
	desc := tunnelDesc
	desc.Handler = func(impl any, ss grpc.ServerStream) error {
		return impl.(PullServer).Tunnel(serverFrames{ss})
	}
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: PullServiceName,
		HandlerType: (*PullServer)(nil),
		Streams:     []grpc.StreamDesc{desc},
	}, srv)
}

// PullClient opens tunnels on a client connection.
type PullClient struct {
	cc grpc.ClientConnInterface
}

func NewPullClient(cc grpc.ClientConnInterface) *PullClient { return &PullClient{cc: cc} }

func (c *PullClient) Tunnel(ctx context.Context, opts ...grpc.CallOption) (Pull_TunnelClient, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(FrameCodec)}, opts...)
	cs, err := c.cc.NewStream(ctx, &tunnelDesc, PullTunnelMethod, opts...)
	if err != nil {
		return nil, err
	}
	return clientFrames{cs}, nil
}

type serverFrames struct{ grpc.ServerStream }

func (s serverFrames) Send(b []byte) error   { return s.SendMsg(b) }
func (s serverFrames) Recv() ([]byte, error) { return recvFrame(s.RecvMsg) }

type clientFrames struct{ grpc.ClientStream }

func (c clientFrames) Send(b []byte) error   { return c.SendMsg(b) }
func (c clientFrames) Recv() ([]byte, error) { return recvFrame(c.RecvMsg) }

func recvFrame(recv func(any) error) ([]byte, error) {
	var b []byte
	if err := recv(&b); err != nil {
		return nil, err
	}
	return b, nil
}
