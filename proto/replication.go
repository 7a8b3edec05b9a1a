// Package proto declares the replication gRPC service. Messages are raw
// frames carried by Codec, so the service needs no generated code.
package proto

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/snappy"
	"google.golang.org/grpc"
)

// FrameKind tells the receiver how to interpret a frame's payload.
type FrameKind byte

const (
	// FrameRequest carries a msgpack SyncRequest from a replica.
	FrameRequest FrameKind = iota + 1
	// FrameResponse carries a msgpack SyncResponse from the master.
	FrameResponse
	// FrameData carries a piece of a delta stream.
	FrameData
)

func (k FrameKind) String() string {
	switch k {
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FrameData:
		return "data"
	default:
		return fmt.Sprintf("FrameKind(%d)", byte(k))
	}
}

// Frame is the only message exchanged by the Replication service.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

const (
	flagRaw    byte = 0
	flagSnappy byte = 1
	frameHead       = 2
)

// CodecName is reported to gRPC for the frame codec.
const CodecName = "colstore-frame"

// Codec marshals Frames as a flag byte, a kind byte and the payload. With
// Compress set payloads are snappy-compressed; either form is accepted on
// unmarshal, so peers need not agree on compression.
type Codec struct {
	Compress bool
}

// NewCodec returns a frame codec.
func NewCodec(compress bool) *Codec { return &Codec{Compress: compress} }

func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("codec %s cannot marshal %T", CodecName, v)
	}
	if c.Compress {
		b := make([]byte, frameHead+snappy.MaxEncodedLen(len(f.Payload)))
		b[0], b[1] = flagSnappy, byte(f.Kind)
		enc := snappy.Encode(b[frameHead:], f.Payload)
		return b[:frameHead+len(enc)], nil
	}
	b := make([]byte, frameHead+len(f.Payload))
	b[0], b[1] = flagRaw, byte(f.Kind)
	copy(b[frameHead:], f.Payload)
	return b, nil
}

func (c *Codec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("codec %s cannot unmarshal into %T", CodecName, v)
	}
	if len(data) < frameHead {
		return fmt.Errorf("short frame of %d bytes", len(data))
	}
	f.Kind = FrameKind(data[1])
	switch data[0] {
	case flagRaw:
		f.Payload = append(f.Payload[:0], data[frameHead:]...)
	case flagSnappy:
		p, err := snappy.Decode(nil, data[frameHead:])
		if err != nil {
			return fmt.Errorf("decode snappy frame: %w", err)
		}
		f.Payload = p
	default:
		return fmt.Errorf("unknown frame flag %d", data[0])
	}
	return nil
}

func (c *Codec) Name() string { return CodecName }

// ReplicationClient is the client API for the Replication service.
type ReplicationClient interface {
	Sync(ctx context.Context, opts ...grpc.CallOption) (ReplicationSyncClient, error)
}

// ReplicationSyncClient is the replica end of a Sync stream.
type ReplicationSyncClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ClientStream
}

type replicationClient struct {
	cc grpc.ClientConnInterface
}

// NewReplicationClient returns a client for the Replication service on cc.
func NewReplicationClient(cc grpc.ClientConnInterface) ReplicationClient {
	return &replicationClient{cc: cc}
}

func (c *replicationClient) Sync(ctx context.Context, opts ...grpc.CallOption) (ReplicationSyncClient, error) {
	stream, err := c.cc.NewStream(ctx, &ReplicationServiceDesc.Streams[0], "/colstore.Replication/Sync", opts...)
	if err != nil {
		return nil, err
	}
	return &replicationSyncClient{stream}, nil
}

type replicationSyncClient struct {
	grpc.ClientStream
}

func (x *replicationSyncClient) Send(m *Frame) error {
	return x.ClientStream.SendMsg(m)
}

func (x *replicationSyncClient) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ReplicationServer is the server API for the Replication service.
type ReplicationServer interface {
	Sync(ReplicationSyncServer) error
}

// ReplicationSyncServer is the master end of a Sync stream.
type ReplicationSyncServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

// RegisterReplicationServer registers srv on s.
func RegisterReplicationServer(s grpc.ServiceRegistrar, srv ReplicationServer) {
	s.RegisterService(&ReplicationServiceDesc, srv)
}

func replicationSyncHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ReplicationServer).Sync(&replicationSyncServer{stream})
}

type replicationSyncServer struct {
	grpc.ServerStream
}

func (x *replicationSyncServer) Send(m *Frame) error {
	return x.ServerStream.SendMsg(m)
}

func (x *replicationSyncServer) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ReplicationServiceDesc describes the Replication service.
var ReplicationServiceDesc = grpc.ServiceDesc{
	ServiceName: "colstore.Replication",
	HandlerType: (*ReplicationServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Sync",
			Handler:       replicationSyncHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "replication",
}
