package mock

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	pb "github.com/alpacahq/colstore/proto"
)

// SyncStreamServer feeds Requests to the server in order, then io.EOF.
// Every frame the server sends is recorded, or handed to SendFunc if set.
type SyncStreamServer struct {
	Requests []*pb.Frame
	SendFunc func(f *pb.Frame) error
	Sent     []*pb.Frame
}

type Addr struct{}

func (Addr) Network() string {
	return "tcp"
}

func (Addr) String() string {
	return "192.0.2.1:25"
}

func (m *SyncStreamServer) Send(f *pb.Frame) error {
	if m.SendFunc != nil {
		return m.SendFunc(f)
	}
	m.Sent = append(m.Sent, &pb.Frame{Kind: f.Kind, Payload: append([]byte(nil), f.Payload...)})
	return nil
}

func (m *SyncStreamServer) Recv() (*pb.Frame, error) {
	if len(m.Requests) == 0 {
		return nil, io.EOF
	}
	f := m.Requests[0]
	m.Requests = m.Requests[1:]
	return f, nil
}

func (m *SyncStreamServer) Context() context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{Addr: Addr{}})
}

// ------------.
func (m *SyncStreamServer) SetHeader(metadata.MD) error {
	return errors.New("not implemented")
}

func (m *SyncStreamServer) SendHeader(metadata.MD) error {
	return errors.New("not implemented")
}
func (m *SyncStreamServer) SetTrailer(metadata.MD) {}
func (m *SyncStreamServer) SendMsg(msg interface{}) error {
	return errors.New("not implemented")
}

func (m *SyncStreamServer) RecvMsg(msg interface{}) error {
	return errors.New("not implemented")
}

// -------------.
type ErrorSyncStreamServer struct {
	SyncStreamServer
}

func (m *ErrorSyncStreamServer) Send(*pb.Frame) error {
	return errors.New("some error")
}
