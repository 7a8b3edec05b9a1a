package mock

import (
	"context"
	"io"

	"google.golang.org/grpc/metadata"

	pb "github.com/alpacahq/colstore/proto"
)

// SyncStreamClient replays Responses in order and records every sent frame.
// Once the responses run out, Recv returns Error, or io.EOF if Error is nil.
type SyncStreamClient struct {
	Responses []*pb.Frame
	Error     error
	SendError error
	Sent      []*pb.Frame
	Closed    bool
}

func (m *SyncStreamClient) Send(f *pb.Frame) error {
	if m.SendError != nil {
		return m.SendError
	}
	m.Sent = append(m.Sent, &pb.Frame{Kind: f.Kind, Payload: append([]byte(nil), f.Payload...)})
	return nil
}

func (m *SyncStreamClient) Recv() (*pb.Frame, error) {
	if len(m.Responses) == 0 {
		if m.Error != nil {
			return nil, m.Error
		}
		return nil, io.EOF
	}
	f := m.Responses[0]
	m.Responses = m.Responses[1:]
	return f, nil
}

func (m *SyncStreamClient) Header() (metadata.MD, error) { return nil, nil }
func (m *SyncStreamClient) Trailer() metadata.MD         { return nil }
func (m *SyncStreamClient) CloseSend() error {
	m.Closed = true
	return nil
}
func (m *SyncStreamClient) Context() context.Context      { return context.Background() }
func (m *SyncStreamClient) SendMsg(msg interface{}) error { return nil }
func (m *SyncStreamClient) RecvMsg(msg interface{}) error { return nil }
