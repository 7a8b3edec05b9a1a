package replication

import (
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	pb "github.com/alpacahq/colstore/proto"
	"github.com/alpacahq/colstore/utils/errs"
)

// SyncRequest is sent by a replica to start one delta of an exchange, or to
// list the columns it may replicate.
type SyncRequest struct {
	// Column names the column to sync, or is a glob pattern when List is set.
	Column   string `msgpack:"column"`
	Rows     int64  `msgpack:"rows"`
	DataSize int64  `msgpack:"data_size"`
	List     bool   `msgpack:"list"`
}

// SyncResponse answers a SyncRequest. Rows and DataSize are the replica's
// watermark once the delta that follows has been applied.
type SyncResponse struct {
	Rows       int64    `msgpack:"rows"`
	DataSize   int64    `msgpack:"data_size"`
	HasContent bool     `msgpack:"has_content"`
	DeltaBytes int64    `msgpack:"delta_bytes"`
	Columns    []string `msgpack:"columns,omitempty"`
	Error      string   `msgpack:"error,omitempty"`
}

// frameStream is the part of either end of a Sync stream a channel needs.
type frameStream interface {
	Send(*pb.Frame) error
	Recv() (*pb.Frame, error)
}

// StreamChannel adapts a Sync stream to the byte channel a Delta writes to
// and a Consumer reads from. Each Write becomes one data frame.
type StreamChannel struct {
	s   frameStream
	buf []byte
}

// NewStreamChannel returns a channel over s.
func NewStreamChannel(s frameStream) *StreamChannel {
	return &StreamChannel{s: s}
}

func (ch *StreamChannel) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ch.s.Send(&pb.Frame{Kind: pb.FrameData, Payload: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns io.EOF when the stream ends. A frame other than data in the
// middle of a delta is a protocol error.
func (ch *StreamChannel) Read(p []byte) (int, error) {
	for len(ch.buf) == 0 {
		f, err := ch.s.Recv()
		if err != nil {
			return 0, err
		}
		if f.Kind != pb.FrameData {
			return 0, errs.New(errs.ErrProtocol, "replication.channel", "%s frame inside a delta", f.Kind)
		}
		ch.buf = f.Payload
	}
	n := copy(p, ch.buf)
	ch.buf = ch.buf[n:]
	return n, nil
}

// Buffered reports the number of received bytes not read yet.
func (ch *StreamChannel) Buffered() int { return len(ch.buf) }

func sendMessage(s frameStream, kind pb.FrameKind, v interface{}) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s frame", kind)
	}
	return s.Send(&pb.Frame{Kind: kind, Payload: b})
}

// recvMessage reads the next frame into v. io.EOF is returned unwrapped.
func recvMessage(s frameStream, kind pb.FrameKind, v interface{}) error {
	f, err := s.Recv()
	if err == io.EOF {
		return err
	}
	if err != nil {
		return errors.Wrapf(err, "failed to receive %s frame", kind)
	}
	if f.Kind != kind {
		return errs.New(errs.ErrProtocol, "replication.recv", "expected %s frame, got %s", kind, f.Kind)
	}
	if err := msgpack.Unmarshal(f.Payload, v); err != nil {
		return errs.New(errs.ErrProtocol, "replication.recv", "malformed %s frame: %v", kind, err)
	}
	return nil
}
