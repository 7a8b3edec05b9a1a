package replication

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/metrics"
	pb "github.com/alpacahq/colstore/proto"
	"github.com/alpacahq/colstore/utils/log"
)

// ColumnSource resolves the columns a master serves.
type ColumnSource interface {
	// Names returns the names of the columns matching a glob pattern.
	Names(pattern string) ([]string, error)
	// Acquire returns an existing column for exclusive use until release is
	// called.
	Acquire(name string) (c *column.VarColumn, release func(), err error)
}

// GRPCReplicationServer is the master side of replication. It answers each
// replica request with one delta of the requested column.
type GRPCReplicationServer struct {
	source ColumnSource
	// ChunkSize caps the payload of a data frame.
	ChunkSize int
	// MaxDeltaBytes caps each tail of one delta.
	MaxDeltaBytes int64
}

// NewGRPCReplicationServer returns a server for the columns of source.
func NewGRPCReplicationServer(source ColumnSource) *GRPCReplicationServer {
	return &GRPCReplicationServer{
		source:        source,
		ChunkSize:     DefaultChunkSize,
		MaxDeltaBytes: maxDeltaBytes,
	}
}

// NewGRPCServer returns a gRPC server carrying the Replication service.
func NewGRPCServer(rs *GRPCReplicationServer, compress bool, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(pb.NewCodec(compress)))
	s := grpc.NewServer(opts...)
	pb.RegisterReplicationServer(s, rs)
	return s
}

// Sync serves requests on one stream until the replica closes it.
func (rs *GRPCReplicationServer) Sync(stream pb.ReplicationSyncServer) error {
	clientAddr := "unknown"
	if p, ok := peer.FromContext(stream.Context()); ok {
		clientAddr = p.Addr.String()
	}
	for {
		var req SyncRequest
		err := recvMessage(stream, pb.FrameRequest, &req)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to receive a request from %s", clientAddr)
		}
		if req.List {
			err = rs.list(stream, &req)
		} else {
			err = rs.serve(stream, &req)
		}
		if err != nil {
			log.Error("failed to serve replica %s: %v", clientAddr, err)
			return err
		}
	}
}

func (rs *GRPCReplicationServer) list(stream pb.ReplicationSyncServer, req *SyncRequest) error {
	var resp SyncResponse
	names, err := rs.source.Names(req.Column)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.Columns = names
	return sendMessage(stream, pb.FrameResponse, &resp)
}

// serve answers one request. Failures negotiating the delta are reported to
// the replica; only stream failures end the stream.
func (rs *GRPCReplicationServer) serve(stream pb.ReplicationSyncServer, req *SyncRequest) error {
	start := time.Now()
	c, release, err := rs.source.Acquire(req.Column)
	if err != nil {
		return rs.reject(stream, req, err)
	}
	defer release()

	p := NewProducer(c)
	p.ChunkSize = rs.ChunkSize
	p.MaxDeltaBytes = rs.MaxDeltaBytes
	d, err := p.Configure(req.Rows, req.DataSize)
	if err != nil {
		return rs.reject(stream, req, err)
	}
	resp := SyncResponse{
		Rows:       d.To,
		DataSize:   d.DataEnd,
		HasContent: d.HasContent(),
		DeltaBytes: d.Size(),
	}
	if err := sendMessage(stream, pb.FrameResponse, &resp); err != nil {
		return err
	}
	if !d.HasContent() {
		return nil
	}
	n, err := d.WriteTo(NewStreamChannel(stream))
	metrics.DeltaBytesSentTotal.Add(float64(n))
	if err != nil {
		metrics.ReplicationExchangesTotal.WithLabelValues("master", "error").Inc()
		return errors.Wrapf(err, "failed to stream %s rows [%d, %d)", req.Column, d.From, d.To)
	}
	metrics.ReplicationExchangesTotal.WithLabelValues("master", "ok").Inc()
	metrics.ReplicationExchangeDuration.WithLabelValues("master").Observe(time.Since(start).Seconds())
	log.Debug("sent %s rows [%d, %d) in %d bytes", req.Column, d.From, d.To, n)
	return nil
}

func (rs *GRPCReplicationServer) reject(stream pb.ReplicationSyncServer, req *SyncRequest, cause error) error {
	log.Warn("rejecting sync of %s at %d rows: %v", req.Column, req.Rows, cause)
	metrics.ReplicationExchangesTotal.WithLabelValues("master", "rejected").Inc()
	return sendMessage(stream, pb.FrameResponse, &SyncResponse{Error: cause.Error()})
}
