package replication

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/alpacahq/colstore/metrics"
	pb "github.com/alpacahq/colstore/proto"
	"github.com/alpacahq/colstore/utils/errs"
	"github.com/alpacahq/colstore/utils/log"
)

// ErrRejected is returned when the master refuses a request, e.g. for an
// unknown column or a replica that is ahead of the master.
var ErrRejected = errors.New("replication request rejected by master")

// GRPCReplicationClient is the replica side of replication.
type GRPCReplicationClient struct {
	Client     pb.ReplicationClient
	clientConn *grpc.ClientConn
}

// NewGRPCReplicationClient returns a client issuing requests through client.
func NewGRPCReplicationClient(client pb.ReplicationClient) *GRPCReplicationClient {
	return &GRPCReplicationClient{Client: client}
}

// Connect dials the master. A nil creds disables transport security.
func Connect(ctx context.Context, masterHost string, compress bool, creds credentials.TransportCredentials,
	opts ...grpc.DialOption,
) (*GRPCReplicationClient, error) {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts = append(opts,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(pb.NewCodec(compress))),
	)
	conn, err := grpc.DialContext(ctx, masterHost, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect Master server")
	}
	return &GRPCReplicationClient{
		Client:     pb.NewReplicationClient(conn),
		clientConn: conn,
	}, nil
}

// ListColumns returns the names of the master's columns matching pattern.
func (rc *GRPCReplicationClient) ListColumns(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := rc.Client.Sync(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open a sync stream")
	}

	if err := sendMessage(stream, pb.FrameRequest, &SyncRequest{Column: pattern, List: true}); err != nil {
		return nil, errors.Wrap(err, "failed to send a list request")
	}
	var resp SyncResponse
	if err := recvResponse(stream, &resp); err != nil {
		return nil, err
	}
	finish(stream)
	return resp.Columns, nil
}

// SyncColumn runs one exchange for the named column, pulling deltas until the
// master has nothing more, then commits the replica. It returns the number of
// delta bytes applied. On failure nothing is committed.
func (rc *GRPCReplicationClient) SyncColumn(ctx context.Context, name string, cs *Consumer) (n int64, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			cs.Reset()
		}
		metrics.ReplicationExchangesTotal.WithLabelValues("replica", result).Inc()
		metrics.ReplicationExchangeDuration.WithLabelValues("replica").Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := rc.Client.Sync(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open a sync stream")
	}

	cs.Reset()
	wm := cs.Watermark()
	ch := NewStreamChannel(stream)
	for {
		req := SyncRequest{Column: name, Rows: wm.Rows, DataSize: wm.DataSize}
		if err := sendMessage(stream, pb.FrameRequest, &req); err != nil {
			return n, errors.Wrapf(err, "failed to request %s", name)
		}
		var resp SyncResponse
		if err := recvResponse(stream, &resp); err != nil {
			return n, err
		}
		if !resp.HasContent {
			break
		}
		m, err := cs.ReadFrom(ch)
		n += m
		metrics.DeltaBytesReceivedTotal.Add(float64(m))
		if err != nil {
			return n, errors.Wrapf(err, "failed to apply a delta of %s", name)
		}
		if m != resp.DeltaBytes || ch.Buffered() != 0 {
			return n, errs.New(errs.ErrProtocol, "replication.syncColumn",
				"delta of %s announced %d bytes, carried %d", name, resp.DeltaBytes, m+int64(ch.Buffered()))
		}
		wm.Rows, wm.DataSize = resp.Rows, resp.DataSize
	}
	finish(stream)
	rows := cs.Applied()
	if err := cs.Commit(); err != nil {
		return n, errors.Wrapf(err, "failed to commit %s", name)
	}
	if rows > 0 {
		metrics.RowsReplicatedTotal.Add(float64(rows))
		log.Debug("replicated %d rows of %s in %d bytes", rows, name, n)
	}
	return n, nil
}

func recvResponse(stream pb.ReplicationSyncClient, resp *SyncResponse) error {
	if err := recvMessage(stream, pb.FrameResponse, resp); err != nil {
		return errors.Wrap(err, "failed to receive a response")
	}
	if resp.Error != "" {
		return errors.Wrap(ErrRejected, resp.Error)
	}
	return nil
}

// finish half-closes the stream and waits for the master to end it.
func finish(stream pb.ReplicationSyncClient) {
	if err := stream.CloseSend(); err != nil {
		log.Warn("failed to close gRPC stream: %v", err)
		return
	}
	for {
		if _, err := stream.Recv(); err != nil {
			return
		}
	}
}

// Close closes the connection opened by Connect.
func (rc *GRPCReplicationClient) Close() error {
	if rc.clientConn == nil {
		return nil
	}
	if err := rc.clientConn.Close(); err != nil {
		return errors.Wrap(err, "failed to close gRPC connection")
	}
	return nil
}
