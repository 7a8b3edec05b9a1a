package mock

import (
	"context"

	"google.golang.org/grpc"

	pb "github.com/alpacahq/colstore/proto"
)

type ReplicationClient struct {
	StreamClient pb.ReplicationSyncClient
	Error        error
}

func (rc ReplicationClient) Sync(_ context.Context, _ ...grpc.CallOption) (pb.ReplicationSyncClient, error) {
	return rc.StreamClient, rc.Error
}
