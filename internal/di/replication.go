package di

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/alpacahq/colstore/replication"
	"github.com/alpacahq/colstore/utils/log"
)

func (c *Container) GetGRPCServerOptions() ([]grpc.ServerOption, error) {
	if c.gRPCServerOptions != nil {
		return c.gRPCServerOptions, nil
	}

	var opts []grpc.ServerOption
	// Enable TLS for all incoming connections if configured
	if c.cfg.Replication.TLSEnabled {
		creds, err := credentials.NewServerTLSFromFile(c.cfg.Replication.CertFile, c.cfg.Replication.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server certificates for replication:"+
				" certFile:%v, keyFile:%v, err:%w",
				c.cfg.Replication.CertFile, c.cfg.Replication.KeyFile, err)
		}
		opts = append(opts, grpc.Creds(creds))
		log.Debug("transport security is enabled on gRPC server for replication")
	}
	c.gRPCServerOptions = opts
	return opts, nil
}

// GetReplicationServer returns nil unless this instance is a replication master.
func (c *Container) GetReplicationServer() (*replication.GRPCReplicationServer, error) {
	if !c.cfg.Replication.Enabled {
		return nil, nil
	}
	if c.replicationServer != nil {
		return c.replicationServer, nil
	}
	catalogDir, err := c.GetCatalogDir()
	if err != nil {
		return nil, err
	}
	rs := replication.NewGRPCReplicationServer(catalogDir)
	if c.cfg.Replication.ChunkSize > 0 {
		rs.ChunkSize = c.cfg.Replication.ChunkSize
	}
	if c.cfg.Replication.MaxDeltaBytes > 0 {
		rs.MaxDeltaBytes = c.cfg.Replication.MaxDeltaBytes
	}
	c.replicationServer = rs
	return c.replicationServer, nil
}

func (c *Container) GetGRPCReplicationServer() (*grpc.Server, error) {
	if c.grpcReplicationServer != nil {
		return c.grpcReplicationServer, nil
	}
	rs, err := c.GetReplicationServer()
	if err != nil || rs == nil {
		return nil, err
	}
	opts, err := c.GetGRPCServerOptions()
	if err != nil {
		return nil, err
	}
	c.grpcReplicationServer = replication.NewGRPCServer(rs, c.cfg.Replication.Compress, opts...)
	return c.grpcReplicationServer, nil
}

// StartReplicationServer listens on the replication port and serves deltas in
// the background. It returns the listening address, or "" when this instance
// is not a master.
func (c *Container) StartReplicationServer() (string, error) {
	srv, err := c.GetGRPCReplicationServer()
	if err != nil || srv == nil {
		return "", err
	}

	listenPort := c.cfg.Replication.ListenPort
	lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", listenPort))
	if err != nil {
		return "", fmt.Errorf("failed to listen a port for replication. listenPort=%d:%w", listenPort, err)
	}
	go func() {
		log.Info("starting GRPC server for replication...")
		if err := srv.Serve(lis); err != nil {
			log.Error(fmt.Sprintf("failed to serve replication service:%v", err))
		}
	}()
	log.Info("initialized replication master")
	return lis.Addr().String(), nil
}

func (c *Container) GetReplicationClient(ctx context.Context) (*replication.GRPCReplicationClient, error) {
	if c.cfg.Replication.MasterHost == "" {
		return nil, nil
	}
	if c.replicationClient != nil {
		return c.replicationClient, nil
	}

	var creds credentials.TransportCredentials
	if c.cfg.Replication.TLSEnabled {
		var err error
		creds, err = credentials.NewClientTLSFromFile(c.cfg.Replication.CertFile, "")
		if err != nil {
			return nil, errors.Wrap(err, "failed to load certFile for replication")
		}
		log.Debug("transport security is enabled on gRPC client for replication")
	}

	cli, err := replication.Connect(ctx, c.cfg.Replication.MasterHost, c.cfg.Replication.Compress, creds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize gRPC client connection for replication")
	}
	c.replicationClient = cli
	return c.replicationClient, nil
}

// GetReceiver returns nil unless this instance is a replica.
func (c *Container) GetReceiver(ctx context.Context) (*replication.Receiver, error) {
	if c.receiver != nil {
		return c.receiver, nil
	}
	cli, err := c.GetReplicationClient(ctx)
	if err != nil || cli == nil {
		return nil, err
	}
	catalogDir, err := c.GetCatalogDir()
	if err != nil {
		return nil, err
	}

	r := replication.NewReceiver(cli, catalogDir, c.cfg.Replication.Columns, c.cfg.Replication.SyncInterval)
	r.RetryInterval = c.cfg.Replication.RetryInterval
	r.RetryBackoffCoeff = c.cfg.Replication.RetryBackoffCoeff
	r.ChunkSize = c.cfg.Replication.ChunkSize
	c.receiver = r
	log.Info("initialized replication client for master %s", c.cfg.Replication.MasterHost)
	return c.receiver, nil
}
