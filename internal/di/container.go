package di

import (
	"fmt"
	"path/filepath"

	"google.golang.org/grpc"

	"github.com/alpacahq/colstore/catalog"
	"github.com/alpacahq/colstore/replication"
	"github.com/alpacahq/colstore/utils"
	"github.com/alpacahq/colstore/utils/log"
)

// Container builds the components of a colstore instance lazily from its
// configuration. Each getter memoizes what it builds.
type Container struct {
	cfg                   *utils.ColstoreConfig
	absRootDir            string
	catalogDir            *catalog.Directory
	gRPCServerOptions     []grpc.ServerOption
	replicationServer     *replication.GRPCReplicationServer
	grpcReplicationServer *grpc.Server
	replicationClient     *replication.GRPCReplicationClient
	receiver              *replication.Receiver
}

func NewContainer(cfg *utils.ColstoreConfig) *Container {
	return &Container{cfg: cfg}
}

func (c *Container) GetAbsRootDir() (string, error) {
	if c.absRootDir != "" {
		return c.absRootDir, nil
	}
	// rootDir is the absolute path to the data directory.
	// e.g. rootDir = "/project/colstore/data"
	rootDir, err := filepath.Abs(filepath.Clean(c.cfg.RootDirectory))
	if err != nil {
		return "", fmt.Errorf("take absolute path of root directory %s: %w", c.cfg.RootDirectory, err)
	}
	log.Info("Root Directory: %s", rootDir)
	c.absRootDir = rootDir
	return c.absRootDir, nil
}

// Close releases what the container opened.
func (c *Container) Close() error {
	if c.grpcReplicationServer != nil {
		// gRPC stream connection doesn't close by GracefulStop()
		c.grpcReplicationServer.Stop()
	}
	if c.replicationClient != nil {
		if err := c.replicationClient.Close(); err != nil {
			log.Error("close replication client: %v", err)
		}
	}
	if c.catalogDir != nil {
		return c.catalogDir.Close()
	}
	return nil
}
