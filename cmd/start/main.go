package start

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alpacahq/colstore/internal/di"
	"github.com/alpacahq/colstore/metrics"
	"github.com/alpacahq/colstore/utils"
	"github.com/alpacahq/colstore/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start a colstore server"
	long                  = "This command opens a column directory and runs it as a replication master or replica"
	example               = "colstore start --config <path>"
	defaultConfigFilePath = "./colstore.yml"
	configDesc            = "set the path for the colstore YAML configuration file"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	utils.InstanceConfig.StartTime = time.Now()
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage if args(=only the filepath to colstore.yml at the moment) are correct
	cmd.SilenceUsage = true

	// Log config location.
	log.Info("using %v for configuration", configFilePath)

	// Attempt to set configuration.
	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	config.StartTime = utils.InstanceConfig.StartTime
	utils.InstanceConfig = *config
	log.SetLevel(config.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go dumpStacksOnSignal(ctx)

	return Run(ctx, config)
}

// Run serves the instance described by config until ctx is canceled.
func Run(ctx context.Context, config *utils.ColstoreConfig) error {
	log.Info("initializing colstore...")
	start := time.Now()

	c := di.NewContainer(config)
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("failed to close the column directory: %v", err)
		}
	}()

	catalogDir, err := c.GetCatalogDir()
	if err != nil {
		return err
	}
	go metrics.StartDiskUsageMonitor(ctx, metrics.TotalDiskUsageBytes, catalogDir.GetPath(), config.DiskUsageMonitorInterval)

	// initialize replication master or client
	if _, err = c.StartReplicationServer(); err != nil {
		return err
	}
	receiver, err := c.GetReceiver(ctx)
	if err != nil {
		return err
	}

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	var metricsServer *http.Server
	if config.MetricsListenPort != "" {
		// Set monitoring handler.
		log.Info("launching prometheus metrics server...")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: config.MetricsListenPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error: %v", err)
			}
		}()
	}

	if receiver != nil {
		err = receiver.Run(ctx)
	} else {
		<-ctx.Done()
	}

	log.Info("initiating graceful shutdown")
	if metricsServer != nil {
		_ = metricsServer.Close()
	}
	if config.StopGracePeriod > 0 {
		log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
		time.Sleep(config.StopGracePeriod)
	}
	log.Info("exiting...")
	return err
}

func dumpStacksOnSignal(ctx context.Context) {
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	signal.Notify(signalChan, syscall.SIGUSR1)
	defer signal.Stop(signalChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-signalChan:
			log.Info("dumping stack traces due to SIGUSR1 request")
			if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
				log.Error("failed to write goroutine pprof: %v", err)
			}
		}
	}
}
