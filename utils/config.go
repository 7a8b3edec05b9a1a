package utils

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/colstore/region"
	"github.com/alpacahq/colstore/utils/log"
)

var InstanceConfig ColstoreConfig

const (
	defaultDataPageSize             = "4M"
	defaultIndexPageSize            = "256K"
	defaultSyncInterval             = 1 * time.Second
	defaultRetryInterval            = 10 * time.Second
	defaultRetryBackoffCoeff        = 2
	defaultDiskUsageMonitorInterval = 10 * time.Minute
)

type ReplicationSetting struct {
	Enabled    bool
	TLSEnabled bool
	CertFile   string
	KeyFile    string
	// ListenPort is used for the replication protocol by the master instance.
	ListenPort int
	// MasterHost is set on replicas, e.g. "127.0.0.1:5995".
	MasterHost string
	// Columns are the glob patterns of the columns a replica pulls.
	Columns           []string
	ChunkSize         int
	MaxDeltaBytes     int64
	Compress          bool
	SyncInterval      time.Duration
	RetryInterval     time.Duration
	RetryBackoffCoeff int
}

type ColstoreConfig struct {
	RootDirectory            string
	LogLevel                 log.Level
	DataBitHint              int
	IndexBitHint             int
	Encoding                 string
	MetricsListenPort        string
	StopGracePeriod          time.Duration
	DiskUsageMonitorInterval time.Duration
	Replication              ReplicationSetting
	StartTime                time.Time
}

// ParseConfig parses a YAML configuration.
func ParseConfig(data []byte) (*ColstoreConfig, error) {
	var m ColstoreConfig
	if err := m.Parse(data); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *ColstoreConfig) Parse(data []byte) error {
	var (
		err error
		aux struct {
			RootDirectory            string `yaml:"root_directory"`
			LogLevel                 string `yaml:"log_level"`
			DataPageSize             string `yaml:"data_page_size"`
			IndexPageSize            string `yaml:"index_page_size"`
			Encoding                 string `yaml:"encoding"`
			MetricsListenPort        string `yaml:"metrics_listen_port"`
			StopGracePeriod          int    `yaml:"stop_grace_period"`
			DiskUsageMonitorInterval string `yaml:"disk_usage_monitor_interval"`
			Replication              struct {
				Enabled           bool     `yaml:"enabled"`
				TLSEnabled        bool     `yaml:"tls_enabled"`
				CertFile          string   `yaml:"cert_file"`
				KeyFile           string   `yaml:"key_file"`
				ListenPort        int      `yaml:"listen_port"`
				MasterHost        string   `yaml:"master_host"`
				Columns           []string `yaml:"columns"`
				ChunkSize         string   `yaml:"chunk_size"`
				MaxDeltaSize      string   `yaml:"max_delta_size"`
				Compress          string   `yaml:"compress"`
				SyncInterval      string   `yaml:"sync_interval"`
				RetryInterval     string   `yaml:"retry_interval"`
				RetryBackoffCoeff int      `yaml:"retry_backoff_coeff"`
			} `yaml:"replication"`
		}
	)

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.RootDirectory == "" {
		return errors.New("invalid root directory")
	}
	m.RootDirectory = aux.RootDirectory

	m.LogLevel = log.ParseLevel(aux.LogLevel)

	if m.DataBitHint, err = pageBitHint("data_page_size", aux.DataPageSize, defaultDataPageSize); err != nil {
		return err
	}
	if m.IndexBitHint, err = pageBitHint("index_page_size", aux.IndexPageSize, defaultIndexPageSize); err != nil {
		return err
	}

	m.Encoding = strings.ToLower(aux.Encoding)
	if m.Encoding == "" {
		m.Encoding = "utf-8"
	}

	if aux.MetricsListenPort != "" {
		m.MetricsListenPort = fmt.Sprintf(":%v", aux.MetricsListenPort)
	}

	if aux.StopGracePeriod > 0 {
		m.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	if m.DiskUsageMonitorInterval, err = duration("disk_usage_monitor_interval",
		aux.DiskUsageMonitorInterval, defaultDiskUsageMonitorInterval); err != nil {
		return err
	}

	// replication
	r := &m.Replication
	r.Enabled = aux.Replication.Enabled
	r.TLSEnabled = aux.Replication.TLSEnabled
	r.CertFile = aux.Replication.CertFile
	r.KeyFile = aux.Replication.KeyFile
	r.ListenPort = aux.Replication.ListenPort
	r.MasterHost = aux.Replication.MasterHost
	r.Columns = aux.Replication.Columns
	if r.MasterHost != "" && len(r.Columns) == 0 {
		r.Columns = []string{"*"}
	}
	if r.Enabled && r.MasterHost != "" {
		return errors.New("replication: a master (enabled) cannot also follow master_host")
	}
	if r.TLSEnabled && r.CertFile == "" {
		return errors.New("replication: tls_enabled requires cert_file")
	}
	if r.Enabled && r.TLSEnabled && r.KeyFile == "" {
		return errors.New("replication: tls_enabled on a master requires key_file")
	}

	if aux.Replication.ChunkSize != "" {
		n, err := bytefmt.ToBytes(aux.Replication.ChunkSize)
		if err != nil || n > 1<<30 {
			return fmt.Errorf("invalid replication chunk_size %q", aux.Replication.ChunkSize)
		}
		r.ChunkSize = int(n)
	}
	if aux.Replication.MaxDeltaSize != "" {
		n, err := bytefmt.ToBytes(aux.Replication.MaxDeltaSize)
		if err != nil {
			return fmt.Errorf("invalid replication max_delta_size %q: %w", aux.Replication.MaxDeltaSize, err)
		}
		r.MaxDeltaBytes = int64(n)
	}
	if aux.Replication.Compress != "" {
		compress, err := strconv.ParseBool(aux.Replication.Compress)
		if err != nil {
			log.Error("Invalid value: %v for compress. Disabling compression...", aux.Replication.Compress)
		} else {
			r.Compress = compress
		}
	}
	if r.SyncInterval, err = duration("sync_interval", aux.Replication.SyncInterval, defaultSyncInterval); err != nil {
		return err
	}
	if r.RetryInterval, err = duration("retry_interval", aux.Replication.RetryInterval, defaultRetryInterval); err != nil {
		return err
	}
	r.RetryBackoffCoeff = aux.Replication.RetryBackoffCoeff
	if r.RetryBackoffCoeff <= 0 {
		r.RetryBackoffCoeff = defaultRetryBackoffCoeff
	}
	return nil
}

// pageBitHint converts a human readable page size such as "64K" into a page
// bit hint. The size must be a power of two.
func pageBitHint(key, size, def string) (int, error) {
	if size == "" {
		size = def
	}
	n, err := bytefmt.ToBytes(size)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, size, err)
	}
	if n == 0 || n&(n-1) != 0 {
		return 0, fmt.Errorf("invalid %s %q: not a power of two", key, size)
	}
	hint := bits.TrailingZeros64(n)
	if hint < region.MinBitHint || hint > region.MaxBitHint {
		return 0, fmt.Errorf("invalid %s %q: must be between %s and %s", key, size,
			bytefmt.ByteSize(1<<region.MinBitHint), bytefmt.ByteSize(1<<region.MaxBitHint))
	}
	return hint, nil
}

func duration(key, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}
