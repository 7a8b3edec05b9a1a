package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "colstore"

var (
	// StartupTime stores how long the startup took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// TotalDiskUsageBytes stores the bytes actually allocated under the root directory
	TotalDiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_usage_bytes",
		Help:      "Bytes allocated on disk by the column files",
	})

	// ColumnsOpen stores the number of columns held open by the catalog
	ColumnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "columns_open",
		Help:      "Number of columns currently open",
	})

	// DeltaBytesSentTotal stores the delta bytes a master streamed to replicas
	DeltaBytesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replication_delta_bytes_sent_total",
		Help:      "Delta bytes streamed to replicas",
	})

	// DeltaBytesReceivedTotal stores the delta bytes a replica applied
	DeltaBytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replication_delta_bytes_received_total",
		Help:      "Delta bytes received from the master",
	})

	// RowsReplicatedTotal stores the rows a replica committed from deltas
	RowsReplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replication_rows_total",
		Help:      "Rows committed on the replica from deltas",
	})

	// ReplicationExchangesTotal stores the number of exchanges
	// partitioned by role and result
	ReplicationExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replication_exchanges_total",
		Help:      "Number of replication exchanges partitioned by role and result",
	}, []string{"role", "result"})

	// ReplicationExchangeDuration stores the processing time of exchanges
	// partitioned by role
	ReplicationExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replication_exchange_duration_seconds",
		Help:      "Replication exchange processing time partitioned by role",
	}, []string{"role"})
)
