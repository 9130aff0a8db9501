// Package metrics registers the prometheus instrumentation for the
// storage core and the emitted-stream projector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "arborstore"
var subsystem = "tfdb"

var (
	// WriterOffset tracks the current writer checkpoint value.
	WriterOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "writer_offset",
		Help:      "Current value of the writer checkpoint",
	})

	// ChaserOffset tracks the current chaser checkpoint value.
	ChaserOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "chaser_offset",
		Help:      "Current value of the chaser checkpoint",
	})

	// ChunkCount tracks the number of live chunks in the roster.
	ChunkCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "chunk_count",
		Help:      "Number of live chunks known to the roster",
	})

	// AppendDuration measures the latency of a single append.
	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_duration_seconds",
		Help:      "Latency of a single log append",
	})

	// RecoveryDuration measures how long DB Open's recovery pass took.
	RecoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "recovery_duration_seconds",
		Help:      "Duration of the directory validation and recovery pass on Open",
	})

	// EmitterRecoveredTotal is registered for events matched against
	// existing committed writes during recovery-mode dedup, partitioned by
	// projection. internal/emitter does not increment it.
	EmitterRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "emitter_recovered_total",
		Help:      "Pending emits matched against already-committed events during recovery",
	}, []string{"projection_id"})

	// EmitterEmittedTotal is registered for events written by the emitter;
	// internal/emitter does not increment it.
	EmitterEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "emitter_emitted_total",
		Help:      "Events written by the emitted-stream sink",
	}, []string{"projection_id"})

	// EmitterRestartsTotal is registered for RestartRequested signals;
	// internal/emitter does not increment it.
	EmitterRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "emitter_restarts_total",
		Help:      "RestartRequested signals raised by the emitted-stream sink",
	}, []string{"projection_id"})

	// DiskUsageBytes tracks the actual on-disk footprint of the database
	// directory, as opposed to the sum of chunk capacities, since chunk
	// files may be sparse.
	DiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_usage_bytes",
		Help:      "Actual on-disk footprint of the database directory",
	})
)
