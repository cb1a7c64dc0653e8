package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for hyperdrived.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreEntries        *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	QueryFreshnessLag   *prometheus.HistogramVec
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Pool State ---
	PoolSpotPrice         *prometheus.GaugeVec
	PoolSpotRate          *prometheus.GaugeVec
	PoolShareReserves     *prometheus.GaugeVec
	PoolBondReserves      *prometheus.GaugeVec
	PoolLongsOutstanding  *prometheus.GaugeVec
	PoolShortsOutstanding *prometheus.GaugeVec
	PoolIdleShares        *prometheus.GaugeVec
	LPSharePrice          *prometheus.GaugeVec
	GovernanceFeesAccrued *prometheus.GaugeVec

	// --- Checkpoints ---
	CheckpointsMinted     *prometheus.CounterVec
	CheckpointBackfills   *prometheus.CounterVec
	MaturedLongsSettled   *prometheus.CounterVec
	MaturedShortsSettled  *prometheus.CounterVec
	IdleSolverIterations  prometheus.Histogram
	IdleSolverFailures    *prometheus.CounterVec
	WithdrawalPoolReady   *prometheus.GaugeVec
	WithdrawalOutstanding *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten  prometheus.Counter
	PersistEntriesWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_core_events_rejected_total",
			Help: "Events rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperdrive_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_core_ledger_entries_total",
			Help: "Ledger entries generated",
		}, []string{"entry_kind"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperdrive_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hyperdrive_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperdrive_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		ApplyToPersist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperdrive_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		QueryFreshnessLag: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperdrive_query_freshness_lag_seconds",
			Help:    "Core sequence minus projection sequence (in time)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0},
		}, []string{"endpoint"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperdrive_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperdrive_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperdrive_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hyperdrive_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperdrive_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Pool State
		PoolSpotPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_pool_spot_price",
			Help: "Bond spot price in base",
		}, []string{"pool_id"}),

		PoolSpotRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_pool_spot_rate",
			Help: "Annualized fixed rate implied by the spot price",
		}, []string{"pool_id"}),

		PoolShareReserves: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_pool_share_reserves",
			Help: "Vault share reserves",
		}, []string{"pool_id"}),

		PoolBondReserves: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_pool_bond_reserves",
			Help: "Bond reserves",
		}, []string{"pool_id"}),

		PoolLongsOutstanding: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_pool_longs_outstanding",
			Help: "Face value of open longs",
		}, []string{"pool_id"}),

		PoolShortsOutstanding: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_pool_shorts_outstanding",
			Help: "Face value of open shorts",
		}, []string{"pool_id"}),

		PoolIdleShares: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_pool_idle_shares",
			Help: "Share reserves not backing positions",
		}, []string{"pool_id"}),

		LPSharePrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_lp_share_price",
			Help: "Present value per LP share",
		}, []string{"pool_id"}),

		GovernanceFeesAccrued: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_governance_fees_accrued",
			Help: "Accrued governance fees in shares",
		}, []string{"pool_id"}),

		// Checkpoints
		CheckpointsMinted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_checkpoints_minted_total",
			Help: "Checkpoints minted",
		}, []string{"pool_id"}),

		CheckpointBackfills: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_checkpoint_backfills_total",
			Help: "Checkpoints minted late by a trade instead of the keeper",
		}, []string{"pool_id"}),

		MaturedLongsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_matured_longs_settled_total",
			Help: "Matured long bonds settled at checkpoints",
		}, []string{"pool_id"}),

		MaturedShortsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_matured_shorts_settled_total",
			Help: "Matured short bonds settled at checkpoints",
		}, []string{"pool_id"}),

		IdleSolverIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperdrive_idle_solver_iterations",
			Help:    "Newton iterations per excess-idle distribution",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),

		IdleSolverFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_idle_solver_failures_total",
			Help: "Excess-idle distributions that failed to converge",
		}, []string{"pool_id"}),

		WithdrawalPoolReady: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_withdrawal_pool_ready_shares",
			Help: "Withdrawal shares funded and redeemable",
		}, []string{"pool_id"}),

		WithdrawalOutstanding: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyperdrive_withdrawal_shares_outstanding",
			Help: "Withdrawal shares queued and unfunded",
		}, []string{"pool_id"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_persist_entries_written_total",
			Help: "Ledger entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperdrive_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hyperdrive_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperdrive_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hyperdrive_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hyperdrive_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hyperdrive_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hyperdrive_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperdrive_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperdrive_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
