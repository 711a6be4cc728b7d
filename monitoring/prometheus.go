package monitoring

import (
	"net/http"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type VoteRejectedReason string

var (
	VoteUnknownValidator VoteRejectedReason = "unknown_validator"
	VoteInvalidSignature VoteRejectedReason = "invalid_signature"
	VoteDoubleSign       VoteRejectedReason = "double_sign"
	VoteDuplicated       VoteRejectedReason = "duplicated"
	VoteStale            VoteRejectedReason = "stale"
)

type BlockRejectedReason string

var (
	BlockInvalid      BlockRejectedReason = "invalid"
	BlockApplyFailed  BlockRejectedReason = "apply_failed"
	BlockReorgAborted BlockRejectedReason = "reorg_aborted"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds      prometheus.Gauge
	mempoolSize            prometheus.Gauge
	blockHeight            prometheus.Gauge
	chainWork              prometheus.Gauge
	txInBlock              prometheus.Histogram
	orphanPoolSize         prometheus.Gauge
	orphansPruned          prometheus.Counter
	rejectedBlockCount     *prometheus.CounterVec
	reorgCount             prometheus.Counter
	reorgDepth             prometheus.Histogram
	reorgFailures          prometheus.Counter
	finalizedHeight        prometheus.Gauge
	certificatesIssued     prometheus.Counter
	rejectedVoteCount      *prometheus.CounterVec
	validatorMisbehaviours prometheus.Counter
	panicCount             prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_chain_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node",
			},
		),
		mempoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_chain_mempool_size",
				Help: "The total pending transactions queued in node's mempool",
			},
		),
		blockHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_chain_block_height",
				Help: "Index of the canonical chain tip",
			},
		),
		chainWork: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_chain_work",
				Help: "Cumulative work of the canonical chain (float approximation)",
			},
		),
		txInBlock: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "mmn_chain_tx_in_block",
				Help: "Number of tx in block",
			},
		),
		orphanPoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_chain_orphan_pool_size",
				Help: "Blocks waiting in the orphan pool",
			},
		),
		orphansPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_chain_orphans_pruned_total",
				Help: "Orphan blocks evicted by age or count",
			},
		),
		rejectedBlockCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmn_chain_rejected_block_count",
				Help: "The total number of rejected blocks",
			},
			[]string{"reason"},
		),
		reorgCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_chain_reorg_total",
				Help: "Committed chain reorganizations",
			},
		),
		reorgDepth: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mmn_chain_reorg_depth",
				Help:    "Blocks rolled back per committed reorganization",
				Buckets: prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		reorgFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_chain_reorg_failures_total",
				Help: "Reorganizations aborted after chain mutation began",
			},
		),
		finalizedHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_chain_finalized_height",
				Help: "Highest block height with a finality certificate",
			},
		),
		certificatesIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_chain_certificates_issued_total",
				Help: "Finality certificates issued",
			},
		),
		rejectedVoteCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmn_chain_rejected_vote_count",
				Help: "The total number of rejected finality votes",
			},
			[]string{"reason"},
		),
		validatorMisbehaviours: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_chain_validator_misbehaviour_total",
				Help: "Double-sign evidence detected",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_chain_panic_count",
				Help: "Panics recovered in background goroutines",
			},
		),
	}
}

// Registered once per process; promauto panics on duplicate registration.
var nodeMetrics = newNodePromMetrics()

// InitMetrics stamps the node start time.
func InitMetrics() {
	nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("METRICS", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func SetMempoolSize(size int) {
	nodeMetrics.mempoolSize.Set(float64(size))
}

func SetBlockHeight(blockHeight uint64) {
	nodeMetrics.blockHeight.Set(float64(blockHeight))
}

func SetChainWork(work *uint256.Int) {
	if work == nil {
		return
	}
	nodeMetrics.chainWork.Set(work.Float64())
}

func RecordTxInBlock(txCount int) {
	nodeMetrics.txInBlock.Observe(float64(txCount))
}

func SetOrphanPoolSize(size int) {
	nodeMetrics.orphanPoolSize.Set(float64(size))
}

func AddOrphansPruned(n int) {
	nodeMetrics.orphansPruned.Add(float64(n))
}

func RecordRejectedBlock(reason BlockRejectedReason) {
	nodeMetrics.rejectedBlockCount.With(prometheus.Labels{
		"reason": string(reason),
	}).Inc()
}

func RecordReorg(depth uint64) {
	nodeMetrics.reorgCount.Inc()
	nodeMetrics.reorgDepth.Observe(float64(depth))
}

func IncreaseReorgFailures() {
	nodeMetrics.reorgFailures.Inc()
}

func SetFinalizedHeight(height uint64) {
	nodeMetrics.finalizedHeight.Set(float64(height))
}

func IncreaseCertificatesIssued() {
	nodeMetrics.certificatesIssued.Inc()
}

func RecordRejectedVote(reason VoteRejectedReason) {
	nodeMetrics.rejectedVoteCount.With(prometheus.Labels{
		"reason": string(reason),
	}).Inc()
}

func IncreaseValidatorMisbehaviours() {
	nodeMetrics.validatorMisbehaviours.Inc()
}

func IncreasePanicCount() {
	nodeMetrics.panicCount.Inc()
}
