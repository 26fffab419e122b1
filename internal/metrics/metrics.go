package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 进程级计数（/debug/vars）
var (
	ChainHeight     = expvar.NewInt("chain_height")
	IndexerBacklog  = expvar.NewInt("indexer_backlog")
	EventLogAppends = expvar.NewInt("eventlog_appends")
)

// Metrics 结算服务的 Prometheus 指标
//
// 每个实例使用独立的 Registry，测试中可以重复创建。
type Metrics struct {
	Registry *prometheus.Registry

	Transitions        *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	EventsPublished    *prometheus.CounterVec
	AuctionsCreated    prometheus.Counter
	EscrowsSettled     prometheus.Counter
	ValueLocked        prometheus.Gauge
	IndexerErrors      *prometheus.CounterVec
	RPCCallLatency     *prometheus.HistogramVec
}

// New 创建并注册全部指标
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sealedsale"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "transitions_total",
			Help:      "State transitions by operation and outcome",
		}, []string{"operation", "outcome"}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "transition_duration_seconds",
			Help:      "State transition latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published by name",
		}, []string{"name"}),
		AuctionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "auctions_created_total",
			Help:      "Auctions created through the registry",
		}),
		EscrowsSettled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "settled_total",
			Help:      "Escrows where both sides have completed",
		}),
		ValueLocked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "value_locked_ether",
			Help:      "Ether held by auction and escrow contracts",
		}),
		IndexerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "errors_total",
			Help:      "Indexer write errors by store",
		}, []string{"store"}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "ERC20 RPC read latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// ObserveTransition 记录一次迁移结果
func (m *Metrics) ObserveTransition(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "reverted"
	}
	m.Transitions.WithLabelValues(operation, outcome).Inc()
	m.TransitionDuration.WithLabelValues(operation).Observe(seconds)
}
