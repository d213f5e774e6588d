package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Quote stream metrics
	TicksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_ticks_received_total",
			Help: "Total number of quote ticks received from the feed",
		},
		[]string{"symbol"},
	)

	StreamRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_stream_restarts_total",
			Help: "Total number of quote stream session restarts",
		},
		[]string{"reason"}, // reason: disconnect|subscribe_error|connect_error
	)

	StreamListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_stream_listeners",
			Help: "Current number of registered stream listeners",
		},
	)

	ListenerDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_listener_drops_total",
			Help: "Total messages evicted from slow listener buffers",
		},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trader_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Strategy metrics
	SignalEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_signal_evaluations_total",
			Help: "Total strategy condition evaluations",
		},
		[]string{"strategy", "result"}, // result: buy|sell|none
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_positions_open_count",
			Help: "Current number of open positions",
		},
	)

	TradesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_trades_executed_total",
			Help: "Total orders placed through the execution backend",
		},
		[]string{"side", "status"}, // status: success|error
	)

	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_risk_rejections_total",
			Help: "Total entries rejected by risk gates",
		},
		[]string{"reason"},
	)

	// Broker metrics
	BrokerAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_broker_api_calls_total",
			Help: "Total broker API calls",
		},
		[]string{"backend", "endpoint", "status"},
	)

	BrokerAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_broker_api_latency_seconds",
			Help:    "Broker API call latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"backend", "endpoint"},
	)

	// Reconciliation metrics
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_reconciliations_total",
			Help: "Total number of broker reconciliation cycles",
		},
		[]string{"status"}, // status: success|error
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_kafka_messages_total",
			Help: "Total Kafka messages produced",
		},
		[]string{"topic", "status"},
	)

	AdvisorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_advisor_calls_total",
			Help: "Total AI advisor invocations",
		},
		[]string{"model", "status"},
	)

	AdvisorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_advisor_latency_seconds",
			Help:    "AI advisor call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"model"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(TicksReceived)
	prometheus.MustRegister(StreamRestarts)
	prometheus.MustRegister(StreamListeners)
	prometheus.MustRegister(ListenerDrops)

	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)

	prometheus.MustRegister(SignalEvaluations)
	prometheus.MustRegister(PositionsOpen)
	prometheus.MustRegister(TradesExecuted)
	prometheus.MustRegister(RiskRejections)

	prometheus.MustRegister(BrokerAPICalls)
	prometheus.MustRegister(BrokerAPILatency)

	prometheus.MustRegister(Reconciliations)

	prometheus.MustRegister(KafkaMessages)
	prometheus.MustRegister(AdvisorCalls)
	prometheus.MustRegister(AdvisorLatency)
}

// RegisterStoreCollector registers the database-backed collector
func RegisterStoreCollector(c *StoreCollector) {
	prometheus.MustRegister(c)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordBrokerCall records a broker API call
func RecordBrokerCall(backend, endpoint string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	BrokerAPICalls.WithLabelValues(backend, endpoint, status).Inc()
	BrokerAPILatency.WithLabelValues(backend, endpoint).Observe(latency.Seconds())
}

// RecordAdvisorCall records an AI advisor invocation
func RecordAdvisorCall(model string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	AdvisorCalls.WithLabelValues(model, status).Inc()
	AdvisorLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordReconciliation records a reconciliation cycle
func RecordReconciliation(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	Reconciliations.WithLabelValues(status).Inc()
}
