// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 scheduler.Recorder
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 训练指标
	epochsTotal       *prometheus.CounterVec
	batchesTotal      prometheus.Counter
	epochDuration     prometheus.Histogram
	epochLoss         prometheus.Gauge
	gradientNorm      prometheus.Gauge
	learningRate      prometheus.Gauge
	clippedTotal      prometheus.Counter
	pushRetriesTotal  *prometheus.CounterVec
	stepAbortsTotal   *prometheus.CounterVec
	nodeStates        *prometheus.GaugeVec
	checkpointsTotal  *prometheus.CounterVec
	snapshotPublishes *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

var _ scheduler.Recorder = (*Collector)(nil)

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 训练指标
	c.epochsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "epochs_total",
			Help:      "Total number of epoch attempts by outcome code",
		},
		[]string{"status"},
	)

	c.batchesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "batches_total",
		Help:      "Total number of batches consumed by completed epochs",
	})

	c.epochDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "epoch_duration_seconds",
		Help:      "Wall time of a single epoch",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	c.epochLoss = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "epoch_loss",
		Help:      "Mean loss of the last completed epoch",
	})

	c.gradientNorm = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "gradient_norm",
		Help:      "Pre-clip L2 norm of the last reduced gradient",
	})

	c.learningRate = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "learning_rate",
		Help:      "Learning rate used by the last epoch",
	})

	c.clippedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "clipped_epochs_total",
		Help:      "Epochs whose reduced gradient was clipped",
	})

	c.pushRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_push_retries_total",
			Help:      "Failed pushes into a full work queue, by hierarchy level",
		},
		[]string{"level"},
	)

	c.stepAbortsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "step_aborts_total",
			Help:      "Aborted epochs by reason code",
		},
		[]string{"reason"},
	)

	c.nodeStates = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "nodes",
			Help:      "Number of nodes per lifecycle state",
		},
		[]string{"state"},
	)

	c.checkpointsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trainer",
			Name:      "checkpoints_total",
			Help:      "Checkpoint writes by status",
		},
		[]string{"status"},
	)

	c.snapshotPublishes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "snapshot_publishes_total",
			Help:      "Snapshot publications by sink and status",
		},
		[]string{"sink", "status"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🏋️ 调度器指标记录（scheduler.Recorder）
// =============================================================================

// RecordEpoch 记录一次 epoch 尝试。失败的尝试只计数，不覆盖 loss/norm。
func (c *Collector) RecordEpoch(result scheduler.EpochResult, err error) {
	c.epochsTotal.WithLabelValues(epochStatus(err)).Inc()
	c.epochDuration.Observe(result.Duration.Seconds())
	if err != nil {
		return
	}
	c.batchesTotal.Add(float64(result.Batches))
	c.learningRate.Set(result.LearningRate)
	if !result.Applied {
		return
	}
	c.epochLoss.Set(result.EpochLoss)
	c.gradientNorm.Set(result.GradientNorm)
	if result.Clipped {
		c.clippedTotal.Inc()
	}
}

// RecordPushRetries 记录某层控制节点的入队重试
func (c *Collector) RecordPushRetries(level, retries int) {
	if retries <= 0 {
		return
	}
	c.pushRetriesTotal.WithLabelValues(levelLabel(level)).Add(float64(retries))
}

// RecordStepAbort 记录 epoch 中止原因
func (c *Collector) RecordStepAbort(reason string) {
	c.stepAbortsTotal.WithLabelValues(reason).Inc()
	c.logger.Debug("step aborted", zap.String("reason", reason))
}

// RecordNodeStates 覆盖各状态的节点数；未出现的状态置 0
func (c *Collector) RecordNodeStates(states map[scheduler.NodeState]int) {
	for s := scheduler.StateIdle; s <= scheduler.StateTerminating; s++ {
		c.nodeStates.WithLabelValues(s.String()).Set(float64(states[s]))
	}
}

// =============================================================================
// 💾 检查点 / 快照发布指标
// =============================================================================

// RecordCheckpoint 记录检查点写入
func (c *Collector) RecordCheckpoint(err error) {
	c.checkpointsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordSnapshotPublish 记录快照发布
func (c *Collector) RecordSnapshotPublish(sink string, err error) {
	c.snapshotPublishes.WithLabelValues(sink, resultLabel(err)).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func epochStatus(err error) string {
	if err == nil {
		return "ok"
	}
	if code := scheduler.ErrorCode(err); code != "" {
		return string(code)
	}
	return "error"
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var levelLabels = [...]string{"0", "1", "2", "3", "4", "5", "6", "7"}

func levelLabel(level int) string {
	if level >= 0 && level < len(levelLabels) {
		return levelLabels[level]
	}
	return "deep"
}
