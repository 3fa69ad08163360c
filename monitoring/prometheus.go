// Package monitoring Prometheus 指标收集与暴露
package monitoring

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics Prometheus指标收集器，实现hl7bench.MetricsReporter接口
type PrometheusMetrics struct {
	// 批量写入指标
	batchFlushDuration *prometheus.HistogramVec
	batchFlushTotal    *prometheus.CounterVec
	batchSize          prometheus.Histogram
	recordsInserted    prometheus.Counter

	// 查询校验指标
	queryDuration prometheus.Histogram
	queriesTotal  prometheus.Counter

	// 队列与异常指标
	queueLength  *prometheus.GaugeVec
	anomalyTotal *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
	mu       sync.Mutex
}

// NewPrometheusMetrics 创建Prometheus指标收集器
func NewPrometheusMetrics(database string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"database": database}

	pm := &PrometheusMetrics{
		batchFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "hl7bench_batch_flush_duration_seconds",
				Help:        "Duration of batch insert flushes in seconds",
				Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),

		batchFlushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "hl7bench_batch_flush_total",
				Help:        "Total number of batch insert flushes",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "hl7bench_batch_size",
				Help:        "Number of records per flushed batch",
				Buckets:     prometheus.ExponentialBuckets(1, 2, 15), // 1 to ~16k
				ConstLabels: constLabels,
			},
		),

		recordsInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "hl7bench_records_inserted_total",
				Help:        "Total number of records inserted",
				ConstLabels: constLabels,
			},
		),

		queryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "hl7bench_query_duration_seconds",
				Help:        "Duration of verification query rounds in seconds",
				Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 15),
				ConstLabels: constLabels,
			},
		),

		queriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "hl7bench_queries_total",
				Help:        "Total number of verification queries executed",
				ConstLabels: constLabels,
			},
		),

		queueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "hl7bench_queue_length",
				Help:        "Current length of the in-memory queues",
				ConstLabels: constLabels,
			},
			[]string{"queue"}, // insertion, query
		),

		anomalyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "hl7bench_anomalies_total",
				Help:        "Total number of verification anomalies",
				ConstLabels: constLabels,
			},
			[]string{"kind"}, // malformed_key, row_count
		),

		registry: registry,
	}

	// 注册所有指标
	registry.MustRegister(
		pm.batchFlushDuration,
		pm.batchFlushTotal,
		pm.batchSize,
		pm.recordsInserted,
		pm.queryDuration,
		pm.queriesTotal,
		pm.queueLength,
		pm.anomalyTotal,
	)

	return pm
}

// ObserveBatch 实现MetricsReporter接口
func (pm *PrometheusMetrics) ObserveBatch(batchSize int, d time.Duration, status string) {
	pm.batchFlushDuration.WithLabelValues(status).Observe(d.Seconds())
	pm.batchFlushTotal.WithLabelValues(status).Inc()
	pm.batchSize.Observe(float64(batchSize))
	if status == "success" {
		pm.recordsInserted.Add(float64(batchSize))
	}
}

// ObserveQueries 记录一轮校验查询
func (pm *PrometheusMetrics) ObserveQueries(count int, d time.Duration) {
	pm.queryDuration.Observe(d.Seconds())
	pm.queriesTotal.Add(float64(count))
}

// IncAnomaly 记录一次校验异常
func (pm *PrometheusMetrics) IncAnomaly(kind string) {
	pm.anomalyTotal.WithLabelValues(kind).Inc()
}

// SetQueueLengths 记录队列水位
func (pm *PrometheusMetrics) SetQueueLengths(insertion, query int) {
	pm.queueLength.WithLabelValues("insertion").Set(float64(insertion))
	pm.queueLength.WithLabelValues("query").Set(float64(query))
}

// StartServer 启动指标 HTTP 服务器
func (pm *PrometheusMetrics) StartServer(port int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	// 设置 Gin 为发布模式，减少日志输出
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// 添加 Go 运行时指标到自定义 registry
	pm.registry.MustRegister(collectors.NewBuildInfoCollector())
	pm.registry.MustRegister(collectors.NewGoCollector())
	pm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metricsHandler := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	pm.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		log.Printf("Metrics server listening on port %d", port)
		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	return nil
}

// StopServer 停止指标 HTTP 服务器
func (pm *PrometheusMetrics) StopServer() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pm.server.Shutdown(ctx)
	pm.server = nil
	return err
}
