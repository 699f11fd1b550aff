// Package metrics 提供Prometheus监控指标
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

const namespace = "cleanbear"

// Metrics 派单服务指标
type Metrics struct {
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	batchJobs      *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	fitRejections  *prometheus.CounterVec
	routeLookups   *prometheus.CounterVec
	loadGini       prometheus.Gauge
	gatherer       prometheus.Gatherer
}

// New 在 reg 上注册指标；reg 为 nil 时使用默认注册表，重复注册时复用已有指标
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP请求总数",
		}, []string{"method", "path", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP请求延迟",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		batchJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_total",
			Help:      "按结果分类的作业数",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "派单批次耗时",
			Buckets:   prometheus.DefBuckets,
		}),
		fitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fit_rejections_total",
			Help:      "候选技师被拒绝的次数",
		}, []string{"reason"}),
		routeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_lookups_total",
			Help:      "路程查询次数",
		}, []string{"result"}),
		loadGini: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_gini",
			Help:      "最近一个批次技师负载的基尼系数",
		}),
	}

	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.requestLatency, err = register(reg, m.requestLatency); err != nil {
		return nil, err
	}
	if m.batchJobs, err = register(reg, m.batchJobs); err != nil {
		return nil, err
	}
	if m.batchDuration, err = register(reg, m.batchDuration); err != nil {
		return nil, err
	}
	if m.fitRejections, err = register(reg, m.fitRejections); err != nil {
		return nil, err
	}
	if m.routeLookups, err = register(reg, m.routeLookups); err != nil {
		return nil, err
	}
	if m.loadGini, err = register(reg, m.loadGini); err != nil {
		return nil, err
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m, nil
}

// register 注册采集器，已注册时返回已有的那个
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler 指标导出接口
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest 记录请求指标
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBatch 记录批次耗时和负载基尼系数
func (m *Metrics) RecordBatch(duration time.Duration, loadGini float64) {
	m.batchDuration.Observe(duration.Seconds())
	m.loadGini.Set(loadGini)
}

// JobClassified 实现派单观察者
func (m *Metrics) JobClassified(status model.AssignmentStatus) {
	m.batchJobs.WithLabelValues(string(status)).Inc()
}

// FitRejected 实现派单观察者
func (m *Metrics) FitRejected(reason string) {
	m.fitRejections.WithLabelValues(reason).Inc()
}

// RouteLookup 实现路程查询观察者
func (m *Metrics) RouteLookup(result string) {
	m.routeLookups.WithLabelValues(result).Inc()
}

// statusRecorder 记录响应状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware 记录每个请求；path 使用路由模式，避免标签基数失控
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.RecordRequest(r.Method, path, rec.status, time.Since(start))
	})
}
