package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailwarm/backend/internal/domain"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 调度周期指标
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram
	EmailsSent    prometheus.Counter
	EmailsFailed  prometheus.Counter

	// 状态指标
	MailboxesTotal      prometheus.Gauge
	MailboxesActive     prometheus.Gauge
	SentToday           prometheus.Gauge
	FailedToday         prometheus.Gauge
	ThroughputPerHour   prometheus.Gauge
	QuotaCompletionRate prometheus.Gauge
	SchedulerHealth     prometheus.Gauge

	// 限流指标
	RateLimitBlocks prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailwarm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailwarm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		CyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailwarm_scheduler_cycles_total",
				Help: "Total number of scheduler cycles executed",
			},
		),

		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailwarm_scheduler_cycle_duration_seconds",
				Help:    "Scheduler cycle duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),

		EmailsSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailwarm_emails_sent_total",
				Help: "Total number of warmup emails sent",
			},
		),

		EmailsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailwarm_emails_failed_total",
				Help: "Total number of failed send attempts",
			},
		),

		MailboxesTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailwarm_mailboxes_total",
				Help: "Number of mailboxes under warmup",
			},
		),

		MailboxesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailwarm_mailboxes_active",
				Help: "Number of mailboxes with at least one send today",
			},
		),

		SentToday: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailwarm_sent_today",
				Help: "Number of emails sent today",
			},
		),

		FailedToday: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailwarm_failed_today",
				Help: "Number of failed attempts today",
			},
		),

		ThroughputPerHour: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailwarm_throughput_per_hour",
				Help: "Sending throughput in emails per hour",
			},
		),

		QuotaCompletionRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailwarm_quota_completion_rate",
				Help: "Fraction of mailboxes that reached today's quota",
			},
		),

		SchedulerHealth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailwarm_scheduler_health",
				Help: "Scheduler health state (0=healthy, 1=degraded, 2=critical)",
			},
		),

		RateLimitBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailwarm_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock() {
	m.RateLimitBlocks.Inc()
}

// ObserveCycle 记录一个调度周期的结果
func (m *Metrics) ObserveCycle(batch domain.BatchMetrics) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(batch.Duration.Seconds())
	m.EmailsSent.Add(float64(batch.Succeeded))
	m.EmailsFailed.Add(float64(batch.Failed))
}

// ObserveSnapshot 刷新聚合状态指标
func (m *Metrics) ObserveSnapshot(snap domain.SchedulerMetrics) {
	m.MailboxesTotal.Set(float64(snap.TotalMailboxes))
	m.MailboxesActive.Set(float64(snap.ActiveMailboxes))
	m.SentToday.Set(float64(snap.SentToday))
	m.FailedToday.Set(float64(snap.FailedToday))
	m.ThroughputPerHour.Set(snap.ThroughputPerHour)
	m.QuotaCompletionRate.Set(snap.QuotaCompletionRate)
	m.SchedulerHealth.Set(float64(snap.Health))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
