package domain

import "time"

// HealthState 表示调度器的粗粒度健康状态。
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthDegraded
	HealthCritical
)

// String 返回健康状态的文本表示。
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BatchMetrics 表示单个调度周期的汇总指标。
type BatchMetrics struct {
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"throughput"` // 周期内的发送速率（封/小时）
	StartedAt  time.Time     `json:"startedAt"`
}

// SchedulerStatus 表示调度器的实时运行状态。
type SchedulerStatus struct {
	Running     bool   `json:"running"`
	QueueSize   int    `json:"queueSize"`
	InFlight    int    `json:"inFlight"`
	HourlyUsage string `json:"hourlyUsage"` // "已用/上限"
	MinuteUsage string `json:"minuteUsage"` // "已用/上限"
}

// SchedulerMetrics 表示面向监控的聚合指标快照。
type SchedulerMetrics struct {
	TotalMailboxes      int               `json:"totalMailboxes"`
	ActiveMailboxes     int               `json:"activeMailboxes"` // 当日至少发出一封的邮箱数
	SentToday           int               `json:"sentToday"`
	FailedToday         int               `json:"failedToday"`
	ThroughputPerHour   float64           `json:"throughputPerHour"`
	QuotaCompletionRate float64           `json:"quotaCompletionRate"` // 达成当日配额的邮箱占比
	Health              HealthState       `json:"health"`
	MailboxQuotaFill    map[int64]float64 `json:"mailboxQuotaFill"` // 邮箱ID -> 配额完成百分比
}
