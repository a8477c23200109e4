package warmup

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mailwarm/backend/internal/domain"
)

// historyLimit 周期指标历史的保留条数上限。
const historyLimit = 100

// mailboxDay 单个邮箱的当日统计。
type mailboxDay struct {
	quota  int
	sent   int
	failed int
}

// Collector 聚合调度器的运行指标。
//
// 周期指标保留最近 historyLimit 条；每邮箱统计按自然日滚动，
// 跨日自动清零。所有方法并发安全。
type Collector struct {
	mu        sync.Mutex
	history   []domain.BatchMetrics
	mailboxes map[int64]*mailboxDay
	day       time.Time
	nowFunc   func() time.Time
}

// NewCollector 创建指标收集器。
func NewCollector() *Collector {
	return &Collector{
		mailboxes: make(map[int64]*mailboxDay),
		nowFunc:   time.Now,
	}
}

// RecordBatch 记录一个调度周期的汇总指标。
func (c *Collector) RecordBatch(m domain.BatchMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, m)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}

// ObserveMailbox 刷新某邮箱的当日配额与已发送量（来自加载阶段）。
func (c *Collector) ObserveMailbox(mailboxID int64, quota, sent int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDay()
	entry := c.entry(mailboxID)
	entry.quota = quota
	if sent > entry.sent {
		entry.sent = sent
	}
}

// RecordSend 记录某邮箱的一次发送尝试。
func (c *Collector) RecordSend(mailboxID int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDay()
	entry := c.entry(mailboxID)
	if ok {
		entry.sent++
	} else {
		entry.failed++
	}
}

// History 返回周期指标历史的副本，从旧到新。
func (c *Collector) History() []domain.BatchMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.BatchMetrics, len(c.history))
	copy(out, c.history)
	return out
}

// Snapshot 计算当前的聚合指标快照。
//
// 健康分级：失败率 > 20% 或配额完成率 < 30% 为 critical，
// 失败率 > 10% 或完成率 < 60% 为 degraded，否则 healthy。
// 当日尚无任何发送尝试时不做分级，直接视为 healthy。
func (c *Collector) Snapshot() domain.SchedulerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDay()

	snap := domain.SchedulerMetrics{
		TotalMailboxes:   len(c.mailboxes),
		MailboxQuotaFill: make(map[int64]float64, len(c.mailboxes)),
		Health:           domain.HealthHealthy,
	}

	completed := 0
	withQuota := 0
	for id, entry := range c.mailboxes {
		snap.SentToday += entry.sent
		snap.FailedToday += entry.failed
		if entry.sent > 0 {
			snap.ActiveMailboxes++
		}
		if entry.quota > 0 {
			withQuota++
			fill := float64(entry.sent) / float64(entry.quota) * 100
			if fill > 100 {
				fill = 100
			}
			snap.MailboxQuotaFill[id] = fill
			if entry.sent >= entry.quota {
				completed++
			}
		}
	}

	if withQuota > 0 {
		snap.QuotaCompletionRate = float64(completed) / float64(withQuota)
	}

	// 吞吐 = 当日发送量 / 自当日零点起经过的小时数
	if elapsed := c.nowFunc().Sub(c.day); elapsed > 0 {
		snap.ThroughputPerHour = float64(snap.SentToday) / elapsed.Hours()
	}

	attempts := snap.SentToday + snap.FailedToday
	if attempts > 0 {
		failureRate := float64(snap.FailedToday) / float64(attempts)
		switch {
		case failureRate > 0.2 || snap.QuotaCompletionRate < 0.3:
			snap.Health = domain.HealthCritical
		case failureRate > 0.1 || snap.QuotaCompletionRate < 0.6:
			snap.Health = domain.HealthDegraded
		}
	}

	return snap
}

// ExportText 以文本格式导出聚合指标，每行一项。
func (c *Collector) ExportText() string {
	snap := c.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "warmup_mailboxes_total %d\n", snap.TotalMailboxes)
	fmt.Fprintf(&b, "warmup_mailboxes_active %d\n", snap.ActiveMailboxes)
	fmt.Fprintf(&b, "warmup_sent_today %d\n", snap.SentToday)
	fmt.Fprintf(&b, "warmup_failed_today %d\n", snap.FailedToday)
	fmt.Fprintf(&b, "warmup_throughput_per_hour %.2f\n", snap.ThroughputPerHour)
	fmt.Fprintf(&b, "warmup_quota_completion_rate %.2f\n", snap.QuotaCompletionRate)
	fmt.Fprintf(&b, "warmup_health %d\n", int(snap.Health))

	ids := make([]int64, 0, len(snap.MailboxQuotaFill))
	for id := range snap.MailboxQuotaFill {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(&b, "warmup_mailbox_quota_fill_percent{mailbox=\"%d\"} %.1f\n", id, snap.MailboxQuotaFill[id])
	}
	return b.String()
}

// entry 获取或创建某邮箱的当日统计。调用方必须持有锁。
func (c *Collector) entry(mailboxID int64) *mailboxDay {
	e, ok := c.mailboxes[mailboxID]
	if !ok {
		e = &mailboxDay{}
		c.mailboxes[mailboxID] = e
	}
	return e
}

// rollDay 跨自然日时清零每邮箱统计。调用方必须持有锁。
func (c *Collector) rollDay() {
	now := c.nowFunc()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !midnight.Equal(c.day) {
		c.day = midnight
		c.mailboxes = make(map[int64]*mailboxDay)
	}
}
