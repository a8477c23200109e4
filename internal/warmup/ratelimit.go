package warmup

import (
	"fmt"
	"sync"
	"time"
)

const (
	hourlyWindow = time.Hour
	minuteWindow = time.Minute
)

// RateLimiter 全局发送限流器：小时与分钟两级计数。
//
// 计数窗口按"距离上次重置的墙钟时间"滚动，而非对齐自然小时/分钟；
// 准入成功时两级计数同时加一。租户级的日/月上限不在这里，
// 它们基于持久化统计在优先级加载器中判定。
type RateLimiter struct {
	mu sync.Mutex

	hourlyLimit int
	minuteLimit int

	hourlyCount int
	minuteCount int

	hourlyResetAt time.Time
	minuteResetAt time.Time

	nowFunc func() time.Time
}

// NewRateLimiter 创建限流器。
func NewRateLimiter(hourlyLimit, minuteLimit int) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		hourlyLimit:   hourlyLimit,
		minuteLimit:   minuteLimit,
		hourlyResetAt: now,
		minuteResetAt: now,
		nowFunc:       time.Now,
	}
}

// Allow 判定是否允许一次发送。
//
// 两级计数都低于各自上限时放行并同时计数；任何一级达到上限即拒绝。
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollover()

	if r.hourlyCount >= r.hourlyLimit || r.minuteCount >= r.minuteLimit {
		return false
	}

	r.hourlyCount++
	r.minuteCount++
	return true
}

// Usage 返回 "已用/上限" 形式的两级用量。
func (r *RateLimiter) Usage() (hourly, minute string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollover()
	return fmt.Sprintf("%d/%d", r.hourlyCount, r.hourlyLimit),
		fmt.Sprintf("%d/%d", r.minuteCount, r.minuteLimit)
}

// rollover 按已流逝的墙钟时间重置计数。调用方必须持有锁。
func (r *RateLimiter) rollover() {
	now := r.nowFunc()
	if now.Sub(r.hourlyResetAt) >= hourlyWindow {
		r.hourlyCount = 0
		r.hourlyResetAt = now
	}
	if now.Sub(r.minuteResetAt) >= minuteWindow {
		r.minuteCount = 0
		r.minuteResetAt = now
	}
}
