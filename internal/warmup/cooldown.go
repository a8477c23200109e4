package warmup

import (
	"math/rand"
	"sync"
	"time"
)

// CooldownTracker 跟踪每个邮箱发送后的冷却截止时间。
//
// 条目只在查询时按时间判定是否过期，不做主动淘汰；
// 过期条目由每日维护任务的 Sweep 统一回收。
type CooldownTracker struct {
	mu        sync.Mutex
	readyAt   map[int64]time.Time
	min       time.Duration
	max       time.Duration
	randomize bool
	random    *rand.Rand
	nowFunc   func() time.Time
}

// NewCooldownTracker 创建冷却跟踪器。
//
// randomize 开启时冷却时长在 [min, max] 间均匀抽取，否则固定为 min。
func NewCooldownTracker(min, max time.Duration, randomize bool, random *rand.Rand) *CooldownTracker {
	return &CooldownTracker{
		readyAt:   make(map[int64]time.Time),
		min:       min,
		max:       max,
		randomize: randomize,
		random:    random,
		nowFunc:   time.Now,
	}
}

// IsReady 判断邮箱是否已过冷却期。无记录视为就绪。
func (t *CooldownTracker) IsReady(mailboxID int64) bool {
	return t.Remaining(mailboxID) <= 0
}

// Remaining 返回邮箱冷却的剩余时长，已就绪时返回 0 或负值。
func (t *CooldownTracker) Remaining(mailboxID int64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	readyAt, ok := t.readyAt[mailboxID]
	if !ok {
		return 0
	}
	return readyAt.Sub(t.nowFunc())
}

// SetCooldown 在邮箱发送成功后写入新的冷却截止时间。
func (t *CooldownTracker) SetCooldown(mailboxID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	duration := t.min
	if t.randomize && t.max > t.min {
		duration = t.min + time.Duration(t.random.Int63n(int64(t.max-t.min)+1))
	}
	t.readyAt[mailboxID] = t.nowFunc().Add(duration)
}

// Sweep 清理已过期的冷却条目，返回清理数量。
func (t *CooldownTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	removed := 0
	for id, readyAt := range t.readyAt {
		if !readyAt.After(now) {
			delete(t.readyAt, id)
			removed++
		}
	}
	return removed
}
