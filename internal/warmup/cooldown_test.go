package warmup

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownTracker(t *testing.T) {
	newTracker := func(randomize bool) (*CooldownTracker, *time.Time) {
		now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		tracker := NewCooldownTracker(20*time.Minute, 40*time.Minute, randomize, rand.New(rand.NewSource(1)))
		tracker.nowFunc = func() time.Time { return now }
		return tracker, &now
	}

	t.Run("无记录的邮箱视为就绪", func(t *testing.T) {
		tracker, _ := newTracker(false)
		assert.True(t, tracker.IsReady(1))
		assert.LessOrEqual(t, tracker.Remaining(1), time.Duration(0))
	})

	t.Run("发送后进入冷却期", func(t *testing.T) {
		tracker, now := newTracker(false)
		tracker.SetCooldown(1)
		assert.False(t, tracker.IsReady(1))
		assert.Equal(t, 20*time.Minute, tracker.Remaining(1))

		// 其他邮箱不受影响
		assert.True(t, tracker.IsReady(2))

		*now = now.Add(19 * time.Minute)
		assert.False(t, tracker.IsReady(1))

		*now = now.Add(time.Minute)
		assert.True(t, tracker.IsReady(1))
	})

	t.Run("随机冷却时长落在配置区间内", func(t *testing.T) {
		tracker, _ := newTracker(true)
		for i := 0; i < 1000; i++ {
			tracker.SetCooldown(1)
			remaining := tracker.Remaining(1)
			assert.GreaterOrEqual(t, remaining, 20*time.Minute)
			assert.LessOrEqual(t, remaining, 40*time.Minute)
		}
	})

	t.Run("再次发送重置冷却截止时间", func(t *testing.T) {
		tracker, now := newTracker(false)
		tracker.SetCooldown(1)
		*now = now.Add(15 * time.Minute)
		tracker.SetCooldown(1)
		assert.Equal(t, 20*time.Minute, tracker.Remaining(1))
	})

	t.Run("清扫只回收已过期的条目", func(t *testing.T) {
		tracker, now := newTracker(false)
		tracker.SetCooldown(1)
		tracker.SetCooldown(2)
		*now = now.Add(10 * time.Minute)
		tracker.SetCooldown(3)

		*now = now.Add(15 * time.Minute) // 1、2 已过期，3 还剩 5 分钟
		assert.Equal(t, 2, tracker.Sweep())
		assert.False(t, tracker.IsReady(3))
		assert.Equal(t, 0, tracker.Sweep())
	})
}
