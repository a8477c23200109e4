package warmup

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/storage/memory"
	"mailwarm/backend/internal/template"
)

// fakeTransport 记录发送调用的测试替身，可按发送方地址注入失败。
type fakeTransport struct {
	mu      sync.Mutex
	sent    []string // "from->to"
	failFor map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failFor: make(map[string]error)}
}

func (f *fakeTransport) Send(from, to, subject, textBody, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[from]; ok {
		return err
	}
	f.sent = append(f.sent, fmt.Sprintf("%s->%s", from, to))
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type dispatcherFixture struct {
	store      *memory.Store
	transport  *fakeTransport
	cooldowns  *CooldownTracker
	limiter    *RateLimiter
	collector  *Collector
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T, cfg config.SchedulerConfig, replyCfg config.ReplyConfig) *dispatcherFixture {
	t.Helper()
	store := memory.NewStore()
	transport := newFakeTransport()
	random := rand.New(rand.NewSource(42))
	templates := template.NewProvider(random)
	// 冷却跟踪器在工作协程上抽取，与准入循环的随机源分开
	cooldowns := NewCooldownTracker(cfg.CooldownMin, cfg.CooldownMax, cfg.CooldownRandomize, rand.New(rand.NewSource(44)))
	limiter := NewRateLimiter(cfg.HourlyLimit, cfg.MinuteLimit)
	collector := NewCollector()
	replies := NewReplyScheduler(store, replyCfg, templates, rand.New(rand.NewSource(43)), zap.NewNop())

	dispatcher := NewDispatcher(store, cfg, transport, templates, cooldowns, limiter, replies, collector, random, zap.NewNop())
	dispatcher.sleep = func(time.Duration) {}

	return &dispatcherFixture{
		store:      store,
		transport:  transport,
		cooldowns:  cooldowns,
		limiter:    limiter,
		collector:  collector,
		dispatcher: dispatcher,
	}
}

func defaultDispatchConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		BatchSize:        10,
		MaxConcurrent:    1,
		CooldownMin:      20 * time.Minute,
		CooldownMax:      20 * time.Minute,
		HourlyLimit:      1000,
		MinuteLimit:      1000,
		RateLimitBackoff: time.Second,
	}
}

func defaultReplyConfig() config.ReplyConfig {
	return config.ReplyConfig{
		DelayMin:   5 * time.Minute,
		DelayMax:   240 * time.Minute,
		SweepBatch: 50,
	}
}

// newLoadResult 构造含 n 个邮箱的派发上下文，邮箱 ID 从 1 开始。
func newLoadResult(n int, replyRate int) *LoadResult {
	result := &LoadResult{
		Mailboxes: make(map[int64]domain.Mailbox),
		Quotas:    make(map[int64]domain.DailyQuotaRecord),
		Tenants:   make(map[string]domain.Tenant),
		Usage:     NewTenantUsage(),
	}
	for i := 1; i <= n; i++ {
		id := int64(i)
		addr := fmt.Sprintf("mb%d@example.com", i)
		result.Mailboxes[id] = domain.Mailbox{ID: id, TenantID: "t1", Address: addr}
		result.Jobs = append(result.Jobs, domain.SendJob{
			MailboxID:        id,
			TenantID:         "t1",
			Address:          addr,
			ReplyRatePercent: replyRate,
			DayNumber:        1,
			DailyQuota:       10,
			Remaining:        10,
		})
	}
	return result
}

func TestDispatcherBatchIsolation(t *testing.T) {
	fx := newDispatcherFixture(t, defaultDispatchConfig(), defaultReplyConfig())
	fx.transport.failFor["mb2@example.com"] = errors.New("smtp relay rejected")

	load := newLoadResult(3, 0)
	metrics := fx.dispatcher.Dispatch(context.Background(), load)

	t.Run("单个失败不影响其余任务", func(t *testing.T) {
		assert.Equal(t, 3, metrics.Processed)
		assert.Equal(t, 2, metrics.Succeeded)
		assert.Equal(t, 1, metrics.Failed)
		assert.Equal(t, 2, fx.transport.sentCount())
	})

	t.Run("失败尝试留有活动记录", func(t *testing.T) {
		failed, err := fx.store.CountMailboxActivity(2, domain.ActivityStatusFailed, time.Time{}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, failed)
	})

	t.Run("成功发送的记账完整", func(t *testing.T) {
		for _, id := range []int64{1, 3} {
			sent, err := fx.store.CountMailboxActivity(id, domain.ActivityStatusSent, time.Time{}, time.Now().Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, sent, "邮箱 %d", id)

			record, err := fx.store.GetDailyQuota(id, time.Now())
			require.NoError(t, err)
			require.NotNil(t, record)
			assert.Equal(t, 1, record.SentCount)
		}
	})

	t.Run("只有成功的邮箱进入冷却", func(t *testing.T) {
		assert.False(t, fx.cooldowns.IsReady(1))
		assert.True(t, fx.cooldowns.IsReady(2))
		assert.False(t, fx.cooldowns.IsReady(3))
	})

	t.Run("租户用量只计成功发送", func(t *testing.T) {
		assert.Equal(t, 2, load.Usage.Daily("t1"))
	})
}

func TestDispatcherCooldownDeferral(t *testing.T) {
	fx := newDispatcherFixture(t, defaultDispatchConfig(), defaultReplyConfig())

	// 邮箱 1 预先处于冷却期
	fx.cooldowns.SetCooldown(1)

	load := newLoadResult(2, 0)
	metrics := fx.dispatcher.Dispatch(context.Background(), load)

	t.Run("冷却中的邮箱顺延其余照常发送", func(t *testing.T) {
		assert.Equal(t, 1, metrics.Processed)
		assert.Equal(t, 1, metrics.Succeeded)
		assert.Equal(t, []string{"mb2@example.com->mb1@example.com"}, fx.transport.sent)
	})
}

func TestDispatcherRateLimitDeferral(t *testing.T) {
	cfg := defaultDispatchConfig()
	cfg.MinuteLimit = 1
	fx := newDispatcherFixture(t, cfg, defaultReplyConfig())

	load := newLoadResult(3, 0)
	metrics := fx.dispatcher.Dispatch(context.Background(), load)

	t.Run("触发限流后剩余任务顺延", func(t *testing.T) {
		assert.Equal(t, 1, metrics.Processed)
		assert.Equal(t, 1, metrics.Succeeded)
		assert.Equal(t, 1, fx.transport.sentCount())
	})
}

func TestDispatcherMissingPeer(t *testing.T) {
	fx := newDispatcherFixture(t, defaultDispatchConfig(), defaultReplyConfig())

	// 池中只有发送方自己，选不出对端
	load := newLoadResult(1, 0)
	metrics := fx.dispatcher.Dispatch(context.Background(), load)

	t.Run("缺少对端计为失败", func(t *testing.T) {
		assert.Equal(t, 1, metrics.Processed)
		assert.Equal(t, 1, metrics.Failed)
		assert.Equal(t, 0, fx.transport.sentCount())
	})

	t.Run("失败原因写入活动日志", func(t *testing.T) {
		failed, err := fx.store.CountMailboxActivity(1, domain.ActivityStatusFailed, time.Time{}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, failed)
	})
}

func TestDispatcherSchedulesReplies(t *testing.T) {
	fx := newDispatcherFixture(t, defaultDispatchConfig(), defaultReplyConfig())

	// 回复率 100%，每次成功发送都应产生一条计划回复
	load := newLoadResult(2, 100)
	metrics := fx.dispatcher.Dispatch(context.Background(), load)
	require.Equal(t, 2, metrics.Succeeded)

	replies, err := fx.store.ListDueReplies(time.Now().Add(241*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	for _, reply := range replies {
		assert.Equal(t, domain.ReplyStatusPending, reply.Status)
		assert.NotEmpty(t, reply.ID)
		assert.NotEmpty(t, reply.CorrelationID)
		assert.Contains(t, reply.Subject, "Re: ")
	}
}

// gatedTransport 在放行前阻塞每次发送，用于模拟慢速中继。
type gatedTransport struct {
	started chan string
	release chan struct{}
}

func (g *gatedTransport) Send(from, to, subject, textBody, htmlBody string) error {
	g.started <- from
	<-g.release
	return nil
}

func TestDispatcherContextCancellation(t *testing.T) {
	cfg := defaultDispatchConfig()
	store := memory.NewStore()
	transport := &gatedTransport{started: make(chan string, 2), release: make(chan struct{})}
	templates := template.NewProvider(rand.New(rand.NewSource(42)))
	cooldowns := NewCooldownTracker(cfg.CooldownMin, cfg.CooldownMax, false, rand.New(rand.NewSource(44)))
	limiter := NewRateLimiter(cfg.HourlyLimit, cfg.MinuteLimit)
	replies := NewReplyScheduler(store, defaultReplyConfig(), templates, rand.New(rand.NewSource(43)), zap.NewNop())
	dispatcher := NewDispatcher(store, cfg, transport, templates, cooldowns, limiter, replies, NewCollector(), rand.New(rand.NewSource(42)), zap.NewNop())
	dispatcher.sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan domain.BatchMetrics, 1)
	go func() {
		done <- dispatcher.Dispatch(ctx, newLoadResult(2, 0))
	}()

	// 等到第一封阻塞在发送中、第二封已提交排队，再取消上下文
	<-transport.started
	require.Eventually(t, func() bool {
		return dispatcher.InFlight() == 2
	}, time.Second, time.Millisecond)
	cancel()
	close(transport.release)

	select {
	case metrics := <-done:
		t.Run("已入队的任务照常完成", func(t *testing.T) {
			assert.Equal(t, 2, metrics.Processed)
			assert.Equal(t, 2, metrics.Succeeded)
		})
	case <-time.After(2 * time.Second):
		t.Fatal("取消上下文后 Dispatch 未返回")
	}
}

func TestDispatcherConcurrentWorkers(t *testing.T) {
	cfg := defaultDispatchConfig()
	cfg.BatchSize = 30
	cfg.MaxConcurrent = 4
	cfg.CooldownRandomize = true
	cfg.CooldownMax = 40 * time.Minute
	cfg.StaggerMin = time.Millisecond
	cfg.StaggerMax = 10 * time.Millisecond
	fx := newDispatcherFixture(t, cfg, defaultReplyConfig())

	// 工作协程写入冷却与准入循环抽取错峰延迟同时发生
	load := newLoadResult(30, 0)
	metrics := fx.dispatcher.Dispatch(context.Background(), load)

	assert.Equal(t, 30, metrics.Processed)
	assert.Equal(t, 30, metrics.Succeeded)
	assert.Equal(t, 30, fx.transport.sentCount())
	for id := int64(1); id <= 30; id++ {
		assert.False(t, fx.cooldowns.IsReady(id), "邮箱 %d 应已进入冷却", id)
	}
}

func TestDispatcherBatchPartitioning(t *testing.T) {
	cfg := defaultDispatchConfig()
	cfg.BatchSize = 2
	cfg.BatchPause = time.Minute
	cfg.CooldownMin = 0
	cfg.CooldownMax = 0
	fx := newDispatcherFixture(t, cfg, defaultReplyConfig())

	var pauses int
	fx.dispatcher.sleep = func(d time.Duration) {
		if d == time.Minute {
			pauses++
		}
	}

	load := newLoadResult(5, 0)
	metrics := fx.dispatcher.Dispatch(context.Background(), load)

	t.Run("全部任务分批完成", func(t *testing.T) {
		assert.Equal(t, 5, metrics.Processed)
		assert.Equal(t, 5, metrics.Succeeded)
	})

	t.Run("批次之间停顿", func(t *testing.T) {
		// 5 个任务按批次大小 2 切成 3 批，批间停顿 2 次
		assert.Equal(t, 2, pauses)
	})
}
