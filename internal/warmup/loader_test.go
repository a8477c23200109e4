package warmup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/storage/memory"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestLoader(store *memory.Store, cfg config.SchedulerConfig) *Loader {
	loader := NewLoader(store, cfg, zap.NewNop())
	loader.nowFunc = func() time.Time { return testNow }
	return loader
}

// seedMailbox 写入一个当日配额为 10 的线性预热邮箱。
func seedMailbox(t *testing.T, store *memory.Store, id int64, tenantID string) {
	t.Helper()
	start := testNow.Add(-time.Hour)
	require.NoError(t, store.SaveMailbox(&domain.Mailbox{
		ID:               id,
		TenantID:         tenantID,
		Address:          "mb@example.com",
		WarmupEnabled:    true,
		WarmupStartCount: 10,
		WarmupIncrement:  2,
		WarmupMaxDaily:   50,
		WarmupStartDate:  &start,
	}))
}

// seedSent 为某邮箱追加 n 条当日发送记录。
func seedSent(t *testing.T, store *memory.Store, mailboxID int64, tenantID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.AppendActivity(&domain.ActivityLog{
			MailboxID: mailboxID,
			TenantID:  tenantID,
			Status:    domain.ActivityStatusSent,
			CreatedAt: testNow.Add(-time.Hour),
		}))
	}
}

func TestLoaderPriorityOrdering(t *testing.T) {
	store := memory.NewStore()
	seedMailbox(t, store, 1, "t1")
	seedMailbox(t, store, 2, "t1")
	seedMailbox(t, store, 3, "t1")
	seedSent(t, store, 2, "t1", 5)
	seedSent(t, store, 3, "t1", 9)

	loader := newTestLoader(store, config.SchedulerConfig{})
	result, err := loader.Load()
	require.NoError(t, err)

	t.Run("离配额完成最远的邮箱排在最前", func(t *testing.T) {
		require.Len(t, result.Jobs, 3)
		assert.Equal(t, int64(1), result.Jobs[0].MailboxID)
		assert.Equal(t, int64(2), result.Jobs[1].MailboxID)
		assert.Equal(t, int64(3), result.Jobs[2].MailboxID)
	})

	t.Run("任务携带配额上下文", func(t *testing.T) {
		job := result.Jobs[1]
		assert.Equal(t, 1, job.DayNumber)
		assert.Equal(t, 10, job.DailyQuota)
		assert.Equal(t, 5, job.SentToday)
		assert.Equal(t, 5, job.Remaining)
		assert.InDelta(t, 55.0, job.Priority, 0.001)
	})
}

func TestLoaderQuotaCompletion(t *testing.T) {
	store := memory.NewStore()
	seedMailbox(t, store, 1, "t1")
	seedSent(t, store, 1, "t1", 10)

	loader := newTestLoader(store, config.SchedulerConfig{})
	result, err := loader.Load()
	require.NoError(t, err)

	t.Run("已完成配额的邮箱不入队", func(t *testing.T) {
		assert.Empty(t, result.Jobs)
	})

	t.Run("配额记录仍被刷新", func(t *testing.T) {
		record, err := store.GetDailyQuota(1, testNow)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, 10, record.Quota)
		assert.Equal(t, 10, record.SentCount)
		assert.Equal(t, 1, record.DayNumber)
	})

	t.Run("邮箱仍留在收件候选集中", func(t *testing.T) {
		assert.Contains(t, result.Mailboxes, int64(1))
	})
}

// TestLoaderPreservesRepliedCount 回复清扫推进的已回复计数
// 不能被每周期的配额刷新冲掉。
func TestLoaderPreservesRepliedCount(t *testing.T) {
	store := memory.NewStore()
	seedMailbox(t, store, 1, "t1")
	midnight := time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, testNow.Location())
	require.NoError(t, store.IncrementQuotaReplied(1, midnight))

	loader := newTestLoader(store, config.SchedulerConfig{})
	_, err := loader.Load()
	require.NoError(t, err)

	record, err := store.GetDailyQuota(1, testNow)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 10, record.Quota)
	assert.Equal(t, 1, record.RepliedCount)
}

func TestLoaderStartDateInitialization(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.SaveMailbox(&domain.Mailbox{
		ID:            1,
		TenantID:      "t1",
		Address:       "fresh@example.com",
		WarmupEnabled: true,
	}))

	loader := newTestLoader(store, config.SchedulerConfig{})
	result, err := loader.Load()
	require.NoError(t, err)

	t.Run("首次遇到的邮箱按第一天入队", func(t *testing.T) {
		require.Len(t, result.Jobs, 1)
		assert.Equal(t, 1, result.Jobs[0].DayNumber)
		assert.Equal(t, 3, result.Jobs[0].DailyQuota) // 阶段表第一天
	})

	t.Run("起始日期已落库", func(t *testing.T) {
		mb, err := store.GetMailbox(1)
		require.NoError(t, err)
		require.NotNil(t, mb.WarmupStartDate)
		assert.Equal(t, testNow, *mb.WarmupStartDate)
	})
}

func TestLoaderTenantCeilings(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.SaveTenant(&domain.Tenant{
		ID:              "t1",
		DailyEmailLimit: 5,
		IsActive:        true,
	}))
	require.NoError(t, store.SaveTenant(&domain.Tenant{
		ID:       "t2",
		IsActive: true,
	}))
	seedMailbox(t, store, 1, "t1")
	seedMailbox(t, store, 2, "t2")
	seedSent(t, store, 1, "t1", 5)

	loader := newTestLoader(store, config.SchedulerConfig{})
	result, err := loader.Load()
	require.NoError(t, err)

	t.Run("触达日上限的租户邮箱被排除", func(t *testing.T) {
		require.Len(t, result.Jobs, 1)
		assert.Equal(t, int64(2), result.Jobs[0].MailboxID)
	})

	t.Run("租户用量以持久化统计为基数", func(t *testing.T) {
		assert.Equal(t, 5, result.Usage.Daily("t1"))
		assert.Equal(t, 0, result.Usage.Daily("t2"))
	})

	t.Run("上限为零表示不限制", func(t *testing.T) {
		tenant := result.Tenants["t2"]
		assert.False(t, result.Usage.Exceeded(&tenant))
	})
}

func TestLoaderSharding(t *testing.T) {
	store := memory.NewStore()
	for id := int64(1); id <= 6; id++ {
		seedMailbox(t, store, id, "t1")
	}

	cfg := config.SchedulerConfig{
		Distributed: true,
		WorkerIndex: 2,
		WorkerCount: 3,
	}
	loader := newTestLoader(store, cfg)
	result, err := loader.Load()
	require.NoError(t, err)

	t.Run("只加载归属本分片的邮箱", func(t *testing.T) {
		require.Len(t, result.Jobs, 2)
		for _, job := range result.Jobs {
			assert.Equal(t, int64(1), job.MailboxID%3) // (2-1) mod 3 == 1
		}
	})

	t.Run("收件候选集包含全部启用邮箱", func(t *testing.T) {
		assert.Len(t, result.Mailboxes, 6)
	})
}

func TestOwnsMailbox(t *testing.T) {
	t.Run("单进程模式拥有全部邮箱", func(t *testing.T) {
		assert.True(t, OwnsMailbox(7, 1, 1))
		assert.True(t, OwnsMailbox(7, 1, 0))
	})

	t.Run("分片划分完整且互不重叠", func(t *testing.T) {
		const workers = 4
		for id := int64(0); id < 100; id++ {
			owners := 0
			for idx := 1; idx <= workers; idx++ {
				if OwnsMailbox(id, idx, workers) {
					owners++
				}
			}
			assert.Equal(t, 1, owners, "邮箱 %d 应恰好归属一个分片", id)
		}
	})

	t.Run("同一输入的归属判定稳定", func(t *testing.T) {
		first := OwnsMailbox(42, 2, 3)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, OwnsMailbox(42, 2, 3))
		}
	})
}
