package warmup

import (
	"math/rand"
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

func newTestReplyScheduler(store *memory.Store, seed int64) *ReplyScheduler {
	random := rand.New(rand.NewSource(seed))
	cfg := config.ReplyConfig{
		DelayMin: 5 * time.Minute,
		DelayMax: 240 * time.Minute,
	}
	scheduler := NewReplyScheduler(store, cfg, template.NewProvider(random), random, zap.NewNop())
	scheduler.nowFunc = func() time.Time { return testNow }
	return scheduler
}

func TestReplySchedulerDelayBounds(t *testing.T) {
	store := memory.NewStore()
	scheduler := newTestReplyScheduler(store, 7)

	job := &domain.SendJob{MailboxID: 1, TenantID: "t1", Address: "sender@example.com", ReplyRatePercent: 100}
	replier := &domain.Mailbox{ID: 2, TenantID: "t1", Address: "peer@example.com"}

	// 回复率 100% 时每次都创建，延迟必须落在配置区间内
	for i := 0; i < 1000; i++ {
		created, err := scheduler.MaybeSchedule(job, replier, "Checking in", "corr")
		require.NoError(t, err)
		require.True(t, created)
	}

	replies, err := store.ListDueReplies(testNow.Add(241*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, replies, 1000)

	for _, reply := range replies {
		delay := reply.ScheduledFor.Sub(testNow)
		assert.GreaterOrEqual(t, delay, 5*time.Minute)
		assert.LessOrEqual(t, delay, 240*time.Minute)
	}
}

func TestReplySchedulerProbability(t *testing.T) {
	t.Run("回复率为零时从不创建", func(t *testing.T) {
		store := memory.NewStore()
		scheduler := newTestReplyScheduler(store, 7)
		job := &domain.SendJob{MailboxID: 1, Address: "sender@example.com", ReplyRatePercent: 0}
		replier := &domain.Mailbox{ID: 2, Address: "peer@example.com"}

		for i := 0; i < 200; i++ {
			created, err := scheduler.MaybeSchedule(job, replier, "s", "c")
			require.NoError(t, err)
			assert.False(t, created)
		}
	})

	t.Run("创建比例与回复率大致相符", func(t *testing.T) {
		store := memory.NewStore()
		scheduler := newTestReplyScheduler(store, 7)
		job := &domain.SendJob{MailboxID: 1, Address: "sender@example.com", ReplyRatePercent: 30}
		replier := &domain.Mailbox{ID: 2, Address: "peer@example.com"}

		created := 0
		for i := 0; i < 1000; i++ {
			ok, err := scheduler.MaybeSchedule(job, replier, "s", "c")
			require.NoError(t, err)
			if ok {
				created++
			}
		}
		// 固定种子下结果确定，区间校验保留对公式的容错
		assert.Greater(t, created, 200)
		assert.Less(t, created, 400)
	})
}

func TestReplySchedulerRecord(t *testing.T) {
	store := memory.NewStore()
	scheduler := newTestReplyScheduler(store, 7)

	job := &domain.SendJob{MailboxID: 1, TenantID: "t1", Address: "sender@example.com", ReplyRatePercent: 100}
	replier := &domain.Mailbox{ID: 2, TenantID: "t1", Address: "peer@example.com"}

	created, err := scheduler.MaybeSchedule(job, replier, "Quick question", "corr-1")
	require.NoError(t, err)
	require.True(t, created)

	replies, err := store.ListDueReplies(testNow.Add(241*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, replies, 1)

	reply := replies[0]
	assert.Equal(t, int64(2), reply.MailboxID) // 回复由对端邮箱发出
	assert.Equal(t, "t1", reply.TenantID)
	assert.Equal(t, "sender@example.com", reply.Recipient)
	assert.Equal(t, "Re: Quick question", reply.Subject)
	assert.NotEmpty(t, reply.Body)
	assert.Equal(t, "corr-1", reply.CorrelationID)
	assert.Equal(t, domain.ReplyStatusPending, reply.Status)
}

func TestReplyProcessorSweep(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.SaveMailbox(&domain.Mailbox{
		ID:       2,
		TenantID: "t1",
		Address:  "peer@example.com",
	}))

	seedReply := func(id string, scheduledFor time.Time) {
		require.NoError(t, store.CreateScheduledReply(&domain.ScheduledReply{
			ID:           id,
			MailboxID:    2,
			TenantID:     "t1",
			Recipient:    "sender@example.com",
			Subject:      "Re: hello",
			Body:         "Thanks!",
			ScheduledFor: scheduledFor,
			Status:       domain.ReplyStatusPending,
		}))
	}
	seedReply("due-1", testNow.Add(-10*time.Minute))
	seedReply("due-2", testNow.Add(-5*time.Minute))
	seedReply("future", testNow.Add(30*time.Minute))

	transport := newFakeTransport()
	processor := NewReplyProcessor(store, config.ReplyConfig{SweepBatch: 50}, transport, zap.NewNop())
	processor.nowFunc = func() time.Time { return testNow }

	sent, err := processor.SweepDue()
	require.NoError(t, err)

	t.Run("只发出已到期的回复", func(t *testing.T) {
		assert.Equal(t, 2, sent)
		assert.Equal(t, 2, transport.sentCount())
	})

	t.Run("发出的回复不会重复处理", func(t *testing.T) {
		again, err := processor.SweepDue()
		require.NoError(t, err)
		assert.Equal(t, 0, again)
	})

	t.Run("回复计入活动日志与配额记录", func(t *testing.T) {
		replied, err := store.CountMailboxActivity(2, domain.ActivityStatusReplied, testNow.Add(-time.Hour), testNow.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, replied)

		record, err := store.GetDailyQuota(2, testNow)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, 2, record.RepliedCount)
	})

	t.Run("投递失败的回复标记为失败且不阻塞同批", func(t *testing.T) {
		seedReply("due-3", testNow.Add(-time.Minute))
		seedReply("due-4", testNow.Add(-time.Minute))
		transport.failFor["peer@example.com"] = assert.AnError

		sent, err := processor.SweepDue()
		require.NoError(t, err)
		assert.Equal(t, 0, sent)

		// 标记失败后不再出现在到期列表中
		remaining, err := store.ListDueReplies(testNow, 0)
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}
