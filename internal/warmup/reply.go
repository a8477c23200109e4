package warmup

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/storage"
	"mailwarm/backend/internal/template"
)

// ReplyScheduler 按邮箱的回复率概率创建延迟回复。
//
// 回复不立即发送，而是落库为 pending 状态的计划回复，
// 延迟在 [DelayMin, DelayMax] 间均匀抽取，到期后由清扫任务发出。
type ReplyScheduler struct {
	store     storage.Store
	cfg       config.ReplyConfig
	log       *zap.Logger
	templates *template.Provider

	mu      sync.Mutex // 保护 random：派发工作协程并发调用
	random  *rand.Rand
	nowFunc func() time.Time
}

// NewReplyScheduler 创建回复调度器。
func NewReplyScheduler(store storage.Store, cfg config.ReplyConfig, templates *template.Provider, random *rand.Rand, log *zap.Logger) *ReplyScheduler {
	return &ReplyScheduler{
		store:     store,
		cfg:       cfg,
		log:       log,
		templates: templates,
		random:    random,
		nowFunc:   time.Now,
	}
}

// MaybeSchedule 在一次成功发送后按概率决定是否安排对端回复。
//
// replier 是收到预热邮件的对端邮箱，回复发回原始发送方。
// 返回是否创建了计划回复。
func (s *ReplyScheduler) MaybeSchedule(job *domain.SendJob, replier *domain.Mailbox, subject, correlationID string) (bool, error) {
	if job.ReplyRatePercent <= 0 {
		return false, nil
	}

	s.mu.Lock()
	rolled := s.random.Intn(100) < job.ReplyRatePercent
	delay := s.cfg.DelayMin
	if s.cfg.DelayMax > s.cfg.DelayMin {
		delay += time.Duration(s.random.Int63n(int64(s.cfg.DelayMax-s.cfg.DelayMin) + 1))
	}
	s.mu.Unlock()

	if !rolled {
		return false, nil
	}

	body, err := s.templates.PickReply()
	if err != nil {
		return false, fmt.Errorf("failed to pick reply template: %w", err)
	}

	now := s.nowFunc()
	reply := &domain.ScheduledReply{
		ID:            uuid.NewString(),
		MailboxID:     replier.ID,
		TenantID:      replier.TenantID,
		Recipient:     job.Address,
		Subject:       "Re: " + subject,
		Body:          body,
		ScheduledFor:  now.Add(delay),
		Status:        domain.ReplyStatusPending,
		CorrelationID: correlationID,
		CreatedAt:     now,
	}

	if err := s.store.CreateScheduledReply(reply); err != nil {
		return false, fmt.Errorf("failed to create scheduled reply: %w", err)
	}

	s.log.Debug("reply scheduled",
		zap.Int64("mailbox_id", replier.ID),
		zap.String("recipient", job.Address),
		zap.Duration("delay", delay),
	)
	return true, nil
}
