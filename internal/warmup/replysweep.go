package warmup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/mailer"
	"mailwarm/backend/internal/storage"
)

// ReplyProcessor 到期回复清扫器：周期性取出到期的计划回复并发出。
type ReplyProcessor struct {
	store     storage.Store
	cfg       config.ReplyConfig
	log       *zap.Logger
	transport mailer.Transport
	nowFunc   func() time.Time
}

// NewReplyProcessor 创建回复清扫器。
func NewReplyProcessor(store storage.Store, cfg config.ReplyConfig, transport mailer.Transport, log *zap.Logger) *ReplyProcessor {
	return &ReplyProcessor{
		store:     store,
		cfg:       cfg,
		log:       log,
		transport: transport,
		nowFunc:   time.Now,
	}
}

// Run 按配置的间隔循环清扫，直到上下文取消。
func (p *ReplyProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	p.log.Info("reply processor started",
		zap.Duration("interval", p.cfg.SweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("reply processor stopped")
			return ctx.Err()
		case <-ticker.C:
			sent, err := p.SweepDue()
			if err != nil {
				p.log.Error("reply sweep failed", zap.Error(err))
				continue
			}
			if sent > 0 {
				p.log.Info("due replies dispatched", zap.Int("count", sent))
			}
		}
	}
}

// SweepDue 处理一批到期回复，返回成功发出的数量。
//
// 单条回复失败只标记该条为 failed，不影响同批其余回复。
func (p *ReplyProcessor) SweepDue() (int, error) {
	now := p.nowFunc()
	due, err := p.store.ListDueReplies(now, p.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due replies: %w", err)
	}

	sent := 0
	for i := range due {
		reply := &due[i]
		if err := p.deliver(reply); err != nil {
			p.log.Warn("reply delivery failed",
				zap.String("reply_id", reply.ID),
				zap.Int64("mailbox_id", reply.MailboxID),
				zap.Error(err),
			)
			if err := p.store.UpdateReplyStatus(reply.ID, domain.ReplyStatusFailed); err != nil {
				p.log.Error("failed to mark reply failed",
					zap.String("reply_id", reply.ID),
					zap.Error(err),
				)
			}
			continue
		}
		sent++
	}
	return sent, nil
}

// deliver 发送一条到期回复并完成记账。
func (p *ReplyProcessor) deliver(reply *domain.ScheduledReply) error {
	mailbox, err := p.store.GetMailbox(reply.MailboxID)
	if err != nil {
		return fmt.Errorf("failed to resolve replying mailbox: %w", err)
	}

	if err := p.transport.Send(mailbox.Address, reply.Recipient, reply.Subject, reply.Body, ""); err != nil {
		return err
	}

	if err := p.store.UpdateReplyStatus(reply.ID, domain.ReplyStatusSent); err != nil {
		return fmt.Errorf("failed to mark reply sent: %w", err)
	}

	now := p.nowFunc()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if err := p.store.AppendActivity(&domain.ActivityLog{
		MailboxID: reply.MailboxID,
		TenantID:  reply.TenantID,
		Sender:    mailbox.Address,
		Recipient: reply.Recipient,
		Subject:   reply.Subject,
		Status:    domain.ActivityStatusReplied,
		Note:      reply.CorrelationID,
		CreatedAt: now,
	}); err != nil {
		p.log.Error("failed to record reply activity",
			zap.String("reply_id", reply.ID),
			zap.Error(err),
		)
	}
	if err := p.store.IncrementQuotaReplied(reply.MailboxID, midnight); err != nil {
		p.log.Warn("failed to increment replied counter",
			zap.Int64("mailbox_id", reply.MailboxID),
			zap.Error(err),
		)
	}
	return nil
}
