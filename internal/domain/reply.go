package domain

import "time"

// ReplyStatus 表示计划回复的处理状态。
type ReplyStatus string

const (
	ReplyStatusPending ReplyStatus = "pending"
	ReplyStatusSent    ReplyStatus = "sent"
	ReplyStatusFailed  ReplyStatus = "failed"
)

// ScheduledReply 表示一条延迟发送的自动回复。
//
// 由调度器在发送成功后按概率创建，到期后由回复清扫任务发出。
// MailboxID 指向发出回复的邮箱（即原始发送的收件方）。
type ScheduledReply struct {
	ID            string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID     int64       `json:"mailboxId" gorm:"index"`
	TenantID      string      `json:"tenantId" gorm:"type:varchar(36);index"`
	Recipient     string      `json:"recipient" gorm:"type:varchar(255)"` // 原始发送方地址
	Subject       string      `json:"subject" gorm:"type:varchar(500)"`
	Body          string      `json:"body" gorm:"type:text"`
	ScheduledFor  time.Time   `json:"scheduledFor" gorm:"index"`
	Status        ReplyStatus `json:"status" gorm:"type:varchar(16);index"`
	CorrelationID string      `json:"correlationId" gorm:"type:varchar(36)"` // 关联的原始发送
	CreatedAt     time.Time   `json:"createdAt"`
}
