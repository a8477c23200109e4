package domain

import "time"

// ActivityStatus 表示一条发送活动记录的结果状态。
type ActivityStatus string

const (
	ActivityStatusSent    ActivityStatus = "sent"
	ActivityStatusFailed  ActivityStatus = "failed"
	ActivityStatusReplied ActivityStatus = "replied"
)

// ActivityLog 表示一次发送尝试的活动记录。
//
// 每次尝试（无论成败）都会追加一条记录；当日配额消耗量与租户用量
// 均通过按状态和时间窗口统计这些记录得出。
type ActivityLog struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID int64          `json:"mailboxId" gorm:"index:idx_activity_mailbox_time"`
	TenantID  string         `json:"tenantId" gorm:"type:varchar(36);index:idx_activity_tenant_time"`
	Sender    string         `json:"sender" gorm:"type:varchar(255)"`
	Recipient string         `json:"recipient" gorm:"type:varchar(255)"`
	Subject   string         `json:"subject" gorm:"type:varchar(500)"`
	Status    ActivityStatus `json:"status" gorm:"type:varchar(16);index"`
	Note      string         `json:"note" gorm:"type:varchar(500)"`
	CreatedAt time.Time      `json:"createdAt" gorm:"index:idx_activity_mailbox_time;index:idx_activity_tenant_time"`
}
