package storage

import (
	"errors"
	"time"

	"mailwarm/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱未找到错误
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrTenantNotFound 租户未找到错误
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrReplyNotFound 计划回复未找到错误
	ErrReplyNotFound = errors.New("scheduled reply not found")
)

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	SaveMailbox(mailbox *domain.Mailbox) error
	GetMailbox(id int64) (*domain.Mailbox, error)
	ListEnabledMailboxes() ([]domain.Mailbox, error)
	UpdateWarmupStartDate(id int64, start time.Time) error
}

// TenantRepository 定义租户数据存取操作。
type TenantRepository interface {
	SaveTenant(tenant *domain.Tenant) error
	GetTenant(id string) (*domain.Tenant, error)
	ListActiveTenants() ([]domain.Tenant, error)
}

// ActivityRepository 定义发送活动日志存取操作。
//
// 配额消耗与租户用量都通过按时间窗口统计活动记录得出，
// 因此统计口径必须跨周期、跨进程一致。
type ActivityRepository interface {
	AppendActivity(entry *domain.ActivityLog) error
	CountMailboxActivity(mailboxID int64, status domain.ActivityStatus, from, to time.Time) (int, error)
	CountTenantActivity(tenantID string, status domain.ActivityStatus, from, to time.Time) (int, error)
}

// QuotaRepository 定义每日配额记录存取操作。
//
// UpsertDailyQuota 对已有记录只更新天数、配额和已发送计数，
// 已回复计数由 IncrementQuotaReplied 独立推进。
type QuotaRepository interface {
	UpsertDailyQuota(record *domain.DailyQuotaRecord) error
	GetDailyQuota(mailboxID int64, date time.Time) (*domain.DailyQuotaRecord, error)
	IncrementQuotaSent(mailboxID int64, date time.Time) error
	IncrementQuotaReplied(mailboxID int64, date time.Time) error
	DeleteQuotaRecordsBefore(cutoff time.Time) (int, error) // 清理过期记录，返回删除数量
}

// ReplyRepository 定义计划回复存取操作。
type ReplyRepository interface {
	CreateScheduledReply(reply *domain.ScheduledReply) error
	ListDueReplies(due time.Time, limit int) ([]domain.ScheduledReply, error)
	UpdateReplyStatus(id string, status domain.ReplyStatus) error
}

// Store 定义完整的存储接口。
type Store interface {
	MailboxRepository
	TenantRepository
	ActivityRepository
	QuotaRepository
	ReplyRepository

	// 工具方法
	Close() error
	Health() error
}
