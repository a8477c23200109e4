package domain

import "time"

// DailyQuotaRecord 表示某邮箱某自然日的配额快照。
//
// 以 (MailboxID, Date) 为唯一键，每个调度周期 upsert 一次；
// 即便邮箱当日配额已耗尽也会更新，保证报表数据实时。
type DailyQuotaRecord struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID    int64     `json:"mailboxId" gorm:"uniqueIndex:idx_quota_mailbox_date"`
	Date         time.Time `json:"date" gorm:"type:date;uniqueIndex:idx_quota_mailbox_date"`
	DayNumber    int       `json:"dayNumber"` // 预热开始后的第几天（从 1 开始）
	Quota        int       `json:"quota"`
	SentCount    int       `json:"sentCount"`
	RepliedCount int       `json:"repliedCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
