package domain

import (
	"time"
)

// Mailbox 表示参与预热的发信邮箱实体。
type Mailbox struct {
	ID               int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID         string     `json:"tenantId" gorm:"type:varchar(36);index"`
	Address          string     `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	WarmupEnabled    bool       `json:"warmupEnabled" gorm:"index"`
	WarmupStartCount int        `json:"warmupStartCount"` // 首日配额（0 表示使用阶段表曲线）
	WarmupIncrement  int        `json:"warmupIncrement"`  // 每日递增量（0 表示使用阶段表曲线）
	WarmupMaxDaily   int        `json:"warmupMaxDaily"`   // 每日配额上限，0 表示不限制
	WarmupStartDate  *time.Time `json:"warmupStartDate,omitempty"`
	ReplyRatePercent int        `json:"replyRatePercent"` // 自动回复概率（百分比，0-100）
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// HasCustomRamp 判断邮箱是否配置了线性预热参数。
//
// 配置了起始量和递增量的邮箱使用线性曲线，否则回落到固定阶段表。
func (m *Mailbox) HasCustomRamp() bool {
	return m.WarmupStartCount > 0 && m.WarmupIncrement > 0
}

// Unlimited 判断每日配额是否不设上限。
func (m *Mailbox) Unlimited() bool {
	return m.WarmupMaxDaily <= 0
}
