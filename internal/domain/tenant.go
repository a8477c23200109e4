package domain

import "time"

// Tenant 表示租户实体，承载租户级发送上限。
//
// 上限为 0 时表示该维度不限制。
type Tenant struct {
	ID                string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name              string    `json:"name" gorm:"type:varchar(255)"`
	DailyEmailLimit   int       `json:"dailyEmailLimit"`
	MonthlyEmailLimit int       `json:"monthlyEmailLimit"`
	IsActive          bool      `json:"isActive" gorm:"index"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
