package warmup

import (
	"time"

	"mailwarm/backend/internal/domain"
)

// RampStrategy 定义预热曲线：由预热天数和邮箱配置推导当日配额。
//
// 线性曲线与固定阶段表并存（历史遗留的两套公式），调用方通过
// StrategyFor 按邮箱配置选择；新邮箱推荐配置线性参数。
type RampStrategy interface {
	// Quota 返回第 dayNumber 天的允许发送量，dayNumber 从 1 开始。
	Quota(dayNumber int, mailbox *domain.Mailbox) int
	// Name 返回策略名，用于日志与报表。
	Name() string
}

// LinearRamp 线性预热曲线：首日 startCount，之后每天递增 increaseBy，
// 封顶于 maxDaily（0 表示不封顶）。
type LinearRamp struct{}

// Quota 实现 RampStrategy。
func (LinearRamp) Quota(dayNumber int, mailbox *domain.Mailbox) int {
	if dayNumber < 1 {
		return 0
	}
	quota := mailbox.WarmupStartCount + (dayNumber-1)*mailbox.WarmupIncrement
	if !mailbox.Unlimited() && quota > mailbox.WarmupMaxDaily {
		quota = mailbox.WarmupMaxDaily
	}
	return quota
}

// Name 实现 RampStrategy。
func (LinearRamp) Name() string { return "linear" }

// PhaseRamp 固定阶段表曲线，用于没有配置线性参数的邮箱。
//
// 阶段: 1-3 天 3 封/日，4-6 天 5 封，7-10 天 7 封，
// 11-14 天 10 封，15 天起 min(maxDaily, 20)。
type PhaseRamp struct{}

// Quota 实现 RampStrategy。
func (PhaseRamp) Quota(dayNumber int, mailbox *domain.Mailbox) int {
	if dayNumber < 1 {
		return 0
	}

	var quota int
	switch {
	case dayNumber <= 3:
		quota = 3
	case dayNumber <= 6:
		quota = 5
	case dayNumber <= 10:
		quota = 7
	case dayNumber <= 14:
		quota = 10
	default:
		quota = 20
	}

	if !mailbox.Unlimited() && quota > mailbox.WarmupMaxDaily {
		quota = mailbox.WarmupMaxDaily
	}
	return quota
}

// Name 实现 RampStrategy。
func (PhaseRamp) Name() string { return "phase" }

// StrategyFor 按邮箱配置选择预热曲线。
func StrategyFor(mailbox *domain.Mailbox) RampStrategy {
	if mailbox.HasCustomRamp() {
		return LinearRamp{}
	}
	return PhaseRamp{}
}

// DayNumber 计算某时刻处于预热的第几天（从 1 开始）。
//
// 两个时间都先归一化到当日零点，避免一天内的时刻差造成天数抖动；
// 预热尚未开始时返回 0 或负数，曲线会将其映射为配额 0。
func DayNumber(now, start time.Time) int {
	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	return int(nowDay.Sub(startDay).Hours()/24) + 1
}
