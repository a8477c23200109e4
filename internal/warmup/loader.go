package warmup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/storage"
)

// TenantUsage 缓存一个调度周期内的租户用量。
//
// 加载时以持久化统计为基数，派发过程中每次成功发送就地加一，
// 供同周期内的后续判定使用；跨周期的真实口径仍以活动日志为准。
type TenantUsage struct {
	mu      sync.Mutex
	daily   map[string]int
	monthly map[string]int
}

// NewTenantUsage 创建空的租户用量缓存。
func NewTenantUsage() *TenantUsage {
	return &TenantUsage{
		daily:   make(map[string]int),
		monthly: make(map[string]int),
	}
}

// Seed 以持久化统计结果初始化某租户的用量基数。
func (u *TenantUsage) Seed(tenantID string, daily, monthly int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.daily[tenantID] = daily
	u.monthly[tenantID] = monthly
}

// Add 记录租户的一次成功发送。
func (u *TenantUsage) Add(tenantID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.daily[tenantID]++
	u.monthly[tenantID]++
}

// Daily 返回租户当日用量。
func (u *TenantUsage) Daily(tenantID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.daily[tenantID]
}

// Monthly 返回租户当月用量。
func (u *TenantUsage) Monthly(tenantID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.monthly[tenantID]
}

// Exceeded 判断租户是否已触达日或月上限（上限为 0 表示不限制）。
func (u *TenantUsage) Exceeded(tenant *domain.Tenant) bool {
	if tenant == nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if tenant.DailyEmailLimit > 0 && u.daily[tenant.ID] >= tenant.DailyEmailLimit {
		return true
	}
	if tenant.MonthlyEmailLimit > 0 && u.monthly[tenant.ID] >= tenant.MonthlyEmailLimit {
		return true
	}
	return false
}

// OwnsMailbox 判断分片后某邮箱是否归本进程处理。
//
// 静态取模分片：mailboxId mod workerCount == (workerIndex-1) mod workerCount。
// 这不是协调式租约，多进程部署的安全性完全依赖分片参数配置正确。
func OwnsMailbox(mailboxID int64, workerIndex, workerCount int) bool {
	if workerCount <= 1 {
		return true
	}
	return mailboxID%int64(workerCount) == int64((workerIndex-1)%workerCount)
}

// LoadResult 是一次加载的产物：排好序的任务队列及其上下文。
type LoadResult struct {
	Jobs      []domain.SendJob
	Mailboxes map[int64]domain.Mailbox          // 全部启用邮箱，派发时从中选收件方
	Quotas    map[int64]domain.DailyQuotaRecord // 本分片处理的邮箱当日配额，含已完成者
	Tenants   map[string]domain.Tenant
	Usage     *TenantUsage
}

// Loader 优先级加载器：读取邮箱状态，套用预热曲线和租户上限，
// 产出按优先级降序排列的发送任务队列。
type Loader struct {
	store   storage.Store
	cfg     config.SchedulerConfig
	log     *zap.Logger
	nowFunc func() time.Time
}

// NewLoader 创建优先级加载器。
func NewLoader(store storage.Store, cfg config.SchedulerConfig, log *zap.Logger) *Loader {
	return &Loader{
		store:   store,
		cfg:     cfg,
		log:     log,
		nowFunc: time.Now,
	}
}

// Load 构建本周期的任务队列。
//
// 对每个启用邮箱：首次遇到时落库初始化预热起始日期；计算预热天数、
// 当日配额与已发送量；无论是否入队都 upsert 当日配额记录，保证
// 报表对已完成/被排除的邮箱同样实时。
func (l *Loader) Load() (*LoadResult, error) {
	now := l.nowFunc()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	mailboxes, err := l.store.ListEnabledMailboxes()
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	tenants, err := l.loadTenants()
	if err != nil {
		return nil, err
	}

	result := &LoadResult{
		Jobs:      make([]domain.SendJob, 0, len(mailboxes)),
		Mailboxes: make(map[int64]domain.Mailbox, len(mailboxes)),
		Quotas:    make(map[int64]domain.DailyQuotaRecord, len(mailboxes)),
		Tenants:   tenants,
		Usage:     NewTenantUsage(),
	}

	seeded := make(map[string]bool)

	for i := range mailboxes {
		mb := &mailboxes[i]
		result.Mailboxes[mb.ID] = *mb

		// 分布式模式下只处理归属本进程分片的邮箱，
		// 但所有邮箱仍留在收件候选集中
		if l.cfg.Distributed && !OwnsMailbox(mb.ID, l.cfg.WorkerIndex, l.cfg.WorkerCount) {
			continue
		}

		if mb.WarmupStartDate == nil {
			if err := l.store.UpdateWarmupStartDate(mb.ID, now); err != nil {
				l.log.Warn("failed to initialize warmup start date",
					zap.Int64("mailbox_id", mb.ID),
					zap.Error(err),
				)
				continue
			}
			start := now
			mb.WarmupStartDate = &start
			result.Mailboxes[mb.ID] = *mb
		}

		dayNumber := DayNumber(now, *mb.WarmupStartDate)
		strategy := StrategyFor(mb)
		quota := strategy.Quota(dayNumber, mb)

		sentToday, err := l.store.CountMailboxActivity(mb.ID, domain.ActivityStatusSent, midnight, now)
		if err != nil {
			l.log.Warn("failed to count sent activity",
				zap.Int64("mailbox_id", mb.ID),
				zap.Error(err),
			)
			continue
		}

		// 配额记录无条件刷新，与是否入队无关
		record := domain.DailyQuotaRecord{
			MailboxID: mb.ID,
			Date:      midnight,
			DayNumber: dayNumber,
			Quota:     quota,
			SentCount: sentToday,
		}
		result.Quotas[mb.ID] = record
		if err := l.store.UpsertDailyQuota(&record); err != nil {
			l.log.Warn("failed to upsert daily quota record",
				zap.Int64("mailbox_id", mb.ID),
				zap.Error(err),
			)
		}

		tenant, hasTenant := tenants[mb.TenantID]
		if hasTenant {
			if !seeded[mb.TenantID] {
				if err := l.seedTenantUsage(result.Usage, mb.TenantID, midnight, monthStart, now); err != nil {
					l.log.Warn("failed to load tenant usage",
						zap.String("tenant_id", mb.TenantID),
						zap.Error(err),
					)
					continue
				}
				seeded[mb.TenantID] = true
			}
			if result.Usage.Exceeded(&tenant) {
				l.log.Debug("tenant over sending limit, mailbox excluded",
					zap.String("tenant_id", mb.TenantID),
					zap.Int64("mailbox_id", mb.ID),
				)
				continue
			}
		}

		remaining := quota - sentToday
		if remaining <= 0 {
			continue
		}

		divisor := quota
		if divisor < 1 {
			divisor = 1
		}
		priority := (1-float64(sentToday)/float64(divisor))*100 + float64(remaining)

		result.Jobs = append(result.Jobs, domain.SendJob{
			MailboxID:        mb.ID,
			TenantID:         mb.TenantID,
			Address:          mb.Address,
			ReplyRatePercent: mb.ReplyRatePercent,
			DayNumber:        dayNumber,
			DailyQuota:       quota,
			SentToday:        sentToday,
			Remaining:        remaining,
			Priority:         priority,
		})
	}

	// 离配额完成最远、剩余缺口最大的邮箱排前面
	sort.SliceStable(result.Jobs, func(i, j int) bool {
		return result.Jobs[i].Priority > result.Jobs[j].Priority
	})

	return result, nil
}

// loadTenants 加载激活租户并建立索引。
func (l *Loader) loadTenants() (map[string]domain.Tenant, error) {
	tenants, err := l.store.ListActiveTenants()
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	out := make(map[string]domain.Tenant, len(tenants))
	for _, t := range tenants {
		out[t.ID] = t
	}
	return out, nil
}

// seedTenantUsage 以持久化活动统计初始化租户用量基数。
func (l *Loader) seedTenantUsage(usage *TenantUsage, tenantID string, midnight, monthStart, now time.Time) error {
	daily, err := l.store.CountTenantActivity(tenantID, domain.ActivityStatusSent, midnight, now)
	if err != nil {
		return err
	}
	monthly, err := l.store.CountTenantActivity(tenantID, domain.ActivityStatusSent, monthStart, now)
	if err != nil {
		return err
	}
	usage.Seed(tenantID, daily, monthly)
	return nil
}
