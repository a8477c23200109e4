package memory

import (
	"sort"
	"sync"
	"time"

	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/storage"
)

// Store 内存存储实现
//
// 用于开发环境与测试，进程退出即丢失数据。
type Store struct {
	mu sync.RWMutex

	mailboxes  map[int64]*domain.Mailbox
	tenants    map[string]*domain.Tenant
	activities []domain.ActivityLog
	quotas     map[quotaKey]*domain.DailyQuotaRecord
	replies    map[string]*domain.ScheduledReply

	nextMailboxID  int64
	nextActivityID int64
	nextQuotaID    int64
}

type quotaKey struct {
	mailboxID int64
	date      string // "2006-01-02"
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[int64]*domain.Mailbox),
		tenants:   make(map[string]*domain.Tenant),
		quotas:    make(map[quotaKey]*domain.DailyQuotaRecord),
		replies:   make(map[string]*domain.ScheduledReply),
	}
}

// SaveMailbox 保存邮箱，ID 为 0 时自动分配。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mailbox.ID == 0 {
		s.nextMailboxID++
		mailbox.ID = s.nextMailboxID
	} else if mailbox.ID > s.nextMailboxID {
		s.nextMailboxID = mailbox.ID
	}

	copied := *mailbox
	s.mailboxes[mailbox.ID] = &copied
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	copied := *mb
	return &copied, nil
}

// ListEnabledMailboxes 返回所有启用预热的邮箱，按 ID 升序。
func (s *Store) ListEnabledMailboxes() ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mailbox, 0, len(s.mailboxes))
	for _, mb := range s.mailboxes {
		if mb.WarmupEnabled {
			out = append(out, *mb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateWarmupStartDate 初始化邮箱的预热起始日期。
func (s *Store) UpdateWarmupStartDate(id int64, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	mb.WarmupStartDate = &start
	mb.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveTenant 保存租户。
func (s *Store) SaveTenant(tenant *domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *tenant
	s.tenants[tenant.ID] = &copied
	return nil
}

// GetTenant 根据 ID 获取租户。
func (s *Store) GetTenant(id string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, storage.ErrTenantNotFound
	}
	copied := *t
	return &copied, nil
}

// ListActiveTenants 返回所有激活的租户。
func (s *Store) ListActiveTenants() ([]domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if t.IsActive {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendActivity 追加发送活动记录。
func (s *Store) AppendActivity(entry *domain.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextActivityID++
	entry.ID = s.nextActivityID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.activities = append(s.activities, *entry)
	return nil
}

// CountMailboxActivity 统计邮箱在时间窗口内指定状态的活动数量（闭区间）。
func (s *Store) CountMailboxActivity(mailboxID int64, status domain.ActivityStatus, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := range s.activities {
		a := &s.activities[i]
		if a.MailboxID == mailboxID && a.Status == status && inWindow(a.CreatedAt, from, to) {
			count++
		}
	}
	return count, nil
}

// CountTenantActivity 统计租户在时间窗口内指定状态的活动数量（闭区间）。
func (s *Store) CountTenantActivity(tenantID string, status domain.ActivityStatus, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := range s.activities {
		a := &s.activities[i]
		if a.TenantID == tenantID && a.Status == status && inWindow(a.CreatedAt, from, to) {
			count++
		}
	}
	return count, nil
}

// UpsertDailyQuota 以 (邮箱, 日期) 为键插入或更新当日配额记录。
func (s *Store) UpsertDailyQuota(record *domain.DailyQuotaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey{mailboxID: record.MailboxID, date: dateKey(record.Date)}
	if existing, ok := s.quotas[key]; ok {
		// replied_count 只由 IncrementQuotaReplied 推进，更新不覆盖
		existing.DayNumber = record.DayNumber
		existing.Quota = record.Quota
		existing.SentCount = record.SentCount
		existing.UpdatedAt = time.Now().UTC()
		record.ID = existing.ID
		return nil
	}

	s.nextQuotaID++
	record.ID = s.nextQuotaID
	record.UpdatedAt = time.Now().UTC()
	copied := *record
	s.quotas[key] = &copied
	return nil
}

// GetDailyQuota 获取某邮箱某日的配额记录。
func (s *Store) GetDailyQuota(mailboxID int64, date time.Time) (*domain.DailyQuotaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.quotas[quotaKey{mailboxID: mailboxID, date: dateKey(date)}]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

// IncrementQuotaSent 将当日配额记录的已发送计数加一。
func (s *Store) IncrementQuotaSent(mailboxID int64, date time.Time) error {
	return s.incrementQuota(mailboxID, date, func(rec *domain.DailyQuotaRecord) {
		rec.SentCount++
	})
}

// IncrementQuotaReplied 将当日配额记录的已回复计数加一。
func (s *Store) IncrementQuotaReplied(mailboxID int64, date time.Time) error {
	return s.incrementQuota(mailboxID, date, func(rec *domain.DailyQuotaRecord) {
		rec.RepliedCount++
	})
}

func (s *Store) incrementQuota(mailboxID int64, date time.Time, apply func(*domain.DailyQuotaRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey{mailboxID: mailboxID, date: dateKey(date)}
	rec, ok := s.quotas[key]
	if !ok {
		s.nextQuotaID++
		rec = &domain.DailyQuotaRecord{
			ID:        s.nextQuotaID,
			MailboxID: mailboxID,
			Date:      truncateToDay(date),
		}
		s.quotas[key] = rec
	}
	apply(rec)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteQuotaRecordsBefore 删除指定日期之前的配额记录，返回删除数量。
func (s *Store) DeleteQuotaRecordsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, rec := range s.quotas {
		if rec.Date.Before(truncateToDay(cutoff)) {
			delete(s.quotas, key)
			deleted++
		}
	}
	return deleted, nil
}

// CreateScheduledReply 创建计划回复记录。
func (s *Store) CreateScheduledReply(reply *domain.ScheduledReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	copied := *reply
	s.replies[reply.ID] = &copied
	return nil
}

// ListDueReplies 返回到期且仍为待处理状态的回复，按计划时间升序。
func (s *Store) ListDueReplies(due time.Time, limit int) ([]domain.ScheduledReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScheduledReply, 0)
	for _, r := range s.replies {
		if r.Status == domain.ReplyStatusPending && !r.ScheduledFor.After(due) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateReplyStatus 更新计划回复的处理状态。
func (s *Store) UpdateReplyStatus(id string, status domain.ReplyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replies[id]
	if !ok {
		return storage.ErrReplyNotFound
	}
	r.Status = status
	return nil
}

// Close 关闭存储（内存实现无操作）。
func (s *Store) Close() error { return nil }

// Health 检查存储健康状态（内存实现恒为健康）。
func (s *Store) Health() error { return nil }

// inWindow 判断时间是否落在闭区间 [from, to] 内。
func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// dateKey 将日期归一化为 "2006-01-02" 键。
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// truncateToDay 将时间截断到当日零点。
func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
