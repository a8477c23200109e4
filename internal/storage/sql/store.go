package sql

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	// 验证驱动类型
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = mysql.Open(dsn)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:         db,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Tenant{},
		&domain.Mailbox{},
		&domain.ActivityLog{},
		&domain.DailyQuotaRecord{},
		&domain.ScheduledReply{},
	)
}

// SaveMailbox 保存邮箱。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	return s.db.Save(mailbox).Error
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id int64) (*domain.Mailbox, error) {
	var mb domain.Mailbox
	err := s.db.First(&mb, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, storage.ErrMailboxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mb, nil
}

// ListEnabledMailboxes 返回所有启用预热的邮箱。
func (s *Store) ListEnabledMailboxes() ([]domain.Mailbox, error) {
	var out []domain.Mailbox
	err := s.db.Where("warmup_enabled = ?", true).Order("id ASC").Find(&out).Error
	return out, err
}

// UpdateWarmupStartDate 初始化邮箱的预热起始日期。
func (s *Store) UpdateWarmupStartDate(id int64, start time.Time) error {
	result := s.db.Model(&domain.Mailbox{}).
		Where("id = ?", id).
		Update("warmup_start_date", start)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// SaveTenant 保存租户。
func (s *Store) SaveTenant(tenant *domain.Tenant) error {
	return s.db.Save(tenant).Error
}

// GetTenant 根据 ID 获取租户。
func (s *Store) GetTenant(id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.db.First(&t, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, storage.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListActiveTenants 返回所有激活的租户。
func (s *Store) ListActiveTenants() ([]domain.Tenant, error) {
	var out []domain.Tenant
	err := s.db.Where("is_active = ?", true).Order("id ASC").Find(&out).Error
	return out, err
}

// AppendActivity 追加发送活动记录。
func (s *Store) AppendActivity(entry *domain.ActivityLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(entry).Error
}

// CountMailboxActivity 统计邮箱在时间窗口内指定状态的活动数量。
func (s *Store) CountMailboxActivity(mailboxID int64, status domain.ActivityStatus, from, to time.Time) (int, error) {
	var count int64
	err := s.db.Model(&domain.ActivityLog{}).
		Where("mailbox_id = ? AND status = ? AND created_at BETWEEN ? AND ?", mailboxID, status, from, to).
		Count(&count).Error
	return int(count), err
}

// CountTenantActivity 统计租户在时间窗口内指定状态的活动数量。
func (s *Store) CountTenantActivity(tenantID string, status domain.ActivityStatus, from, to time.Time) (int, error) {
	var count int64
	err := s.db.Model(&domain.ActivityLog{}).
		Where("tenant_id = ? AND status = ? AND created_at BETWEEN ? AND ?", tenantID, status, from, to).
		Count(&count).Error
	return int(count), err
}

// UpsertDailyQuota 以 (邮箱, 日期) 为键插入或更新当日配额记录。
//
// 更新不触及 replied_count：该列由 IncrementQuotaReplied 在回复
// 发出时推进，每周期的刷新不能把它冲掉。
func (s *Store) UpsertDailyQuota(record *domain.DailyQuotaRecord) error {
	record.Date = truncateToDay(record.Date)
	record.UpdatedAt = time.Now().UTC()
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mailbox_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"day_number", "quota", "sent_count", "updated_at",
		}),
	}).Create(record).Error
}

// GetDailyQuota 获取某邮箱某日的配额记录。
func (s *Store) GetDailyQuota(mailboxID int64, date time.Time) (*domain.DailyQuotaRecord, error) {
	var rec domain.DailyQuotaRecord
	err := s.db.First(&rec, "mailbox_id = ? AND date = ?", mailboxID, truncateToDay(date)).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IncrementQuotaSent 将当日配额记录的已发送计数加一。
func (s *Store) IncrementQuotaSent(mailboxID int64, date time.Time) error {
	return s.incrementQuota(mailboxID, date, "sent_count")
}

// IncrementQuotaReplied 将当日配额记录的已回复计数加一。
func (s *Store) IncrementQuotaReplied(mailboxID int64, date time.Time) error {
	return s.incrementQuota(mailboxID, date, "replied_count")
}

func (s *Store) incrementQuota(mailboxID int64, date time.Time, column string) error {
	day := truncateToDay(date)
	result := s.db.Model(&domain.DailyQuotaRecord{}).
		Where("mailbox_id = ? AND date = ?", mailboxID, day).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// 记录尚不存在时先建一条再计数
	rec := &domain.DailyQuotaRecord{MailboxID: mailboxID, Date: day, UpdatedAt: time.Now().UTC()}
	if column == "sent_count" {
		rec.SentCount = 1
	} else {
		rec.RepliedCount = 1
	}
	return s.db.Create(rec).Error
}

// DeleteQuotaRecordsBefore 删除指定日期之前的配额记录，返回删除数量。
func (s *Store) DeleteQuotaRecordsBefore(cutoff time.Time) (int, error) {
	result := s.db.Where("date < ?", truncateToDay(cutoff)).Delete(&domain.DailyQuotaRecord{})
	return int(result.RowsAffected), result.Error
}

// CreateScheduledReply 创建计划回复记录。
func (s *Store) CreateScheduledReply(reply *domain.ScheduledReply) error {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(reply).Error
}

// ListDueReplies 返回到期且仍为待处理状态的回复，按计划时间升序。
func (s *Store) ListDueReplies(due time.Time, limit int) ([]domain.ScheduledReply, error) {
	var out []domain.ScheduledReply
	query := s.db.
		Where("status = ? AND scheduled_for <= ?", domain.ReplyStatusPending, due).
		Order("scheduled_for ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&out).Error
	return out, err
}

// UpdateReplyStatus 更新计划回复的处理状态。
func (s *Store) UpdateReplyStatus(id string, status domain.ReplyStatus) error {
	result := s.db.Model(&domain.ScheduledReply{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrReplyNotFound
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// truncateToDay 将时间截断到当日零点。
func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
