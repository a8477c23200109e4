package hybrid

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	redisstore "mailwarm/backend/internal/storage/redis"
	sqlstore "mailwarm/backend/internal/storage/sql"
)

// usageCacheTTL 租户用量缓存的有效期。
//
// 缓存只是查询加速层：过期后回源活动日志表重新聚合，
// 因此短暂的计数偏差不会跨越一个 TTL 窗口。
const usageCacheTTL = 60 * time.Second

// Store 混合存储（SQL + Redis）
//
// 持久化全部走 SQL；租户用量统计在 Redis 里做带 TTL 的计数缓存，
// 写入活动日志时对已存在的缓存键做原子自增以保持新鲜。
type Store struct {
	*sqlstore.Store
	cache *redisstore.Client
	log   *zap.Logger
}

// NewStore 创建混合存储
func NewStore(dbCfg *config.DatabaseConfig, redisCfg *config.RedisConfig, log *zap.Logger) (*Store, error) {
	sqlStore, err := sqlstore.NewStore(
		dbCfg.Type,
		dbCfg.DSN,
		dbCfg.MaxOpenConns,
		dbCfg.MaxIdleConns,
		dbCfg.ConnMaxLifetime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sql store: %w", err)
	}

	cache, err := redisstore.New(redisCfg, log)
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	return &Store{
		Store: sqlStore,
		cache: cache,
		log:   log,
	}, nil
}

// AppendActivity 追加活动记录，并同步刷新已缓存的租户用量计数。
func (s *Store) AppendActivity(entry *domain.ActivityLog) error {
	if err := s.Store.AppendActivity(entry); err != nil {
		return err
	}

	// 缓存刷新是尽力而为：失败只记日志，不影响写入结果
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, key := range usageKeys(entry.TenantID, entry.Status, entry.CreatedAt) {
		exists, err := s.cache.Exists(ctx, key)
		if err != nil || exists == 0 {
			continue
		}
		if _, err := s.cache.Incr(ctx, key); err != nil {
			s.log.Debug("failed to bump cached tenant usage", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// CountTenantActivity 统计租户用量，优先走 Redis 缓存。
//
// 只有整窗口统计（当日零点起或当月一日起）会被缓存，
// 其他窗口直接回源 SQL。
func (s *Store) CountTenantActivity(tenantID string, status domain.ActivityStatus, from, to time.Time) (int, error) {
	key, cacheable := windowKey(tenantID, status, from)
	if !cacheable {
		return s.Store.CountTenantActivity(tenantID, status, from, to)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if raw, err := s.cache.Get(ctx, key); err == nil {
		if count, err := strconv.Atoi(raw); err == nil {
			return count, nil
		}
	}

	count, err := s.Store.CountTenantActivity(tenantID, status, from, to)
	if err != nil {
		return 0, err
	}

	if err := s.cache.SetInt(ctx, key, count, usageCacheTTL); err != nil {
		s.log.Debug("failed to cache tenant usage", zap.String("key", key), zap.Error(err))
	}
	return count, nil
}

// Close 关闭 SQL 与 Redis 连接。
func (s *Store) Close() error {
	cacheErr := s.cache.Close()
	if err := s.Store.Close(); err != nil {
		return err
	}
	return cacheErr
}

// Health 检查 SQL 与 Redis 的健康状态。
func (s *Store) Health() error {
	if err := s.Store.Health(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.cache.Ping(ctx)
}

// windowKey 生成整窗口统计的缓存键。
//
// 统计查询的终点始终约等于当前时间，因此窗口由起点唯一确定；
// 只有从零点整开始的窗口（当日或当月起点）可缓存。
func windowKey(tenantID string, status domain.ActivityStatus, from time.Time) (string, bool) {
	midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	if !from.Equal(midnight) {
		return "", false
	}
	return usageKey(tenantID, status, from), true
}

// usageKeys 返回一条活动记录影响的全部缓存键（当日窗口和当月窗口）。
func usageKeys(tenantID string, status domain.ActivityStatus, at time.Time) []string {
	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())

	keys := []string{usageKey(tenantID, status, midnight)}
	if !monthStart.Equal(midnight) {
		keys = append(keys, usageKey(tenantID, status, monthStart))
	}
	return keys
}

// usageKey 以窗口起点为键标识一段用量统计。
func usageKey(tenantID string, status domain.ActivityStatus, windowStart time.Time) string {
	return fmt.Sprintf("mailwarm:usage:%s:%s:%s", tenantID, status, windowStart.Format("2006-01-02"))
}
