package warmup

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/mailer"
	"mailwarm/backend/internal/storage"
	"mailwarm/backend/internal/template"
)

const (
	// 连续失败达到该次数后调度循环熔断退出
	maxConsecutiveFailures = 5
	// 维护任务（清理过期配额记录、回收冷却条目）的执行间隔
	maintenanceInterval = 24 * time.Hour
)

// ErrCycleInProgress 表示已有调度周期在执行，本次触发被拒绝。
var ErrCycleInProgress = errors.New("scheduler cycle already in progress")

// CycleObserver 接收每个调度周期的结果，供外部监控系统消费。
type CycleObserver interface {
	ObserveCycle(domain.BatchMetrics)
	ObserveSnapshot(domain.SchedulerMetrics)
}

// Scheduler 调度编排器：驱动 加载 -> 派发 -> 记账 的周期循环。
type Scheduler struct {
	cfg config.SchedulerConfig
	log *zap.Logger

	loader     *Loader
	dispatcher *Dispatcher
	collector  *Collector
	limiter    *RateLimiter
	cooldowns  *CooldownTracker
	observer   CycleObserver // 可为 nil

	store   storage.Store
	nowFunc func() time.Time

	running     atomic.Bool
	cycleActive atomic.Bool
}

// NewScheduler 创建调度器并装配全部子组件。
//
// observer 可传 nil，表示不对接外部监控。
func NewScheduler(
	store storage.Store,
	cfg *config.Config,
	transport mailer.Transport,
	templates *template.Provider,
	observer CycleObserver,
	log *zap.Logger,
) *Scheduler {
	// 三个随机源各自独立：派发器的只在准入循环中使用；
	// 冷却跟踪器和回复调度器都会被工作协程并发调用，
	// 各自在内部锁的保护下抽取，不能与准入循环共用
	dispatchRand := rand.New(rand.NewSource(time.Now().UnixNano()))
	replyRand := rand.New(rand.NewSource(time.Now().UnixNano() + 1))
	cooldownRand := rand.New(rand.NewSource(time.Now().UnixNano() + 2))

	collector := NewCollector()
	limiter := NewRateLimiter(cfg.Scheduler.HourlyLimit, cfg.Scheduler.MinuteLimit)
	cooldowns := NewCooldownTracker(
		cfg.Scheduler.CooldownMin,
		cfg.Scheduler.CooldownMax,
		cfg.Scheduler.CooldownRandomize,
		cooldownRand,
	)
	replies := NewReplyScheduler(store, cfg.Reply, templates, replyRand, log)
	dispatcher := NewDispatcher(
		store,
		cfg.Scheduler,
		transport,
		templates,
		cooldowns,
		limiter,
		replies,
		collector,
		dispatchRand,
		log,
	)

	return &Scheduler{
		cfg:        cfg.Scheduler,
		log:        log,
		loader:     NewLoader(store, cfg.Scheduler, log),
		dispatcher: dispatcher,
		collector:  collector,
		limiter:    limiter,
		cooldowns:  cooldowns,
		observer:   observer,
		store:      store,
		nowFunc:    time.Now,
	}
}

// Run 启动调度循环，直到上下文取消或熔断触发。
//
// 启动时立即执行一个周期，之后按 CycleInterval 周期执行；
// 连续 maxConsecutiveFailures 次周期失败后熔断退出。
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	s.log.Info("warmup scheduler started",
		zap.Duration("cycle_interval", s.cfg.CycleInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
		zap.Bool("distributed", s.cfg.Distributed),
	)

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()
	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	failures := 0
	cycle := func() error {
		_, err := s.RunCycle(ctx)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, ErrCycleInProgress) || errors.Is(err, context.Canceled):
			// 手动触发的周期仍在执行或正在关停，不计入熔断
		default:
			failures++
			s.log.Error("scheduler cycle failed",
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= maxConsecutiveFailures {
				return fmt.Errorf("scheduler halted after %d consecutive cycle failures: %w", failures, err)
			}
		}
		return nil
	}

	if err := cycle(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("warmup scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := cycle(); err != nil {
				return err
			}
		case <-maintenance.C:
			s.Maintenance()
		}
	}
}

// RunCycle 执行单个调度周期：加载任务队列、派发、记账。
//
// 同一时刻只允许一个周期在执行，重入返回 ErrCycleInProgress。
func (s *Scheduler) RunCycle(ctx context.Context) (domain.BatchMetrics, error) {
	if !s.cycleActive.CompareAndSwap(false, true) {
		return domain.BatchMetrics{}, ErrCycleInProgress
	}
	defer s.cycleActive.Store(false)

	load, err := s.loader.Load()
	if err != nil {
		return domain.BatchMetrics{}, fmt.Errorf("failed to load dispatch queue: %w", err)
	}

	for id, record := range load.Quotas {
		s.collector.ObserveMailbox(id, record.Quota, record.SentCount)
	}

	s.log.Info("dispatch queue loaded",
		zap.Int("jobs", len(load.Jobs)),
		zap.Int("mailboxes", len(load.Mailboxes)),
	)

	metrics := s.dispatcher.Dispatch(ctx, load)
	s.collector.RecordBatch(metrics)

	if s.observer != nil {
		s.observer.ObserveCycle(metrics)
		s.observer.ObserveSnapshot(s.collector.Snapshot())
	}
	return metrics, nil
}

// CycleActive 返回当前是否有调度周期在执行。
func (s *Scheduler) CycleActive() bool {
	return s.cycleActive.Load()
}

// Maintenance 执行每日维护：清理过期配额记录、回收过期冷却条目。
func (s *Scheduler) Maintenance() {
	cutoff := s.nowFunc().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.store.DeleteQuotaRecordsBefore(cutoff)
	if err != nil {
		s.log.Error("failed to purge expired quota records", zap.Error(err))
	}
	swept := s.cooldowns.Sweep()

	s.log.Info("maintenance finished",
		zap.Int("quota_records_deleted", deleted),
		zap.Int("cooldowns_swept", swept),
		zap.Time("cutoff", cutoff),
	)
}

// Status 返回调度器的实时运行状态。
func (s *Scheduler) Status() domain.SchedulerStatus {
	hourly, minute := s.limiter.Usage()
	return domain.SchedulerStatus{
		Running:     s.running.Load(),
		QueueSize:   s.dispatcher.QueueSize(),
		InFlight:    s.dispatcher.InFlight(),
		HourlyUsage: hourly,
		MinuteUsage: minute,
	}
}

// Metrics 返回当前的聚合指标快照。
func (s *Scheduler) Metrics() domain.SchedulerMetrics {
	return s.collector.Snapshot()
}

// History 返回周期指标历史，从旧到新。
func (s *Scheduler) History() []domain.BatchMetrics {
	return s.collector.History()
}

// ExportText 以文本格式导出聚合指标。
func (s *Scheduler) ExportText() string {
	return s.collector.ExportText()
}
