package warmup

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/mailer"
	"mailwarm/backend/internal/pool"
	"mailwarm/backend/internal/storage"
	"mailwarm/backend/internal/template"
)

const (
	// 剩余冷却不超过该阈值时视为已就绪，避免对毫秒级残余重排队
	requeueThreshold = time.Second
	// 整轮无任务可准入但仍有在途发送时的等待时长
	idleWait = 500 * time.Millisecond
	// 连续触发限流退避的次数上限，超过后本周期剩余任务顺延
	maxBackoffs = 3
)

// Dispatcher 并发派发器：把任务队列交给协程池执行，
// 控制在途并发、错峰延迟、批次停顿和限流退避。
type Dispatcher struct {
	store     storage.Store
	cfg       config.SchedulerConfig
	log       *zap.Logger
	transport mailer.Transport
	templates *template.Provider
	cooldowns *CooldownTracker
	limiter   *RateLimiter
	replies   *ReplyScheduler
	collector *Collector

	random  *rand.Rand
	nowFunc func() time.Time
	sleep   func(time.Duration)

	queueSize atomic.Int64
	inFlight  atomic.Int64
}

// NewDispatcher 创建并发派发器。
func NewDispatcher(
	store storage.Store,
	cfg config.SchedulerConfig,
	transport mailer.Transport,
	templates *template.Provider,
	cooldowns *CooldownTracker,
	limiter *RateLimiter,
	replies *ReplyScheduler,
	collector *Collector,
	random *rand.Rand,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:     store,
		cfg:       cfg,
		log:       log,
		transport: transport,
		templates: templates,
		cooldowns: cooldowns,
		limiter:   limiter,
		replies:   replies,
		collector: collector,
		random:    random,
		nowFunc:   time.Now,
		sleep:     time.Sleep,
	}
}

// QueueSize 返回当前周期剩余的待派发任务数。
func (d *Dispatcher) QueueSize() int {
	return int(d.queueSize.Load())
}

// InFlight 返回当前在途的发送任务数。
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Dispatch 执行一个周期的派发。
//
// 队列按 BatchSize 切成批次，批次之间停顿 BatchPause；
// 批次内部逐个准入：冷却中的任务排回队尾，触发限流的任务
// 排回队头并退避。单个任务失败只记录活动日志，不中断批次。
// 上下文取消后不再准入新任务，已提交给协程池的任务仍会执行完毕。
func (d *Dispatcher) Dispatch(ctx context.Context, load *LoadResult) domain.BatchMetrics {
	start := d.nowFunc()
	metrics := domain.BatchMetrics{StartedAt: start}

	queue := make([]domain.SendJob, len(load.Jobs))
	copy(queue, load.Jobs)
	d.queueSize.Store(int64(len(queue)))
	defer d.queueSize.Store(0)

	workers := pool.NewWorkerPool(d.cfg.MaxConcurrent, d.cfg.MaxConcurrent, d.log)
	workers.Start()

	for len(queue) > 0 && ctx.Err() == nil {
		size := d.cfg.BatchSize
		if size > len(queue) {
			size = len(queue)
		}
		batch := queue[:size]
		queue = queue[size:]

		d.runBatch(ctx, batch, load, workers, &metrics)
		d.queueSize.Store(int64(len(queue)))

		if len(queue) > 0 && d.cfg.BatchPause > 0 && ctx.Err() == nil {
			d.sleep(d.cfg.BatchPause)
		}
	}

	workers.Stop()

	metrics.Duration = d.nowFunc().Sub(start)
	if metrics.Duration > 0 {
		metrics.Throughput = float64(metrics.Succeeded) / metrics.Duration.Hours()
	}

	d.log.Info("dispatch cycle finished",
		zap.Int("processed", metrics.Processed),
		zap.Int("succeeded", metrics.Succeeded),
		zap.Int("failed", metrics.Failed),
		zap.Duration("duration", metrics.Duration),
	)
	return metrics
}

// runBatch 处理一个批次内的所有任务。
func (d *Dispatcher) runBatch(ctx context.Context, batch []domain.SendJob, load *LoadResult, workers *pool.WorkerPool, metrics *domain.BatchMetrics) {
	pending := make([]domain.SendJob, len(batch))
	copy(pending, batch)

	var wg sync.WaitGroup
	var mu sync.Mutex

	requeues := 0
	backoffs := 0

	for len(pending) > 0 && ctx.Err() == nil {
		job := pending[0]
		pending = pending[1:]

		// 派发途中复查租户上限，同周期内其他邮箱的发送会消耗额度
		if tenant, ok := load.Tenants[job.TenantID]; ok && load.Usage.Exceeded(&tenant) {
			d.log.Debug("tenant limit reached mid-cycle, job dropped",
				zap.Int64("mailbox_id", job.MailboxID),
				zap.String("tenant_id", job.TenantID),
			)
			requeues = 0
			continue
		}

		if remaining := d.cooldowns.Remaining(job.MailboxID); remaining > requeueThreshold {
			pending = append(pending, job)
			requeues++
			// 整轮下来没有任何任务可准入：有在途任务就稍等，
			// 否则剩余任务全部在冷却，留给下一周期
			if requeues >= len(pending) {
				if d.inFlight.Load() > 0 {
					d.sleep(idleWait)
					requeues = 0
					continue
				}
				d.log.Debug("all pending mailboxes cooling down, deferring to next cycle",
					zap.Int("deferred", len(pending)),
				)
				break
			}
			continue
		}

		if !d.limiter.Allow() {
			backoffs++
			if backoffs >= maxBackoffs {
				d.log.Warn("rate limit sustained, deferring remaining jobs",
					zap.Int("deferred", len(pending)+1),
				)
				break
			}
			pending = append([]domain.SendJob{job}, pending...)
			d.sleep(d.cfg.RateLimitBackoff)
			continue
		}

		requeues = 0
		backoffs = 0

		// 收件方在准入时选定，对端选取与错峰共用同一个随机源
		recipient, ok := d.pickPeer(&job, load)
		if !ok {
			d.recordFailure(&job, "", "no peer mailbox available for recipient")
			mu.Lock()
			metrics.Processed++
			metrics.Failed++
			mu.Unlock()
			continue
		}

		d.inFlight.Add(1)
		wg.Add(1)
		j := job
		workers.Submit(func() {
			defer wg.Done()
			defer d.inFlight.Add(-1)

			ok := d.send(&j, &recipient, load)
			mu.Lock()
			metrics.Processed++
			if ok {
				metrics.Succeeded++
			} else {
				metrics.Failed++
			}
			mu.Unlock()
		})

		if len(pending) > 0 {
			d.sleep(d.staggerDelay())
		}
	}

	wg.Wait()
}

// send 执行单个发送任务并完成全部记账。失败只影响该任务自身。
func (d *Dispatcher) send(job *domain.SendJob, recipient *domain.Mailbox, load *LoadResult) bool {
	subject, textBody, htmlBody, err := d.templates.Pick()
	if err != nil {
		d.recordFailure(job, recipient.Address, err.Error())
		return false
	}

	if err := d.transport.Send(job.Address, recipient.Address, subject, textBody, htmlBody); err != nil {
		d.log.Warn("send failed",
			zap.Int64("mailbox_id", job.MailboxID),
			zap.String("recipient", recipient.Address),
			zap.Error(err),
		)
		d.recordFailure(job, recipient.Address, err.Error())
		return false
	}

	now := d.nowFunc()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if err := d.store.AppendActivity(&domain.ActivityLog{
		MailboxID: job.MailboxID,
		TenantID:  job.TenantID,
		Sender:    job.Address,
		Recipient: recipient.Address,
		Subject:   subject,
		Status:    domain.ActivityStatusSent,
		CreatedAt: now,
	}); err != nil {
		d.log.Error("failed to record sent activity",
			zap.Int64("mailbox_id", job.MailboxID),
			zap.Error(err),
		)
	}
	if err := d.store.IncrementQuotaSent(job.MailboxID, midnight); err != nil {
		d.log.Warn("failed to increment quota counter",
			zap.Int64("mailbox_id", job.MailboxID),
			zap.Error(err),
		)
	}

	d.cooldowns.SetCooldown(job.MailboxID)
	load.Usage.Add(job.TenantID)
	d.collector.RecordSend(job.MailboxID, true)

	if _, err := d.replies.MaybeSchedule(job, recipient, subject, uuid.NewString()); err != nil {
		d.log.Warn("failed to schedule reply",
			zap.Int64("mailbox_id", recipient.ID),
			zap.Error(err),
		)
	}

	d.log.Info("warmup email sent",
		zap.Int64("mailbox_id", job.MailboxID),
		zap.String("sender", job.Address),
		zap.String("recipient", recipient.Address),
		zap.Int("day_number", job.DayNumber),
	)
	return true
}

// recordFailure 记录一次失败尝试的活动日志。
func (d *Dispatcher) recordFailure(job *domain.SendJob, recipient, note string) {
	if len(note) > 500 {
		note = note[:500]
	}
	if err := d.store.AppendActivity(&domain.ActivityLog{
		MailboxID: job.MailboxID,
		TenantID:  job.TenantID,
		Sender:    job.Address,
		Recipient: recipient,
		Status:    domain.ActivityStatusFailed,
		Note:      note,
		CreatedAt: d.nowFunc(),
	}); err != nil {
		d.log.Error("failed to record failed activity",
			zap.Int64("mailbox_id", job.MailboxID),
			zap.Error(err),
		)
	}
	d.collector.RecordSend(job.MailboxID, false)
}

// pickPeer 从启用邮箱池中随机选取一个不同于发送方的对端邮箱。
func (d *Dispatcher) pickPeer(job *domain.SendJob, load *LoadResult) (domain.Mailbox, bool) {
	ids := make([]int64, 0, len(load.Mailboxes))
	for id := range load.Mailboxes {
		if id != job.MailboxID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return domain.Mailbox{}, false
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return load.Mailboxes[ids[d.random.Intn(len(ids))]], true
}

// staggerDelay 抽取两次准入之间的错峰延迟。
func (d *Dispatcher) staggerDelay() time.Duration {
	if d.cfg.StaggerMax <= d.cfg.StaggerMin {
		return d.cfg.StaggerMin
	}
	return d.cfg.StaggerMin + time.Duration(d.random.Int63n(int64(d.cfg.StaggerMax-d.cfg.StaggerMin)+1))
}
