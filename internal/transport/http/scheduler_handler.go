package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/storage"
	"mailwarm/backend/internal/warmup"
)

// SchedulerHandler 调度器相关的 HTTP 处理逻辑。
type SchedulerHandler struct {
	scheduler *warmup.Scheduler
	store     storage.Store
	logger    *zap.Logger
}

// NewSchedulerHandler 创建调度器处理器。
func NewSchedulerHandler(scheduler *warmup.Scheduler, store storage.Store, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
		store:     store,
		logger:    logger,
	}
}

// TriggerCycle 手动触发一个调度周期。
//
// POST /api/v1/scheduler/run
// 周期在后台执行，接口立即返回；已有周期在执行时返回 409。
func (h *SchedulerHandler) TriggerCycle(c *gin.Context) {
	if h.scheduler.CycleActive() {
		Conflict(c, "调度周期正在执行中")
		return
	}

	go func() {
		if _, err := h.scheduler.RunCycle(context.Background()); err != nil &&
			!errors.Is(err, warmup.ErrCycleInProgress) {
			h.logger.Error("manual cycle failed", zap.Error(err))
		}
	}()

	Accepted(c, "调度周期已触发")
}

// Status 返回调度器实时状态。
//
// GET /api/v1/scheduler/status
func (h *SchedulerHandler) Status(c *gin.Context) {
	Success(c, h.scheduler.Status())
}

// Metrics 返回聚合指标快照。
//
// GET /api/v1/scheduler/metrics
func (h *SchedulerHandler) Metrics(c *gin.Context) {
	Success(c, h.scheduler.Metrics())
}

// MetricsText 以纯文本格式导出聚合指标。
//
// GET /api/v1/scheduler/metrics/text
func (h *SchedulerHandler) MetricsText(c *gin.Context) {
	c.String(http.StatusOK, h.scheduler.ExportText())
}

// History 返回最近的周期指标历史，从旧到新。
//
// GET /api/v1/scheduler/history
func (h *SchedulerHandler) History(c *gin.Context) {
	Success(c, h.scheduler.History())
}

// MailboxQuota 返回某邮箱指定日期的配额记录。
//
// GET /api/v1/mailboxes/:id/quota?date=2026-09-01（默认当天）
func (h *SchedulerHandler) MailboxQuota(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "无效的邮箱 ID")
		return
	}

	date := time.Now()
	if raw := c.Query("date"); raw != "" {
		date, err = time.Parse("2006-01-02", raw)
		if err != nil {
			BadRequest(c, "无效的日期格式，应为 YYYY-MM-DD")
			return
		}
	}

	record, err := h.store.GetDailyQuota(id, date)
	if err != nil {
		h.logger.Error("failed to load quota record", zap.Error(err))
		InternalError(c, "查询配额记录失败")
		return
	}
	if record == nil {
		NotFound(c, "配额记录不存在")
		return
	}

	Success(c, record)
}

// upsertMailboxRequest 创建/更新邮箱的请求体。
type upsertMailboxRequest struct {
	TenantID         string `json:"tenantId" binding:"required"`
	Address          string `json:"address" binding:"required,email"`
	WarmupEnabled    bool   `json:"warmupEnabled"`
	WarmupStartCount int    `json:"warmupStartCount"`
	WarmupIncrement  int    `json:"warmupIncrement"`
	WarmupMaxDaily   int    `json:"warmupMaxDaily"`
	ReplyRatePercent int    `json:"replyRatePercent"`
}

// UpsertMailbox 登记一个预热邮箱。
//
// POST /api/v1/mailboxes
func (h *SchedulerHandler) UpsertMailbox(c *gin.Context) {
	var req upsertMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if req.ReplyRatePercent < 0 || req.ReplyRatePercent > 100 {
		BadRequest(c, "回复率必须在 0 到 100 之间")
		return
	}

	mailbox := &domain.Mailbox{
		TenantID:         req.TenantID,
		Address:          req.Address,
		WarmupEnabled:    req.WarmupEnabled,
		WarmupStartCount: req.WarmupStartCount,
		WarmupIncrement:  req.WarmupIncrement,
		WarmupMaxDaily:   req.WarmupMaxDaily,
		ReplyRatePercent: req.ReplyRatePercent,
	}
	if err := h.store.SaveMailbox(mailbox); err != nil {
		h.logger.Error("failed to save mailbox", zap.Error(err))
		InternalError(c, "保存邮箱失败")
		return
	}

	Success(c, mailbox)
}
