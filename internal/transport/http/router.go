package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/health"
	"mailwarm/backend/internal/monitoring"
	"mailwarm/backend/internal/storage"
	"mailwarm/backend/internal/warmup"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Scheduler *warmup.Scheduler
	Store     storage.Store
	Metrics   *monitoring.Metrics
	Health    *health.HealthChecker
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	if !deps.Config.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger, deps.Metrics))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewSchedulerHandler(deps.Scheduler, deps.Store, deps.Logger)

	// 手动触发接口加令牌桶限流：每 10 秒 1 次，突发 3 次
	runLimiter := rate.NewLimiter(rate.Every(10*time.Second), 3)

	v1 := router.Group("/api/v1")
	{
		scheduler := v1.Group("/scheduler")
		{
			scheduler.POST("/run", rateLimit(runLimiter, deps.Metrics), handler.TriggerCycle)
			scheduler.GET("/status", handler.Status)
			scheduler.GET("/metrics", handler.Metrics)
			scheduler.GET("/metrics/text", handler.MetricsText)
			scheduler.GET("/history", handler.History)
		}

		v1.POST("/mailboxes", handler.UpsertMailbox)
		v1.GET("/mailboxes/:id/quota", handler.MailboxQuota)
	}

	router.GET("/health", gin.WrapF(deps.Health.LiveEndpoint()))
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint()))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	return router
}

// requestLogger 记录每个请求的访问日志和监控指标。
func requestLogger(logger *zap.Logger, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, endpoint, c.Writer.Status(), duration)

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// rateLimit 以令牌桶保护高成本接口。
func rateLimit(limiter *rate.Limiter, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			metrics.RecordRateLimitBlock()
			TooManyRequests(c, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Next()
	}
}
