package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailwarm/backend/internal/config"
	"mailwarm/backend/internal/domain"
	"mailwarm/backend/internal/health"
	"mailwarm/backend/internal/logger"
	"mailwarm/backend/internal/mailer"
	"mailwarm/backend/internal/monitoring"
	"mailwarm/backend/internal/storage"
	"mailwarm/backend/internal/storage/hybrid"
	"mailwarm/backend/internal/storage/memory"
	"mailwarm/backend/internal/template"
	httptransport "mailwarm/backend/internal/transport/http"
	"mailwarm/backend/internal/warmup"
)

// main 启动预热调度服务：HTTP API + 调度循环 + 回复清扫。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailwarm scheduler",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = hybrid.NewStore(&cfg.Database, &cfg.Redis, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize hybrid storage: %v", err))
		}
		log.Info("using hybrid storage",
			zap.String("type", cfg.Database.Type),
			zap.String("redis_address", cfg.Redis.Address),
		)
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, log)

	// 初始化发送链路
	transport := mailer.NewSMTPTransport(&cfg.SMTP, log)
	templates := template.NewProvider(rand.New(rand.NewSource(time.Now().UnixNano())))

	// 初始化调度器与回复清扫器
	scheduler := warmup.NewScheduler(store, cfg, transport, templates, metrics, log)
	replyProcessor := warmup.NewReplyProcessor(store, cfg.Reply, transport, log)

	// 开发模式下向内存存储注入演示数据
	if cfg.Log.Development && cfg.Database.Type == "" {
		seedDevelopmentData(store, log)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:    cfg,
		Scheduler: scheduler,
		Store:     store,
		Metrics:   metrics,
		Health:    healthChecker,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 调度循环 goroutine
	group.Go(func() error {
		if err := scheduler.Run(groupCtx); err != nil && err != context.Canceled {
			log.Error("scheduler error", zap.Error(err))
			return err
		}
		return nil
	})

	// 回复清扫 goroutine
	group.Go(func() error {
		if err := replyProcessor.Run(groupCtx); err != nil && err != context.Canceled {
			log.Error("reply processor error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// seedDevelopmentData 向内存存储注入一组演示租户和邮箱。
func seedDevelopmentData(store storage.Store, log *zap.Logger) {
	tenant := &domain.Tenant{
		ID:                "dev-tenant",
		Name:              "Development Tenant",
		DailyEmailLimit:   200,
		MonthlyEmailLimit: 0,
		IsActive:          true,
	}
	if err := store.SaveTenant(tenant); err != nil {
		log.Warn("failed to seed tenant", zap.Error(err))
		return
	}

	addresses := []string{
		"alice@dev.example.com",
		"bob@dev.example.com",
		"carol@dev.example.com",
	}
	for _, addr := range addresses {
		mb := &domain.Mailbox{
			TenantID:         tenant.ID,
			Address:          addr,
			WarmupEnabled:    true,
			WarmupMaxDaily:   30,
			ReplyRatePercent: 40,
		}
		if err := store.SaveMailbox(mb); err != nil {
			log.Warn("failed to seed mailbox",
				zap.String("address", addr),
				zap.Error(err),
			)
		}
	}

	log.Info("development data seeded",
		zap.Int("mailboxes", len(addresses)),
		zap.String("tenant", tenant.ID),
	)
}
