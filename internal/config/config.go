package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// SMTPConfig 定义出站 SMTP 中继配置
type SMTPConfig struct {
	Host          string // 中继主机
	Port          int    // 中继端口，默认 587
	Username      string // 认证用户名
	Password      string // 认证密码
	SkipTLSVerify bool   // 跳过 TLS 证书校验（仅限测试环境）
}

// SchedulerConfig 定义预热调度器的核心参数
type SchedulerConfig struct {
	CycleInterval     time.Duration // 调度周期间隔，默认 5 分钟
	BatchSize         int           // 外层批次大小，默认 10
	BatchPause        time.Duration // 批次之间的停顿，默认 1 分钟
	MaxConcurrent     int           // 同时在途的最大发送数，默认 3
	CooldownMin       time.Duration // 邮箱发送后的最短冷却时间，默认 20 分钟
	CooldownMax       time.Duration // 随机冷却的上限，默认 40 分钟
	CooldownRandomize bool          // 是否在 [min,max] 间随机冷却，默认开启
	StaggerMin        time.Duration // 任务准入之间的最小错峰延迟，默认 2 秒
	StaggerMax        time.Duration // 任务准入之间的最大错峰延迟，默认 10 秒
	HourlyLimit       int           // 全局每小时发送上限，默认 100
	MinuteLimit       int           // 全局每分钟发送上限，默认 10
	RateLimitBackoff  time.Duration // 触发限流后的退避时长，默认 30 秒
	RetentionDays     int           // 配额记录保留天数，默认 90
	Distributed       bool          // 是否启用静态分片的分布式模式
	WorkerIndex       int           // 分布式模式下本进程的编号（从 1 开始）
	WorkerCount       int           // 分布式模式下的进程总数
}

// ReplyConfig 定义自动回复调度配置
type ReplyConfig struct {
	DelayMin      time.Duration // 回复延迟下限，默认 5 分钟
	DelayMax      time.Duration // 回复延迟上限，默认 240 分钟
	SweepInterval time.Duration // 到期回复清扫间隔，默认 1 分钟
	SweepBatch    int           // 单次清扫处理的回复数量，默认 50
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	CORS      CORSConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	SMTP      SMTPConfig
	Scheduler SchedulerConfig
	Reply     ReplyConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILWARM_
// 例如: MAILWARM_SCHEDULER_BATCH_SIZE, MAILWARM_SMTP_HOST
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("mailwarm")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("smtp.host", "localhost")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.username", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("smtp.skip_tls_verify", false)
	viper.SetDefault("scheduler.cycle_interval", "5m")
	viper.SetDefault("scheduler.batch_size", 10)
	viper.SetDefault("scheduler.batch_pause", "1m")
	viper.SetDefault("scheduler.max_concurrent", 3)
	viper.SetDefault("scheduler.cooldown_min", "20m")
	viper.SetDefault("scheduler.cooldown_max", "40m")
	viper.SetDefault("scheduler.cooldown_randomize", true)
	viper.SetDefault("scheduler.stagger_min", "2s")
	viper.SetDefault("scheduler.stagger_max", "10s")
	viper.SetDefault("scheduler.hourly_limit", 100)
	viper.SetDefault("scheduler.minute_limit", 10)
	viper.SetDefault("scheduler.rate_limit_backoff", "30s")
	viper.SetDefault("scheduler.retention_days", 90)
	viper.SetDefault("scheduler.distributed", false)
	viper.SetDefault("scheduler.worker_index", 1)
	viper.SetDefault("scheduler.worker_count", 1)
	viper.SetDefault("reply.delay_min", "5m")
	viper.SetDefault("reply.delay_max", "240m")
	viper.SetDefault("reply.sweep_interval", "1m")
	viper.SetDefault("reply.sweep_batch", 50)

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	scheduler, err := loadSchedulerConfig()
	if err != nil {
		return nil, err
	}

	reply, err := loadReplyConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		SMTP: SMTPConfig{
			Host:          viper.GetString("smtp.host"),
			Port:          viper.GetInt("smtp.port"),
			Username:      viper.GetString("smtp.username"),
			Password:      viper.GetString("smtp.password"),
			SkipTLSVerify: viper.GetBool("smtp.skip_tls_verify"),
		},
		Scheduler: scheduler,
		Reply:     reply,
	}

	return cfg, nil
}

// loadSchedulerConfig 加载并校验调度器配置。
func loadSchedulerConfig() (SchedulerConfig, error) {
	cfg := SchedulerConfig{
		BatchSize:         viper.GetInt("scheduler.batch_size"),
		MaxConcurrent:     viper.GetInt("scheduler.max_concurrent"),
		CooldownRandomize: viper.GetBool("scheduler.cooldown_randomize"),
		HourlyLimit:       viper.GetInt("scheduler.hourly_limit"),
		MinuteLimit:       viper.GetInt("scheduler.minute_limit"),
		RetentionDays:     viper.GetInt("scheduler.retention_days"),
		Distributed:       viper.GetBool("scheduler.distributed"),
		WorkerIndex:       viper.GetInt("scheduler.worker_index"),
		WorkerCount:       viper.GetInt("scheduler.worker_count"),
	}

	if cfg.BatchSize <= 0 {
		return cfg, fmt.Errorf("scheduler.batch_size must be positive")
	}
	if cfg.MaxConcurrent <= 0 {
		return cfg, fmt.Errorf("scheduler.max_concurrent must be positive")
	}
	if cfg.HourlyLimit <= 0 || cfg.MinuteLimit <= 0 {
		return cfg, fmt.Errorf("scheduler rate limits must be positive")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}

	durations := map[string]*time.Duration{
		"scheduler.cycle_interval":     &cfg.CycleInterval,
		"scheduler.batch_pause":        &cfg.BatchPause,
		"scheduler.cooldown_min":       &cfg.CooldownMin,
		"scheduler.cooldown_max":       &cfg.CooldownMax,
		"scheduler.stagger_min":        &cfg.StaggerMin,
		"scheduler.stagger_max":        &cfg.StaggerMax,
		"scheduler.rate_limit_backoff": &cfg.RateLimitBackoff,
	}
	for key, dst := range durations {
		d, err := time.ParseDuration(viper.GetString(key))
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if cfg.CooldownMax < cfg.CooldownMin {
		return cfg, fmt.Errorf("scheduler.cooldown_max must be >= scheduler.cooldown_min")
	}
	if cfg.StaggerMax < cfg.StaggerMin {
		return cfg, fmt.Errorf("scheduler.stagger_max must be >= scheduler.stagger_min")
	}

	if cfg.Distributed {
		if cfg.WorkerCount <= 0 {
			return cfg, fmt.Errorf("scheduler.worker_count must be positive in distributed mode")
		}
		if cfg.WorkerIndex < 1 || cfg.WorkerIndex > cfg.WorkerCount {
			return cfg, fmt.Errorf("scheduler.worker_index must be within [1, worker_count]")
		}
	}

	return cfg, nil
}

// loadReplyConfig 加载并校验自动回复配置。
func loadReplyConfig() (ReplyConfig, error) {
	cfg := ReplyConfig{
		SweepBatch: viper.GetInt("reply.sweep_batch"),
	}

	durations := map[string]*time.Duration{
		"reply.delay_min":      &cfg.DelayMin,
		"reply.delay_max":      &cfg.DelayMax,
		"reply.sweep_interval": &cfg.SweepInterval,
	}
	for key, dst := range durations {
		d, err := time.ParseDuration(viper.GetString(key))
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if cfg.DelayMax < cfg.DelayMin {
		return cfg, fmt.Errorf("reply.delay_max must be >= reply.delay_min")
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 50
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
