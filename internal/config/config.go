package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Security  SecurityConfig  `mapstructure:"security"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"`
	Service    string `mapstructure:"service"`
	Console    bool   `mapstructure:"console"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
		Level:      c.Level,
		Service:    c.Service,
		Console:    c.Console,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres/memory）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// AuthConfig 上游签发的访问令牌校验配置
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Webhook RateLimitRuleConfig `mapstructure:"webhook"`
	Wallet  RateLimitRuleConfig `mapstructure:"wallet"`
}

// RateLimitRuleConfig 单条限流规则
type RateLimitRuleConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
	BlockSeconds  int `mapstructure:"block_seconds"`
}

// GatewayConfig 支付网关配置
type GatewayConfig struct {
	Provider                string            `mapstructure:"provider"`
	TimeoutSeconds          int               `mapstructure:"timeout_seconds"`
	Sandbox                 bool              `mapstructure:"sandbox"`
	Currency                string            `mapstructure:"currency"`
	SuccessURL              string            `mapstructure:"success_url"`
	FailureURL              string            `mapstructure:"failure_url"`
	PendingURL              string            `mapstructure:"pending_url"`
	CheckoutCacheTTLSeconds int               `mapstructure:"checkout_cache_ttl_seconds"`
	MercadoPago             MercadoPagoConfig `mapstructure:"mercadopago"`
	Stripe                  StripeConfig      `mapstructure:"stripe"`
	Paypal                  PaypalConfig      `mapstructure:"paypal"`
}

// Timeout 单次网关调用超时
func (c GatewayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CheckoutCacheTTL 沙箱收银台缓存时长
func (c GatewayConfig) CheckoutCacheTTL() time.Duration {
	if c.CheckoutCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CheckoutCacheTTLSeconds) * time.Second
}

// MercadoPagoConfig MercadoPago 渠道配置
type MercadoPagoConfig struct {
	Enabled                   bool   `mapstructure:"enabled"`
	AccessToken               string `mapstructure:"access_token"`
	PublicKey                 string `mapstructure:"public_key"`
	BaseURL                   string `mapstructure:"base_url"`
	NotificationURL           string `mapstructure:"notification_url"`
	WebhookSecret             string `mapstructure:"webhook_secret"`
	StatementDescriptor       string `mapstructure:"statement_descriptor"`
	SignatureToleranceSeconds int    `mapstructure:"signature_tolerance_seconds"`
}

// StripeConfig Stripe 渠道配置
type StripeConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	SecretKey               string `mapstructure:"secret_key"`
	PublishableKey          string `mapstructure:"publishable_key"`
	WebhookSecret           string `mapstructure:"webhook_secret"`
	APIBaseURL              string `mapstructure:"api_base_url"`
	WebhookToleranceSeconds int    `mapstructure:"webhook_tolerance_seconds"`
}

// PaypalConfig PayPal 渠道配置
type PaypalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ClientID  string `mapstructure:"client_id"`
	Secret    string `mapstructure:"secret"`
	BaseURL   string `mapstructure:"base_url"`
	BrandName string `mapstructure:"brand_name"`
}

// WalletConfig 移动钱包渠道配置
type WalletConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ChannelName string `mapstructure:"channel_name"`
}

// ReconcileConfig 待支付单巡检配置
type ReconcileConfig struct {
	SweepEnabled         bool `mapstructure:"sweep_enabled"`
	SweepIntervalSeconds int  `mapstructure:"sweep_interval_seconds"`
	StaleAfterMinutes    int  `mapstructure:"stale_after_minutes"`
	BatchSize            int  `mapstructure:"batch_size"`
	MaxPollAttempts      int  `mapstructure:"max_poll_attempts"`
}

// WebhookConfig 回调处理配置
type WebhookConfig struct {
	Async            bool `mapstructure:"async"`
	DedupeTTLSeconds int  `mapstructure:"dedupe_ttl_seconds"`
	VerifySignature  bool `mapstructure:"verify_signature"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./")
	viper.AddConfigPath("../")   // 如果从 cmd/server 运行
	viper.AddConfigPath("./etc") // etc 文件夹

	setDefaults(viper.GetViper())

	// 环境变量支持 (例如 gateway.provider -> GATEWAY_PROVIDER)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "pagos.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.level", "")
	v.SetDefault("log.service", "sge-pagos")
	v.SetDefault("log.console", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/escuela.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("auth.secret", "change-me-in-production")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sge")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Accept-Language",
		"Authorization",
		"X-Request-ID",
		"X-Requested-With",
	})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.rate_limit.webhook.window_seconds", 60)
	v.SetDefault("security.rate_limit.webhook.max_requests", 120)
	v.SetDefault("security.rate_limit.webhook.block_seconds", 60)
	v.SetDefault("security.rate_limit.wallet.window_seconds", 300)
	v.SetDefault("security.rate_limit.wallet.max_requests", 5)
	v.SetDefault("security.rate_limit.wallet.block_seconds", 900)
	v.SetDefault("gateway.provider", "mercadopago")
	v.SetDefault("gateway.timeout_seconds", 5)
	v.SetDefault("gateway.sandbox", true)
	v.SetDefault("gateway.currency", "PEN")
	v.SetDefault("gateway.success_url", "")
	v.SetDefault("gateway.failure_url", "")
	v.SetDefault("gateway.pending_url", "")
	v.SetDefault("gateway.checkout_cache_ttl_seconds", 1800)
	v.SetDefault("gateway.mercadopago.enabled", true)
	v.SetDefault("gateway.mercadopago.base_url", "https://api.mercadopago.com")
	v.SetDefault("gateway.mercadopago.signature_tolerance_seconds", 600)
	v.SetDefault("gateway.stripe.enabled", false)
	v.SetDefault("gateway.stripe.webhook_tolerance_seconds", 300)
	v.SetDefault("gateway.paypal.enabled", false)
	v.SetDefault("wallet.enabled", true)
	v.SetDefault("wallet.channel_name", "yape")
	v.SetDefault("reconcile.sweep_enabled", true)
	v.SetDefault("reconcile.sweep_interval_seconds", 300)
	v.SetDefault("reconcile.stale_after_minutes", 30)
	v.SetDefault("reconcile.batch_size", 50)
	v.SetDefault("reconcile.max_poll_attempts", 48)
	v.SetDefault("webhook.async", false)
	v.SetDefault("webhook.dedupe_ttl_seconds", 86400)
	v.SetDefault("webhook.verify_signature", true)
}
