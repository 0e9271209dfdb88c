package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/authz"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/cache"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/gateway"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/payment/mercadopago"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/payment/paypal"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/payment/stripe"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/queue"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	gormlogger "gorm.io/gorm/logger"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Gateways    *gateway.Registry

	// Repositories
	PaymentRepo      repository.PaymentRepository
	GatewayEventRepo repository.GatewayEventRepository

	// Services
	AuthzService   *authz.Service
	PaymentService *service.PaymentService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient = nil
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化网关
	gateways, err := BuildGateways(cfg)
	if err != nil {
		return nil, err
	}
	c.Gateways = gateways

	// 3. 初始化 Services
	if err := c.initServices(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) initRepositories() {
	if isMemoryDriver(c.Config.Database.Driver) {
		c.PaymentRepo = repository.NewMemoryPaymentRepository()
		c.GatewayEventRepo = repository.NewMemoryGatewayEventRepository()
		return
	}
	c.PaymentRepo = repository.NewPaymentRepository(models.DB)
	c.GatewayEventRepo = repository.NewGatewayEventRepository(models.DB)
}

func (c *Container) initServices() error {
	authzDB := models.DB
	if authzDB == nil {
		// 内存模式下策略存放在进程内 sqlite
		db, err := models.OpenDB("sqlite", "file:authz?mode=memory&cache=shared", models.DBPoolConfig{MaxOpenConns: 1}, gormlogger.Silent)
		if err != nil {
			return fmt.Errorf("open authz memory db failed: %w", err)
		}
		authzDB = db
	}
	authzService, err := authz.NewService(authzDB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		return err
	}
	if err := authzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		return err
	}
	c.AuthzService = authzService

	c.PaymentService = service.NewPaymentService(c.PaymentRepo, c.GatewayEventRepo, c.Gateways, c.QueueClient, PaymentOptionsFromConfig(c.Config))
	return nil
}

// PaymentOptionsFromConfig 由配置生成缴费服务参数
func PaymentOptionsFromConfig(cfg *config.Config) service.PaymentOptions {
	return service.PaymentOptions{
		Sandbox:           cfg.Gateway.Sandbox,
		Currency:          cfg.Gateway.Currency,
		CheckoutCacheTTL:  cfg.Gateway.CheckoutCacheTTL(),
		WalletEnabled:     cfg.Wallet.Enabled,
		WalletChannelName: cfg.Wallet.ChannelName,
		WebhookAsync:      cfg.Webhook.Async && cfg.Queue.Enabled,
		WebhookDedupeTTL:  time.Duration(cfg.Webhook.DedupeTTLSeconds) * time.Second,
		StaleAfter:        time.Duration(cfg.Reconcile.StaleAfterMinutes) * time.Minute,
		SweepBatchSize:    cfg.Reconcile.BatchSize,
		SweepMaxAttempts:  cfg.Reconcile.MaxPollAttempts,
	}
}

// BuildGateways 按配置注册已启用的网关并设置主网关
func BuildGateways(cfg *config.Config) (*gateway.Registry, error) {
	registry := gateway.NewRegistry()
	gw := cfg.Gateway
	timeout := gw.Timeout()
	verify := cfg.Webhook.VerifySignature

	if gw.MercadoPago.Enabled {
		mpCfg := mercadopago.Config{
			AccessToken:               gw.MercadoPago.AccessToken,
			PublicKey:                 gw.MercadoPago.PublicKey,
			WebhookSecret:             gw.MercadoPago.WebhookSecret,
			BaseURL:                   gw.MercadoPago.BaseURL,
			SuccessURL:                gw.SuccessURL,
			FailureURL:                gw.FailureURL,
			PendingURL:                gw.PendingURL,
			NotificationURL:           gw.MercadoPago.NotificationURL,
			StatementDescriptor:       gw.MercadoPago.StatementDescriptor,
			SignatureToleranceSeconds: gw.MercadoPago.SignatureToleranceSeconds,
			Timeout:                   timeout,
		}
		if !verify {
			mpCfg.WebhookSecret = ""
		}
		client, err := mercadopago.New(mpCfg)
		if err != nil {
			return nil, fmt.Errorf("init mercadopago gateway failed: %w", err)
		}
		registry.Register(client)
	}

	if gw.Stripe.Enabled {
		stripeCfg := stripe.Config{
			SecretKey:               gw.Stripe.SecretKey,
			PublishableKey:          gw.Stripe.PublishableKey,
			WebhookSecret:           gw.Stripe.WebhookSecret,
			SuccessURL:              gw.SuccessURL,
			CancelURL:               gw.FailureURL,
			APIBaseURL:              gw.Stripe.APIBaseURL,
			WebhookToleranceSeconds: gw.Stripe.WebhookToleranceSeconds,
			Timeout:                 timeout,
		}
		if !verify {
			stripeCfg.WebhookSecret = ""
		}
		client, err := stripe.New(stripeCfg)
		if err != nil {
			return nil, fmt.Errorf("init stripe gateway failed: %w", err)
		}
		registry.Register(client)
	}

	if gw.Paypal.Enabled {
		client, err := paypal.New(paypal.Config{
			ClientID:  gw.Paypal.ClientID,
			Secret:    gw.Paypal.Secret,
			Sandbox:   gw.Sandbox,
			BaseURL:   gw.Paypal.BaseURL,
			ReturnURL: gw.SuccessURL,
			CancelURL: gw.FailureURL,
			BrandName: gw.Paypal.BrandName,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init paypal gateway failed: %w", err)
		}
		registry.Register(client)
	}

	primary := strings.ToLower(strings.TrimSpace(gw.Provider))
	if primary == "" {
		primary = constants.PaymentChannelMercadoPago
	}
	if len(registry.Names()) == 0 {
		logger.Warnw("provider_no_payment_gateway_enabled", "primary", primary)
		return registry, nil
	}
	if err := registry.SetPrimary(primary); err != nil {
		return nil, fmt.Errorf("primary gateway %s is not enabled: %w", primary, err)
	}
	return registry, nil
}

func isMemoryDriver(driver string) bool {
	return strings.EqualFold(strings.TrimSpace(driver), "memory")
}
