package router

import (
	"fmt"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/cache"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	adminhandlers "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/admin"
	publichandlers "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/public"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	redisClient := cache.Client()
	webhookRule := WebhookRateLimitRule(fmt.Sprintf("%s:rate:webhook", redisPrefix), cfg.Security.RateLimit.Webhook)
	walletRule := WalletRateLimitRule(fmt.Sprintf("%s:rate:wallet", redisPrefix), cfg.Security.RateLimit.Wallet)

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		// 网关回调（无需鉴权，始终确认）
		webhooks := apiV1.Group("/payments/webhook")
		for _, name := range []string{
			constants.PaymentChannelMercadoPago,
			constants.PaymentChannelStripe,
			constants.PaymentChannelPaypal,
		} {
			handler := publicHandler.PaymentWebhook(name)
			limiter := RateLimitMiddleware(redisClient, webhookRule, KeyByProviderAndIP(name))
			webhooks.POST("/"+name, limiter, handler)
			// MercadoPago 旧版 IPN 以 GET 推送
			if name == constants.PaymentChannelMercadoPago {
				webhooks.GET("/"+name, limiter, handler)
			}
		}

		authorized := apiV1.Group("")
		authorized.Use(JWTAuthMiddleware(cfg.Auth.Secret, cfg.Auth.Issuer), CapabilityMiddleware(c.AuthzService))
		{
			authorized.GET("/payments/:id", publicHandler.GetPayment)
			authorized.POST("/payments/:id/checkout", publicHandler.CreateCheckout)
			authorized.POST("/payments/:id/status", publicHandler.PollPaymentStatus)
			authorized.POST("/payments/:id/wallet", RateLimitMiddleware(redisClient, walletRule, KeyByIPAndJSONField("payer_token")), publicHandler.SettleWallet)
		}

		admin := authorized.Group("/admin")
		{
			admin.GET("/payments", adminHandler.GetAdminPayments)
			admin.GET("/payments/export", adminHandler.ExportAdminPayments)
			admin.GET("/payments/:id", adminHandler.GetAdminPayment)
			admin.GET("/payments/:id/events", adminHandler.GetAdminPaymentEvents)

			admin.GET("/authz/me", adminHandler.GetAuthzMe)
			admin.GET("/authz/roles", RequireAction(constants.AuthzActionView), adminHandler.ListAuthzRoles)
			admin.GET("/authz/catalog", RequireAction(constants.AuthzActionView), adminHandler.GetAuthzCatalog)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
