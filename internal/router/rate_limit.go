package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/config"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/i18n"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
)

// RateLimitKeyFunc 生成限流 key；返回空串时使用客户端 IP
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 固定窗口限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
	// BlockSeconds 超限后封禁时长；为 0 时沿用当前窗口
	BlockSeconds int
	MessageKey   string
	// FailOpen Redis 故障时放行
	FailOpen bool
	// HTTPStatus 超限响应的 HTTP 状态码，0 时为 200
	HTTPStatus int
}

// WebhookRateLimitRule 网关回调：Redis 故障放行，超限返回 HTTP 429 让网关重投
func WebhookRateLimitRule(prefix string, cfg config.RateLimitRuleConfig) RateLimitRule {
	return RateLimitRule{
		Prefix:        prefix,
		WindowSeconds: cfg.WindowSeconds,
		MaxRequests:   cfg.MaxRequests,
		BlockSeconds:  cfg.BlockSeconds,
		FailOpen:      true,
		HTTPStatus:    http.StatusTooManyRequests,
	}
}

// WalletRateLimitRule 钱包结算：Redis 故障拒绝，超限沿用 200 信封
func WalletRateLimitRule(prefix string, cfg config.RateLimitRuleConfig) RateLimitRule {
	return RateLimitRule{
		Prefix:        prefix,
		WindowSeconds: cfg.WindowSeconds,
		MaxRequests:   cfg.MaxRequests,
		BlockSeconds:  cfg.BlockSeconds,
	}
}

func (r RateLimitRule) active() bool {
	return r.WindowSeconds > 0 && r.MaxRequests > 0
}

// waitSeconds 超限后提示的等待秒数
func (r RateLimitRule) waitSeconds(ttl int64) int {
	for _, candidate := range []int{int(ttl), r.BlockSeconds, r.WindowSeconds} {
		if candidate > 0 {
			return candidate
		}
	}
	return 1
}

// KEYS[1]=key ARGV=window, block, max；返回 {count, ttl}
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local block = tonumber(ARGV[2])
if block > 0 and current == tonumber(ARGV[3]) + 1 then
	redis.call("EXPIRE", KEYS[1], block)
end
return {current, redis.call("TTL", KEYS[1])}
`)

func hitCounter(ctx context.Context, client *redis.Client, key string, rule RateLimitRule) (count, ttl int64, err error) {
	values, err := rateLimitScript.Run(ctx, client, []string{key}, rule.WindowSeconds, rule.BlockSeconds, rule.MaxRequests).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(values) < 2 {
		return 0, 0, redis.Nil
	}
	return values[0], values[1], nil
}

// RateLimitMiddleware Redis 固定窗口限流；client 为 nil 或规则未配置时不生效
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || !rule.active() {
			c.Next()
			return
		}
		key := rateLimitKey(c, rule.Prefix, keyFunc)
		count, ttl, err := hitCounter(c.Request.Context(), client, key, rule)
		if err != nil {
			logger.Warnw("rate_limit_unavailable", "key", key, "fail_open", rule.FailOpen, "error", err)
			if rule.FailOpen {
				c.Next()
				return
			}
			response.Error(c, response.CodeInternal, i18n.T(i18n.ResolveLocale(c), "error.rate_limit_unavailable"))
			c.Abort()
			return
		}
		if count <= int64(rule.MaxRequests) {
			c.Next()
			return
		}

		wait := rule.waitSeconds(ttl)
		logger.Warnw("rate_limit_exceeded", "key", key, "count", count, "wait_seconds", wait, "path", c.Request.URL.Path)
		msgKey := strings.TrimSpace(rule.MessageKey)
		if msgKey == "" {
			msgKey = "error.rate_limited"
		}
		httpStatus := rule.HTTPStatus
		if httpStatus == 0 {
			httpStatus = http.StatusOK
		}
		c.Header("Retry-After", strconv.Itoa(wait))
		response.ErrorWithStatus(c, httpStatus, response.CodeTooManyRequests, i18n.Sprintf(i18n.ResolveLocale(c), msgKey, wait))
		c.Abort()
	}
}

func rateLimitKey(c *gin.Context, prefix string, keyFunc RateLimitKeyFunc) string {
	key := ""
	if keyFunc != nil {
		key = strings.TrimSpace(keyFunc(c))
	}
	if key == "" {
		key = c.ClientIP()
	}
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// KeyByProviderAndIP 按网关名与 IP
func KeyByProviderAndIP(provider string) RateLimitKeyFunc {
	return func(c *gin.Context) string {
		return provider + "|" + c.ClientIP()
	}
}

// KeyByIP 按客户端 IP
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByIPAndJSONField 按 JSON 字段（小写）与 IP 组合；读取后恢复请求体
func KeyByIPAndJSONField(field string) RateLimitKeyFunc {
	return func(c *gin.Context) string {
		value := strings.ToLower(strings.TrimSpace(peekJSONField(c, field)))
		if value == "" {
			return c.ClientIP()
		}
		return value + "|" + c.ClientIP()
	}
}

func peekJSONField(c *gin.Context, field string) string {
	if c == nil || c.Request == nil || c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || !gjson.ValidBytes(body) {
		return ""
	}
	result := gjson.GetBytes(body, field)
	if result.Type != gjson.String {
		return ""
	}
	return result.Str
}
