package router

import (
	"errors"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/authz"
	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/i18n"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/logger"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const sessionClaimsKey = "session_claims"

// SessionClaims 访问令牌载荷，由学校管理系统的登录服务签发
type SessionClaims struct {
	UserID   string `json:"user_id"`
	SchoolID string `json:"school_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueSessionToken 签发 HS256 令牌（演示数据与测试使用）
func IssueSessionToken(secret, issuer string, claims SessionClaims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims.Issuer = issuer
	claims.Subject = claims.UserID
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuthMiddleware 校验访问令牌并写入会话载荷
func JWTAuthMiddleware(secretKey, issuer string) gin.HandlerFunc {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if strings.TrimSpace(issuer) != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(options...)
	return func(c *gin.Context) {
		if secretKey == "" {
			abortUnauthorized(c, "error.jwt_secret_missing")
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "error.auth_header_missing")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			abortUnauthorized(c, "error.auth_header_invalid")
			return
		}

		claims := &SessionClaims{}
		token, err := parser.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secretKey), nil
		})
		if err != nil || !token.Valid || strings.TrimSpace(claims.SchoolID) == "" || strings.TrimSpace(claims.Role) == "" {
			abortUnauthorized(c, "error.token_invalid")
			return
		}
		c.Set(sessionClaimsKey, claims)
		c.Set("user_id", claims.UserID)
		c.Set("school_id", claims.SchoolID)
		c.Next()
	}
}

// CapabilityMiddleware 按角色策略构建调用方能力
func CapabilityMiddleware(authzService *authz.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(sessionClaimsKey)
		claims, typeOK := value.(*SessionClaims)
		if !ok || !typeOK || claims == nil {
			abortUnauthorized(c, "error.unauthorized")
			return
		}
		if authzService == nil {
			logger.Errorw("capability_authz_service_unavailable")
			abortUnauthorized(c, "error.unauthorized")
			return
		}
		actions, err := authzService.ActionsFor(claims.Role, claims.UserID)
		if err != nil {
			logger.Errorw("capability_actions_resolve_failed",
				"role", claims.Role,
				"user_id", claims.UserID,
				"error", err,
			)
			abortUnauthorized(c, "error.unauthorized")
			return
		}
		c.Set(handlershared.CapabilityContextKey, service.Capability{
			SchoolID: strings.TrimSpace(claims.SchoolID),
			UserID:   strings.TrimSpace(claims.UserID),
			Role:     strings.TrimSpace(claims.Role),
			Actions:  actions,
		})
		c.Next()
	}
}

// RequireAction 路由级操作校验，服务层仍会再次校验
func RequireAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		capability, ok := handlershared.GetCapability(c)
		if !ok {
			c.Abort()
			return
		}
		if !capability.Allows(action) {
			logger.Warnw("capability_permission_denied",
				"school_id", capability.SchoolID,
				"user_id", capability.UserID,
				"role", capability.Role,
				"action", action,
				"path", c.Request.URL.Path,
			)
			response.Forbidden(c, i18n.T(i18n.ResolveLocale(c), "error.forbidden"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, key string) {
	response.Unauthorized(c, i18n.T(i18n.ResolveLocale(c), key))
	c.Abort()
}
