package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/authz"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testJWTSecret = "test-secret"
	testIssuer    = "sge-auth"
)

func setupAuthzForRouterTest(t *testing.T) *authz.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	svc, err := authz.NewService(db)
	if err != nil {
		t.Fatalf("new authz service failed: %v", err)
	}
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap roles failed: %v", err)
	}
	return svc
}

func newAuthEngine(authzService *authz.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuthMiddleware(testJWTSecret, testIssuer), CapabilityMiddleware(authzService))
	r.GET("/me", func(c *gin.Context) {
		capability, ok := handlershared.GetCapability(c)
		if !ok {
			return
		}
		response.Success(c, capability)
	})
	r.GET("/list", RequireAction(constants.PaymentActionList), func(c *gin.Context) {
		response.Success(c, gin.H{"ok": true})
	})
	return r
}

func callWithToken(t *testing.T, r *gin.Engine, path, token string) response.Response {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	return resp
}

func TestJWTAuthMiddlewareMissingSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuthMiddleware("", ""))
	r.GET("/me", func(c *gin.Context) { response.Success(c, nil) })

	resp := callWithToken(t, r, "/me", "whatever")
	if resp.StatusCode != response.CodeUnauthorized {
		t.Fatalf("status_code want 401 got %d", resp.StatusCode)
	}
}

func TestJWTAuthMiddlewareBuildsCapability(t *testing.T) {
	r := newAuthEngine(setupAuthzForRouterTest(t))
	token, err := IssueSessionToken(testJWTSecret, testIssuer, SessionClaims{
		UserID:   "u1",
		SchoolID: "school-a",
		Role:     constants.RoleGuardian,
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}

	resp := callWithToken(t, r, "/me", token)
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("authenticated call failed: %+v", resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["SchoolID"] != "school-a" || data["Role"] != constants.RoleGuardian {
		t.Fatalf("unexpected capability %v", data)
	}
	actions := data["Actions"].([]interface{})
	if len(actions) == 0 {
		t.Fatalf("guardian should have actions")
	}

	resp = callWithToken(t, r, "/list", token)
	if resp.StatusCode != response.CodeForbidden {
		t.Fatalf("guardian listing want 403 got %d", resp.StatusCode)
	}
}

func TestJWTAuthMiddlewareRejectsBadTokens(t *testing.T) {
	r := newAuthEngine(setupAuthzForRouterTest(t))

	if resp := callWithToken(t, r, "/me", ""); resp.StatusCode != response.CodeUnauthorized {
		t.Fatalf("missing header want 401 got %d", resp.StatusCode)
	}

	wrongIssuer, _ := IssueSessionToken(testJWTSecret, "someone-else", SessionClaims{UserID: "u1", SchoolID: "school-a", Role: constants.RoleFinance}, time.Hour)
	if resp := callWithToken(t, r, "/me", wrongIssuer); resp.StatusCode != response.CodeUnauthorized {
		t.Fatalf("wrong issuer want 401 got %d", resp.StatusCode)
	}

	noSchool, _ := IssueSessionToken(testJWTSecret, testIssuer, SessionClaims{UserID: "u1", Role: constants.RoleFinance}, time.Hour)
	if resp := callWithToken(t, r, "/me", noSchool); resp.StatusCode != response.CodeUnauthorized {
		t.Fatalf("token without school want 401 got %d", resp.StatusCode)
	}

	otherSecret, _ := IssueSessionToken("other-secret", testIssuer, SessionClaims{UserID: "u1", SchoolID: "school-a", Role: constants.RoleFinance}, time.Hour)
	if resp := callWithToken(t, r, "/me", otherSecret); resp.StatusCode != response.CodeUnauthorized {
		t.Fatalf("bad signature want 401 got %d", resp.StatusCode)
	}

	finance, _ := IssueSessionToken(testJWTSecret, testIssuer, SessionClaims{UserID: "u2", SchoolID: "school-a", Role: constants.RoleFinance}, time.Hour)
	if resp := callWithToken(t, r, "/list", finance); resp.StatusCode != response.CodeOK {
		t.Fatalf("finance listing want ok got %d", resp.StatusCode)
	}
}
