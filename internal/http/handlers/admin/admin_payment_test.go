package admin

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/provider"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupAdminPaymentHandlerTest(t *testing.T, capability service.Capability) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:admin_payment_handler_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.Payment{}, &models.GatewayEvent{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	paymentRepo := repository.NewPaymentRepository(db)
	eventRepo := repository.NewGatewayEventRepository(db)
	paymentService := service.NewPaymentService(paymentRepo, eventRepo, nil, nil, service.PaymentOptions{})
	h := New(&provider.Container{PaymentService: paymentService})

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(handlershared.CapabilityContextKey, capability)
		c.Next()
	})
	engine.GET("/admin/payments", h.GetAdminPayments)
	engine.GET("/admin/payments/export", h.ExportAdminPayments)
	engine.GET("/admin/payments/:id", h.GetAdminPayment)
	engine.GET("/admin/payments/:id/events", h.GetAdminPaymentEvents)
	return engine, db
}

func seedAdminPayments(t *testing.T, db *gorm.DB) {
	t.Helper()
	due := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	paid := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	ref := "p2_ref"
	rows := []models.Payment{
		{ID: "p1", SchoolID: "school-a", StudentID: "s1", Amount: models.NewMoneyFromDecimal(decimal.NewFromInt(350)), Currency: "PEN", DueDate: due, Status: constants.PaymentStatusPending},
		{ID: "p2", SchoolID: "school-a", StudentID: "s2", Amount: models.NewMoneyFromDecimal(decimal.NewFromInt(420)), Currency: "PEN", DueDate: due, Status: constants.PaymentStatusPaid, PaidDate: &paid, PaymentMethod: "mercadopago:visa", TransactionID: &ref},
		{ID: "p3", SchoolID: "school-b", StudentID: "s9", Amount: models.NewMoneyFromDecimal(decimal.NewFromInt(100)), Currency: "PEN", DueDate: due, Status: constants.PaymentStatusPending},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed payments failed: %v", err)
	}
	events := []models.GatewayEvent{
		{Provider: "mercadopago", Source: constants.GatewayEventSourceWebhook, PaymentID: "p2", SchoolID: "school-a", ExternalID: ref, GatewayStatus: "approved", Result: constants.GatewayEventResultApplied},
		{Provider: "mercadopago", Source: constants.GatewayEventSourcePoll, PaymentID: "p2", SchoolID: "school-a", ExternalID: ref, GatewayStatus: "approved", Result: constants.GatewayEventResultUnchanged},
	}
	if err := db.Create(&events).Error; err != nil {
		t.Fatalf("seed events failed: %v", err)
	}
}

func financeCapability(schoolID string) service.Capability {
	return service.Capability{
		SchoolID: schoolID,
		UserID:   "finance-1",
		Role:     constants.RoleFinance,
		Actions: []string{
			constants.PaymentActionView,
			constants.PaymentActionList,
			constants.PaymentActionViewEvents,
		},
	}
}

type pageBody struct {
	StatusCode int                      `json:"status_code"`
	Data       []map[string]interface{} `json:"data"`
	Pagination response.Pagination      `json:"pagination"`
}

func getPage(t *testing.T, engine *gin.Engine, path string) pageBody {
	t.Helper()
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body pageBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s failed: %v body=%s", path, err, w.Body.String())
	}
	return body
}

func TestGetAdminPaymentsScopedToSchool(t *testing.T) {
	engine, db := setupAdminPaymentHandlerTest(t, financeCapability("school-a"))
	seedAdminPayments(t, db)

	body := getPage(t, engine, "/admin/payments")
	if body.StatusCode != response.CodeOK || body.Pagination.Total != 2 {
		t.Fatalf("want two school-a payments got %+v", body)
	}
	for _, item := range body.Data {
		if item["school_id"] != "school-a" {
			t.Fatalf("leaked payment from another school: %v", item)
		}
	}

	body = getPage(t, engine, "/admin/payments?status=paid")
	if body.Pagination.Total != 1 || body.Data[0]["id"] != "p2" {
		t.Fatalf("status filter want p2 got %+v", body)
	}

	body = getPage(t, engine, "/admin/payments?status=REFUNDED")
	if body.StatusCode != response.CodeBadRequest {
		t.Fatalf("unknown status want 400 got %d", body.StatusCode)
	}

	body = getPage(t, engine, "/admin/payments?due_from=not-a-date")
	if body.StatusCode != response.CodeBadRequest {
		t.Fatalf("bad due_from want 400 got %d", body.StatusCode)
	}
}

func TestGetAdminPaymentEvents(t *testing.T) {
	engine, db := setupAdminPaymentHandlerTest(t, financeCapability("school-a"))
	seedAdminPayments(t, db)

	body := getPage(t, engine, "/admin/payments/p2/events")
	if body.StatusCode != response.CodeOK || body.Pagination.Total != 2 {
		t.Fatalf("want two events got %+v", body)
	}

	body = getPage(t, engine, "/admin/payments/p3/events")
	if body.StatusCode != response.CodeNotFound {
		t.Fatalf("other school's payment events want 404 got %d", body.StatusCode)
	}
}

func TestGetAdminPaymentForbiddenWithoutAction(t *testing.T) {
	capability := financeCapability("school-a")
	capability.Actions = []string{constants.PaymentActionList}
	engine, db := setupAdminPaymentHandlerTest(t, capability)
	seedAdminPayments(t, db)

	body := getPage(t, engine, "/admin/payments/p1")
	if body.StatusCode != response.CodeForbidden {
		t.Fatalf("missing view action want 403 got %d", body.StatusCode)
	}
}

func TestExportAdminPayments(t *testing.T) {
	engine, db := setupAdminPaymentHandlerTest(t, financeCapability("school-a"))
	seedAdminPayments(t, db)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/payments/export", nil))
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("want header plus two rows got %d", len(records))
	}
	found := false
	for _, row := range records[1:] {
		if row[0] == "p2" {
			found = true
			if row[7] != "mercadopago:visa" || row[8] != "p2_ref" || row[6] == "" {
				t.Fatalf("unexpected p2 row %v", row)
			}
		}
	}
	if !found {
		t.Fatalf("p2 missing from export")
	}
}
