package admin

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	handlershared "github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/handlers/shared"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/http/response"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/repository"

	"github.com/gin-gonic/gin"
)

const (
	adminPaymentExportBatchSize = 100
	adminPaymentExportMaxRows   = 10000
	adminDateLayout             = "2006-01-02"
)

// GetAdminPayments 获取本校缴费列表
func (h *Handler) GetAdminPayments(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	page, pageSize := parsePagination(c)

	filter, err := buildAdminPaymentFilter(c, page, pageSize)
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	payments, total, err := h.PaymentService.ListPayments(capability, filter)
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}
	response.SuccessWithPage(c, payments, response.BuildPagination(page, pageSize, total))
}

// GetAdminPayment 获取缴费详情
func (h *Handler) GetAdminPayment(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	payment, err := h.PaymentService.GetPayment(capability, c.Param("id"))
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}
	response.Success(c, payment)
}

// GetAdminPaymentEvents 获取缴费的网关事件流水
func (h *Handler) GetAdminPaymentEvents(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	page, pageSize := parsePagination(c)

	events, total, err := h.PaymentService.ListGatewayEvents(capability, c.Param("id"), page, pageSize)
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}
	response.SuccessWithPage(c, events, response.BuildPagination(page, pageSize, total))
}

// ExportAdminPayments 导出本校缴费 CSV
func (h *Handler) ExportAdminPayments(c *gin.Context) {
	capability, ok := getCapability(c)
	if !ok {
		return
	}
	filter, err := buildAdminPaymentFilter(c, 1, adminPaymentExportBatchSize)
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	// 先取第一页，错误时仍可返回统一 JSON
	first, total, err := h.PaymentService.ListPayments(capability, filter)
	if err != nil {
		handlershared.RespondPaymentError(c, err)
		return
	}

	filename := fmt.Sprintf("payments_%s_%s.csv", capability.SchoolID, time.Now().Format("20060102150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	writer := csv.NewWriter(c.Writer)
	_ = writer.Write([]string{"id", "student_id", "amount", "currency", "status", "due_date", "paid_date", "payment_method", "transaction_id"})

	written := 0
	batch := first
	for len(batch) > 0 && written < adminPaymentExportMaxRows {
		if err := writeAdminPaymentCSVRows(writer, batch); err != nil {
			handlershared.RequestLog(c).Warnw("admin_payment_export_write_failed", "error", err)
			break
		}
		written += len(batch)
		if int64(written) >= total {
			break
		}
		filter.Page++
		batch, _, err = h.PaymentService.ListPayments(capability, filter)
		if err != nil {
			handlershared.RequestLog(c).Warnw("admin_payment_export_page_failed", "page", filter.Page, "error", err)
			break
		}
	}
	writer.Flush()
}

func writeAdminPaymentCSVRows(writer *csv.Writer, payments []models.Payment) error {
	for _, payment := range payments {
		paidDate := ""
		if payment.PaidDate != nil {
			paidDate = payment.PaidDate.UTC().Format(time.RFC3339)
		}
		if err := writer.Write([]string{
			payment.ID,
			payment.StudentID,
			payment.Amount.String(),
			payment.Currency,
			payment.Status,
			payment.DueDate.UTC().Format(adminDateLayout),
			paidDate,
			payment.PaymentMethod,
			payment.TransactionRef(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func buildAdminPaymentFilter(c *gin.Context, page, pageSize int) (repository.PaymentListFilter, error) {
	dueFrom, err := parseDateNullable(c.Query("due_from"))
	if err != nil {
		return repository.PaymentListFilter{}, err
	}
	dueTo, err := parseDateNullable(c.Query("due_to"))
	if err != nil {
		return repository.PaymentListFilter{}, err
	}
	return repository.PaymentListFilter{
		Page:      page,
		PageSize:  pageSize,
		StudentID: strings.TrimSpace(c.Query("student_id")),
		Status:    strings.TrimSpace(c.Query("status")),
		Search:    strings.TrimSpace(c.Query("search")),
		DueFrom:   dueFrom,
		DueTo:     dueTo,
	}, nil
}

func parseDateNullable(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse(adminDateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
