package repository

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"
)

// MemoryPaymentRepository 进程内缴费仓库（单把互斥锁保证条件更新原子性）
type MemoryPaymentRepository struct {
	mu       sync.Mutex
	payments map[string]models.Payment
	now      func() time.Time
}

// NewMemoryPaymentRepository 创建内存缴费仓库
func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		payments: make(map[string]models.Payment),
		now:      time.Now,
	}
}

// Create 创建缴费记录
func (r *MemoryPaymentRepository) Create(payment *models.Payment) error {
	if payment == nil {
		return errors.New("payment is nil")
	}
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return errors.New("payment id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[id]; exists {
		return errors.New("payment already exists")
	}
	now := r.now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	if payment.UpdatedAt.IsZero() {
		payment.UpdatedAt = now
	}
	r.payments[id] = clonePayment(*payment)
	return nil
}

// GetByID 根据 ID 获取缴费记录
func (r *MemoryPaymentRepository) GetByID(id string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[strings.TrimSpace(id)]
	if !ok {
		return nil, nil
	}
	out := clonePayment(payment)
	return &out, nil
}

// GetByIDAndSchool 按 ID + 学校获取缴费记录
func (r *MemoryPaymentRepository) GetByIDAndSchool(id, schoolID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[strings.TrimSpace(id)]
	if !ok || payment.SchoolID != strings.TrimSpace(schoolID) {
		return nil, ErrNotFound
	}
	out := clonePayment(payment)
	return &out, nil
}

// GetLatestByTransactionID 根据外部流水号获取最新缴费记录
func (r *MemoryPaymentRepository) GetLatestByTransactionID(transactionID string) (*models.Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Payment
	for _, payment := range r.payments {
		if payment.TransactionRef() != transactionID {
			continue
		}
		if latest == nil || payment.UpdatedAt.After(latest.UpdatedAt) {
			p := clonePayment(payment)
			latest = &p
		}
	}
	return latest, nil
}

// CompareAndSetStatus 条件更新状态
func (r *MemoryPaymentRepository) CompareAndSetStatus(id, schoolID, expected, next string, fields PaymentTransitionFields) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[strings.TrimSpace(id)]
	if !ok || payment.SchoolID != strings.TrimSpace(schoolID) || payment.Status != expected {
		return nil, ErrConflict
	}
	payment.Status = next
	if fields.PaidDate != nil {
		paid := *fields.PaidDate
		payment.PaidDate = &paid
	}
	if method := strings.TrimSpace(fields.PaymentMethod); method != "" {
		payment.PaymentMethod = method
	}
	if ref := strings.TrimSpace(fields.TransactionID); ref != "" {
		payment.TransactionID = &ref
	}
	payment.UpdatedAt = r.now()
	r.payments[payment.ID] = payment
	out := clonePayment(payment)
	return &out, nil
}

// SetCheckoutReference 写入收银台外部流水号与方式标签
func (r *MemoryPaymentRepository) SetCheckoutReference(id, schoolID, transactionID, methodLabel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[strings.TrimSpace(id)]
	if !ok || payment.SchoolID != strings.TrimSpace(schoolID) {
		return ErrNotFound
	}
	ref := strings.TrimSpace(transactionID)
	payment.TransactionID = &ref
	payment.PaymentMethod = strings.TrimSpace(methodLabel)
	payment.UpdatedAt = r.now()
	payment.LastPolledAt = nil
	payment.PollAttempts = 0
	r.payments[payment.ID] = payment
	return nil
}

// ListBySchool 学校维度分页查询
func (r *MemoryPaymentRepository) ListBySchool(filter PaymentListFilter) ([]models.Payment, int64, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	r.mu.Lock()
	matched := make([]models.Payment, 0)
	for _, payment := range r.payments {
		if payment.SchoolID != filter.SchoolID {
			continue
		}
		if filter.StudentID != "" && payment.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && payment.Status != filter.Status {
			continue
		}
		if search != "" && !paymentMatchesSearch(payment, search) {
			continue
		}
		if filter.DueFrom != nil && payment.DueDate.Before(*filter.DueFrom) {
			continue
		}
		if filter.DueTo != nil && payment.DueDate.After(*filter.DueTo) {
			continue
		}
		matched = append(matched, clonePayment(payment))
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].DueDate.Equal(matched[j].DueDate) {
			return matched[i].DueDate.After(matched[j].DueDate)
		}
		return matched[i].ID < matched[j].ID
	})
	total := int64(len(matched))
	start, end := pageBounds(len(matched), filter.Page, filter.PageSize)
	return append([]models.Payment{}, matched[start:end]...), total, nil
}

// ListStalePending 查询长时间未结算的待缴记录，按最近巡检时间轮转
func (r *MemoryPaymentRepository) ListStalePending(filter StalePendingFilter) ([]models.Payment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	r.mu.Lock()
	stale := make([]models.Payment, 0)
	for _, payment := range r.payments {
		if payment.Status != constants.PaymentStatusPending || payment.TransactionRef() == "" {
			continue
		}
		if !payment.UpdatedAt.Before(filter.Before) {
			continue
		}
		if payment.LastPolledAt != nil && !payment.LastPolledAt.Before(filter.Before) {
			continue
		}
		if filter.MaxAttempts > 0 && payment.PollAttempts >= filter.MaxAttempts {
			continue
		}
		stale = append(stale, clonePayment(payment))
	}
	r.mu.Unlock()

	sort.Slice(stale, func(i, j int) bool {
		a, b := sweepOrderKey(stale[i]), sweepOrderKey(stale[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return stale[i].ID < stale[j].ID
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// MarkPolled 记录一次巡检查询；不修改 UpdatedAt
func (r *MemoryPaymentRepository) MarkPolled(id, schoolID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[strings.TrimSpace(id)]
	if !ok || payment.SchoolID != strings.TrimSpace(schoolID) || payment.Status != constants.PaymentStatusPending {
		return nil
	}
	polled := at
	payment.LastPolledAt = &polled
	payment.PollAttempts++
	r.payments[payment.ID] = payment
	return nil
}

func sweepOrderKey(payment models.Payment) time.Time {
	if payment.LastPolledAt != nil {
		return *payment.LastPolledAt
	}
	return payment.UpdatedAt
}

func paymentMatchesSearch(payment models.Payment, search string) bool {
	for _, value := range []string{payment.Description, payment.StudentID, payment.PayerEmail} {
		if strings.Contains(strings.ToLower(value), search) {
			return true
		}
	}
	return false
}

func clonePayment(payment models.Payment) models.Payment {
	out := payment
	if payment.PaidDate != nil {
		paid := *payment.PaidDate
		out.PaidDate = &paid
	}
	if payment.TransactionID != nil {
		ref := *payment.TransactionID
		out.TransactionID = &ref
	}
	if payment.LastPolledAt != nil {
		polled := *payment.LastPolledAt
		out.LastPolledAt = &polled
	}
	return out
}
