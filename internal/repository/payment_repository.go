package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在或租户不匹配
	ErrNotFound = errors.New("record not found")
	// ErrConflict 条件更新未命中（状态已被其他写入改变）
	ErrConflict = errors.New("status compare-and-set conflict")
)

var paymentSearchColumns = []string{"description", "student_id", "payer_email"}

// PaymentTransitionFields 状态迁移时一并写入的字段
type PaymentTransitionFields struct {
	PaidDate      *time.Time
	PaymentMethod string
	TransactionID string
}

// PaymentRepository 缴费数据访问接口
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByID(id string) (*models.Payment, error)
	GetByIDAndSchool(id, schoolID string) (*models.Payment, error)
	GetLatestByTransactionID(transactionID string) (*models.Payment, error)
	CompareAndSetStatus(id, schoolID, expected, next string, fields PaymentTransitionFields) (*models.Payment, error)
	SetCheckoutReference(id, schoolID, transactionID, methodLabel string) error
	ListBySchool(filter PaymentListFilter) ([]models.Payment, int64, error)
	ListStalePending(filter StalePendingFilter) ([]models.Payment, error)
	MarkPolled(id, schoolID string, at time.Time) error
}

// GormPaymentRepository GORM 实现
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建缴费仓库
func NewPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentRepository) WithTx(tx *gorm.DB) *GormPaymentRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRepository{db: tx}
}

// Create 创建缴费记录
func (r *GormPaymentRepository) Create(payment *models.Payment) error {
	if payment == nil {
		return errors.New("payment is nil")
	}
	return r.db.Create(payment).Error
}

// GetByID 根据 ID 获取缴费记录（不校验租户，未找到返回 nil）
func (r *GormPaymentRepository) GetByID(id string) (*models.Payment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.Where("id = ?", id).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByIDAndSchool 按 ID + 学校获取缴费记录
func (r *GormPaymentRepository) GetByIDAndSchool(id, schoolID string) (*models.Payment, error) {
	id = strings.TrimSpace(id)
	schoolID = strings.TrimSpace(schoolID)
	if id == "" || schoolID == "" {
		return nil, ErrNotFound
	}
	var payment models.Payment
	if err := r.db.Where("id = ? AND school_id = ?", id, schoolID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetLatestByTransactionID 根据外部流水号获取最新缴费记录
func (r *GormPaymentRepository) GetLatestByTransactionID(transactionID string) (*models.Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, nil
	}
	var payment models.Payment
	result := r.db.Where("transaction_id = ?", transactionID).Order("updated_at desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// CompareAndSetStatus 条件更新状态：仅当当前状态等于 expected 时写入
func (r *GormPaymentRepository) CompareAndSetStatus(id, schoolID, expected, next string, fields PaymentTransitionFields) (*models.Payment, error) {
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now(),
	}
	if fields.PaidDate != nil {
		updates["paid_date"] = *fields.PaidDate
	}
	if method := strings.TrimSpace(fields.PaymentMethod); method != "" {
		updates["payment_method"] = method
	}
	if ref := strings.TrimSpace(fields.TransactionID); ref != "" {
		updates["transaction_id"] = ref
	}
	result := r.db.Model(&models.Payment{}).
		Where("id = ? AND school_id = ? AND status = ?", id, schoolID, expected).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return r.GetByIDAndSchool(id, schoolID)
}

// SetCheckoutReference 写入收银台外部流水号与方式标签，不修改状态
func (r *GormPaymentRepository) SetCheckoutReference(id, schoolID, transactionID, methodLabel string) error {
	result := r.db.Model(&models.Payment{}).
		Where("id = ? AND school_id = ?", id, schoolID).
		Updates(map[string]interface{}{
			"transaction_id": strings.TrimSpace(transactionID),
			"payment_method": strings.TrimSpace(methodLabel),
			"updated_at":     time.Now(),
			"last_polled_at": nil,
			"poll_attempts":  0,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBySchool 学校维度分页查询
func (r *GormPaymentRepository) ListBySchool(filter PaymentListFilter) ([]models.Payment, int64, error) {
	query := r.db.Model(&models.Payment{}).Where("school_id = ?", filter.SchoolID)
	if filter.StudentID != "" {
		query = query.Where("student_id = ?", filter.StudentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		condition, argCount := buildLikeCondition(r.db, paymentSearchColumns)
		query = query.Where(condition, repeatLikeArgs("%"+search+"%", argCount)...)
	}
	if filter.DueFrom != nil {
		query = query.Where("due_date >= ?", *filter.DueFrom)
	}
	if filter.DueTo != nil {
		query = query.Where("due_date <= ?", *filter.DueTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Scopes(paginate(filter.Page, filter.PageSize))

	var payments []models.Payment
	if err := query.Order("due_date desc").Order("id").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// ListStalePending 查询已发起收银台但长时间未结算的待缴记录
// 按最近巡检时间（未巡检过的按更新时间）升序轮转
func (r *GormPaymentRepository) ListStalePending(filter StalePendingFilter) ([]models.Payment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := r.db.Where("status = ? AND transaction_id IS NOT NULL AND transaction_id <> '' AND updated_at < ?",
		constants.PaymentStatusPending,
		filter.Before,
	).Where("last_polled_at IS NULL OR last_polled_at < ?", filter.Before)
	if filter.MaxAttempts > 0 {
		query = query.Where("poll_attempts < ?", filter.MaxAttempts)
	}
	var payments []models.Payment
	err := query.Order("COALESCE(last_polled_at, updated_at) asc").Order("id").Limit(limit).Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// MarkPolled 记录一次巡检查询；不修改 updated_at
func (r *GormPaymentRepository) MarkPolled(id, schoolID string, at time.Time) error {
	return r.db.Model(&models.Payment{}).
		Where("id = ? AND school_id = ? AND status = ?", id, schoolID, constants.PaymentStatusPending).
		UpdateColumns(map[string]interface{}{
			"last_polled_at": at,
			"poll_attempts":  gorm.Expr("poll_attempts + 1"),
		}).Error
}
