package repository

import (
	"errors"
	"sync"
	"time"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/models"

	"gorm.io/gorm"
)

// GatewayEventRepository 网关事件流水数据访问接口
type GatewayEventRepository interface {
	Create(event *models.GatewayEvent) error
	List(filter GatewayEventListFilter) ([]models.GatewayEvent, int64, error)
}

// GormGatewayEventRepository GORM 实现
type GormGatewayEventRepository struct {
	db *gorm.DB
}

// NewGatewayEventRepository 创建网关事件仓库
func NewGatewayEventRepository(db *gorm.DB) *GormGatewayEventRepository {
	return &GormGatewayEventRepository{db: db}
}

// Create 写入事件
func (r *GormGatewayEventRepository) Create(event *models.GatewayEvent) error {
	if event == nil {
		return errors.New("gateway event is nil")
	}
	return r.db.Create(event).Error
}

// List 分页查询事件
func (r *GormGatewayEventRepository) List(filter GatewayEventListFilter) ([]models.GatewayEvent, int64, error) {
	query := r.db.Model(&models.GatewayEvent{})
	if filter.SchoolID != "" {
		query = query.Where("school_id = ?", filter.SchoolID)
	}
	if filter.PaymentID != "" {
		query = query.Where("payment_id = ?", filter.PaymentID)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Result != "" {
		query = query.Where("result = ?", filter.Result)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Scopes(paginate(filter.Page, filter.PageSize))

	var events []models.GatewayEvent
	if err := query.Order("id desc").Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// MemoryGatewayEventRepository 进程内事件仓库
type MemoryGatewayEventRepository struct {
	mu     sync.Mutex
	events []models.GatewayEvent
}

// NewMemoryGatewayEventRepository 创建内存事件仓库
func NewMemoryGatewayEventRepository() *MemoryGatewayEventRepository {
	return &MemoryGatewayEventRepository{}
}

// Create 写入事件
func (r *MemoryGatewayEventRepository) Create(event *models.GatewayEvent) error {
	if event == nil {
		return errors.New("gateway event is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uint(len(r.events) + 1)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.events = append(r.events, *event)
	return nil
}

// List 分页查询事件（按 ID 倒序）
func (r *MemoryGatewayEventRepository) List(filter GatewayEventListFilter) ([]models.GatewayEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := make([]models.GatewayEvent, 0)
	for i := len(r.events) - 1; i >= 0; i-- {
		event := r.events[i]
		if filter.SchoolID != "" && event.SchoolID != filter.SchoolID {
			continue
		}
		if filter.PaymentID != "" && event.PaymentID != filter.PaymentID {
			continue
		}
		if filter.Provider != "" && event.Provider != filter.Provider {
			continue
		}
		if filter.Result != "" && event.Result != filter.Result {
			continue
		}
		matched = append(matched, event)
	}
	total := int64(len(matched))
	start, end := pageBounds(len(matched), filter.Page, filter.PageSize)
	matched = append([]models.GatewayEvent{}, matched[start:end]...)
	return matched, total, nil
}
