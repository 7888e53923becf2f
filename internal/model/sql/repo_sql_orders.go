package sql

import (
	"context"
	"fmt"
	"strings"

	"mediagen/internal/entity"

	"gorm.io/gorm"
)

// CreateOrder inserts an order.
func (r *GormRepository) CreateOrder(ctx context.Context, order *entity.DbOrder) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	return r.conn(ctx).Create(order).Error
}

// GetOrderByNo loads an order by order number.
func (r *GormRepository) GetOrderByNo(ctx context.Context, orderNo string) (*entity.DbOrder, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(orderNo)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var order entity.DbOrder
	if err := r.conn(ctx).Where("order_no = ?", trimmed).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetLatestOrderBySubID loads the newest order of a subscription.
func (r *GormRepository) GetLatestOrderBySubID(ctx context.Context, subID string) (*entity.DbOrder, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(subID)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var order entity.DbOrder
	if err := r.conn(ctx).Where("sub_id = ?", trimmed).Order("created_at DESC, id DESC").First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder applies a partial update by order number.
func (r *GormRepository) UpdateOrder(ctx context.Context, orderNo string, updates entity.OrderUpdates) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if updates.IsEmpty() {
		return nil
	}
	return r.conn(ctx).Model(&entity.DbOrder{}).Where("order_no = ?", orderNo).Updates(updates.ToMap()).Error
}

// TransitionOrder updates the order only while its status is still fromStatus.
func (r *GormRepository) TransitionOrder(ctx context.Context, orderNo, fromStatus string, updates entity.OrderUpdates) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("repository not initialised")
	}
	if updates.IsEmpty() {
		return false, nil
	}
	result := r.conn(ctx).Model(&entity.DbOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates.ToMap())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
