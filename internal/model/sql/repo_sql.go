package sql

import (
	"context"
	"fmt"

	"mediagen/internal/entity"

	"gorm.io/gorm"
)

// GormRepository implements Repository using GORM
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new repository instance
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

type txContextKey struct{}

// WithTransaction runs fn inside one database transaction. The transaction
// travels in the context handed to fn; nested calls join the outer one.
func (r *GormRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if _, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

// conn returns the transaction bound to ctx, or the shared handle.
func (r *GormRepository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// calculatePagination calculates pagination metrics
func (r *GormRepository) calculatePagination(totalCount int64, page, pageSize int) *entity.Meta {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}

	return &entity.Meta{
		Total:    totalCount,
		Page:     int64(page),
		PageSize: int64(pageSize),
	}
}

func paginate(params entity.BaseParams) (page, pageSize, offset int) {
	params.Normalize()
	return int(params.Page), int(params.PageSize), params.Offset()
}
