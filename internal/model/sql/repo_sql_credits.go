package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediagen/internal/entity"

	"gorm.io/gorm"
)

// CreateCreditTransaction appends a ledger row.
func (r *GormRepository) CreateCreditTransaction(ctx context.Context, trans *entity.DbCreditTransaction) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if trans == nil {
		return fmt.Errorf("credit transaction is nil")
	}
	if strings.TrimSpace(trans.UserUUID) == "" || strings.TrimSpace(trans.TransNo) == "" {
		return fmt.Errorf("credit transaction requires user and trans_no")
	}
	return r.conn(ctx).Create(trans).Error
}

func (r *GormRepository) validCreditsQuery(ctx context.Context, userUUID string, now time.Time) *gorm.DB {
	return r.conn(ctx).Model(&entity.DbCreditTransaction{}).
		Where("user_uuid = ?", userUUID).
		Where("(expired_at IS NULL OR expired_at > ?)", now.UTC())
}

// ListValidCredits returns every non-expired row for the user, oldest first.
func (r *GormRepository) ListValidCredits(ctx context.Context, userUUID string, now time.Time) ([]entity.DbCreditTransaction, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var rows []entity.DbCreditTransaction
	if err := r.validCreditsQuery(ctx, userUUID, now).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SumValidCredits returns the user's balance at now.
func (r *GormRepository) SumValidCredits(ctx context.Context, userUUID string, now time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("repository not initialised")
	}
	var total int64
	if err := r.validCreditsQuery(ctx, userUUID, now).
		Select("COALESCE(SUM(credits), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// FindLatestCreditByTypeAndAmount finds the most recent row matching user, type and signed amount.
func (r *GormRepository) FindLatestCreditByTypeAndAmount(ctx context.Context, userUUID, transType string, credits int64) (*entity.DbCreditTransaction, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var row entity.DbCreditTransaction
	err := r.conn(ctx).
		Where("user_uuid = ? AND trans_type = ? AND credits = ?", userUUID, transType, credits).
		Order("created_at DESC, id DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindLatestValidExpiry returns the furthest future expiry among the user's rows, nil when none.
func (r *GormRepository) FindLatestValidExpiry(ctx context.Context, userUUID string, now time.Time) (*time.Time, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	var row entity.DbCreditTransaction
	err := r.conn(ctx).
		Where("user_uuid = ? AND expired_at IS NOT NULL AND expired_at > ?", userUUID, now.UTC()).
		Order("expired_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.ExpiredAt, nil
}

// ListCreditTransactions pages through a user's ledger, newest first.
func (r *GormRepository) ListCreditTransactions(ctx context.Context, params *entity.CreditTransactionQuery) ([]entity.DbCreditTransaction, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, fmt.Errorf("repository not initialised")
	}

	query := r.conn(ctx).Model(&entity.DbCreditTransaction{})
	var base entity.BaseParams
	if params != nil {
		base = params.BaseParams
		if trimmed := strings.TrimSpace(params.UserUUID); trimmed != "" {
			query = query.Where("user_uuid = ?", trimmed)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page, pageSize, offset := paginate(base)

	var rows []entity.DbCreditTransaction
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	return rows, r.calculatePagination(total, page, pageSize), nil
}
