package credit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mediagen/internal/entity"
	"mediagen/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultRefundValidity 找不到任何有效期时退款积分的有效期
const DefaultRefundValidity = 365 * 24 * time.Hour

// Grant 一笔积分发放
type Grant struct {
	UserUUID  string
	TransType string
	Credits   int64
	OrderNo   string
	ExpiredAt *time.Time
}

// Ledger 积分账本。余额每次都从流水实时汇总，不做缓存。
type Ledger struct {
	repo model.Repository
	now  func() time.Time
}

func NewLedger(repo model.Repository) *Ledger {
	return &Ledger{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Balance 有效（未过期）流水之和
func (l *Ledger) Balance(ctx context.Context, userUUID string) (int64, error) {
	if strings.TrimSpace(userUUID) == "" {
		return 0, errors.New("credit: user uuid is required")
	}
	return l.repo.SumValidCredits(ctx, userUUID, l.now())
}

// CheckUserCredits 只读检查余额是否足够，不加锁
func (l *Ledger) CheckUserCredits(ctx context.Context, userUUID string, amount int64) (bool, int64, error) {
	balance, err := l.Balance(ctx, userUUID)
	if err != nil {
		return false, 0, err
	}
	return balance >= amount, balance, nil
}

// Decrease 追加一条 -amount 的消费流水。
// 过期时间和订单号取自按过期时间排序后累计余额首次覆盖 amount 的那一行。
func (l *Ledger) Decrease(ctx context.Context, userUUID, transType string, amount int64) (*entity.DbCreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: invalid decrease amount %d", amount)
	}
	now := l.now()
	rows, err := l.repo.ListValidCredits(ctx, userUUID, now)
	if err != nil {
		return nil, fmt.Errorf("credit: list valid credits: %w", err)
	}
	sortByExpiry(rows)

	var (
		left      int64
		orderNo   string
		expiredAt *time.Time
	)
	for _, row := range rows {
		left += row.Credits
		if left >= amount {
			orderNo = row.OrderNo
			expiredAt = row.ExpiredAt
			break
		}
	}

	trans := &entity.DbCreditTransaction{
		TransNo:   NewTransNo(),
		UserUUID:  userUUID,
		TransType: transType,
		Credits:   -amount,
		OrderNo:   orderNo,
		ExpiredAt: expiredAt,
	}
	if err := l.repo.CreateCreditTransaction(ctx, trans); err != nil {
		return nil, fmt.Errorf("credit: insert consumption: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_uuid":  userUUID,
		"trans_type": transType,
		"trans_no":   trans.TransNo,
		"credits":    -amount,
	}).Info("credits_decreased")
	return trans, nil
}

// Increase 追加一条正向发放流水
func (l *Ledger) Increase(ctx context.Context, grant Grant) (*entity.DbCreditTransaction, error) {
	if strings.TrimSpace(grant.UserUUID) == "" {
		return nil, errors.New("credit: user uuid is required")
	}
	if grant.Credits <= 0 {
		return nil, fmt.Errorf("credit: invalid grant amount %d", grant.Credits)
	}
	if strings.TrimSpace(grant.TransType) == "" {
		return nil, errors.New("credit: trans type is required")
	}

	trans := &entity.DbCreditTransaction{
		TransNo:   NewTransNo(),
		UserUUID:  grant.UserUUID,
		TransType: grant.TransType,
		Credits:   grant.Credits,
		OrderNo:   grant.OrderNo,
		ExpiredAt: grant.ExpiredAt,
	}
	if err := l.repo.CreateCreditTransaction(ctx, trans); err != nil {
		return nil, fmt.Errorf("credit: insert grant: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_uuid":  grant.UserUUID,
		"trans_type": grant.TransType,
		"trans_no":   trans.TransNo,
		"order_no":   grant.OrderNo,
		"credits":    grant.Credits,
	}).Info("credits_increased")
	return trans, nil
}

// RefundWithOriginalExpiry 退还一次生成消耗的积分。
// 过期时间优先级：最近一条 (user, <provider>_generate, -amount) 流水 → 用户最晚的有效期 → 一年后。
// 同金额多次消费时按最近一条匹配，可能取错过期时间。
func (l *Ledger) RefundWithOriginalExpiry(ctx context.Context, userUUID, provider string, amount int64) (*entity.DbCreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: invalid refund amount %d", amount)
	}
	now := l.now()

	var expiredAt *time.Time
	original, err := l.repo.FindLatestCreditByTypeAndAmount(ctx, userUUID, entity.GenerateTransType(provider), -amount)
	switch {
	case err == nil:
		expiredAt = original.ExpiredAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("credit: find original consumption: %w", err)
	}

	if expiredAt == nil {
		latest, err := l.repo.FindLatestValidExpiry(ctx, userUUID, now)
		if err != nil {
			return nil, fmt.Errorf("credit: find latest expiry: %w", err)
		}
		expiredAt = latest
	}
	if expiredAt == nil {
		fallback := now.Add(DefaultRefundValidity)
		expiredAt = &fallback
	}

	trans, err := l.Increase(ctx, Grant{
		UserUUID:  userUUID,
		TransType: entity.RefundTransType(provider),
		Credits:   amount,
		ExpiredAt: expiredAt,
	})
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// ListTransactions 用户流水分页
func (l *Ledger) ListTransactions(ctx context.Context, params *entity.CreditTransactionQuery) ([]entity.DbCreditTransaction, *entity.Meta, error) {
	return l.repo.ListCreditTransactions(ctx, params)
}

// ExpiryAfterDays 返回 days 天后的时间，days <= 0 表示永不过期
func (l *Ledger) ExpiryAfterDays(days int) *time.Time {
	if days <= 0 {
		return nil
	}
	t := l.now().AddDate(0, 0, days)
	return &t
}

// NewTransNo 生成去掉连字符的 uuid 流水号
func NewTransNo() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// sortByExpiry 按过期时间升序，永不过期的排在最后
func sortByExpiry(rows []entity.DbCreditTransaction) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].ExpiredAt, rows[j].ExpiredAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}
