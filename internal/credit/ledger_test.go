package credit

import (
	"context"
	"testing"
	"time"

	"mediagen/internal/entity"
	"mediagen/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, model.Repository) {
	t.Helper()
	repo, err := model.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	return NewLedger(repo), repo
}

func timeAt(d time.Duration) *time.Time {
	v := time.Now().UTC().Add(d).Truncate(time.Second)
	return &v
}

func TestBalanceIgnoresExpiredRows(t *testing.T) {
	ledger, repo := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateCreditTransaction(ctx, &entity.DbCreditTransaction{
		TransNo: NewTransNo(), UserUUID: "u-1", TransType: entity.CreditTransNewUser, Credits: 100, ExpiredAt: timeAt(-time.Hour),
	}))
	_, err := ledger.Increase(ctx, Grant{UserUUID: "u-1", TransType: entity.CreditTransOrderPay, Credits: 40, ExpiredAt: timeAt(24 * time.Hour)})
	require.NoError(t, err)

	balance, err := ledger.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	ok, current, err := ledger.CheckUserCredits(ctx, "u-1", 41)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(40), current)

	ok, _, err = ledger.CheckUserCredits(ctx, "u-1", 40)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecreaseTakesExpiryFromCoveringRow(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	soon := timeAt(24 * time.Hour)
	later := timeAt(72 * time.Hour)
	_, err := ledger.Increase(ctx, Grant{UserUUID: "u-1", TransType: entity.CreditTransSystemAdd, Credits: 50})
	require.NoError(t, err)
	_, err = ledger.Increase(ctx, Grant{UserUUID: "u-1", TransType: entity.CreditTransOrderPay, Credits: 10, OrderNo: "o-soon", ExpiredAt: soon})
	require.NoError(t, err)
	_, err = ledger.Increase(ctx, Grant{UserUUID: "u-1", TransType: entity.CreditTransOrderPay, Credits: 20, OrderNo: "o-later", ExpiredAt: later})
	require.NoError(t, err)

	trans, err := ledger.Decrease(ctx, "u-1", entity.GenerateTransType("sora2"), 25)
	require.NoError(t, err)
	assert.Equal(t, int64(-25), trans.Credits)
	assert.Equal(t, "o-later", trans.OrderNo)
	require.NotNil(t, trans.ExpiredAt)
	assert.WithinDuration(t, *later, *trans.ExpiredAt, time.Second)

	balance, err := ledger.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(55), balance)
}

func TestDecreaseRejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, err := ledger.Decrease(context.Background(), "u-1", "veo3_generate", 0)
	assert.Error(t, err)
}

func TestRefundUsesOriginalConsumptionExpiry(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	expiry := timeAt(48 * time.Hour)
	_, err := ledger.Increase(ctx, Grant{UserUUID: "u-1", TransType: entity.CreditTransNewUser, Credits: 100, ExpiredAt: expiry})
	require.NoError(t, err)
	_, err = ledger.Decrease(ctx, "u-1", entity.GenerateTransType("veo3"), 60)
	require.NoError(t, err)

	refund, err := ledger.RefundWithOriginalExpiry(ctx, "u-1", "veo3", 60)
	require.NoError(t, err)
	assert.Equal(t, "veo3_refund", refund.TransType)
	assert.Equal(t, int64(60), refund.Credits)
	require.NotNil(t, refund.ExpiredAt)
	assert.WithinDuration(t, *expiry, *refund.ExpiredAt, time.Second)

	balance, err := ledger.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestRefundFallsBackToLatestExpiryThenOneYear(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	latest := timeAt(10 * 24 * time.Hour)
	_, err := ledger.Increase(ctx, Grant{UserUUID: "u-1", TransType: entity.CreditTransOrderPay, Credits: 5, ExpiredAt: latest})
	require.NoError(t, err)

	refund, err := ledger.RefundWithOriginalExpiry(ctx, "u-1", "wan25", 30)
	require.NoError(t, err)
	require.NotNil(t, refund.ExpiredAt)
	assert.WithinDuration(t, *latest, *refund.ExpiredAt, time.Second)

	// 没有任何流水的用户退款一年后过期
	refund, err = ledger.RefundWithOriginalExpiry(ctx, "u-2", "wan25", 30)
	require.NoError(t, err)
	require.NotNil(t, refund.ExpiredAt)
	assert.WithinDuration(t, time.Now().UTC().Add(DefaultRefundValidity), *refund.ExpiredAt, time.Minute)
}

func TestSortByExpiryPutsNeverExpiringLast(t *testing.T) {
	rows := []entity.DbCreditTransaction{
		{TransNo: "never"},
		{TransNo: "late", ExpiredAt: timeAt(2 * time.Hour)},
		{TransNo: "early", ExpiredAt: timeAt(time.Hour)},
	}
	sortByExpiry(rows)
	assert.Equal(t, []string{"early", "late", "never"}, []string{rows[0].TransNo, rows[1].TransNo, rows[2].TransNo})
	assert.Len(t, NewTransNo(), 32)
	assert.Nil(t, (&Ledger{now: time.Now}).ExpiryAfterDays(0))
}
