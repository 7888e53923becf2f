package entity

import "time"

// 积分流水类型。生成类流水按 "<provider>_generate" / "<provider>_refund" 命名。
const (
	CreditTransNewUser   = "new_user"
	CreditTransOrderPay  = "order_pay"
	CreditTransSystemAdd = "system_add"
)

// GenerateTransType 扣费流水类型
func GenerateTransType(provider string) string {
	return provider + "_generate"
}

// RefundTransType 退款流水类型
func RefundTransType(provider string) string {
	return provider + "_refund"
}

// DbCreditTransaction 积分流水，只追加不修改。
type DbCreditTransaction struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	TransNo   string     `gorm:"column:trans_no;type:varchar(64);uniqueIndex;not null" json:"trans_no"`
	UserUUID  string     `gorm:"column:user_uuid;type:varchar(64);index;not null" json:"user_uuid"`
	TransType string     `gorm:"column:trans_type;type:varchar(64);index;not null" json:"trans_type"`
	Credits   int64      `gorm:"column:credits;not null" json:"credits"`
	OrderNo   string     `gorm:"column:order_no;type:varchar(64)" json:"order_no,omitempty"`
	ExpiredAt *time.Time `gorm:"column:expired_at;index" json:"expired_at,omitempty"`
}

// TableName 指定表名。
func (DbCreditTransaction) TableName() string {
	return "credits"
}

// ValidAt 在给定时间点是否仍计入余额
func (c DbCreditTransaction) ValidAt(now time.Time) bool {
	return c.ExpiredAt == nil || c.ExpiredAt.After(now)
}

type CreditTransactionQuery struct {
	BaseParams
	UserUUID string `json:"-" form:"-"`
}

type CreditBalanceResponse struct {
	UserUUID string `json:"user_uuid"`
	Credits  int64  `json:"credits"`
}

type CreditTransactionListResponse struct {
	Transactions []DbCreditTransaction `json:"transactions"`
	Meta         *Meta                 `json:"meta"`
}

type CreditGrantRequest struct {
	UserUUID  string `json:"user_uuid" binding:"required"`
	Credits   int64  `json:"credits" binding:"required,gt=0"`
	ValidDays int    `json:"valid_days" binding:"gte=0"`
}
