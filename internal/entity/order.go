package entity

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OrderStatusCreated  = "created"
	OrderStatusPaid     = "paid"
	OrderStatusCanceled = "canceled"
	OrderStatusExpired  = "expired"

	OrderIntervalOneTime = "one-time"
	OrderIntervalMonth   = "month"
	OrderIntervalYear    = "year"

	GatewayStripe = "stripe"
	GatewayCreem  = "creem"
	GatewayManual = "manual"
)

// DbOrder 购买记录，一个订单可能对应多次积分发放（订阅续费）。
type DbOrder struct {
	ID         uint           `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	OrderNo    string         `gorm:"column:order_no;type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserUUID   string         `gorm:"column:user_uuid;type:varchar(64);index;not null" json:"user_uuid"`
	ProductID  string         `gorm:"column:product_id;type:varchar(64);not null" json:"product_id"`
	Interval   string         `gorm:"column:pay_interval;type:varchar(16);not null" json:"interval"`
	Amount     int64          `gorm:"column:amount;not null" json:"amount"`
	Currency   string         `gorm:"column:currency;type:varchar(8)" json:"currency"`
	Credits    int64          `gorm:"column:credits;not null" json:"credits"`
	Status     string         `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	Gateway    string         `gorm:"column:gateway;type:varchar(16)" json:"gateway"`
	SubID      string         `gorm:"column:sub_id;type:varchar(128);index" json:"sub_id,omitempty"`
	PaidAt     *time.Time     `gorm:"column:paid_at" json:"paid_at,omitempty"`
	ExpiredAt  *time.Time     `gorm:"column:expired_at" json:"expired_at,omitempty"`
	PaidDetail datatypes.JSON `gorm:"column:paid_detail" json:"-"`
}

// TableName 指定表名。
func (DbOrder) TableName() string {
	return "orders"
}

type OrderCreateRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Gateway   string `json:"gateway" binding:"omitempty,oneof=stripe creem manual"`
}
