package entity

import (
	"time"

	"gorm.io/datatypes"
)

// UserUpdates 用户更新字段
type UserUpdates struct {
	Nickname     *string
	Role         *string
	PasswordHash *string
	IsActive     *bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u UserUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Nickname != nil {
		updates["nickname"] = *u.Nickname
	}
	if u.Role != nil {
		updates["role"] = *u.Role
	}
	if u.PasswordHash != nil {
		updates["password_hash"] = *u.PasswordHash
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u UserUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// TaskUpdates 任务更新字段。credits_refunded 不在此处更新，见 MarkTaskRefunded。
type TaskUpdates struct {
	Status       *string
	Result       *datatypes.JSON
	OutputURLs   *StringArray
	VendorURLs   *StringArray
	StorageKeys  *StringArray
	ErrorCode    *string
	ErrorMessage *string
	CompletedAt  *time.Time
}

// ToMap 转换为 GORM 更新 map
func (u TaskUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.Result != nil {
		updates["result"] = *u.Result
	}
	if u.OutputURLs != nil {
		updates["output_urls"] = *u.OutputURLs
	}
	if u.VendorURLs != nil {
		updates["vendor_urls"] = *u.VendorURLs
	}
	if u.StorageKeys != nil {
		updates["storage_keys"] = *u.StorageKeys
	}
	if u.ErrorCode != nil {
		updates["error_code"] = *u.ErrorCode
	}
	if u.ErrorMessage != nil {
		updates["error_message"] = *u.ErrorMessage
	}
	if u.CompletedAt != nil {
		updates["completed_at"] = *u.CompletedAt
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u TaskUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// OrderUpdates 订单更新字段
type OrderUpdates struct {
	Status     *string
	SubID      *string
	PaidAt     *time.Time
	ExpiredAt  *time.Time
	PaidDetail *datatypes.JSON
}

func (u OrderUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.SubID != nil {
		updates["sub_id"] = *u.SubID
	}
	if u.PaidAt != nil {
		updates["paid_at"] = *u.PaidAt
	}
	if u.ExpiredAt != nil {
		updates["expired_at"] = *u.ExpiredAt
	}
	if u.PaidDetail != nil {
		updates["paid_detail"] = *u.PaidDetail
	}
	return updates
}

func (u OrderUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}
