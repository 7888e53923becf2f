package entity

import (
	"time"

	"gorm.io/datatypes"
)

// TaskType 生成任务类型
type TaskType string

const (
	TaskTypeTextToImage  TaskType = "text-to-image"
	TaskTypeImageToImage TaskType = "image-to-image"
	TaskTypeTextToVideo  TaskType = "text-to-video"
	TaskTypeImageToVideo TaskType = "image-to-video"
	TaskTypeImageUpscale TaskType = "image-upscale"
)

// IsVideo 视频类任务
func (t TaskType) IsVideo() bool {
	return t == TaskTypeTextToVideo || t == TaskTypeImageToVideo
}

// Client facing status vocabulary.
const (
	ClientStatusPending    = "pending"
	ClientStatusProcessing = "processing"
	ClientStatusCompleted  = "completed"
	ClientStatusFailed     = "failed"
)

// DbTask 一次供应商生成任务。status 保存供应商自己的状态词。
type DbTask struct {
	ID              uint           `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	TaskID          string         `gorm:"column:task_id;type:varchar(64);uniqueIndex;not null" json:"task_id"`
	RequestID       string         `gorm:"column:request_id;type:varchar(128);uniqueIndex;not null" json:"request_id"`
	Provider        string         `gorm:"column:provider;type:varchar(50);index;not null" json:"provider"`
	UserUUID        string         `gorm:"column:user_uuid;type:varchar(64);index;not null" json:"user_uuid"`
	Type            TaskType       `gorm:"column:type;type:varchar(32);not null" json:"type"`
	Model           string         `gorm:"column:model;type:varchar(128)" json:"model"`
	Input           datatypes.JSON `gorm:"column:input" json:"input"`
	Status          string         `gorm:"column:status;type:varchar(32);index;not null" json:"status"`
	Result          datatypes.JSON `gorm:"column:result" json:"result"`
	OutputURLs      StringArray    `gorm:"column:output_urls;type:text" json:"output_urls"`
	VendorURLs      StringArray    `gorm:"column:vendor_urls;type:text" json:"vendor_urls"`
	StorageKeys     StringArray    `gorm:"column:storage_keys;type:text" json:"-"`
	CreditsUsed     int64          `gorm:"column:credits_used;not null;default:0" json:"credits_used"`
	CreditsRefunded int64          `gorm:"column:credits_refunded;not null;default:0" json:"credits_refunded"`
	ErrorCode       string         `gorm:"column:error_code;type:varchar(64)" json:"error_code,omitempty"`
	ErrorMessage    string         `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// TableName 指定表名。
func (DbTask) TableName() string {
	return "generation_tasks"
}

// TaskQuery 历史记录查询
type TaskQuery struct {
	BaseParams
	UserUUID string `json:"-" form:"-"`
	Provider string `json:"-" form:"-"`
	Status   string `json:"status" form:"status"`
}

// TaskSubmitResponse 提交成功后的响应
type TaskSubmitResponse struct {
	TaskID           string `json:"task_id"`
	RequestID        string `json:"request_id"`
	CreditsUsed      int64  `json:"credits_used"`
	RemainingCredits int64  `json:"remaining_credits"`
}

// TaskStatusResponse 轮询状态响应
type TaskStatusResponse struct {
	TaskID          string     `json:"task_id"`
	Provider        string     `json:"provider"`
	Type            TaskType   `json:"type"`
	Status          string     `json:"status"`
	VendorStatus    string     `json:"vendor_status"`
	OutputURLs      []string   `json:"output_urls"`
	VideoURL        string     `json:"video_url,omitempty"`
	ImageURL        string     `json:"image_url,omitempty"`
	CreditsUsed     int64      `json:"credits_used"`
	CreditsRefunded int64      `json:"credits_refunded"`
	ErrorCode       string     `json:"error_code,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TaskDetailResponse 结果详情，包含原始输入与供应商返回
type TaskDetailResponse struct {
	TaskStatusResponse
	RequestID string         `json:"request_id"`
	Model     string         `json:"model"`
	Input     datatypes.JSON `json:"input"`
	Result    datatypes.JSON `json:"result"`
}

type TaskListResponse struct {
	Tasks []TaskStatusResponse `json:"tasks"`
	Meta  *Meta                `json:"meta"`
}
