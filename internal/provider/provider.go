package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mediagen/internal/entity"
)

// State 统一的任务阶段，各供应商的状态词通过 StatusLabels 映射到这里
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job 是 Prepare 之后的标准化请求，Input 会原样写入任务表。
type Job struct {
	Provider string
	Type     entity.TaskType
	Model    string
	Input    map[string]any
	Cost     int64
}

// Submission 供应商受理后返回的任务标识
type Submission struct {
	RequestID string
}

// Outcome 从回调或轮询中解析出来的任务进展
type Outcome struct {
	RequestID    string
	State        State
	VendorStatus string
	MediaURLs    []string
	ErrorCode    string
	ErrorMessage string
	Raw          json.RawMessage
}

// Descriptor 用于 /api/providers 展示
type Descriptor struct {
	ID           string            `json:"id"`
	Vendor       string            `json:"vendor"`
	Types        []entity.TaskType `json:"types"`
	MaxImageURLs int               `json:"max_image_urls"`
	Labels       StatusLabels      `json:"labels"`
	Async        bool              `json:"async"`
}

// Provider 外部异步生成任务的统一抽象。
//
// Prepare 只做校验、参数规整和计费，不产生任何副作用；
// Submit 才真正调用供应商。
type Provider interface {
	ID() string
	Labels() StatusLabels
	Describe() Descriptor
	Prepare(raw json.RawMessage) (*Job, error)
	Submit(ctx context.Context, job *Job, callbackURL string) (*Submission, error)
	ParseWebhook(body []byte) (*Outcome, error)
}

// Poller 由支持主动查询的供应商实现，在没有回调地址时使用
type Poller interface {
	Poll(ctx context.Context, requestID, model string) (*Outcome, error)
}

// Runner 在进程内完成生成，不依赖供应商回调
type Runner interface {
	Run(ctx context.Context, job *Job) (*Outcome, error)
}

// ValidationError 请求参数不合法，对应 400
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// VendorError 供应商调用失败，Message 透传给调用方
type VendorError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *VendorError) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{e.Provider + " upstream error"}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("http %d", e.StatusCode))
	}
	if e.Code != "" {
		parts = append(parts, "code "+e.Code)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, ": ")
}

// ErrWebhookUnsupported 供应商不通过回调通知结果
var ErrWebhookUnsupported = fmt.Errorf("provider does not accept webhooks")
