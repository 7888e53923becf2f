package provider

import (
	"strings"

	"mediagen/internal/entity"
)

// StatusLabels 供应商自己的状态词，原样保存在任务表 status 字段
type StatusLabels struct {
	Pending    string `json:"pending"`
	Processing string `json:"processing"`
	Completed  string `json:"completed"`
	Failed     string `json:"failed"`
}

var (
	// DefaultLabels pending/processing/completed/failed
	DefaultLabels = StatusLabels{
		Pending:    "pending",
		Processing: "processing",
		Completed:  "completed",
		Failed:     "failed",
	}
	// KieJobLabels Kie Jobs 系列（sora2、wan25）使用的状态词
	KieJobLabels = StatusLabels{
		Pending:    "waiting",
		Processing: "processing",
		Completed:  "success",
		Failed:     "fail",
	}
)

// Label returns the provider word for a state.
func (l StatusLabels) Label(state State) string {
	switch state {
	case StateProcessing:
		return l.Processing
	case StateSucceeded:
		return l.Completed
	case StateFailed:
		return l.Failed
	default:
		return l.Pending
	}
}

// State 反向映射，未知状态词按 processing 处理
func (l StatusLabels) State(label string) State {
	switch label {
	case l.Pending:
		return StatePending
	case l.Processing:
		return StateProcessing
	case l.Completed:
		return StateSucceeded
	case l.Failed:
		return StateFailed
	default:
		return MapVendorStatus(label)
	}
}

// IsTerminal reports whether the stored label is completed or failed.
func (l StatusLabels) IsTerminal(label string) bool {
	return l.State(label).Terminal()
}

// ClientStatus 转换为前端统一的状态词。
// "waiting" 对前端来说已经是 processing，只有 "pending" 才保留。
func (l StatusLabels) ClientStatus(label string) string {
	switch l.State(label) {
	case StatePending:
		if strings.EqualFold(label, entity.ClientStatusPending) {
			return entity.ClientStatusPending
		}
		return entity.ClientStatusProcessing
	case StateSucceeded:
		return entity.ClientStatusCompleted
	case StateFailed:
		return entity.ClientStatusFailed
	default:
		return entity.ClientStatusProcessing
	}
}

// MapVendorStatus maps raw vendor status strings onto State.
func MapVendorStatus(status string) State {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "queued", "in_queue", "created", "waiting", "queuing":
		return StatePending
	case "running", "processing", "in_progress", "started", "generating":
		return StateProcessing
	case "succeeded", "success", "completed", "done", "ok":
		return StateSucceeded
	case "failed", "failure", "fail", "error", "cancelled", "canceled", "aborted":
		return StateFailed
	default:
		return StateProcessing
	}
}
