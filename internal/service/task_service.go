package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediagen/internal/credit"
	"mediagen/internal/entity"
	"mediagen/internal/metrics"
	"mediagen/internal/model"
	"mediagen/internal/provider"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	runnerTimeout      = 10 * time.Minute
	rejectApplyTimeout = 10 * time.Second
)

// TaskEvent 任务进入终态时推送给前端
type TaskEvent struct {
	UserUUID  string   `json:"-"`
	TaskID    string   `json:"task_id"`
	Provider  string   `json:"provider"`
	Status    string   `json:"status"`
	OutputURL []string `json:"output_urls,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// TaskServiceOptions 可选配置
type TaskServiceOptions struct {
	// WebhookBaseURL 为空时不向供应商传回调地址，状态查询会主动轮询
	WebhookBaseURL string
	Notify         func(TaskEvent)
}

// TaskService 生成任务的完整生命周期：提交扣费、回调落库、转存、失败退款
type TaskService struct {
	repo        model.Repository
	ledger      *credit.Ledger
	providers   *provider.Registry
	transfer    *MediaTransfer
	pool        *WorkerPool
	webhookBase string
	notifyFunc  func(TaskEvent)
	now         func() time.Time
}

func NewTaskService(repo model.Repository, ledger *credit.Ledger, providers *provider.Registry, transfer *MediaTransfer, pool *WorkerPool, opts TaskServiceOptions) *TaskService {
	return &TaskService{
		repo:        repo,
		ledger:      ledger,
		providers:   providers,
		transfer:    transfer,
		pool:        pool,
		webhookBase: strings.TrimRight(strings.TrimSpace(opts.WebhookBaseURL), "/"),
		notifyFunc:  opts.Notify,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifyFunc 设置终态通知回调
func (s *TaskService) SetNotifyFunc(fn func(TaskEvent)) {
	s.notifyFunc = fn
}

// Providers 已注册的供应商
func (s *TaskService) Providers() []provider.Descriptor {
	return s.providers.List()
}

func (s *TaskService) provider(id string) (provider.Provider, error) {
	p, err := s.providers.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

// CallbackURL 供应商回调地址，未配置时返回空串
func (s *TaskService) CallbackURL(providerID string) string {
	if s.webhookBase == "" {
		return ""
	}
	return s.webhookBase + "/api/" + providerID + "/webhook"
}

// Submit 校验 → 余额检查 → 调用供应商 → 同一事务内建任务并扣费
func (s *TaskService) Submit(ctx context.Context, userUUID, providerID string, raw json.RawMessage) (*entity.TaskSubmitResponse, error) {
	p, err := s.provider(providerID)
	if err != nil {
		return nil, err
	}

	job, err := p.Prepare(raw)
	if err != nil {
		return nil, err
	}

	ok, balance, err := s.ledger.CheckUserCredits(ctx, userUUID, job.Cost)
	if err != nil {
		return nil, fmt.Errorf("check credits: %w", err)
	}
	if !ok {
		return nil, &InsufficientCreditsError{Current: balance, Required: job.Cost}
	}

	_, isRunner := p.(provider.Runner)
	callbackURL := ""
	if !isRunner {
		callbackURL = s.CallbackURL(p.ID())
	}

	submission, err := p.Submit(ctx, job, callbackURL)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(job.Input)
	if err != nil {
		return nil, fmt.Errorf("encode task input: %w", err)
	}
	task := &entity.DbTask{
		TaskID:      uuid.NewString(),
		RequestID:   submission.RequestID,
		Provider:    p.ID(),
		UserUUID:    userUUID,
		Type:        job.Type,
		Model:       job.Model,
		Input:       datatypes.JSON(input),
		Status:      p.Labels().Pending,
		CreditsUsed: job.Cost,
	}

	err = s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateTask(txCtx, task); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if job.Cost <= 0 {
			return nil
		}
		if _, err := s.ledger.Decrease(txCtx, userUUID, entity.GenerateTransType(p.ID()), job.Cost); err != nil {
			return fmt.Errorf("decrease credits: %w", err)
		}
		return nil
	})
	if err != nil {
		// 供应商已受理但本地没有记录，只能人工处理
		logrus.WithError(err).WithFields(logrus.Fields{
			"provider":   p.ID(),
			"request_id": submission.RequestID,
			"user_uuid":  userUUID,
		}).Error("task_orphaned_vendor_job")
		return nil, err
	}

	metrics.RecordTaskSubmitted(p.ID(), job.Cost)
	logrus.WithFields(logrus.Fields{
		"provider":     p.ID(),
		"task_id":      task.TaskID,
		"request_id":   task.RequestID,
		"user_uuid":    userUUID,
		"type":         job.Type,
		"model":        job.Model,
		"credits_used": job.Cost,
	}).Info("task_submitted")

	if runner, ok := p.(provider.Runner); ok {
		s.schedule(runner, task, job)
	}

	remaining, err := s.ledger.Balance(ctx, userUUID)
	if err != nil {
		logrus.WithError(err).WithField("user_uuid", userUUID).Warn("credits_balance_failed")
		remaining = balance - job.Cost
	}

	return &entity.TaskSubmitResponse{
		TaskID:           task.TaskID,
		RequestID:        task.RequestID,
		CreditsUsed:      job.Cost,
		RemainingCredits: remaining,
	}, nil
}

func (s *TaskService) schedule(runner provider.Runner, task *entity.DbTask, job *provider.Job) {
	snapshot := *task
	accepted := s.pool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), runnerTimeout)
		defer cancel()

		outcome, err := runner.Run(ctx, job)
		if err != nil {
			outcome = &provider.Outcome{
				State:        provider.StateFailed,
				ErrorCode:    "run_failed",
				ErrorMessage: err.Error(),
			}
		}
		outcome.RequestID = snapshot.RequestID
		if err := s.ApplyOutcome(ctx, &snapshot, outcome); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"provider": snapshot.Provider,
				"task_id":  snapshot.TaskID,
			}).Error("task_run_apply_failed")
		}
	})
	if accepted {
		return
	}

	// 没有空闲 worker：直接失败并退款，不在请求 goroutine 里跑生成
	ctx, cancel := context.WithTimeout(context.Background(), rejectApplyTimeout)
	defer cancel()
	outcome := &provider.Outcome{
		RequestID:    snapshot.RequestID,
		State:        provider.StateFailed,
		ErrorCode:    "queue_full",
		ErrorMessage: "worker pool is full",
	}
	if err := s.ApplyOutcome(ctx, &snapshot, outcome); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"provider": snapshot.Provider,
			"task_id":  snapshot.TaskID,
		}).Error("task_reject_apply_failed")
	}
}

// HandleWebhook 解析回调并应用到任务。错误只记录日志，调用方总是返回 200。
func (s *TaskService) HandleWebhook(ctx context.Context, providerID string, body []byte) {
	logger := logrus.WithField("provider", providerID)

	p, err := s.provider(providerID)
	if err != nil {
		// 路径参数不可信，不能作为 label
		metrics.RecordWebhook(metrics.UnknownProvider, "invalid")
		logger.WithError(err).Warn("webhook_unknown_provider")
		return
	}

	outcome, err := p.ParseWebhook(body)
	if err != nil {
		metrics.RecordWebhook(p.ID(), "invalid")
		logger.WithError(err).WithField("body", snippet(body)).Warn("webhook_parse_failed")
		return
	}

	task, err := s.repo.GetTaskByRequestID(ctx, outcome.RequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.RecordWebhook(p.ID(), "unknown_task")
			logger.WithField("request_id", outcome.RequestID).Warn("webhook_unknown_task")
			return
		}
		metrics.RecordWebhook(p.ID(), "error")
		logger.WithError(err).WithField("request_id", outcome.RequestID).Error("webhook_load_task_failed")
		return
	}
	if task.Provider != p.ID() {
		metrics.RecordWebhook(p.ID(), "unknown_task")
		logger.WithFields(logrus.Fields{
			"request_id":    outcome.RequestID,
			"task_provider": task.Provider,
		}).Warn("webhook_provider_mismatch")
		return
	}

	if err := s.ApplyOutcome(ctx, task, outcome); err != nil {
		metrics.RecordWebhook(p.ID(), "error")
		logger.WithError(err).WithField("task_id", task.TaskID).Error("webhook_apply_failed")
		return
	}
	metrics.RecordWebhook(p.ID(), "applied")
}

// ApplyOutcome 把供应商进展写回任务，终态时转存媒体或退款
func (s *TaskService) ApplyOutcome(ctx context.Context, task *entity.DbTask, outcome *provider.Outcome) error {
	if task == nil || outcome == nil {
		return errors.New("apply outcome: nil task or outcome")
	}
	p, err := s.provider(task.Provider)
	if err != nil {
		return err
	}
	labels := p.Labels()

	switch outcome.State {
	case provider.StateSucceeded:
		if len(outcome.MediaURLs) == 0 {
			outcome.State = provider.StateFailed
			outcome.ErrorCode = "empty_result"
			outcome.ErrorMessage = "provider returned no media"
			return s.fail(ctx, task, labels, outcome)
		}
		return s.complete(ctx, task, labels, outcome)
	case provider.StateFailed:
		return s.fail(ctx, task, labels, outcome)
	default:
		// 终态不回退
		if labels.IsTerminal(task.Status) {
			return nil
		}
		status := labels.Label(outcome.State)
		if status == task.Status {
			return nil
		}
		if err := s.repo.UpdateTask(ctx, task.ID, entity.TaskUpdates{Status: &status}); err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		task.Status = status
		return nil
	}
}

func (s *TaskService) complete(ctx context.Context, task *entity.DbTask, labels provider.StatusLabels, outcome *provider.Outcome) error {
	transferred := s.transfer.Transfer(ctx, task.TaskID, task.Provider, outcome.MediaURLs)

	result := resultJSON(outcome.Raw, transferred.Transferred)
	status := labels.Completed
	outputs := entity.StringArray(transferred.URLs)
	vendor := entity.StringArray(outcome.MediaURLs)
	keys := entity.StringArray(transferred.Keys)
	now := s.now()

	updates := entity.TaskUpdates{
		Status:      &status,
		Result:      &result,
		OutputURLs:  &outputs,
		VendorURLs:  &vendor,
		StorageKeys: &keys,
		CompletedAt: &now,
	}
	if err := s.repo.UpdateTask(ctx, task.ID, updates); err != nil {
		return fmt.Errorf("update completed task: %w", err)
	}
	task.Status, task.Result, task.OutputURLs, task.VendorURLs, task.StorageKeys, task.CompletedAt =
		status, result, outputs, vendor, keys, &now

	metrics.RecordTaskCompleted(task.Provider, entity.ClientStatusCompleted)
	logrus.WithFields(logrus.Fields{
		"provider":    task.Provider,
		"task_id":     task.TaskID,
		"request_id":  task.RequestID,
		"outputs":     len(outputs),
		"transferred": len(transferred.Keys),
	}).Info("task_completed")

	s.notify(TaskEvent{
		UserUUID:  task.UserUUID,
		TaskID:    task.TaskID,
		Provider:  task.Provider,
		Status:    entity.ClientStatusCompleted,
		OutputURL: outputs.ToSlice(),
	})
	return nil
}

func (s *TaskService) fail(ctx context.Context, task *entity.DbTask, labels provider.StatusLabels, outcome *provider.Outcome) error {
	status := labels.Failed
	code := strings.TrimSpace(outcome.ErrorCode)
	message := strings.TrimSpace(outcome.ErrorMessage)
	if message == "" {
		message = "generation failed"
	}
	now := s.now()
	updates := entity.TaskUpdates{
		Status:       &status,
		ErrorCode:    &code,
		ErrorMessage: &message,
		CompletedAt:  &now,
	}
	if len(outcome.Raw) > 0 && gjson.ValidBytes(outcome.Raw) {
		result := datatypes.JSON(outcome.Raw)
		updates.Result = &result
	}
	if err := s.repo.UpdateTask(ctx, task.ID, updates); err != nil {
		return fmt.Errorf("update failed task: %w", err)
	}
	task.Status, task.ErrorCode, task.ErrorMessage, task.CompletedAt = status, code, message, &now

	refunded, err := s.refund(ctx, task)
	if err != nil {
		return err
	}

	metrics.RecordTaskCompleted(task.Provider, entity.ClientStatusFailed)
	logrus.WithFields(logrus.Fields{
		"provider":      task.Provider,
		"task_id":       task.TaskID,
		"request_id":    task.RequestID,
		"error_code":    code,
		"error_message": message,
		"refunded":      refunded,
	}).Warn("task_failed")

	s.notify(TaskEvent{
		UserUUID: task.UserUUID,
		TaskID:   task.TaskID,
		Provider: task.Provider,
		Status:   entity.ClientStatusFailed,
		Error:    message,
	})
	return nil
}

// refund 条件更新 credits_refunded 与退款流水在同一事务，重复失败回调不会重复退款
func (s *TaskService) refund(ctx context.Context, task *entity.DbTask) (int64, error) {
	if task.CreditsUsed <= 0 {
		return 0, nil
	}
	var refunded int64
	err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.repo.MarkTaskRefunded(txCtx, task.ID, task.CreditsUsed)
		if err != nil {
			return fmt.Errorf("mark task refunded: %w", err)
		}
		if !ok {
			return nil
		}
		if _, err := s.ledger.RefundWithOriginalExpiry(txCtx, task.UserUUID, task.Provider, task.CreditsUsed); err != nil {
			return fmt.Errorf("refund credits: %w", err)
		}
		refunded = task.CreditsUsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	if refunded > 0 {
		task.CreditsRefunded = refunded
		metrics.RecordRefund(task.Provider)
	}
	return refunded, nil
}

// Status 查询任务状态；未配置回调地址时对非终态任务主动轮询一次
func (s *TaskService) Status(ctx context.Context, userUUID, providerID, taskID string) (*entity.TaskStatusResponse, error) {
	p, task, err := s.ownedTask(ctx, userUUID, providerID, taskID)
	if err != nil {
		return nil, err
	}

	if poller, ok := p.(provider.Poller); ok && s.webhookBase == "" && !p.Labels().IsTerminal(task.Status) {
		s.poll(ctx, poller, task)
	}

	resp := toStatusResponse(task, p.Labels())
	return &resp, nil
}

func (s *TaskService) poll(ctx context.Context, poller provider.Poller, task *entity.DbTask) {
	logger := logrus.WithFields(logrus.Fields{
		"provider":   task.Provider,
		"task_id":    task.TaskID,
		"request_id": task.RequestID,
	})
	outcome, err := poller.Poll(ctx, task.RequestID, task.Model)
	if err != nil {
		logger.WithError(err).Warn("task_poll_failed")
		return
	}
	outcome.RequestID = task.RequestID
	if err := s.ApplyOutcome(ctx, task, outcome); err != nil {
		logger.WithError(err).Error("task_poll_apply_failed")
	}
}

// Result 返回任务详情，包含原始输入与供应商结果
func (s *TaskService) Result(ctx context.Context, userUUID, providerID, taskID string) (*entity.TaskDetailResponse, error) {
	p, task, err := s.ownedTask(ctx, userUUID, providerID, taskID)
	if err != nil {
		return nil, err
	}
	return &entity.TaskDetailResponse{
		TaskStatusResponse: toStatusResponse(task, p.Labels()),
		RequestID:          task.RequestID,
		Model:              task.Model,
		Input:              task.Input,
		Result:             task.Result,
	}, nil
}

// History 用户在某个供应商下的任务，新的在前
func (s *TaskService) History(ctx context.Context, userUUID, providerID string, params entity.BaseParams) (*entity.TaskListResponse, error) {
	p, err := s.provider(providerID)
	if err != nil {
		return nil, err
	}
	params.Normalize()
	tasks, meta, err := s.repo.ListTasks(ctx, &entity.TaskQuery{
		BaseParams: params,
		UserUUID:   userUUID,
		Provider:   p.ID(),
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	items := make([]entity.TaskStatusResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, toStatusResponse(&tasks[i], p.Labels()))
	}
	return &entity.TaskListResponse{Tasks: items, Meta: meta}, nil
}

// Delete 删除任务记录并尽力清理转存的文件
func (s *TaskService) Delete(ctx context.Context, userUUID, providerID, taskID string) error {
	_, task, err := s.ownedTask(ctx, userUUID, providerID, taskID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, task.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("delete task: %w", err)
	}
	s.transfer.Delete(ctx, task.StorageKeys)

	logrus.WithFields(logrus.Fields{
		"provider":  task.Provider,
		"task_id":   task.TaskID,
		"user_uuid": userUUID,
	}).Info("task_deleted")
	return nil
}

func (s *TaskService) ownedTask(ctx context.Context, userUUID, providerID, taskID string) (provider.Provider, *entity.DbTask, error) {
	p, err := s.provider(providerID)
	if err != nil {
		return nil, nil, err
	}
	task, err := s.repo.GetTaskByTaskID(ctx, strings.TrimSpace(taskID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrTaskNotFound
		}
		return nil, nil, fmt.Errorf("load task: %w", err)
	}
	if task.Provider != p.ID() {
		return nil, nil, ErrTaskNotFound
	}
	if task.UserUUID != userUUID {
		return nil, nil, ErrForbidden
	}
	return p, task, nil
}

func (s *TaskService) notify(event TaskEvent) {
	if s.notifyFunc == nil || event.UserUUID == "" {
		return
	}
	s.notifyFunc(event)
}

func toStatusResponse(task *entity.DbTask, labels provider.StatusLabels) entity.TaskStatusResponse {
	resp := entity.TaskStatusResponse{
		TaskID:          task.TaskID,
		Provider:        task.Provider,
		Type:            task.Type,
		Status:          labels.ClientStatus(task.Status),
		VendorStatus:    task.Status,
		OutputURLs:      task.OutputURLs.ToSlice(),
		CreditsUsed:     task.CreditsUsed,
		CreditsRefunded: task.CreditsRefunded,
		ErrorCode:       task.ErrorCode,
		ErrorMessage:    task.ErrorMessage,
		CreatedAt:       task.CreatedAt,
		CompletedAt:     task.CompletedAt,
	}
	if first := task.OutputURLs.First(); first != "" {
		if task.Type.IsVideo() {
			resp.VideoURL = first
		} else {
			resp.ImageURL = first
		}
	}
	return resp
}

// resultJSON 在供应商原始返回上附加 transferred_urls
func resultJSON(raw json.RawMessage, transferred []string) datatypes.JSON {
	if transferred == nil {
		transferred = []string{}
	}
	base := []byte(raw)
	if len(base) == 0 || !gjson.ValidBytes(base) || !gjson.ParseBytes(base).IsObject() {
		base = []byte(`{}`)
		if len(raw) > 0 && gjson.ValidBytes(raw) {
			if wrapped, err := sjson.SetRawBytes(base, "vendor", raw); err == nil {
				base = wrapped
			}
		}
	}
	out, err := sjson.SetBytes(base, "transferred_urls", transferred)
	if err != nil {
		logrus.WithError(err).Warn("task_result_encode_failed")
		return datatypes.JSON(base)
	}
	return datatypes.JSON(out)
}

func snippet(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
