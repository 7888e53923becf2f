package sql

import (
	"context"
	"fmt"
	"strings"

	"mediagen/internal/entity"

	"gorm.io/gorm"
)

// CreateTask inserts a new generation task.
func (r *GormRepository) CreateTask(ctx context.Context, task *entity.DbTask) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	return r.conn(ctx).Create(task).Error
}

// GetTaskByTaskID loads a task by its public id.
func (r *GormRepository) GetTaskByTaskID(ctx context.Context, taskID string) (*entity.DbTask, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(taskID)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var task entity.DbTask
	if err := r.conn(ctx).Where("task_id = ?", trimmed).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskByRequestID loads a task by the vendor job id.
func (r *GormRepository) GetTaskByRequestID(ctx context.Context, requestID string) (*entity.DbTask, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(requestID)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var task entity.DbTask
	if err := r.conn(ctx).Where("request_id = ?", trimmed).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask applies a partial update.
func (r *GormRepository) UpdateTask(ctx context.Context, id uint, updates entity.TaskUpdates) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if id == 0 {
		return fmt.Errorf("invalid task id")
	}
	if updates.IsEmpty() {
		return nil
	}
	return r.conn(ctx).Model(&entity.DbTask{}).Where("id = ?", id).Updates(updates.ToMap()).Error
}

// MarkTaskRefunded sets credits_refunded only while it is still zero.
func (r *GormRepository) MarkTaskRefunded(ctx context.Context, id uint, credits int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("repository not initialised")
	}
	if id == 0 {
		return false, fmt.Errorf("invalid task id")
	}
	result := r.conn(ctx).Model(&entity.DbTask{}).
		Where("id = ? AND credits_refunded = 0", id).
		Update("credits_refunded", credits)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListTasks returns a user's tasks, newest first.
func (r *GormRepository) ListTasks(ctx context.Context, params *entity.TaskQuery) ([]entity.DbTask, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, fmt.Errorf("repository not initialised")
	}

	query := r.conn(ctx).Model(&entity.DbTask{})
	var base entity.BaseParams
	if params != nil {
		base = params.BaseParams
		if trimmed := strings.TrimSpace(params.UserUUID); trimmed != "" {
			query = query.Where("user_uuid = ?", trimmed)
		}
		if trimmed := strings.TrimSpace(params.Provider); trimmed != "" {
			query = query.Where("provider = ?", trimmed)
		}
		if trimmed := strings.TrimSpace(params.Status); trimmed != "" {
			query = query.Where("status = ?", trimmed)
		}
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, nil, err
	}

	page, pageSize, offset := paginate(base)

	var tasks []entity.DbTask
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&tasks).Error; err != nil {
		return nil, nil, err
	}

	return tasks, r.calculatePagination(totalCount, page, pageSize), nil
}

// DeleteTask removes a task row.
func (r *GormRepository) DeleteTask(ctx context.Context, id uint) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if id == 0 {
		return fmt.Errorf("invalid task id")
	}
	result := r.conn(ctx).Delete(&entity.DbTask{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
