package model

import (
	"context"
	"time"

	"mediagen/internal/entity"
)

// Repository 定义数据库操作接口
type Repository interface {
	// WithTransaction 在同一个数据库事务中执行 fn，fn 内必须使用传入的 ctx
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// 用户管理
	CreateUser(ctx context.Context, user *entity.DbUser) error
	UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	GetUserByUUID(ctx context.Context, uuid string) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	CountUsers(ctx context.Context) (int64, error)

	// 生成任务
	CreateTask(ctx context.Context, task *entity.DbTask) error
	GetTaskByTaskID(ctx context.Context, taskID string) (*entity.DbTask, error)
	GetTaskByRequestID(ctx context.Context, requestID string) (*entity.DbTask, error)
	UpdateTask(ctx context.Context, id uint, updates entity.TaskUpdates) error
	// MarkTaskRefunded 仅当 credits_refunded = 0 时写入，返回是否生效
	MarkTaskRefunded(ctx context.Context, id uint, credits int64) (bool, error)
	ListTasks(ctx context.Context, params *entity.TaskQuery) ([]entity.DbTask, *entity.Meta, error)
	DeleteTask(ctx context.Context, id uint) error

	// 积分流水
	CreateCreditTransaction(ctx context.Context, trans *entity.DbCreditTransaction) error
	ListValidCredits(ctx context.Context, userUUID string, now time.Time) ([]entity.DbCreditTransaction, error)
	SumValidCredits(ctx context.Context, userUUID string, now time.Time) (int64, error)
	FindLatestCreditByTypeAndAmount(ctx context.Context, userUUID, transType string, credits int64) (*entity.DbCreditTransaction, error)
	FindLatestValidExpiry(ctx context.Context, userUUID string, now time.Time) (*time.Time, error)
	ListCreditTransactions(ctx context.Context, params *entity.CreditTransactionQuery) ([]entity.DbCreditTransaction, *entity.Meta, error)

	// 订单
	CreateOrder(ctx context.Context, order *entity.DbOrder) error
	GetOrderByNo(ctx context.Context, orderNo string) (*entity.DbOrder, error)
	GetLatestOrderBySubID(ctx context.Context, subID string) (*entity.DbOrder, error)
	UpdateOrder(ctx context.Context, orderNo string, updates entity.OrderUpdates) error
	// TransitionOrder 仅当订单仍处于 fromStatus 时更新，返回是否生效
	TransitionOrder(ctx context.Context, orderNo, fromStatus string, updates entity.OrderUpdates) (bool, error)
}
