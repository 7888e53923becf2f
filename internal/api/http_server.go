package api

import (
	"strings"
	"sync"
	"time"

	"mediagen/internal/auth"
	"mediagen/internal/billing"
	"mediagen/internal/config"
	"mediagen/internal/credit"
	"mediagen/internal/model"
	"mediagen/internal/service"

	"github.com/gin-gonic/gin"
)

// 回调处理使用独立超时，不受供应商连接断开影响
const webhookTimeout = 2 * time.Minute

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg         config.Config
	repo        model.Repository
	authManager *auth.Manager

	// 服务层
	tasks   *service.TaskService
	ledger  *credit.Ledger
	billing *billing.Service

	// SSE 客户端管理，按用户 uuid 分组
	sseClients map[string][]chan sseMessage
	sseMu      sync.Mutex
}

// NewHTTPHandler 创建 HTTP 处理器实例
func NewHTTPHandler(cfg config.Config, repo model.Repository, tasks *service.TaskService, ledger *credit.Ledger, billingSvc *billing.Service) (*HTTPHandler, error) {
	expiry := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, expiry)
	if err != nil {
		return nil, err
	}

	handler := &HTTPHandler{
		cfg:         cfg,
		repo:        repo,
		authManager: authManager,
		tasks:       tasks,
		ledger:      ledger,
		billing:     billingSvc,
		sseClients:  make(map[string][]chan sseMessage),
	}

	// 设置 SSE 通知回调
	tasks.SetNotifyFunc(handler.notifyTaskEvent)

	return handler, nil
}

// notifyTaskEvent 任务进入终态时推送给该用户的所有 SSE 连接
func (h *HTTPHandler) notifyTaskEvent(event service.TaskEvent) {
	if strings.TrimSpace(event.UserUUID) == "" {
		return
	}
	h.publishSSEMessage(event.UserUUID, sseMessage{
		event: "task_" + event.Status,
		data:  event,
	})
}

// RegisterRoutes 注册全部 API 路由
func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	apiGroup := r.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.GET("/me", h.AuthMiddleware(), h.Me)

	// 供应商回调与支付通知不走用户认证
	apiGroup.POST("/pay/notify/:gateway", h.PayNotify)
	apiGroup.GET("/products", h.ListProducts)

	protected := apiGroup.Group("")
	protected.Use(h.AuthMiddleware())
	protected.GET("/providers", h.ListProviders)
	protected.GET("/credits", h.GetCredits)
	protected.GET("/credits/transactions", h.ListCreditTransactions)
	protected.POST("/orders", h.CreateOrder)
	protected.GET("/tasks/events", h.StreamTaskEvents)

	userAdmin := protected.Group("/users")
	userAdmin.Use(h.RequireAdmin())
	userAdmin.GET("", h.ListUsers)
	userAdmin.PATCH("/:id", h.UpdateUser)
	userAdmin.POST("/credits", h.GrantCredits)

	// /api/:provider/... 与上面的静态路由共存
	apiGroup.POST("/:provider/webhook", h.ProviderWebhook)
	providerGroup := apiGroup.Group("/:provider")
	providerGroup.Use(h.AuthMiddleware())
	providerGroup.POST("/submit", h.SubmitTask)
	providerGroup.GET("/status/:taskId", h.TaskStatus)
	providerGroup.GET("/result/:taskId", h.TaskResult)
	providerGroup.GET("/history", h.TaskHistory)
	providerGroup.DELETE("/history/:taskId", h.DeleteTask)
}
