package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediagen/internal/api"
	"mediagen/internal/billing"
	"mediagen/internal/config"
	"mediagen/internal/credit"
	"mediagen/internal/metrics"
	"mediagen/internal/model"
	"mediagen/internal/provider"
	"mediagen/internal/service"
	"mediagen/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// 初始化配置
	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.WithError(err).Error("Failed to parse config")
		return
	}

	// 初始化logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(cfg.LogrusLevel())

	repo, err := model.InitRepository(&cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise repository")
		return
	}

	if err := model.SeedAdminUser(context.Background(), repo, cfg); err != nil {
		logrus.WithError(err).Warn("failed to seed admin user")
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise storage")
		return
	}

	pool := service.NewWorkerPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize)
	transfer := service.NewMediaTransfer(store, cfg.StoragePublicBaseURL, 0)
	ledger := credit.NewLedger(repo)
	tasks := service.NewTaskService(repo, ledger, provider.NewRegistry(cfg), transfer, pool, service.TaskServiceOptions{
		WebhookBaseURL: cfg.WebhookBaseURL,
	})

	httpHandler, err := api.NewHTTPHandler(cfg, repo, tasks, ledger, billing.NewService(repo, ledger, cfg.PayNotifySecret))
	if err != nil {
		logrus.WithError(err).Error("failed to initialise http handler")
		return
	}

	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// 添加中间件
	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	httpHandler.RegisterRoutes(r)

	if localProvider, ok := store.(storage.LocalBaseDirProvider); ok {
		if publicPrefix, mount := storage.LocalRoutePrefix(cfg.StoragePublicBaseURL); mount {
			r.Static(publicPrefix, localProvider.LocalBaseDir())
		} else {
			logrus.WithField("public_base", cfg.StoragePublicBaseURL).Warn("local_storage_static_route_skipped")
		}
	}

	serverHost := fmt.Sprintf("0.0.0.0:%s", cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:         serverHost,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 900 * time.Second,
		IdleTimeout:  1200 * time.Second,
	}

	go func() {
		logrus.WithField("host", serverHost).Info("server_started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server_listen_failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("server_shutting_down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("server_shutdown_failed")
	}
	// 等待进程内生成与转存任务结束
	pool.Stop()
	transfer.Stop()
	logrus.Info("server_stopped")
}

// CORSMiddleware CORS跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Signature")
		c.Header("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware 日志记录中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  duration.String(),
			"size":      c.Writer.Size(),
			"client_ip": c.ClientIP(),
		}).Info("http_request")
	}
}
