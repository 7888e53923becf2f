package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"mediagen/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 单次请求体上限
const maxRequestBody = 2 << 20

func (h *HTTPHandler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.tasks.Providers()})
}

// SubmitTask POST /api/:provider/submit
func (h *HTTPHandler) SubmitTask(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		InvalidPayload(c)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 || !json.Valid(body) {
		InvalidPayload(c)
		return
	}

	resp, err := h.tasks.Submit(c.Request.Context(), requestUser.UUID, c.Param("provider"), json.RawMessage(body))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ProviderWebhook 供应商回调，任何情况下都返回 200，避免供应商重试风暴
func (h *HTTPHandler) ProviderWebhook(c *gin.Context) {
	providerID := c.Param("provider")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		logrus.WithError(err).WithField("provider", providerID).Warn("webhook_read_failed")
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	// 供应商断开连接后仍要完成转存与退款
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), webhookTimeout)
	defer cancel()

	h.tasks.HandleWebhook(ctx, providerID, body)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HTTPHandler) TaskStatus(c *gin.Context) {
	requestUser := CurrentUser(c)
	resp, err := h.tasks.Status(c.Request.Context(), requestUser.UUID, c.Param("provider"), c.Param("taskId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) TaskResult(c *gin.Context) {
	requestUser := CurrentUser(c)
	resp, err := h.tasks.Result(c.Request.Context(), requestUser.UUID, c.Param("provider"), c.Param("taskId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) TaskHistory(c *gin.Context) {
	requestUser := CurrentUser(c)

	var params entity.BaseParams
	if err := c.ShouldBindQuery(&params); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}

	resp, err := h.tasks.History(c.Request.Context(), requestUser.UUID, c.Param("provider"), params)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) DeleteTask(c *gin.Context) {
	requestUser := CurrentUser(c)
	if err := h.tasks.Delete(c.Request.Context(), requestUser.UUID, c.Param("provider"), c.Param("taskId")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamTaskEvents 推送当前用户任务的终态事件
func (h *HTTPHandler) StreamTaskEvents(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	clientID := strings.TrimSpace(c.Query("client_id"))
	ctx := c.Request.Context()
	events := make(chan sseMessage, 8)
	h.registerSSEClient(requestUser.UUID, events)
	defer h.unregisterSSEClient(requestUser.UUID, events)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	heartbeatTicker := time.NewTicker(10 * time.Second)
	defer heartbeatTicker.Stop()

	logger := logrus.WithFields(logrus.Fields{
		"user_uuid": requestUser.UUID,
		"client_id": clientID,
	})
	logger.Info("task_sse_connected")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			logger.Info("task_sse_disconnected")
			return false
		case <-heartbeatTicker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UnixMilli()})
			return true
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(msg.event, msg.data)
			return true
		}
	})
}
