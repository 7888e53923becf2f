package api

import (
	"io"
	"net/http"

	"mediagen/internal/billing"
	"mediagen/internal/entity"

	"github.com/gin-gonic/gin"
)

// 支付通知签名头
const signatureHeader = "X-Signature"

func (h *HTTPHandler) ListProducts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": billing.Products()})
}

func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	requestUser := CurrentUser(c)

	var req entity.OrderCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	order, err := h.billing.CreateOrder(c.Request.Context(), requestUser.UUID, req.ProductID, req.Gateway)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// PayNotify POST /api/pay/notify/:gateway
func (h *HTTPHandler) PayNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		InvalidPayload(c)
		return
	}

	result, err := h.billing.HandleNotify(c.Request.Context(), c.Param("gateway"), body, c.GetHeader(signatureHeader))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}
