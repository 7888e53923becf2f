package api

import (
	"errors"
	"net/http"

	"mediagen/internal/billing"
	"mediagen/internal/provider"
	"mediagen/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 错误码定义
const (
	// 通用错误码
	ErrCodeInvalidRequest     = "ERR_INVALID_REQUEST"
	ErrCodeValidationFailed   = "ERR_VALIDATION_FAILED"
	ErrCodeUnauthorized       = "ERR_UNAUTHORIZED"
	ErrCodeForbidden          = "ERR_FORBIDDEN"
	ErrCodeNotFound           = "ERR_NOT_FOUND"
	ErrCodeInternalError      = "ERR_INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"

	// 认证错误码
	ErrCodeInvalidCredentials = "ERR_INVALID_CREDENTIALS"
	ErrCodeEmailExists        = "ERR_EMAIL_EXISTS"
	ErrCodeRegistrationClosed = "ERR_REGISTRATION_CLOSED"
	ErrCodeUserDisabled       = "ERR_USER_DISABLED"
	ErrCodeSessionExpired     = "ERR_SESSION_EXPIRED"

	// 资源错误码
	ErrCodeProviderNotFound = "ERR_PROVIDER_NOT_FOUND"
	ErrCodeTaskNotFound     = "ERR_TASK_NOT_FOUND"
	ErrCodeUserNotFound     = "ERR_USER_NOT_FOUND"
	ErrCodeProductNotFound  = "ERR_PRODUCT_NOT_FOUND"
	ErrCodeOrderNotFound    = "ERR_ORDER_NOT_FOUND"

	// 业务逻辑错误码
	ErrCodeMissingField        = "ERR_MISSING_FIELD"
	ErrCodeInsufficientCredits = "ERR_INSUFFICIENT_CREDITS"
	ErrCodeUpstreamFailed      = "ERR_UPSTREAM_FAILED"
	ErrCodeInvalidSignature    = "ERR_INVALID_SIGNATURE"
)

// APIError 统一的 API 错误响应结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse 返回统一格式的错误响应
func ErrorResponse(c *gin.Context, status int, code string, message string) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
	})
}

// ErrorResponseWithDetails 返回带详情的错误响应
func ErrorResponseWithDetails(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// BadRequest 400 错误请求
func BadRequest(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusBadRequest, code, message)
}

// Unauthorized 401 未授权
func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden 403 禁止访问
func Forbidden(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound 404 资源不存在
func NotFound(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusNotFound, code, message)
}

// InternalError 500 服务器内部错误
func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable 503 服务不可用
func ServiceUnavailable(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// MissingField 缺少必填字段
func MissingField(c *gin.Context, field string) {
	ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeMissingField, field+" is required", gin.H{"field": field})
}

// InvalidPayload 无效的请求体
func InvalidPayload(c *gin.Context) {
	ErrorResponse(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
}

// InsufficientCreditsError 402 响应体，余额字段在顶层，details 保留同样的值
type InsufficientCreditsError struct {
	APIError
	CurrentCredits  int64 `json:"currentCredits"`
	RequiredCredits int64 `json:"requiredCredits"`
}

// InsufficientCredits 402 积分不足
func InsufficientCredits(c *gin.Context, current, required int64) {
	c.JSON(http.StatusPaymentRequired, InsufficientCreditsError{
		APIError: APIError{
			Code:    ErrCodeInsufficientCredits,
			Message: "insufficient credits",
			Details: gin.H{
				"currentCredits":  current,
				"requiredCredits": required,
			},
		},
		CurrentCredits:  current,
		RequiredCredits: required,
	})
}

// writeServiceError 把服务层错误映射为 HTTP 响应
func writeServiceError(c *gin.Context, err error) {
	var (
		creditErr *service.InsufficientCreditsError
		validErr  *provider.ValidationError
		vendorErr *provider.VendorError
	)
	switch {
	case errors.As(err, &creditErr):
		InsufficientCredits(c, creditErr.Current, creditErr.Required)
	case errors.As(err, &validErr):
		if len(validErr.Fields) > 0 {
			ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeValidationFailed, validErr.Message, gin.H{"fields": validErr.Fields})
			return
		}
		BadRequest(c, ErrCodeValidationFailed, validErr.Message)
	case errors.As(err, &vendorErr):
		logrus.WithError(err).WithField("provider", vendorErr.Provider).Warn("upstream_request_failed")
		ErrorResponseWithDetails(c, http.StatusInternalServerError, ErrCodeUpstreamFailed, "upstream provider request failed", gin.H{
			"provider": vendorErr.Provider,
			"status":   vendorErr.StatusCode,
			"code":     vendorErr.Code,
			"message":  vendorErr.Message,
		})
	case errors.Is(err, service.ErrProviderNotFound):
		NotFound(c, ErrCodeProviderNotFound, "provider not found")
	case errors.Is(err, service.ErrTaskNotFound):
		NotFound(c, ErrCodeTaskNotFound, "task not found")
	case errors.Is(err, service.ErrForbidden):
		Forbidden(c, "task belongs to another user")
	case errors.Is(err, billing.ErrProductNotFound):
		NotFound(c, ErrCodeProductNotFound, "product not found")
	case errors.Is(err, billing.ErrOrderNotFound):
		NotFound(c, ErrCodeOrderNotFound, "order not found")
	case errors.Is(err, billing.ErrUnsupportedGateway):
		BadRequest(c, ErrCodeInvalidRequest, "unsupported payment gateway")
	case errors.Is(err, billing.ErrInvalidSignature):
		ErrorResponse(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "invalid signature")
	case errors.Is(err, billing.ErrInvalidPayload), errors.Is(err, billing.ErrUnsupportedEvent):
		BadRequest(c, ErrCodeInvalidRequest, err.Error())
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request_failed")
		InternalError(c, "internal server error")
	}
}
