package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediagen/internal/auth"
	"mediagen/internal/credit"
	"mediagen/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func (h *HTTPHandler) ListUsers(c *gin.Context) {
	var query entity.UserQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}
	query.Normalize()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	users, meta, err := h.repo.ListUsers(ctx, &query)
	if err != nil {
		logrus.WithError(err).Error("list_users_failed")
		InternalError(c, "failed to load users")
		return
	}

	response := entity.UserListResponse{
		Users: make([]entity.UserSummary, 0, len(users)),
		Meta:  meta,
	}
	for idx := range users {
		response.Users = append(response.Users, users[idx].ToSummary())
	}

	c.JSON(http.StatusOK, response)
}

func (h *HTTPHandler) UpdateUser(c *gin.Context) {
	requestUser := CurrentUser(c)

	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, ErrCodeInvalidRequest, "invalid user id")
		return
	}

	var req entity.UserUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbUser, err := h.repo.GetUserByID(ctx, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeUserNotFound, "user not found")
			return
		}
		logrus.WithError(err).Error("load_user_failed")
		InternalError(c, "failed to update user")
		return
	}

	if dbUser.Role == entity.UserRoleSuperAdmin && requestUser.ID != dbUser.ID {
		Forbidden(c, "super admin cannot be modified")
		return
	}

	var updates entity.UserUpdates

	if req.Nickname != nil {
		nickname := strings.TrimSpace(*req.Nickname)
		updates.Nickname = &nickname
	}

	if req.Password != nil {
		password := strings.TrimSpace(*req.Password)
		if password == "" {
			BadRequest(c, ErrCodeInvalidRequest, "password must not be empty")
			return
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			logrus.WithError(err).Error("hash_password_failed")
			InternalError(c, "failed to update user")
			return
		}
		updates.PasswordHash = &hash
	}

	if req.Role != nil {
		if !requestUser.IsSuperAdmin() {
			Forbidden(c, "only super admin can change roles")
			return
		}
		targetRole := sanitizeRole(*req.Role)
		if targetRole == "" {
			BadRequest(c, ErrCodeInvalidRequest, "invalid role")
			return
		}
		updates.Role = &targetRole
	}

	if req.IsActive != nil {
		if dbUser.Role == entity.UserRoleSuperAdmin {
			BadRequest(c, ErrCodeInvalidRequest, "super admin must remain active")
			return
		}
		if dbUser.Role == entity.UserRoleAdmin && !requestUser.IsSuperAdmin() {
			Forbidden(c, "only super admin can change admin status")
			return
		}
		updates.IsActive = req.IsActive
	}

	if updates.IsEmpty() {
		c.JSON(http.StatusOK, dbUser.ToSummary())
		return
	}

	if err := h.repo.UpdateUser(ctx, dbUser.ID, updates); err != nil {
		logrus.WithError(err).Error("update_user_failed")
		InternalError(c, "failed to update user")
		return
	}

	updated, err := h.repo.GetUserByID(ctx, dbUser.ID)
	if err != nil {
		logrus.WithError(err).Error("reload_user_failed")
		InternalError(c, "failed to load updated user")
		return
	}

	c.JSON(http.StatusOK, updated.ToSummary())
}

// GrantCredits 管理员手动发放积分（system_add）
func (h *HTTPHandler) GrantCredits(c *gin.Context) {
	requestUser := CurrentUser(c)

	var req entity.CreditGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	target, err := h.repo.GetUserByUUID(ctx, strings.TrimSpace(req.UserUUID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeUserNotFound, "user not found")
			return
		}
		logrus.WithError(err).Error("load_user_failed")
		InternalError(c, "failed to grant credits")
		return
	}

	trans, err := h.ledger.Increase(ctx, credit.Grant{
		UserUUID:  target.UUID,
		TransType: entity.CreditTransSystemAdd,
		Credits:   req.Credits,
		ExpiredAt: h.ledger.ExpiryAfterDays(req.ValidDays),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"operator":  requestUser.UUID,
		"user_uuid": target.UUID,
		"credits":   req.Credits,
	}).Info("admin_credits_granted")

	c.JSON(http.StatusCreated, trans)
}

func sanitizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case entity.UserRoleAdmin:
		return entity.UserRoleAdmin
	case entity.UserRoleUser:
		return entity.UserRoleUser
	default:
		return ""
	}
}
