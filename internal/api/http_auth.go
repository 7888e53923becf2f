package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"mediagen/internal/auth"
	"mediagen/internal/credit"
	"mediagen/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Register 邮箱注册，第一个用户成为超级管理员，新用户赠送积分
func (h *HTTPHandler) Register(c *gin.Context) {
	if h.repo == nil {
		ServiceUnavailable(c, "user repository not available")
		return
	}

	var req entity.AuthRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid registration payload")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	count, err := h.repo.CountUsers(ctx)
	if err != nil {
		logrus.WithError(err).Error("count_users_failed")
		InternalError(c, "failed to process registration")
		return
	}
	if count > 0 && !h.cfg.RegistrationEnabled {
		Forbidden(c, "registration disabled")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	password := strings.TrimSpace(req.Password)
	if email == "" {
		MissingField(c, "email")
		return
	}
	if password == "" {
		MissingField(c, "password")
		return
	}

	if _, err := h.repo.GetUserByEmail(ctx, email); err == nil {
		BadRequest(c, ErrCodeEmailExists, "email already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logrus.WithError(err).Error("load_user_failed")
		InternalError(c, "failed to register user")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		logrus.WithError(err).Error("hash_password_failed")
		InternalError(c, "failed to register user")
		return
	}

	role := entity.UserRoleUser
	if count == 0 {
		role = entity.UserRoleSuperAdmin
	}
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = strings.SplitN(email, "@", 2)[0]
	}
	user := &entity.DbUser{
		UUID:           uuid.NewString(),
		Email:          email,
		PasswordHash:   hash,
		Nickname:       nickname,
		SigninProvider: entity.SigninProviderEmail,
		Role:           role,
		IsActive:       true,
	}

	err = h.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := h.repo.CreateUser(txCtx, user); err != nil {
			return err
		}
		if h.cfg.NewUserCredits <= 0 {
			return nil
		}
		_, err := h.ledger.Increase(txCtx, credit.Grant{
			UserUUID:  user.UUID,
			TransType: entity.CreditTransNewUser,
			Credits:   h.cfg.NewUserCredits,
			ExpiredAt: h.ledger.ExpiryAfterDays(h.cfg.NewUserCreditsValidDays),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			BadRequest(c, ErrCodeEmailExists, "email already registered")
			return
		}
		logrus.WithError(err).Error("register_user_failed")
		InternalError(c, "failed to register user")
		return
	}

	logrus.WithFields(logrus.Fields{
		"user_uuid": user.UUID,
		"role":      user.Role,
	}).Info("user_registered")

	token, expiresAt, err := h.authManager.GenerateToken(user)
	if err != nil {
		logrus.WithError(err).Error("generate_token_failed")
		InternalError(c, "failed to create session")
		return
	}

	c.JSON(http.StatusCreated, entity.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.ToSummary(),
	})
}

func (h *HTTPHandler) Login(c *gin.Context) {
	if h.repo == nil {
		ServiceUnavailable(c, "user repository not available")
		return
	}

	var req entity.AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid login payload")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	password := strings.TrimSpace(req.Password)
	if email == "" {
		MissingField(c, "email")
		return
	}
	if password == "" {
		MissingField(c, "password")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	user, err := h.repo.GetUserByEmail(ctx, email)
	if err != nil {
		logrus.WithError(err).WithField("email", email).Warn("login_failed")
		ErrorResponse(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
		return
	}

	if !user.IsActive {
		ErrorResponse(c, http.StatusForbidden, ErrCodeUserDisabled, "user is disabled")
		return
	}

	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		logrus.WithField("email", email).Warn("login_password_mismatch")
		ErrorResponse(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
		return
	}

	token, expiresAt, err := h.authManager.GenerateToken(user)
	if err != nil {
		logrus.WithError(err).Error("generate_token_failed")
		InternalError(c, "failed to create session")
		return
	}

	c.JSON(http.StatusOK, entity.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.ToSummary(),
	})
}

func (h *HTTPHandler) Me(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		Unauthorized(c, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbUser, err := h.repo.GetUserByUUID(ctx, user.UUID)
	if err != nil {
		logrus.WithError(err).WithField("user_uuid", user.UUID).Error("load_profile_failed")
		InternalError(c, "failed to load profile")
		return
	}

	c.JSON(http.StatusOK, dbUser.ToSummary())
}
