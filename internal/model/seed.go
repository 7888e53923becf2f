package model

import (
	"context"
	"errors"
	"strings"

	"mediagen/internal/auth"
	"mediagen/internal/config"
	"mediagen/internal/entity"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SeedAdminUser 当配置了 ADMIN_EMAIL/ADMIN_PASSWORD 且该邮箱不存在时创建超级管理员。
func SeedAdminUser(ctx context.Context, repo Repository, cfg config.Config) error {
	if repo == nil {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	password := strings.TrimSpace(cfg.AdminPassword)
	if email == "" || password == "" {
		return nil
	}

	_, err := repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	user := &entity.DbUser{
		UUID:           uuid.NewString(),
		Email:          email,
		PasswordHash:   hash,
		Nickname:       "admin",
		SigninProvider: entity.SigninProviderEmail,
		Role:           entity.UserRoleSuperAdmin,
		IsActive:       true,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"user_uuid": user.UUID,
		"email":     email,
	}).Info("admin_user_seeded")
	return nil
}
