package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyPassword 注册、管理员建号、seed 账号都不允许空密码
	ErrEmptyPassword = errors.New("auth: password is empty")
	// ErrPasswordMismatch 登录密码错误
	ErrPasswordMismatch = errors.New("auth: password mismatch")
	// ErrNoPasswordHash 账号没有设置密码（例如数据被手工导入）
	ErrNoPasswordHash = errors.New("auth: account has no password hash")
)

const passwordCost = bcrypt.DefaultCost

// HashPassword 生成账号密码的 bcrypt 摘要，结果写入 user.password_hash
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrEmptyPassword
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(digest), nil
}

// VerifyPassword 登录时校验密码
func VerifyPassword(digest, password string) error {
	if strings.TrimSpace(digest) == "" {
		return ErrNoPasswordHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
