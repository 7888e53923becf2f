package storage

import (
	"context"
	"fmt"
	"strings"

	"mediagen/internal/config"
)

const (
	// TypeLocal 表示本地文件系统存储。
	TypeLocal = "local"
	// TypeS3 表示 Amazon S3 或兼容的存储后端。
	TypeS3 = "s3"
	// TypeOSS 表示阿里云 OSS 存储。
	TypeOSS = "oss"
	// TypeCOS 表示腾讯云 COS 存储。
	TypeCOS = "cos"
	// TypeR2 表示 Cloudflare R2 存储。
	TypeR2 = "r2"
)

// SaveOptions 控制存储后端如何持久化文件。
//
// Category 用于组织对象路径，Extension 是不含前导点的扩展名。
// BaseName 为空时使用时间戳；SkipIfExists 为 true 时同名对象已存在则直接返回。
type SaveOptions struct {
	Category     string
	Extension    string
	BaseName     string
	SkipIfExists bool
}

// Storage 持久化二进制数据并返回对象 key（本地存储为相对路径）。
type Storage interface {
	Save(ctx context.Context, data []byte, opts SaveOptions) (string, error)
	Delete(ctx context.Context, key string) error
}

// LocalBaseDirProvider 由暴露可通过 HTTP 直接提供服务的本地目录的存储驱动实现。
type LocalBaseDirProvider interface {
	LocalBaseDir() string
}

// NewStorage 根据配置实例化存储后端。
func NewStorage(cfg config.Config) (Storage, error) {
	typeName := strings.ToLower(strings.TrimSpace(cfg.StorageType))
	switch typeName {
	case "", TypeLocal:
		return NewLocalStorage(cfg.StorageLocalDir)
	case TypeS3:
		return NewS3Storage(cfg)
	case TypeOSS:
		return NewOSSStorage(cfg)
	case TypeCOS:
		return NewCOSStorage(cfg)
	case TypeR2:
		return NewR2Storage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}

// NormalisePublicBase 规范化公共 URL 前缀，相对路径补齐前导斜杠。
func NormalisePublicBase(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/files"
	}
	if isAbsoluteURL(trimmed) {
		return strings.TrimRight(trimmed, "/")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// LocalRoutePrefix 返回本地文件的静态路由前缀。
// 绝对 URL 由外部服务提供；"/" 会与 API 路由冲突，同样不挂载。
func LocalRoutePrefix(value string) (string, bool) {
	prefix := NormalisePublicBase(value)
	if prefix == "" || isAbsoluteURL(prefix) {
		return "", false
	}
	return prefix, true
}

// PublicURL 拼接对象 key 对外访问的地址。
func PublicURL(base, key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	if isAbsoluteURL(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("%s/%s", NormalisePublicBase(base), strings.TrimLeft(trimmed, "/"))
}

func isAbsoluteURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}
