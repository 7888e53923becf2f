package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"sort"
	"strings"
	"time"
)

// mediaCacheControl 生成结果落盘后不会被覆盖，CDN 可以长期缓存
const mediaCacheControl = "public, max-age=31536000, immutable"

var errEmptyMedia = errors.New("storage: media payload is empty")

// mediaContentTypes 系统 mime 表里经常缺 webp/heic/mov
var mediaContentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
	"heic": "image/heic",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
}

func sanitizePathSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	builder.Grow(len(value))
	for i := 0; i < len(value); i++ {
		ch := value[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			builder.WriteByte(ch)
		case ch >= 'A' && ch <= 'Z':
			builder.WriteByte(ch + 32)
		case ch == '-', ch == '_':
			builder.WriteByte(ch)
		}
	}
	return builder.String()
}

func normalizeExtension(ext string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(ext), ".")
	cleaned := sanitizePathSegment(trimmed)
	if cleaned == "" {
		return "bin"
	}
	return cleaned
}

// buildObjectPath 生成 category/yyyy/mm/dd/base.ext 形式的 key
func buildObjectPath(category, baseName, ext string) string {
	now := time.Now().UTC()
	category = sanitizePathSegment(category)
	if category == "" {
		category = "misc"
	}
	base := sanitizeFileBase(baseName)
	if base == "" {
		base = fmt.Sprintf("%d", now.UnixNano())
	}
	datedir := fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day())
	filename := fmt.Sprintf("%s.%s", base, normalizeExtension(ext))
	return path.Join(category, datedir, filename)
}

func detectContentType(ext string) string {
	ext = normalizeExtension(ext)
	if typeName, ok := mediaContentTypes[ext]; ok {
		return typeName
	}
	if typeName := mime.TypeByExtension("." + ext); typeName != "" {
		return typeName
	}
	return "application/octet-stream"
}

// objectKey 远端存储统一的 key：[prefix/]category/yyyy/mm/dd/base.ext
func objectKey(prefix string, opts SaveOptions) string {
	return joinPrefix(prefix, buildObjectPath(opts.Category, opts.BaseName, opts.Extension))
}

// requireSettings 一次性列出所有缺失的环境变量
func requireSettings(backend string, settings map[string]string) error {
	var missing []string
	for name, value := range settings {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("storage: %s not configured, missing %s", backend, strings.Join(missing, ", "))
}

// checkUpload 上传前检查内容非空且请求未取消
func checkUpload(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return errEmptyMedia
	}
	return ctx.Err()
}

func joinPrefix(prefix, key string) string {
	cleanPrefix := trimPrefix(prefix)
	if cleanPrefix == "" {
		return strings.TrimLeft(key, "/")
	}
	return path.Join(cleanPrefix, strings.TrimLeft(key, "/"))
}

func trimPrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func sanitizeFileBase(value string) string {
	replaced := strings.ReplaceAll(strings.TrimSpace(value), " ", "-")
	sanitized := sanitizePathSegment(replaced)
	return strings.Trim(sanitized, "-_")
}

// validKey 拒绝空 key 和路径穿越
func validKey(key string) bool {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return false
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// SanitizeToken lowercases the provided token and keeps alphanumeric, dash, and underscore characters only.
func SanitizeToken(value string) string {
	return sanitizePathSegment(value)
}
