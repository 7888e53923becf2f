package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var errEmptyInlineMedia = errors.New("inline media is empty")

// SplitDataURL 拆出 data URL 的 mime 与 base64 部分；裸 base64 按 jpeg 处理
func SplitDataURL(value string) (string, string) {
	rest, ok := strings.CutPrefix(value, "data:")
	if !ok {
		return "image/jpeg", value
	}
	mimeType, payload, found := strings.Cut(rest, ";base64,")
	if !found {
		return "image/jpeg", ""
	}
	return mimeType, payload
}

// DecodeMediaPayload 解码供应商直接回传的 base64 结果（图片或视频），
// 返回内容和不带点的扩展名
func DecodeMediaPayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", errEmptyInlineMedia
	}

	mimeType, encoded := SplitDataURL(payload)
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, "", fmt.Errorf("%w: no base64 body", errEmptyInlineMedia)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// 部分供应商省略 padding
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "=")); err != nil {
			return nil, "", fmt.Errorf("inline media is not base64: %w", err)
		}
	}

	ext := ExtensionFromMime(http.DetectContentType(data))
	if ext == "" {
		ext = ExtensionFromMime(mimeType)
	}
	if ext == "" {
		ext = "bin"
	}
	return data, ext, nil
}
