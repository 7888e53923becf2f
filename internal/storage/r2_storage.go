package storage

import (
	"fmt"
	"strings"

	"mediagen/internal/config"
)

const r2DefaultRegion = "auto"

// NewR2Storage 生成结果的默认镜像目标：Cloudflare R2 走 S3 协议，只支持 path-style
func NewR2Storage(cfg config.Config) (Storage, error) {
	bucket := strings.TrimSpace(cfg.StorageR2Bucket)
	accessKey := strings.TrimSpace(cfg.StorageR2AccessKeyID)
	secretKey := strings.TrimSpace(cfg.StorageR2SecretAccessKey)
	endpoint := r2Endpoint(cfg.StorageR2Endpoint, cfg.StorageR2AccountID)
	if err := requireSettings("r2 media mirror", map[string]string{
		"STORAGE_R2_BUCKET":                            bucket,
		"STORAGE_R2_ACCESS_KEY_ID":                     accessKey,
		"STORAGE_R2_SECRET_ACCESS_KEY":                 secretKey,
		"STORAGE_R2_ENDPOINT or STORAGE_R2_ACCOUNT_ID": endpoint,
	}); err != nil {
		return nil, err
	}

	region := strings.TrimSpace(cfg.StorageR2Region)
	if region == "" {
		region = r2DefaultRegion
	}

	client, err := newS3Client(s3ClientOptions{
		Region:          region,
		Endpoint:        endpoint,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		ForcePathStyle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: r2 client for bucket %s: %w", bucket, err)
	}

	return &remoteS3Storage{
		client: client,
		bucket: bucket,
		prefix: trimPrefix(cfg.StorageR2Prefix),
	}, nil
}

// r2Endpoint 显式 endpoint 优先，否则由 account id 拼出
func r2Endpoint(endpoint, accountID string) string {
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		return endpoint
	}
	if accountID = strings.TrimSpace(accountID); accountID != "" {
		return "https://" + accountID + ".r2.cloudflarestorage.com"
	}
	return ""
}
