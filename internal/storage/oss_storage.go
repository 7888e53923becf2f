package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mediagen/internal/config"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type ossStorage struct {
	bucket *oss.Bucket
	prefix string
}

// NewOSSStorage 阿里云 OSS
func NewOSSStorage(cfg config.Config) (Storage, error) {
	endpoint := strings.TrimSpace(cfg.StorageOSSEndpoint)
	bucketName := strings.TrimSpace(cfg.StorageOSSBucket)
	accessKey := strings.TrimSpace(cfg.StorageOSSAccessKeyID)
	secretKey := strings.TrimSpace(cfg.StorageOSSAccessKeySecret)
	if err := requireSettings("oss", map[string]string{
		"STORAGE_OSS_ENDPOINT":          endpoint,
		"STORAGE_OSS_BUCKET":            bucketName,
		"STORAGE_OSS_ACCESS_KEY_ID":     accessKey,
		"STORAGE_OSS_ACCESS_KEY_SECRET": secretKey,
	}); err != nil {
		return nil, err
	}

	client, err := oss.New(endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("storage: oss client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("storage: oss bucket %s: %w", bucketName, err)
	}

	return &ossStorage{
		bucket: bucket,
		prefix: trimPrefix(cfg.StorageOSSPrefix),
	}, nil
}

func (s *ossStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	if err := checkUpload(ctx, data); err != nil {
		return "", err
	}
	key := objectKey(s.prefix, opts)

	if opts.SkipIfExists {
		exists, err := s.bucket.IsObjectExist(key)
		if err != nil {
			return "", fmt.Errorf("storage: check %s on oss: %w", key, err)
		}
		if exists {
			return key, nil
		}
	}

	err := s.bucket.PutObject(key, bytes.NewReader(data),
		oss.WithContext(ctx),
		oss.ContentType(detectContentType(opts.Extension)),
		oss.CacheControl(mediaCacheControl),
	)
	if err != nil {
		return "", fmt.Errorf("storage: upload %s to oss: %w", key, err)
	}

	return key, nil
}

func (s *ossStorage) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	if err := s.bucket.DeleteObject(strings.TrimLeft(key, "/"), oss.WithContext(ctx)); err != nil {
		var svcErr oss.ServiceError
		if errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("storage: delete %s from oss: %w", key, err)
	}
	return nil
}

var _ Storage = (*ossStorage)(nil)
