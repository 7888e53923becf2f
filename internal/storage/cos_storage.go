package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mediagen/internal/config"

	"github.com/tencentyun/cos-go-sdk-v5"
)

type cosStorage struct {
	client *cos.Client
	prefix string
}

// NewCOSStorage 腾讯云 COS，bucket URL 形如 https://<bucket>-<appid>.cos.<region>.myqcloud.com
func NewCOSStorage(cfg config.Config) (Storage, error) {
	bucketURL := strings.TrimSpace(cfg.StorageCOSBucketURL)
	secretID := strings.TrimSpace(cfg.StorageCOSSecretID)
	secretKey := strings.TrimSpace(cfg.StorageCOSSecretKey)
	if err := requireSettings("cos", map[string]string{
		"STORAGE_COS_BUCKET_URL": bucketURL,
		"STORAGE_COS_SECRET_ID":  secretID,
		"STORAGE_COS_SECRET_KEY": secretKey,
	}); err != nil {
		return nil, err
	}
	parsedURL, err := url.Parse(bucketURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("storage: invalid STORAGE_COS_BUCKET_URL %q", bucketURL)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: parsedURL}, &http.Client{
		Transport: &cos.AuthorizationTransport{SecretID: secretID, SecretKey: secretKey},
	})

	return &cosStorage{
		client: client,
		prefix: trimPrefix(cfg.StorageCOSPrefix),
	}, nil
}

func (s *cosStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	if err := checkUpload(ctx, data); err != nil {
		return "", err
	}
	key := objectKey(s.prefix, opts)

	if opts.SkipIfExists {
		resp, err := s.client.Object.Head(ctx, key, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			return key, nil
		}
		if !cos.IsNotFoundError(err) {
			return "", fmt.Errorf("storage: head %s on cos: %w", key, err)
		}
	}

	resp, err := s.client.Object.Put(ctx, key, bytes.NewReader(data), &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   detectContentType(opts.Extension),
			ContentLength: int64(len(data)),
			CacheControl:  mediaCacheControl,
		},
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("storage: upload %s to cos: %w", key, err)
	}

	return key, nil
}

func (s *cosStorage) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	resp, err := s.client.Object.Delete(ctx, strings.TrimLeft(key, "/"))
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil && !cos.IsNotFoundError(err) {
		return fmt.Errorf("storage: delete %s from cos: %w", key, err)
	}
	return nil
}

var _ Storage = (*cosStorage)(nil)
