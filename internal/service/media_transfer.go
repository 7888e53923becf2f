package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mediagen/internal/metrics"
	"mediagen/internal/storage"
	"mediagen/internal/utils"

	"github.com/alitto/pond/v2"
	"github.com/imroc/req/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultTransferConcurrency = 4
	defaultDownloadTimeout     = 5 * time.Minute
)

// TransferResult 每个输入 URL 对应 URLs 中同位置的一项
type TransferResult struct {
	URLs        []string
	Keys        []string
	Transferred []string
}

// MediaTransfer 把供应商返回的媒体下载后转存到自有存储，失败时保留供应商原始地址
type MediaTransfer struct {
	storage    storage.Storage
	publicBase string
	client     *req.Client
	pool       pond.Pool
}

func NewMediaTransfer(store storage.Storage, publicBase string, concurrency int) *MediaTransfer {
	if concurrency <= 0 {
		concurrency = defaultTransferConcurrency
	}
	return &MediaTransfer{
		storage:    store,
		publicBase: storage.NormalisePublicBase(publicBase),
		client:     req.C().SetTimeout(defaultDownloadTimeout),
		pool:       pond.NewPool(concurrency),
	}
}

// Transfer 并发转存，返回顺序与输入一致
func (m *MediaTransfer) Transfer(ctx context.Context, taskID, category string, urls []string) TransferResult {
	result := TransferResult{URLs: make([]string, len(urls))}
	copy(result.URLs, urls)
	if m == nil || m.storage == nil || len(urls) == 0 {
		for range urls {
			metrics.RecordMediaTransfer("fallback")
		}
		return result
	}

	keys := make([]string, len(urls))
	group := m.pool.NewGroup()
	for idx, source := range urls {
		idx, source := idx, strings.TrimSpace(source)
		if source == "" {
			continue
		}
		group.Submit(func() {
			key, err := m.store(ctx, taskID, category, idx, source)
			if err != nil {
				metrics.RecordMediaTransfer("fallback")
				logrus.WithError(err).WithFields(logrus.Fields{
					"task_id": taskID,
					"index":   idx,
					"source":  source,
				}).Warn("media_transfer_fallback")
				return
			}
			metrics.RecordMediaTransfer("stored")
			keys[idx] = key
		})
	}
	if err := group.Wait(); err != nil {
		logrus.WithError(err).WithField("task_id", taskID).Warn("media_transfer_group_failed")
	}

	for idx, key := range keys {
		if key == "" {
			continue
		}
		public := storage.PublicURL(m.publicBase, key)
		result.URLs[idx] = public
		result.Keys = append(result.Keys, key)
		result.Transferred = append(result.Transferred, public)
	}
	return result
}

// Delete 尽力删除已转存的对象
func (m *MediaTransfer) Delete(ctx context.Context, keys []string) {
	if m == nil || m.storage == nil {
		return
	}
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if err := m.storage.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("media_delete_failed")
		}
	}
}

// Stop waits for in-flight transfers.
func (m *MediaTransfer) Stop() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.StopAndWait()
}

func (m *MediaTransfer) store(ctx context.Context, taskID, category string, idx int, source string) (string, error) {
	data, ext, err := m.fetch(ctx, source)
	if err != nil {
		return "", err
	}
	base := storage.SanitizeToken(taskID)
	if base == "" {
		base = fmt.Sprintf("%d", time.Now().UTC().UnixNano())
	}
	return m.storage.Save(ctx, data, storage.SaveOptions{
		Category:  category,
		Extension: ext,
		BaseName:  fmt.Sprintf("%s_%d", base, idx),
	})
}

func (m *MediaTransfer) fetch(ctx context.Context, source string) ([]byte, string, error) {
	if !utils.IsRemoteURL(source) {
		return utils.DecodeMediaPayload(source)
	}

	resp, err := m.client.R().SetContext(ctx).Get(source)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	if !resp.IsSuccessState() {
		return nil, "", fmt.Errorf("download media http %d", resp.StatusCode)
	}
	data := resp.Bytes()
	if len(data) == 0 {
		return nil, "", fmt.Errorf("download media: empty body")
	}

	ext := utils.ExtensionFromMime(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = utils.ExtensionFromURL(source)
	}
	if ext == "" {
		ext = utils.ExtensionFromMime(http.DetectContentType(data))
	}
	if ext == "" {
		ext = "bin"
	}
	return data, ext, nil
}
