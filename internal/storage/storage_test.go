package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediagen/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	ctx := context.Background()
	key, err := store.Save(ctx, []byte("video-bytes"), SaveOptions{Category: "Sora2", Extension: ".MP4", BaseName: "task 01"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "sora2/"))
	assert.True(t, strings.HasSuffix(key, "/task-01.mp4"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(key)))
	assert.True(t, os.IsNotExist(err))

	// 重复删除不报错
	require.NoError(t, store.Delete(ctx, key))
}

func TestLocalStorageSkipIfExists(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	opts := SaveOptions{Category: "images", Extension: "png", BaseName: "fixed", SkipIfExists: true}
	first, err := store.Save(ctx, []byte("one"), opts)
	require.NoError(t, err)
	second, err := store.Save(ctx, []byte("two"), opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(filepath.Join(store.LocalBaseDir(), filepath.FromSlash(first)))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestLocalStorageRejectsBadInput(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(context.Background(), nil, SaveOptions{})
	assert.Error(t, err)
	assert.Error(t, store.Delete(context.Background(), "../etc/passwd"))
	assert.Error(t, store.Delete(context.Background(), "  "))
}

func TestNewStorageSelectsBackend(t *testing.T) {
	store, err := NewStorage(config.Config{StorageType: "LOCAL", StorageLocalDir: t.TempDir()})
	require.NoError(t, err)
	_, ok := store.(LocalBaseDirProvider)
	assert.True(t, ok)

	_, err = NewStorage(config.Config{StorageType: "ftp"})
	assert.Error(t, err)

	_, err = NewStorage(config.Config{StorageType: TypeS3})
	assert.Error(t, err, "s3 without bucket must fail")
}

func TestNewR2StorageReportsMissingSettings(t *testing.T) {
	_, err := NewStorage(config.Config{StorageType: TypeR2, StorageR2Bucket: "media"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_R2_ACCESS_KEY_ID")
	assert.Contains(t, err.Error(), "STORAGE_R2_SECRET_ACCESS_KEY")
	assert.Contains(t, err.Error(), "STORAGE_R2_ACCOUNT_ID")
	assert.NotContains(t, err.Error(), "STORAGE_R2_BUCKET")

	store, err := NewStorage(config.Config{
		StorageType:              TypeR2,
		StorageR2Bucket:          "media",
		StorageR2AccountID:       "acc123",
		StorageR2AccessKeyID:     "ak",
		StorageR2SecretAccessKey: "sk",
		StorageR2Prefix:          "/generated/",
	})
	require.NoError(t, err)
	r2, ok := store.(*remoteS3Storage)
	require.True(t, ok)
	assert.Equal(t, "media", r2.bucket)
	assert.Equal(t, "generated", r2.prefix)
}

func TestRemoteBackendsListMissingSettings(t *testing.T) {
	_, err := NewStorage(config.Config{StorageType: TypeS3, StorageS3Bucket: "media", StorageS3Region: "us-east-1"})
	require.Error(t, err)
	assert.Equal(t, "storage: s3 not configured, missing STORAGE_S3_ACCESS_KEY_ID, STORAGE_S3_SECRET_ACCESS_KEY", err.Error())

	_, err = NewStorage(config.Config{StorageType: TypeCOS, StorageCOSBucketURL: "://bad", StorageCOSSecretID: "id", StorageCOSSecretKey: "key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_COS_BUCKET_URL")
}

func TestMediaObjectHelpers(t *testing.T) {
	assert.Equal(t, "image/webp", detectContentType(".webp"))
	assert.Equal(t, "video/quicktime", detectContentType("MOV"))
	assert.Equal(t, "application/octet-stream", detectContentType(""))

	key := objectKey("/generated/", SaveOptions{Category: "veo3", BaseName: "task 1_0", Extension: "mp4"})
	assert.True(t, strings.HasPrefix(key, "generated/veo3/"), key)
	assert.True(t, strings.HasSuffix(key, "/task-1_0.mp4"), key)

	assert.ErrorIs(t, checkUpload(context.Background(), nil), errEmptyMedia)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, checkUpload(ctx, []byte("x")), context.Canceled)
}

func TestR2Endpoint(t *testing.T) {
	assert.Equal(t, "https://acc.r2.cloudflarestorage.com", r2Endpoint("", " acc "))
	assert.Equal(t, "https://r2.internal:9000", r2Endpoint("https://r2.internal:9000", "acc"))
	assert.Empty(t, r2Endpoint(" ", ""))
}

func TestPublicURL(t *testing.T) {
	cases := []struct {
		base, key, want string
	}{
		{"", "images/2025/01/01/a.png", "/files/images/2025/01/01/a.png"},
		{"media/", "/a.png", "/media/a.png"},
		{"https://cdn.example.com/", "a.png", "https://cdn.example.com/a.png"},
		{"/files", "https://vendor.example.com/x.mp4", "https://vendor.example.com/x.mp4"},
		{"/files", "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PublicURL(tc.base, tc.key), "base=%q key=%q", tc.base, tc.key)
	}
}

func TestLocalRoutePrefix(t *testing.T) {
	cases := []struct {
		base  string
		want  string
		mount bool
	}{
		{"", "/files", true},
		{"media/", "/media", true},
		{"/", "", false},
		{"  ", "/files", true},
		{"https://cdn.example.com/", "", false},
	}
	for _, tc := range cases {
		prefix, ok := LocalRoutePrefix(tc.base)
		assert.Equal(t, tc.mount, ok, "base=%q", tc.base)
		assert.Equal(t, tc.want, prefix, "base=%q", tc.base)
	}
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "nano-banana_2", SanitizeToken(" Nano-Banana_2!! "))
	assert.Equal(t, "bin", normalizeExtension("..."))
	assert.Equal(t, "image/png", detectContentType("PNG"))
}
