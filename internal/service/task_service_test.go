package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediagen/internal/config"
	"mediagen/internal/credit"
	"mediagen/internal/entity"
	"mediagen/internal/metrics"
	"mediagen/internal/model"
	"mediagen/internal/provider"
	"mediagen/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookBase = "https://app.example.com"

// fakeVendor 同时模拟 fal.ai 队列、Kie.ai 和媒体下载
type fakeVendor struct {
	server      *httptest.Server
	submits     atomic.Int32
	seq         atomic.Int32
	recordState string

	// falResultFailures 前 N 次拉取 fal 结果返回 503
	falResultFailures atomic.Int32
	falResultCalls    atomic.Int32
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	v := &fakeVendor{recordState: "success"}
	mux := http.NewServeMux()
	mux.HandleFunc("/fal-ai/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			v.submits.Add(1)
			_, _ = fmt.Fprintf(w, `{"request_id":"fal-req-%d"}`, v.seq.Add(1))
		case strings.HasSuffix(r.URL.Path, "/status"):
			_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
		default:
			v.falResultCalls.Add(1)
			if v.falResultFailures.Load() > 0 {
				v.falResultFailures.Add(-1)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"detail":"temporarily unavailable"}`))
				return
			}
			_, _ = fmt.Fprintf(w, `{"images":[{"url":%q}]}`, v.server.URL+"/media/photo.png")
		}
	})
	mux.HandleFunc("/api/v1/veo/generate", func(w http.ResponseWriter, r *http.Request) {
		v.submits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"code":200,"msg":"success","data":{"taskId":"veo-task-%d"}}`, v.seq.Add(1))
	})
	mux.HandleFunc("/api/v1/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		v.submits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"code":200,"msg":"success","data":{"taskId":"kie-task-%d"}}`, v.seq.Add(1))
	})
	mux.HandleFunc("/api/v1/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		taskID := r.URL.Query().Get("taskId")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"code":200,"msg":"success","data":{"taskId":%q,"state":%q,"resultJson":%q}}`,
			taskID, v.recordState, `{"resultUrls":["`+v.server.URL+`/media/clip.mp4"]}`)
	})
	mux.HandleFunc("/media/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("fake-mp4-bytes"))
	})
	mux.HandleFunc("/media/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("fake-png-bytes"))
	})
	mux.HandleFunc("/media/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	v.server = httptest.NewServer(mux)
	t.Cleanup(v.server.Close)
	return v
}

func (v *fakeVendor) mediaURL(name string) string {
	return v.server.URL + "/media/" + name
}

type serviceFixture struct {
	repo     model.Repository
	ledger   *credit.Ledger
	service  *TaskService
	vendor   *fakeVendor
	registry *provider.Registry
	pool     *WorkerPool
	storeDir string
	events   chan TaskEvent
}

func newServiceFixture(t *testing.T, webhookBase string) *serviceFixture {
	t.Helper()
	repo, err := model.NewSQLiteRepository(":memory:")
	require.NoError(t, err)

	vendor := newFakeVendor(t)
	registry := provider.NewRegistry(config.Config{
		FalAPIKey:         "fal-key",
		FalQueueBaseURL:   vendor.server.URL,
		KieAPIKey:         "kie-key",
		KieBaseURL:        vendor.server.URL,
		VendorTimeoutSecs: 5,
	})

	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	transfer := NewMediaTransfer(local, "", 2)
	t.Cleanup(transfer.Stop)

	pool := NewWorkerPool(2, 8)
	t.Cleanup(pool.Stop)

	ledger := credit.NewLedger(repo)
	events := make(chan TaskEvent, 16)
	svc := NewTaskService(repo, ledger, registry, transfer, pool, TaskServiceOptions{
		WebhookBaseURL: webhookBase,
		Notify:         func(e TaskEvent) { events <- e },
	})

	return &serviceFixture{
		repo:     repo,
		ledger:   ledger,
		service:  svc,
		vendor:   vendor,
		registry: registry,
		pool:     pool,
		storeDir: dir,
		events:   events,
	}
}

func (f *serviceFixture) grant(t *testing.T, user string, credits int64) {
	t.Helper()
	_, err := f.ledger.Increase(context.Background(), credit.Grant{
		UserUUID:  user,
		TransType: entity.CreditTransSystemAdd,
		Credits:   credits,
	})
	require.NoError(t, err)
}

func (f *serviceFixture) balance(t *testing.T, user string) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), user)
	require.NoError(t, err)
	return balance
}

func kieCallback(taskID, state, resultJSON string) []byte {
	body := map[string]any{
		"code": 200,
		"msg":  "ok",
		"data": map[string]any{
			"taskId":     taskID,
			"state":      state,
			"resultJson": resultJSON,
			"failCode":   "",
			"failMsg":    "",
		},
	}
	if state == "fail" {
		data := body["data"].(map[string]any)
		data["failCode"] = "500"
		data["failMsg"] = "content policy violation"
	}
	raw, _ := json.Marshal(body)
	return raw
}

func TestSubmitDebitsCredits(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 100)

	resp, err := f.service.Submit(ctx, "u-1", provider.Sora2ID, json.RawMessage(`{"prompt":"a cat surfing"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(30), resp.CreditsUsed)
	assert.Equal(t, int64(70), resp.RemainingCredits)
	assert.Equal(t, int64(70), f.balance(t, "u-1"))
	assert.Equal(t, "https://app.example.com/api/sora2/webhook", f.service.CallbackURL(provider.Sora2ID))

	task, err := f.repo.GetTaskByTaskID(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, resp.RequestID, task.RequestID)
	assert.Equal(t, "waiting", task.Status)
	assert.Equal(t, entity.TaskTypeTextToVideo, task.Type)
	assert.Contains(t, string(task.Input), `"n_frames":"10"`)

	txs, _, err := f.ledger.ListTransactions(ctx, &entity.CreditTransactionQuery{UserUUID: "u-1"})
	require.NoError(t, err)
	var debit *entity.DbCreditTransaction
	for i := range txs {
		if txs[i].TransType == "sora2_generate" {
			debit = &txs[i]
		}
	}
	require.NotNil(t, debit)
	assert.Equal(t, int64(-30), debit.Credits)
}

func TestSubmitInsufficientCredits(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 10)

	_, err := f.service.Submit(ctx, "u-1", provider.NanoBananaID, json.RawMessage(`{"prompt":"fox","num_images":4}`))
	var creditErr *InsufficientCreditsError
	require.ErrorAs(t, err, &creditErr)
	assert.Equal(t, int64(10), creditErr.Current)
	assert.Equal(t, int64(16), creditErr.Required)

	assert.Equal(t, int32(0), f.vendor.submits.Load())
	assert.Equal(t, int64(10), f.balance(t, "u-1"))
	history, err := f.service.History(ctx, "u-1", provider.NanoBananaID, entity.BaseParams{})
	require.NoError(t, err)
	assert.Empty(t, history.Tasks)
}

func TestSubmitRejectsTooManyImages(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	f.grant(t, "u-1", 100)

	urls := make([]string, provider.NanoBananaMaxImageURLs+1)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://cdn.example.com/%d.png", i)
	}
	body, err := json.Marshal(map[string]any{"prompt": "merge", "image_urls": urls})
	require.NoError(t, err)

	_, err = f.service.Submit(context.Background(), "u-1", provider.NanoBananaID, body)
	var vErr *provider.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, int32(0), f.vendor.submits.Load())
	assert.Equal(t, int64(100), f.balance(t, "u-1"))
}

func TestSubmitUnknownProvider(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	_, err := f.service.Submit(context.Background(), "u-1", "midjourney", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestSora2SuccessWebhook(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 100)

	resp, err := f.service.Submit(ctx, "u-1", provider.Sora2ID, json.RawMessage(`{"prompt":"a cat surfing"}`))
	require.NoError(t, err)

	vendorURL := f.vendor.mediaURL("clip.mp4")
	f.service.HandleWebhook(ctx, provider.Sora2ID, kieCallback(resp.RequestID, "success", `{"resultUrls":["`+vendorURL+`"]}`))

	status, err := f.service.Status(ctx, "u-1", provider.Sora2ID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusCompleted, status.Status)
	assert.Equal(t, "success", status.VendorStatus)
	assert.True(t, strings.HasPrefix(status.VideoURL, "/files/sora2/"), status.VideoURL)
	assert.True(t, strings.HasSuffix(status.VideoURL, ".mp4"), status.VideoURL)
	assert.Empty(t, status.ImageURL)
	require.NotNil(t, status.CompletedAt)

	key := strings.TrimPrefix(status.VideoURL, "/files/")
	data, err := os.ReadFile(filepath.Join(f.storeDir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "fake-mp4-bytes", string(data))

	detail, err := f.service.Result(ctx, "u-1", provider.Sora2ID, resp.TaskID)
	require.NoError(t, err)
	assert.Contains(t, string(detail.Result), `"transferred_urls":["`+status.VideoURL+`"]`)

	task, err := f.repo.GetTaskByTaskID(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.StringArray{vendorURL}, task.VendorURLs)
	assert.Equal(t, entity.StringArray{key}, task.StorageKeys)

	event := <-f.events
	assert.Equal(t, "u-1", event.UserUUID)
	assert.Equal(t, entity.ClientStatusCompleted, event.Status)
}

func TestFailureWebhookRefundsOnce(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 100)

	resp, err := f.service.Submit(ctx, "u-1", provider.Sora2ID, json.RawMessage(`{"prompt":"a cat surfing"}`))
	require.NoError(t, err)
	require.Equal(t, int64(70), f.balance(t, "u-1"))

	body := kieCallback(resp.RequestID, "fail", "")
	f.service.HandleWebhook(ctx, provider.Sora2ID, body)
	f.service.HandleWebhook(ctx, provider.Sora2ID, body)

	assert.Equal(t, int64(100), f.balance(t, "u-1"))

	status, err := f.service.Status(ctx, "u-1", provider.Sora2ID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusFailed, status.Status)
	assert.Equal(t, "fail", status.VendorStatus)
	assert.Equal(t, "content policy violation", status.ErrorMessage)
	assert.Equal(t, int64(30), status.CreditsRefunded)

	txs, _, err := f.ledger.ListTransactions(ctx, &entity.CreditTransactionQuery{UserUUID: "u-1"})
	require.NoError(t, err)
	refunds := 0
	for _, tx := range txs {
		if tx.TransType == "sora2_refund" {
			refunds++
			assert.Equal(t, int64(30), tx.Credits)
			assert.NotNil(t, tx.ExpiredAt)
		}
	}
	assert.Equal(t, 1, refunds)
}

func TestUnknownWebhookIsIgnored(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 50)

	f.service.HandleWebhook(ctx, provider.Sora2ID, kieCallback("does-not-exist", "fail", ""))
	f.service.HandleWebhook(ctx, provider.Sora2ID, []byte(`not json`))
	f.service.HandleWebhook(ctx, "unknown", []byte(`{}`))

	assert.Equal(t, int64(50), f.balance(t, "u-1"))
	txs, _, err := f.ledger.ListTransactions(ctx, &entity.CreditTransactionQuery{UserUUID: "u-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestProcessingDoesNotRegressTerminalTask(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 100)

	resp, err := f.service.Submit(ctx, "u-1", provider.Sora2ID, json.RawMessage(`{"prompt":"p"}`))
	require.NoError(t, err)

	f.service.HandleWebhook(ctx, provider.Sora2ID, kieCallback(resp.RequestID, "processing", ""))
	task, err := f.repo.GetTaskByTaskID(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "processing", task.Status)

	f.service.HandleWebhook(ctx, provider.Sora2ID, kieCallback(resp.RequestID, "fail", ""))
	f.service.HandleWebhook(ctx, provider.Sora2ID, kieCallback(resp.RequestID, "processing", ""))
	task, err = f.repo.GetTaskByTaskID(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "fail", task.Status)
}

func TestStatusOwnership(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "owner", 100)

	resp, err := f.service.Submit(ctx, "owner", provider.Sora2ID, json.RawMessage(`{"prompt":"p"}`))
	require.NoError(t, err)

	_, err = f.service.Status(ctx, "intruder", provider.Sora2ID, resp.TaskID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.service.Result(ctx, "intruder", provider.Sora2ID, resp.TaskID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.service.Delete(ctx, "intruder", provider.Sora2ID, resp.TaskID), ErrForbidden)

	_, err = f.service.Status(ctx, "owner", provider.Sora2ID, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.service.Status(ctx, "owner", provider.Wan25ID, resp.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.service.Status(ctx, "owner", "nope", resp.TaskID)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestStatusPollsWithoutWebhookBase(t *testing.T) {
	f := newServiceFixture(t, "")
	ctx := context.Background()
	f.grant(t, "u-1", 100)

	resp, err := f.service.Submit(ctx, "u-1", provider.Wan25ID, json.RawMessage(`{"prompt":"waves"}`))
	require.NoError(t, err)
	assert.Equal(t, "", f.service.CallbackURL(provider.Wan25ID))

	status, err := f.service.Status(ctx, "u-1", provider.Wan25ID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusCompleted, status.Status)
	assert.Equal(t, "success", status.VendorStatus)
	assert.NotEmpty(t, status.VideoURL)
}

func TestStatusPollKeepsTaskWhenResultFetchFails(t *testing.T) {
	f := newServiceFixture(t, "")
	ctx := context.Background()
	f.grant(t, "u-1", 100)
	f.vendor.falResultFailures.Store(1)

	resp, err := f.service.Submit(ctx, "u-1", provider.NanoBananaID, json.RawMessage(`{"prompt":"fox"}`))
	require.NoError(t, err)
	require.Equal(t, int64(96), f.balance(t, "u-1"))

	status, err := f.service.Status(ctx, "u-1", provider.NanoBananaID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusProcessing, status.Status)
	assert.Empty(t, status.ErrorCode)
	assert.Zero(t, status.CreditsRefunded)
	assert.Nil(t, status.CompletedAt)
	assert.Equal(t, int64(96), f.balance(t, "u-1"))
	assert.Equal(t, int32(1), f.vendor.falResultCalls.Load())

	status, err = f.service.Status(ctx, "u-1", provider.NanoBananaID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusCompleted, status.Status)
	assert.True(t, strings.HasPrefix(status.ImageURL, "/files/nano-banana/"), status.ImageURL)
	assert.Equal(t, int32(2), f.vendor.falResultCalls.Load())
	assert.Equal(t, int64(96), f.balance(t, "u-1"))
}

func TestWebhookOutcomesPerProvider(t *testing.T) {
	falSuccess := func(requestID, media string) []byte {
		return []byte(fmt.Sprintf(`{"request_id":%q,"status":"OK","payload":{"images":[{"url":%q}]}}`, requestID, media))
	}
	falFailure := func(requestID, _ string) []byte {
		return []byte(fmt.Sprintf(`{"request_id":%q,"status":"ERROR","error":"model error"}`, requestID))
	}
	veoSuccess := func(requestID, media string) []byte {
		return []byte(fmt.Sprintf(`{"code":200,"msg":"ok","data":{"taskId":%q,"info":{"resultUrls":[%q]}}}`, requestID, media))
	}
	veoFailure := func(requestID, _ string) []byte {
		return []byte(fmt.Sprintf(`{"code":400,"msg":"prompt rejected","data":{"taskId":%q}}`, requestID))
	}
	kieSuccess := func(requestID, media string) []byte {
		return kieCallback(requestID, "success", `{"resultUrls":["`+media+`"]}`)
	}
	kieFailure := func(requestID, _ string) []byte {
		return kieCallback(requestID, "fail", "")
	}

	tests := []struct {
		name         string
		provider     string
		submit       string
		callback     func(requestID, media string) []byte
		wantStatus   string
		wantVendor   string
		wantErrorMsg string
	}{
		{"nano-banana success", provider.NanoBananaID, `{"prompt":"fox"}`, falSuccess, entity.ClientStatusCompleted, "completed", ""},
		{"nano-banana failure", provider.NanoBananaID, `{"prompt":"fox"}`, falFailure, entity.ClientStatusFailed, "failed", "model error"},
		{"upscaler success", provider.UpscalerID, `{"image_url":"https://cdn.example.com/a.png"}`, falSuccess, entity.ClientStatusCompleted, "completed", ""},
		{"upscaler failure", provider.UpscalerID, `{"image_url":"https://cdn.example.com/a.png"}`, falFailure, entity.ClientStatusFailed, "failed", "model error"},
		{"veo3 success", provider.Veo3ID, `{"prompt":"sunrise"}`, veoSuccess, entity.ClientStatusCompleted, "completed", ""},
		{"veo3 failure", provider.Veo3ID, `{"prompt":"sunrise"}`, veoFailure, entity.ClientStatusFailed, "failed", "prompt rejected"},
		{"sora2 success", provider.Sora2ID, `{"prompt":"cat"}`, kieSuccess, entity.ClientStatusCompleted, "success", ""},
		{"sora2 failure", provider.Sora2ID, `{"prompt":"cat"}`, kieFailure, entity.ClientStatusFailed, "fail", "content policy violation"},
		{"wan25 success", provider.Wan25ID, `{"prompt":"waves"}`, kieSuccess, entity.ClientStatusCompleted, "success", ""},
		{"wan25 failure", provider.Wan25ID, `{"prompt":"waves"}`, kieFailure, entity.ClientStatusFailed, "fail", "content policy violation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, testWebhookBase)
			ctx := context.Background()
			f.grant(t, "u-1", 500)

			resp, err := f.service.Submit(ctx, "u-1", tt.provider, json.RawMessage(tt.submit))
			require.NoError(t, err)
			require.Equal(t, 500-resp.CreditsUsed, f.balance(t, "u-1"))

			f.service.HandleWebhook(ctx, tt.provider, tt.callback(resp.RequestID, f.vendor.mediaURL("photo.png")))

			status, err := f.service.Status(ctx, "u-1", tt.provider, resp.TaskID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantVendor, status.VendorStatus)
			require.NotNil(t, status.CompletedAt)

			if tt.wantStatus == entity.ClientStatusCompleted {
				require.Len(t, status.OutputURLs, 1)
				assert.True(t, strings.HasPrefix(status.OutputURLs[0], "/files/"+tt.provider+"/"), status.OutputURLs[0])
				assert.Equal(t, 500-resp.CreditsUsed, f.balance(t, "u-1"))
				return
			}
			assert.Equal(t, tt.wantErrorMsg, status.ErrorMessage)
			assert.Equal(t, resp.CreditsUsed, status.CreditsRefunded)
			assert.Equal(t, int64(500), f.balance(t, "u-1"))
		})
	}
}

func TestUnknownProviderWebhookUsesFixedMetricLabel(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.service.HandleWebhook(ctx, fmt.Sprintf("junk-%d", i), []byte(`{}`))
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mediagen_webhooks_received_total{provider="unknown",result="invalid"}`)
	assert.NotContains(t, body, `provider="junk-`)
}

func TestHistoryAndDelete(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 1000)

	var last *entity.TaskSubmitResponse
	for i := 0; i < 3; i++ {
		resp, err := f.service.Submit(ctx, "u-1", provider.NanoBananaID, json.RawMessage(`{"prompt":"fox"}`))
		require.NoError(t, err)
		last = resp
	}
	_, err := f.service.Submit(ctx, "u-1", provider.Sora2ID, json.RawMessage(`{"prompt":"p"}`))
	require.NoError(t, err)

	history, err := f.service.History(ctx, "u-1", provider.NanoBananaID, entity.BaseParams{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, history.Tasks, 2)
	assert.Equal(t, int64(3), history.Meta.Total)
	assert.Equal(t, entity.ClientStatusPending, history.Tasks[0].Status)

	require.NoError(t, f.service.Delete(ctx, "u-1", provider.NanoBananaID, last.TaskID))
	_, err = f.service.Status(ctx, "u-1", provider.NanoBananaID, last.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// runnerProvider 进程内生成的最小实现
type runnerProvider struct {
	outcome *provider.Outcome
	err     error
	block   chan struct{}
	submits atomic.Int32
	mu      sync.Mutex
	runs    int
}

func (p *runnerProvider) ID() string                      { return "runner" }
func (p *runnerProvider) Labels() provider.StatusLabels   { return provider.DefaultLabels }
func (p *runnerProvider) Describe() provider.Descriptor   { return provider.Descriptor{ID: p.ID()} }
func (p *runnerProvider) ParseWebhook([]byte) (*provider.Outcome, error) {
	return nil, provider.ErrWebhookUnsupported
}

func (p *runnerProvider) Prepare(json.RawMessage) (*provider.Job, error) {
	return &provider.Job{Provider: p.ID(), Type: entity.TaskTypeTextToImage, Model: "m", Input: map[string]any{"prompt": "x"}, Cost: 3}, nil
}

func (p *runnerProvider) Submit(context.Context, *provider.Job, string) (*provider.Submission, error) {
	return &provider.Submission{RequestID: fmt.Sprintf("runner_%p_%d", p, p.submits.Add(1))}, nil
}

func (p *runnerProvider) Run(context.Context, *provider.Job) (*provider.Outcome, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
	return p.outcome, p.err
}

func TestRunnerProviderCompletesInBackground(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 10)

	runner := &runnerProvider{outcome: &provider.Outcome{
		State:     provider.StateSucceeded,
		MediaURLs: []string{"data:image/png;base64,iVBORw0KGgo="},
	}}
	f.registry.Register(runner)

	resp, err := f.service.Submit(ctx, "u-1", "runner", nil)
	require.NoError(t, err)
	f.pool.Stop()

	status, err := f.service.Status(ctx, "u-1", "runner", resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusCompleted, status.Status)
	assert.True(t, strings.HasPrefix(status.ImageURL, "/files/runner/"), status.ImageURL)
	assert.Equal(t, 1, runner.runs)
	assert.Equal(t, int64(7), f.balance(t, "u-1"))
}

func TestRunnerErrorRefunds(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 10)

	runner := &runnerProvider{err: fmt.Errorf("ark unavailable")}
	f.registry.Register(runner)

	resp, err := f.service.Submit(ctx, "u-1", "runner", nil)
	require.NoError(t, err)
	f.pool.Stop()

	status, err := f.service.Status(ctx, "u-1", "runner", resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusFailed, status.Status)
	assert.Equal(t, "run_failed", status.ErrorCode)
	assert.Equal(t, int64(10), f.balance(t, "u-1"))
}

func TestRunnerRejectedWhenPoolFull(t *testing.T) {
	f := newServiceFixture(t, testWebhookBase)
	ctx := context.Background()
	f.grant(t, "u-1", 10)

	small := NewWorkerPool(1, 1)
	f.service.pool = small
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(small.Stop)
	t.Cleanup(unblock)

	runner := &runnerProvider{
		block: release,
		outcome: &provider.Outcome{
			State:     provider.StateSucceeded,
			MediaURLs: []string{"data:image/png;base64,iVBORw0KGgo="},
		},
	}
	f.registry.Register(runner)

	// 第一个占住唯一的 worker，第二个进队列
	running, err := f.service.Submit(ctx, "u-1", "runner", nil)
	require.NoError(t, err)
	queued, err := f.service.Submit(ctx, "u-1", "runner", nil)
	require.NoError(t, err)

	start := time.Now()
	rejected, err := f.service.Submit(ctx, "u-1", "runner", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int64(4), rejected.RemainingCredits)

	status, err := f.service.Status(ctx, "u-1", "runner", rejected.TaskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClientStatusFailed, status.Status)
	assert.Equal(t, "queue_full", status.ErrorCode)

	unblock()
	small.Stop()

	for _, taskID := range []string{running.TaskID, queued.TaskID} {
		status, err := f.service.Status(ctx, "u-1", "runner", taskID)
		require.NoError(t, err)
		assert.Equal(t, entity.ClientStatusCompleted, status.Status)
	}
	assert.Equal(t, 2, runner.runs)
	assert.Equal(t, int64(4), f.balance(t, "u-1"))
}

func TestMediaTransferFallsBackToVendorURL(t *testing.T) {
	vendor := newFakeVendor(t)
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	transfer := NewMediaTransfer(local, "https://cdn.example.com/", 2)
	defer transfer.Stop()

	missing := vendor.mediaURL("missing.png")
	result := transfer.Transfer(context.Background(), "task-1", "nano-banana", []string{vendor.mediaURL("clip.mp4"), missing})
	require.Len(t, result.URLs, 2)
	assert.True(t, strings.HasPrefix(result.URLs[0], "https://cdn.example.com/nano-banana/"), result.URLs[0])
	assert.Equal(t, missing, result.URLs[1])
	assert.Len(t, result.Keys, 1)
	assert.Equal(t, result.URLs[:1], result.Transferred)

	noStore := NewMediaTransfer(nil, "", 1)
	defer noStore.Stop()
	result = noStore.Transfer(context.Background(), "task-2", "veo3", []string{missing})
	assert.Equal(t, []string{missing}, result.URLs)
	assert.Empty(t, result.Keys)
}

func TestResultJSONKeepsVendorPayload(t *testing.T) {
	out := resultJSON(json.RawMessage(`{"data":{"taskId":"x"}}`), []string{"/files/a.png"})
	assert.JSONEq(t, `{"data":{"taskId":"x"},"transferred_urls":["/files/a.png"]}`, string(out))

	out = resultJSON(json.RawMessage(`["a"]`), nil)
	assert.JSONEq(t, `{"vendor":["a"],"transferred_urls":[]}`, string(out))

	out = resultJSON(nil, []string{"u"})
	assert.JSONEq(t, `{"transferred_urls":["u"]}`, string(out))
}
