package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFalQueueSubmit(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fal-ai/nano-banana/edit", r.URL.Path)
		assert.Equal(t, "Key test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "https://app.example.com/api/nano-banana/webhook", r.URL.Query().Get("fal_webhook"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"req-123","status_url":"x","response_url":"y"}`))
	}))
	defer server.Close()

	p := NewNanoBanana(newFalQueue("test-key", server.URL, time.Second*5))
	job, err := p.Prepare(json.RawMessage(`{"prompt":"merge","image_urls":["https://cdn.example.com/a.png","https://cdn.example.com/b.png"],"num_images":2}`))
	require.NoError(t, err)

	sub, err := p.Submit(context.Background(), job, "https://app.example.com/api/nano-banana/webhook")
	require.NoError(t, err)
	assert.Equal(t, "req-123", sub.RequestID)
	assert.Equal(t, "merge", gotBody["prompt"])
	assert.Len(t, gotBody["image_urls"], 2)
	assert.EqualValues(t, 2, gotBody["num_images"])
}

func TestFalQueueSubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["body","prompt"],"msg":"prompt is too long","type":"value_error"}]}`))
	}))
	defer server.Close()

	p := NewNanoBanana(newFalQueue("k", server.URL, time.Second*5))
	job, err := p.Prepare(json.RawMessage(`{"prompt":"x"}`))
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), job, "")
	var vendorErr *VendorError
	require.True(t, errors.As(err, &vendorErr))
	assert.Equal(t, http.StatusUnprocessableEntity, vendorErr.StatusCode)
	assert.Equal(t, "prompt is too long", vendorErr.Message)
}

func TestFalQueueSubmitWithoutKey(t *testing.T) {
	p := NewUpscaler(newFalQueue("", "http://127.0.0.1:1", time.Second))
	_, err := p.Submit(context.Background(), &Job{Model: upscalerModel}, "")
	var vendorErr *VendorError
	assert.ErrorAs(t, err, &vendorErr)
}

func TestFalQueuePoll(t *testing.T) {
	status := "IN_PROGRESS"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fal-ai/nano-banana/requests/req-1/status":
			_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
		case "/fal-ai/nano-banana/requests/req-1":
			_, _ = w.Write([]byte(`{"images":[{"url":"https://v3.fal.media/a.png"},{"url":"https://v3.fal.media/b.png"}],"description":""}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := NewNanoBanana(newFalQueue("k", server.URL, time.Second*5))

	outcome, err := p.Poll(context.Background(), "req-1", nanoBananaEditModel)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, outcome.State)
	assert.Empty(t, outcome.MediaURLs)

	status = "COMPLETED"
	outcome, err = p.Poll(context.Background(), "req-1", nanoBananaEditModel)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, outcome.State)
	assert.Equal(t, []string{"https://v3.fal.media/a.png", "https://v3.fal.media/b.png"}, outcome.MediaURLs)
}

func TestFalQueuePollResultFetchErrors(t *testing.T) {
	resultCode := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/status") {
			_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
			return
		}
		w.WriteHeader(resultCode)
		_, _ = w.Write([]byte(`{"detail":"result unavailable"}`))
	}))
	defer server.Close()

	p := NewUpscaler(newFalQueue("k", server.URL, time.Second*5))

	for _, code := range []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusTooManyRequests} {
		resultCode = code
		outcome, err := p.Poll(context.Background(), "req-9", upscalerModel)
		require.NoError(t, err)
		assert.Equal(t, StateProcessing, outcome.State, "code %d", code)
		assert.Empty(t, outcome.ErrorCode)
	}

	resultCode = http.StatusUnprocessableEntity
	outcome, err := p.Poll(context.Background(), "req-9", upscalerModel)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, "http_422", outcome.ErrorCode)
	assert.Equal(t, "result unavailable", outcome.ErrorMessage)
}

func TestParseFalWebhook(t *testing.T) {
	outcome, err := parseFalWebhook([]byte(`{"request_id":"r-1","gateway_request_id":"r-1","status":"OK","payload":{"image":{"url":"https://v3.fal.media/up.png","width":2048}}}`))
	require.NoError(t, err)
	assert.Equal(t, "r-1", outcome.RequestID)
	assert.Equal(t, StateSucceeded, outcome.State)
	assert.Equal(t, []string{"https://v3.fal.media/up.png"}, outcome.MediaURLs)
	assert.JSONEq(t, `{"image":{"url":"https://v3.fal.media/up.png","width":2048}}`, string(outcome.Raw))

	outcome, err = parseFalWebhook([]byte(`{"request_id":"r-2","status":"ERROR","error":"Invalid status code: 422","payload":{"detail":[{"msg":"image too large"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, "error", outcome.ErrorCode)
	assert.Equal(t, "Invalid status code: 422", outcome.ErrorMessage)

	_, err = parseFalWebhook([]byte(`{"status":"OK"}`))
	assert.Error(t, err)
	_, err = parseFalWebhook([]byte(`not json`))
	assert.Error(t, err)
}

func TestFalAppID(t *testing.T) {
	assert.Equal(t, "fal-ai/nano-banana", falAppID("fal-ai/nano-banana/edit"))
	assert.Equal(t, "fal-ai/clarity-upscaler", falAppID("/fal-ai/clarity-upscaler"))
}
