package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	falVendor         = "fal.ai"
	falDefaultBaseURL = "https://queue.fal.run"
)

// falQueue 封装 fal.ai 队列接口：提交、查询状态、拉取结果，以及解析回调。
// 文档: https://docs.fal.ai/model-endpoints/queue
type falQueue struct {
	apiKey  string
	baseURL string
	client  *req.Client
}

func newFalQueue(apiKey, baseURL string, timeout time.Duration) *falQueue {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = falDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := req.C().
		SetTimeout(timeout).
		SetCommonHeader("Authorization", "Key "+strings.TrimSpace(apiKey)).
		SetCommonHeader("Accept", "application/json")
	return &falQueue{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: baseURL,
		client:  client,
	}
}

type falSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

func (q *falQueue) submit(ctx context.Context, providerID, model string, input map[string]any, callbackURL string) (*Submission, error) {
	if q.apiKey == "" {
		return nil, &VendorError{Provider: providerID, Message: "fal.ai api key is not configured"}
	}

	logger := providerLogger(ctx, providerID, model)
	logger.WithFields(logrus.Fields{
		"prompt_preview": logSnippet(fmt.Sprint(input["prompt"])),
		"webhook":        callbackURL != "",
	}).Info("falai_submit_start")

	request := q.client.R().SetContext(ctx).SetBodyJsonMarshal(input)
	if callbackURL != "" {
		request = request.SetQueryParam("fal_webhook", callbackURL)
	}

	var out falSubmitResponse
	resp, err := request.SetSuccessResult(&out).Post(q.baseURL + "/" + strings.TrimLeft(model, "/"))
	if err != nil {
		logger.WithError(err).Warn("falai_submit_failed")
		return nil, &VendorError{Provider: providerID, Message: err.Error()}
	}
	if !resp.IsSuccessState() {
		vendorErr := &VendorError{
			Provider:   providerID,
			StatusCode: resp.StatusCode,
			Message:    falErrorMessage(resp.Bytes()),
		}
		logger.WithError(vendorErr).Warn("falai_submit_rejected")
		return nil, vendorErr
	}
	if strings.TrimSpace(out.RequestID) == "" {
		return nil, &VendorError{Provider: providerID, StatusCode: resp.StatusCode, Message: "fal.ai response missing request_id"}
	}

	logger.WithField("request_id", out.RequestID).Info("falai_submit_accepted")
	return &Submission{RequestID: out.RequestID}, nil
}

// poll 查询一次队列状态，完成后再取结果
func (q *falQueue) poll(ctx context.Context, providerID, requestID, model string) (*Outcome, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, errors.New("request id is required")
	}
	appURL := q.baseURL + "/" + falAppID(model) + "/requests/" + requestID

	resp, err := q.client.R().SetContext(ctx).Get(appURL + "/status")
	if err != nil {
		return nil, &VendorError{Provider: providerID, Message: err.Error()}
	}
	if !resp.IsSuccessState() {
		return nil, &VendorError{Provider: providerID, StatusCode: resp.StatusCode, Message: falErrorMessage(resp.Bytes())}
	}

	status := gjson.GetBytes(resp.Bytes(), "status").String()
	outcome := &Outcome{
		RequestID:    requestID,
		VendorStatus: status,
		Raw:          json.RawMessage(resp.Bytes()),
	}
	switch strings.ToUpper(status) {
	case "IN_QUEUE":
		outcome.State = StatePending
		return outcome, nil
	case "IN_PROGRESS":
		outcome.State = StateProcessing
		return outcome, nil
	case "COMPLETED":
	default:
		outcome.State = MapVendorStatus(status)
		return outcome, nil
	}

	result, err := q.client.R().SetContext(ctx).Get(appURL)
	if err != nil {
		return nil, &VendorError{Provider: providerID, Message: err.Error()}
	}
	if retryableResultStatus(result.StatusCode) {
		// 结果已生成但暂时取不到，保持 processing，下次轮询再取
		providerLogger(ctx, providerID, model).WithFields(logrus.Fields{
			"request_id":  requestID,
			"status_code": result.StatusCode,
		}).Warn("falai_result_fetch_retry")
		outcome.State = StateProcessing
		return outcome, nil
	}
	outcome.Raw = json.RawMessage(result.Bytes())
	if !result.IsSuccessState() {
		// 队列已结束但模型执行失败，结果接口返回错误详情
		outcome.State = StateFailed
		outcome.ErrorCode = fmt.Sprintf("http_%d", result.StatusCode)
		outcome.ErrorMessage = falErrorMessage(result.Bytes())
		return outcome, nil
	}
	outcome.MediaURLs = falMediaURLs(gjson.ParseBytes(result.Bytes()))
	outcome.State = StateSucceeded
	return outcome, nil
}

// parseFalWebhook 解析 fal_webhook 回调：
// {"request_id":"..","status":"OK|ERROR","payload":{...},"error":".."}
func parseFalWebhook(body []byte) (*Outcome, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("fal.ai webhook body is not valid json")
	}
	root := gjson.ParseBytes(body)
	requestID := root.Get("request_id").String()
	if requestID == "" {
		return nil, errors.New("fal.ai webhook missing request_id")
	}

	status := root.Get("status").String()
	outcome := &Outcome{
		RequestID:    requestID,
		VendorStatus: status,
		Raw:          json.RawMessage(root.Get("payload").Raw),
	}
	if len(outcome.Raw) == 0 {
		outcome.Raw = json.RawMessage(body)
	}

	if strings.EqualFold(status, "OK") {
		outcome.State = StateSucceeded
		outcome.MediaURLs = falMediaURLs(root.Get("payload"))
		if errMsg := root.Get("payload_error").String(); errMsg != "" && len(outcome.MediaURLs) == 0 {
			outcome.State = StateFailed
			outcome.ErrorCode = "payload_error"
			outcome.ErrorMessage = errMsg
		}
		return outcome, nil
	}

	outcome.State = StateFailed
	outcome.ErrorCode = strings.ToLower(status)
	if outcome.ErrorCode == "" {
		outcome.ErrorCode = "error"
	}
	outcome.ErrorMessage = root.Get("error").String()
	if detail := falErrorMessage([]byte(root.Get("payload").Raw)); detail != "" && outcome.ErrorMessage == "" {
		outcome.ErrorMessage = detail
	}
	return outcome, nil
}

// falMediaURLs 收集 images[].url / image.url / video.url
func falMediaURLs(payload gjson.Result) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(url string) {
		url = strings.TrimSpace(url)
		if url == "" {
			return
		}
		if _, ok := seen[url]; ok {
			return
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	for _, img := range payload.Get("images").Array() {
		if img.Type == gjson.String {
			add(img.String())
			continue
		}
		add(img.Get("url").String())
	}
	add(payload.Get("image.url").String())
	add(payload.Get("video.url").String())
	return urls
}

// falErrorMessage 提取 detail / error / message，兜底返回原文片段
func falErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		return logSnippet(string(body))
	}
	root := gjson.ParseBytes(body)
	detail := root.Get("detail")
	switch {
	case detail.IsArray():
		msgs := make([]string, 0, len(detail.Array()))
		for _, item := range detail.Array() {
			if msg := item.Get("msg").String(); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	case detail.Exists():
		return detail.String()
	}
	for _, path := range []string{"error.message", "error", "message"} {
		if v := root.Get(path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return logSnippet(string(body))
}

// retryableResultStatus 5xx、429、408 视为暂时性错误
func retryableResultStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout
}

// falAppID 队列状态接口只认 owner/app，子路径（如 /edit）需要去掉
func falAppID(model string) string {
	parts := strings.Split(strings.Trim(model, "/"), "/")
	if len(parts) <= 2 {
		return strings.Join(parts, "/")
	}
	return parts[0] + "/" + parts[1]
}
