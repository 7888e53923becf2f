package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	kieVendor         = "kie.ai"
	kieDefaultBaseURL = "https://api.kie.ai"

	kieJobsCreatePath = "/api/v1/jobs/createTask"
	kieJobsInfoPath   = "/api/v1/jobs/recordInfo"
	kieVeoCreatePath  = "/api/v1/veo/generate"
	kieVeoInfoPath    = "/api/v1/veo/record-info"
)

// kieClient Kie.ai 的两套接口：通用 Jobs（sora2、wan25）和 Veo3 专用接口。
// 响应体统一为 {"code":200,"msg":"..","data":{...}}，code 非 200 即失败。
type kieClient struct {
	apiKey  string
	baseURL string
	client  *req.Client
}

func newKieClient(apiKey, baseURL string, timeout time.Duration) *kieClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = kieDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := req.C().
		SetTimeout(timeout).
		SetCommonBearerAuthToken(strings.TrimSpace(apiKey)).
		SetCommonHeader("Accept", "application/json")
	return &kieClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: baseURL,
		client:  client,
	}
}

// call 发送请求并返回 data 节点
func (k *kieClient) call(ctx context.Context, providerID, method, path string, body any, query map[string]string) (gjson.Result, error) {
	if k.apiKey == "" {
		return gjson.Result{}, &VendorError{Provider: providerID, Message: "kie.ai api key is not configured"}
	}
	request := k.client.R().SetContext(ctx)
	if body != nil {
		request = request.SetBodyJsonMarshal(body)
	}
	if len(query) > 0 {
		request = request.SetQueryParams(query)
	}

	resp, err := request.Send(method, k.baseURL+path)
	if err != nil {
		return gjson.Result{}, &VendorError{Provider: providerID, Message: err.Error()}
	}
	root := gjson.ParseBytes(resp.Bytes())
	if !resp.IsSuccessState() {
		msg := root.Get("msg").String()
		if msg == "" {
			msg = logSnippet(resp.String())
		}
		return gjson.Result{}, &VendorError{Provider: providerID, StatusCode: resp.StatusCode, Message: msg}
	}
	if code := root.Get("code").Int(); code != 200 {
		return gjson.Result{}, &VendorError{
			Provider:   providerID,
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("%d", code),
			Message:    root.Get("msg").String(),
		}
	}
	return root.Get("data"), nil
}

func (k *kieClient) createJob(ctx context.Context, providerID, model string, input map[string]any, callbackURL string) (*Submission, error) {
	logger := providerLogger(ctx, providerID, model)
	logger.WithFields(logrus.Fields{
		"prompt_preview": logSnippet(fmt.Sprint(input["prompt"])),
		"webhook":        callbackURL != "",
	}).Info("kie_job_submit_start")

	body := map[string]any{
		"model": model,
		"input": input,
	}
	if callbackURL != "" {
		body["callBackUrl"] = callbackURL
	}
	data, err := k.call(ctx, providerID, "POST", kieJobsCreatePath, body, nil)
	if err != nil {
		logger.WithError(err).Warn("kie_job_submit_failed")
		return nil, err
	}
	taskID := data.Get("taskId").String()
	if taskID == "" {
		return nil, &VendorError{Provider: providerID, Message: "kie.ai response missing taskId"}
	}
	logger.WithField("request_id", taskID).Info("kie_job_submit_accepted")
	return &Submission{RequestID: taskID}, nil
}

func (k *kieClient) jobInfo(ctx context.Context, providerID, taskID string) (*Outcome, error) {
	data, err := k.call(ctx, providerID, "GET", kieJobsInfoPath, nil, map[string]string{"taskId": taskID})
	if err != nil {
		return nil, err
	}
	outcome := kieJobOutcome(data, 200, "")
	if outcome.RequestID == "" {
		outcome.RequestID = taskID
	}
	return outcome, nil
}

func (k *kieClient) createVeo(ctx context.Context, providerID string, body map[string]any, callbackURL string) (*Submission, error) {
	logger := providerLogger(ctx, providerID, fmt.Sprint(body["model"]))
	logger.WithField("prompt_preview", logSnippet(fmt.Sprint(body["prompt"]))).Info("kie_veo_submit_start")

	payload := make(map[string]any, len(body)+1)
	for key, value := range body {
		payload[key] = value
	}
	if callbackURL != "" {
		payload["callBackUrl"] = callbackURL
	}
	data, err := k.call(ctx, providerID, "POST", kieVeoCreatePath, payload, nil)
	if err != nil {
		logger.WithError(err).Warn("kie_veo_submit_failed")
		return nil, err
	}
	taskID := data.Get("taskId").String()
	if taskID == "" {
		return nil, &VendorError{Provider: providerID, Message: "kie.ai response missing taskId"}
	}
	logger.WithField("request_id", taskID).Info("kie_veo_submit_accepted")
	return &Submission{RequestID: taskID}, nil
}

// veoInfo successFlag: 0 生成中, 1 成功, 2/3 失败
func (k *kieClient) veoInfo(ctx context.Context, providerID, taskID string) (*Outcome, error) {
	data, err := k.call(ctx, providerID, "GET", kieVeoInfoPath, nil, map[string]string{"taskId": taskID})
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{
		RequestID: taskID,
		Raw:       json.RawMessage(data.Raw),
	}
	flag := data.Get("successFlag")
	outcome.VendorStatus = flag.String()
	switch flag.Int() {
	case 0:
		outcome.State = StateProcessing
	case 1:
		outcome.State = StateSucceeded
		outcome.MediaURLs = stringList(data.Get("response.resultUrls"))
	default:
		outcome.State = StateFailed
		outcome.ErrorCode = data.Get("errorCode").String()
		outcome.ErrorMessage = data.Get("errorMessage").String()
	}
	return outcome, nil
}

// parseKieJobCallback 解析 Jobs 回调，data 结构与 recordInfo 相同
func parseKieJobCallback(body []byte) (*Outcome, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("kie.ai callback body is not valid json")
	}
	root := gjson.ParseBytes(body)
	data := root.Get("data")
	if data.Get("taskId").String() == "" {
		return nil, errors.New("kie.ai callback missing data.taskId")
	}
	code := root.Get("code").Int()
	if !root.Get("code").Exists() {
		code = 200
	}
	outcome := kieJobOutcome(data, code, root.Get("msg").String())
	outcome.Raw = json.RawMessage(body)
	return outcome, nil
}

func kieJobOutcome(data gjson.Result, code int64, msg string) *Outcome {
	state := data.Get("state").String()
	outcome := &Outcome{
		RequestID:    data.Get("taskId").String(),
		VendorStatus: state,
		State:        MapVendorStatus(state),
		Raw:          json.RawMessage(data.Raw),
	}
	if state == "" {
		if code == 200 {
			outcome.State = StateSucceeded
		} else {
			outcome.State = StateFailed
		}
	}
	if code != 200 && outcome.State != StateFailed {
		outcome.State = StateFailed
	}

	switch outcome.State {
	case StateSucceeded:
		// resultJson 是字符串形式的 JSON
		result := gjson.Parse(data.Get("resultJson").String())
		outcome.MediaURLs = stringList(result.Get("resultUrls"))
	case StateFailed:
		outcome.ErrorCode = data.Get("failCode").String()
		if outcome.ErrorCode == "" && code != 200 {
			outcome.ErrorCode = fmt.Sprintf("%d", code)
		}
		outcome.ErrorMessage = data.Get("failMsg").String()
		if outcome.ErrorMessage == "" {
			outcome.ErrorMessage = msg
		}
	}
	return outcome
}

// parseVeoCallback {"code":200,"msg":"..","data":{"taskId":"..","info":{"resultUrls":[..]}}}
func parseVeoCallback(body []byte) (*Outcome, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("veo callback body is not valid json")
	}
	root := gjson.ParseBytes(body)
	taskID := root.Get("data.taskId").String()
	if taskID == "" {
		return nil, errors.New("veo callback missing data.taskId")
	}
	code := root.Get("code").Int()
	outcome := &Outcome{
		RequestID:    taskID,
		VendorStatus: fmt.Sprintf("%d", code),
		Raw:          json.RawMessage(body),
	}
	if code == 200 {
		outcome.State = StateSucceeded
		outcome.MediaURLs = stringList(root.Get("data.info.resultUrls"))
		return outcome, nil
	}
	outcome.State = StateFailed
	outcome.ErrorCode = fmt.Sprintf("%d", code)
	outcome.ErrorMessage = root.Get("msg").String()
	return outcome, nil
}

// stringList 兼容数组和字符串化数组两种写法
func stringList(value gjson.Result) []string {
	if value.Type == gjson.String {
		raw := strings.TrimSpace(value.String())
		if strings.HasPrefix(raw, "[") {
			value = gjson.Parse(raw)
		} else if raw != "" {
			return []string{raw}
		}
	}
	var out []string
	for _, item := range value.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
