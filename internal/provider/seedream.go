package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"mediagen/internal/entity"

	"github.com/google/uuid"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	volcModel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

const (
	SeedreamID = "seedream"

	seedreamDefaultModel = "doubao-seedream-4-0-250828"
	seedreamCost         = 3
	seedreamMaxImageURLs = 10
)

type seedreamParams struct {
	Prompt    string   `json:"prompt" validate:"required,min=1,max=5000"`
	ImageURLs []string `json:"image_urls" validate:"max=10,dive,url"`
	Size      string   `json:"size" validate:"oneof=1K 2K 4K"`
}

func (p *seedreamParams) normalize() {
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.ImageURLs = trimStrings(p.ImageURLs)
	p.Size = strings.ToUpper(strings.TrimSpace(p.Size))
	if p.Size == "" {
		p.Size = "2K"
	}
}

type seedreamRequest struct {
	Model  string
	Prompt string
	Size   string
	Images []string
}

type seedreamGenerateFunc func(ctx context.Context, apiKey string, request seedreamRequest) ([]string, error)

// Seedream 火山引擎豆包 Seedream 图像生成。
// 没有回调，Submit 只分配本地 request_id，真正的生成在 Run 中完成。
type Seedream struct {
	apiKey   string
	model    string
	generate seedreamGenerateFunc
}

func NewSeedream(apiKey, model string) *Seedream {
	model = strings.TrimSpace(model)
	if model == "" {
		model = seedreamDefaultModel
	}
	return &Seedream{
		apiKey:   strings.TrimSpace(apiKey),
		model:    model,
		generate: generateImagesByVolcengine,
	}
}

func (p *Seedream) ID() string {
	return SeedreamID
}

func (p *Seedream) Labels() StatusLabels {
	return DefaultLabels
}

func (p *Seedream) Describe() Descriptor {
	return Descriptor{
		ID:           SeedreamID,
		Vendor:       "volcengine",
		Types:        []entity.TaskType{entity.TaskTypeTextToImage, entity.TaskTypeImageToImage},
		MaxImageURLs: seedreamMaxImageURLs,
		Labels:       p.Labels(),
		Async:        false,
	}
}

func (p *Seedream) Prepare(raw json.RawMessage) (*Job, error) {
	var params seedreamParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	taskType := entity.TaskTypeTextToImage
	input := map[string]any{
		"prompt": params.Prompt,
		"size":   params.Size,
	}
	if len(params.ImageURLs) > 0 {
		taskType = entity.TaskTypeImageToImage
		input["image_urls"] = params.ImageURLs
	}

	return &Job{
		Provider: SeedreamID,
		Type:     taskType,
		Model:    p.model,
		Input:    input,
		Cost:     seedreamCost,
	}, nil
}

func (p *Seedream) Submit(_ context.Context, _ *Job, _ string) (*Submission, error) {
	if p.apiKey == "" {
		return nil, &VendorError{Provider: SeedreamID, Message: "volcengine api key is not configured"}
	}
	return &Submission{RequestID: SeedreamID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")}, nil
}

func (p *Seedream) ParseWebhook(_ []byte) (*Outcome, error) {
	return nil, ErrWebhookUnsupported
}

// Run 同步调用流式生成接口，结果作为 Outcome 返回；生成失败不返回 error
func (p *Seedream) Run(ctx context.Context, job *Job) (*Outcome, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	request := seedreamRequest{
		Model:  job.Model,
		Prompt: fmt.Sprint(job.Input["prompt"]),
		Size:   fmt.Sprint(job.Input["size"]),
	}
	switch images := job.Input["image_urls"].(type) {
	case []string:
		request.Images = images
	case []any:
		for _, img := range images {
			request.Images = append(request.Images, fmt.Sprint(img))
		}
	}

	logger := providerLogger(ctx, SeedreamID, request.Model)
	logger.WithField("prompt_preview", logSnippet(request.Prompt)).Info("seedream_run_start")

	urls, err := p.generate(ctx, p.apiKey, request)
	if err != nil && len(urls) == 0 {
		logger.WithError(err).Warn("seedream_run_failed")
		return &Outcome{
			State:        StateFailed,
			VendorStatus: "failed",
			ErrorCode:    "generation_failed",
			ErrorMessage: err.Error(),
		}, nil
	}
	if len(urls) == 0 {
		return &Outcome{
			State:        StateFailed,
			VendorStatus: "failed",
			ErrorCode:    "empty_result",
			ErrorMessage: "volcengine returned no images",
		}, nil
	}

	raw, _ := json.Marshal(map[string]any{"images": urls})
	logger.WithField("image_count", len(urls)).Info("seedream_run_completed")
	return &Outcome{
		State:        StateSucceeded,
		VendorStatus: "completed",
		MediaURLs:    urls,
		Raw:          raw,
	}, nil
}

// 文档: https://www.volcengine.com/docs/82379/1824121
func generateImagesByVolcengine(ctx context.Context, apiKey string, request seedreamRequest) ([]string, error) {
	client := arkruntime.NewClientWithApiKey(apiKey)

	var sequential volcModel.SequentialImageGeneration = "disabled"
	generateReq := volcModel.GenerateImagesRequest{
		Model:                     request.Model,
		Prompt:                    request.Prompt,
		Size:                      volcengine.String(request.Size),
		ResponseFormat:            volcengine.String(volcModel.GenerateImagesResponseFormatURL), // 链接 24 小时内有效
		Watermark:                 volcengine.Bool(false),
		SequentialImageGeneration: &sequential,
	}
	if len(request.Images) > 0 {
		generateReq.Image = request.Images
	}

	stream, err := client.GenerateImagesStreaming(ctx, generateReq)
	if err != nil {
		return nil, fmt.Errorf("volcengine generate images: %w", err)
	}
	defer stream.Close()

	var (
		urls    []string
		lastErr error
	)
	for {
		recv, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			lastErr = fmt.Errorf("volcengine stream: %w", err)
			break
		}
		switch recv.Type {
		case "image_generation.partial_failed":
			if recv.Error != nil {
				lastErr = fmt.Errorf("volcengine %s: %s", recv.Error.Code, recv.Error.Message)
				if strings.EqualFold(recv.Error.Code, "InternalServiceError") {
					return urls, lastErr
				}
			}
		case "image_generation.partial_succeeded":
			if recv.Error == nil && recv.Url != nil {
				urls = append(urls, *recv.Url)
			}
		}
	}
	return urls, lastErr
}

var (
	_ Provider = (*Seedream)(nil)
	_ Runner   = (*Seedream)(nil)
)
