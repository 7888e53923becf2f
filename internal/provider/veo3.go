package provider

import (
	"context"
	"encoding/json"
	"strings"

	"mediagen/internal/entity"
)

const (
	Veo3ID = "veo3"

	veo3ModelQuality = "veo3"
	veo3ModelFast    = "veo3_fast"
)

var veo3Cost = map[string]int64{
	veo3ModelQuality: 150,
	veo3ModelFast:    60,
}

type veo3Params struct {
	Prompt      string   `json:"prompt" validate:"required,min=1,max=2000"`
	Model       string   `json:"model" validate:"oneof=veo3 veo3_fast"`
	ImageURLs   []string `json:"image_urls" validate:"max=1,dive,url"`
	AspectRatio string   `json:"aspect_ratio" validate:"oneof=16:9 9:16 Auto"`
	Seeds       int      `json:"seeds" validate:"omitempty,min=10000,max=99999"`
	Watermark   string   `json:"watermark" validate:"max=64"`
}

func (p *veo3Params) normalize() {
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.Model = strings.TrimSpace(p.Model)
	if p.Model == "" {
		p.Model = veo3ModelFast
	}
	p.ImageURLs = trimStrings(p.ImageURLs)
	p.AspectRatio = strings.TrimSpace(p.AspectRatio)
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}
	p.Watermark = strings.TrimSpace(p.Watermark)
}

// Veo3 Kie.ai 上的 Google Veo3 视频生成
type Veo3 struct {
	client *kieClient
}

func NewVeo3(client *kieClient) *Veo3 {
	return &Veo3{client: client}
}

func (p *Veo3) ID() string {
	return Veo3ID
}

func (p *Veo3) Labels() StatusLabels {
	return DefaultLabels
}

func (p *Veo3) Describe() Descriptor {
	return Descriptor{
		ID:           Veo3ID,
		Vendor:       kieVendor,
		Types:        []entity.TaskType{entity.TaskTypeTextToVideo, entity.TaskTypeImageToVideo},
		MaxImageURLs: 1,
		Labels:       p.Labels(),
		Async:        true,
	}
}

func (p *Veo3) Prepare(raw json.RawMessage) (*Job, error) {
	var params veo3Params
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	taskType := entity.TaskTypeTextToVideo
	input := map[string]any{
		"prompt":      params.Prompt,
		"model":       params.Model,
		"aspectRatio": params.AspectRatio,
	}
	if len(params.ImageURLs) > 0 {
		taskType = entity.TaskTypeImageToVideo
		input["imageUrls"] = params.ImageURLs
	}
	if params.Seeds > 0 {
		input["seeds"] = params.Seeds
	}
	if params.Watermark != "" {
		input["watermark"] = params.Watermark
	}

	return &Job{
		Provider: Veo3ID,
		Type:     taskType,
		Model:    params.Model,
		Input:    input,
		Cost:     veo3Cost[params.Model],
	}, nil
}

func (p *Veo3) Submit(ctx context.Context, job *Job, callbackURL string) (*Submission, error) {
	return p.client.createVeo(ctx, Veo3ID, job.Input, callbackURL)
}

func (p *Veo3) ParseWebhook(body []byte) (*Outcome, error) {
	return parseVeoCallback(body)
}

func (p *Veo3) Poll(ctx context.Context, requestID, _ string) (*Outcome, error) {
	return p.client.veoInfo(ctx, Veo3ID, requestID)
}

var (
	_ Provider = (*Veo3)(nil)
	_ Poller   = (*Veo3)(nil)
)
