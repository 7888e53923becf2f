package provider

import (
	"encoding/json"
	"strings"

	"mediagen/internal/entity"
)

const (
	UpscalerID = "upscaler"

	upscalerModel = "fal-ai/clarity-upscaler"
)

var upscalerCost = map[int]int64{
	2: 5,
	4: 10,
}

type upscalerParams struct {
	ImageURL          string   `json:"image_url" validate:"required,url"`
	UpscaleFactor     int      `json:"upscale_factor" validate:"oneof=2 4"`
	Prompt            string   `json:"prompt" validate:"max=2000"`
	NegativePrompt    string   `json:"negative_prompt" validate:"max=2000"`
	Creativity        *float64 `json:"creativity" validate:"omitempty,gte=0,lte=1"`
	Resemblance       *float64 `json:"resemblance" validate:"omitempty,gte=0,lte=1"`
	NumInferenceSteps int      `json:"num_inference_steps" validate:"omitempty,min=4,max=50"`
}

func (p *upscalerParams) normalize() {
	p.ImageURL = strings.TrimSpace(p.ImageURL)
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.NegativePrompt = strings.TrimSpace(p.NegativePrompt)
	if p.UpscaleFactor == 0 {
		p.UpscaleFactor = 2
	}
}

// Upscaler fal.ai clarity-upscaler 图片放大
type Upscaler struct {
	falProvider
}

func NewUpscaler(queue *falQueue) *Upscaler {
	return &Upscaler{falProvider{id: UpscalerID, queue: queue}}
}

func (p *Upscaler) Describe() Descriptor {
	return Descriptor{
		ID:           p.id,
		Vendor:       falVendor,
		Types:        []entity.TaskType{entity.TaskTypeImageUpscale},
		MaxImageURLs: 1,
		Labels:       p.Labels(),
		Async:        true,
	}
}

func (p *Upscaler) Prepare(raw json.RawMessage) (*Job, error) {
	var params upscalerParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	input := map[string]any{
		"image_url":      params.ImageURL,
		"upscale_factor": params.UpscaleFactor,
	}
	if params.Prompt != "" {
		input["prompt"] = params.Prompt
	}
	if params.NegativePrompt != "" {
		input["negative_prompt"] = params.NegativePrompt
	}
	if params.Creativity != nil {
		input["creativity"] = *params.Creativity
	}
	if params.Resemblance != nil {
		input["resemblance"] = *params.Resemblance
	}
	if params.NumInferenceSteps > 0 {
		input["num_inference_steps"] = params.NumInferenceSteps
	}

	return &Job{
		Provider: p.id,
		Type:     entity.TaskTypeImageUpscale,
		Model:    upscalerModel,
		Input:    input,
		Cost:     upscalerCost[params.UpscaleFactor],
	}, nil
}

var (
	_ Provider = (*Upscaler)(nil)
	_ Poller   = (*Upscaler)(nil)
)
