package provider

import (
	"encoding/json"
	"strings"

	"mediagen/internal/entity"
)

const (
	NanoBananaID = "nano-banana"

	nanoBananaModel     = "fal-ai/nano-banana"
	nanoBananaEditModel = "fal-ai/nano-banana/edit"

	// NanoBananaMaxImageURLs 图生图最多参考图数量
	NanoBananaMaxImageURLs = 10
	nanoBananaCostPerImage = 4
)

type nanoBananaParams struct {
	Type         string   `json:"type" validate:"omitempty,oneof=text-to-image image-to-image"`
	Prompt       string   `json:"prompt" validate:"required,min=1,max=5000"`
	ImageURLs    []string `json:"image_urls" validate:"max=10,dive,url"`
	NumImages    int      `json:"num_images" validate:"min=1,max=4"`
	OutputFormat string   `json:"output_format" validate:"omitempty,oneof=jpeg png"`
	AspectRatio  string   `json:"aspect_ratio" validate:"omitempty,oneof=21:9 1:1 4:3 3:2 2:3 5:4 4:5 3:4 16:9 9:16"`
}

func (p *nanoBananaParams) normalize() {
	p.Type = strings.TrimSpace(p.Type)
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.ImageURLs = trimStrings(p.ImageURLs)
	p.OutputFormat = strings.ToLower(strings.TrimSpace(p.OutputFormat))
	p.AspectRatio = strings.TrimSpace(p.AspectRatio)
	if p.NumImages == 0 {
		p.NumImages = 1
	}
}

// NanoBanana fal.ai Gemini 图像模型，文生图和多图编辑
type NanoBanana struct {
	falProvider
}

func NewNanoBanana(queue *falQueue) *NanoBanana {
	return &NanoBanana{falProvider{id: NanoBananaID, queue: queue}}
}

func (p *NanoBanana) Describe() Descriptor {
	return Descriptor{
		ID:           p.id,
		Vendor:       falVendor,
		Types:        []entity.TaskType{entity.TaskTypeTextToImage, entity.TaskTypeImageToImage},
		MaxImageURLs: NanoBananaMaxImageURLs,
		Labels:       p.Labels(),
		Async:        true,
	}
}

func (p *NanoBanana) Prepare(raw json.RawMessage) (*Job, error) {
	var params nanoBananaParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	taskType := entity.TaskType(params.Type)
	if taskType == "" {
		taskType = entity.TaskTypeTextToImage
		if len(params.ImageURLs) > 0 {
			taskType = entity.TaskTypeImageToImage
		}
	}
	switch {
	case taskType == entity.TaskTypeImageToImage && len(params.ImageURLs) == 0:
		return nil, invalidf("image_urls is required for image-to-image")
	case taskType == entity.TaskTypeTextToImage && len(params.ImageURLs) > 0:
		return nil, invalidf("image_urls is not allowed for text-to-image")
	}

	input := map[string]any{
		"prompt":     params.Prompt,
		"num_images": params.NumImages,
	}
	if params.OutputFormat != "" {
		input["output_format"] = params.OutputFormat
	}
	if params.AspectRatio != "" {
		input["aspect_ratio"] = params.AspectRatio
	}

	model := nanoBananaModel
	if taskType == entity.TaskTypeImageToImage {
		model = nanoBananaEditModel
		input["image_urls"] = params.ImageURLs
	}

	return &Job{
		Provider: p.id,
		Type:     taskType,
		Model:    model,
		Input:    input,
		Cost:     int64(nanoBananaCostPerImage * params.NumImages),
	}, nil
}

var (
	_ Provider = (*NanoBanana)(nil)
	_ Poller   = (*NanoBanana)(nil)
)
