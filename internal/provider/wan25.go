package provider

import (
	"encoding/json"
	"strconv"
	"strings"

	"mediagen/internal/entity"
)

const (
	Wan25ID = "wan25"

	wan25TextModel  = "wan/2-5-text-to-video"
	wan25ImageModel = "wan/2-5-image-to-video"
)

// 每秒单价
var wan25RatePerSecond = map[string]int64{
	"720p":  6,
	"1080p": 10,
}

type wan25Params struct {
	Prompt                string   `json:"prompt" validate:"required,min=1,max=2000"`
	ImageURLs             []string `json:"image_urls" validate:"max=1,dive,url"`
	Duration              int      `json:"duration" validate:"oneof=5 10"`
	Resolution            string   `json:"resolution" validate:"oneof=720p 1080p"`
	AspectRatio           string   `json:"aspect_ratio" validate:"oneof=16:9 9:16 1:1"`
	NegativePrompt        string   `json:"negative_prompt" validate:"max=500"`
	EnablePromptExpansion *bool    `json:"enable_prompt_expansion"`
	Seed                  *int64   `json:"seed" validate:"omitempty,gte=0"`
}

func (p *wan25Params) normalize() {
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.ImageURLs = trimStrings(p.ImageURLs)
	if p.Duration == 0 {
		p.Duration = 5
	}
	p.Resolution = strings.ToLower(strings.TrimSpace(p.Resolution))
	if p.Resolution == "" {
		p.Resolution = "720p"
	}
	p.AspectRatio = strings.TrimSpace(p.AspectRatio)
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}
	p.NegativePrompt = strings.TrimSpace(p.NegativePrompt)
}

// Wan25 阿里 Wan 2.5，费用 = 时长 × 分辨率单价
type Wan25 struct {
	kieJobProvider
}

func NewWan25(client *kieClient) *Wan25 {
	return &Wan25{kieJobProvider{id: Wan25ID, client: client}}
}

func (p *Wan25) Describe() Descriptor {
	return Descriptor{
		ID:           p.id,
		Vendor:       kieVendor,
		Types:        []entity.TaskType{entity.TaskTypeTextToVideo, entity.TaskTypeImageToVideo},
		MaxImageURLs: 1,
		Labels:       p.Labels(),
		Async:        true,
	}
}

func (p *Wan25) Prepare(raw json.RawMessage) (*Job, error) {
	var params wan25Params
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	input := map[string]any{
		"prompt":     params.Prompt,
		"duration":   strconv.Itoa(params.Duration),
		"resolution": params.Resolution,
	}
	taskType := entity.TaskTypeTextToVideo
	model := wan25TextModel
	if len(params.ImageURLs) > 0 {
		taskType = entity.TaskTypeImageToVideo
		model = wan25ImageModel
		input["image_url"] = params.ImageURLs[0]
	} else {
		input["aspect_ratio"] = params.AspectRatio
	}
	if params.NegativePrompt != "" {
		input["negative_prompt"] = params.NegativePrompt
	}
	if params.EnablePromptExpansion != nil {
		input["enable_prompt_expansion"] = *params.EnablePromptExpansion
	}
	if params.Seed != nil {
		input["seed"] = *params.Seed
	}

	return &Job{
		Provider: p.id,
		Type:     taskType,
		Model:    model,
		Input:    input,
		Cost:     int64(params.Duration) * wan25RatePerSecond[params.Resolution],
	}, nil
}

var (
	_ Provider = (*Wan25)(nil)
	_ Poller   = (*Wan25)(nil)
)
