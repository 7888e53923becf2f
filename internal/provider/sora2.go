package provider

import (
	"encoding/json"
	"strconv"
	"strings"

	"mediagen/internal/entity"
)

const (
	Sora2ID = "sora2"

	sora2QualityStandard = "standard"
	sora2QualityPro      = "pro"
	sora2ProMultiplier   = 3
)

var sora2Cost = map[int]int64{
	10: 30,
	15: 45,
}

type sora2Params struct {
	Prompt          string   `json:"prompt" validate:"required,min=1,max=2000"`
	ImageURLs       []string `json:"image_urls" validate:"max=1,dive,url"`
	AspectRatio     string   `json:"aspect_ratio" validate:"oneof=portrait landscape"`
	Duration        int      `json:"duration" validate:"oneof=10 15"`
	Quality         string   `json:"quality" validate:"oneof=standard pro"`
	Size            string   `json:"size" validate:"omitempty,oneof=standard high"`
	RemoveWatermark *bool    `json:"remove_watermark"`
}

func (p *sora2Params) normalize() {
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.ImageURLs = trimStrings(p.ImageURLs)
	p.AspectRatio = strings.ToLower(strings.TrimSpace(p.AspectRatio))
	if p.AspectRatio == "" {
		p.AspectRatio = "landscape"
	}
	if p.Duration == 0 {
		p.Duration = 10
	}
	p.Quality = strings.ToLower(strings.TrimSpace(p.Quality))
	if p.Quality == "" {
		p.Quality = sora2QualityStandard
	}
	p.Size = strings.ToLower(strings.TrimSpace(p.Size))
}

// Sora2 Kie Jobs 上的 OpenAI Sora 2，pro 版本费用为三倍
type Sora2 struct {
	kieJobProvider
}

func NewSora2(client *kieClient) *Sora2 {
	return &Sora2{kieJobProvider{id: Sora2ID, client: client}}
}

func (p *Sora2) Describe() Descriptor {
	return Descriptor{
		ID:           p.id,
		Vendor:       kieVendor,
		Types:        []entity.TaskType{entity.TaskTypeTextToVideo, entity.TaskTypeImageToVideo},
		MaxImageURLs: 1,
		Labels:       p.Labels(),
		Async:        true,
	}
}

func (p *Sora2) Prepare(raw json.RawMessage) (*Job, error) {
	var params sora2Params
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Size != "" && params.Quality != sora2QualityPro {
		return nil, invalidf("size is only supported with pro quality")
	}

	taskType := entity.TaskTypeTextToVideo
	mode := "text-to-video"
	if len(params.ImageURLs) > 0 {
		taskType = entity.TaskTypeImageToVideo
		mode = "image-to-video"
	}
	model := "sora-2-" + mode
	cost := sora2Cost[params.Duration]
	if params.Quality == sora2QualityPro {
		model = "sora-2-pro-" + mode
		cost *= sora2ProMultiplier
	}

	input := map[string]any{
		"prompt":       params.Prompt,
		"aspect_ratio": params.AspectRatio,
		"n_frames":     strconv.Itoa(params.Duration),
	}
	if len(params.ImageURLs) > 0 {
		input["image_urls"] = params.ImageURLs
	}
	if params.Size != "" {
		input["size"] = params.Size
	}
	removeWatermark := true
	if params.RemoveWatermark != nil {
		removeWatermark = *params.RemoveWatermark
	}
	input["remove_watermark"] = removeWatermark

	return &Job{
		Provider: p.id,
		Type:     taskType,
		Model:    model,
		Input:    input,
		Cost:     cost,
	}, nil
}

var (
	_ Provider = (*Sora2)(nil)
	_ Poller   = (*Sora2)(nil)
)
