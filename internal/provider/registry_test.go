package provider

import (
	"context"
	"errors"
	"testing"

	"mediagen/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func jsonResult(raw string) gjson.Result {
	return gjson.Parse(raw)
}

func TestNewRegistryRegistersConfiguredVendors(t *testing.T) {
	registry := NewRegistry(config.Config{FalAPIKey: "fal", KieAPIKey: "kie", VendorTimeoutSecs: 5})
	assert.Equal(t, []string{NanoBananaID, Sora2ID, UpscalerID, Veo3ID, Wan25ID}, registry.IDs())

	p, err := registry.Get(" Sora2 ")
	require.NoError(t, err)
	assert.Equal(t, KieJobLabels, p.Labels())

	_, err = registry.Get(SeedreamID)
	assert.Error(t, err)

	descriptors := registry.List()
	require.Len(t, descriptors, 5)
	assert.Equal(t, NanoBananaID, descriptors[0].ID)
	assert.Equal(t, NanoBananaMaxImageURLs, descriptors[0].MaxImageURLs)
}

func TestSeedreamRun(t *testing.T) {
	p := NewSeedream("ark-key", "")
	var got seedreamRequest
	p.generate = func(_ context.Context, apiKey string, request seedreamRequest) ([]string, error) {
		assert.Equal(t, "ark-key", apiKey)
		got = request
		return []string{"https://ark.example.com/1.png"}, nil
	}

	job, err := p.Prepare([]byte(`{"prompt":"city at night","image_urls":["https://a/ref.png"]}`))
	require.NoError(t, err)
	sub, err := p.Submit(context.Background(), job, "")
	require.NoError(t, err)
	assert.Contains(t, sub.RequestID, "seedream_")

	outcome, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, outcome.State)
	assert.Equal(t, []string{"https://ark.example.com/1.png"}, outcome.MediaURLs)
	assert.Equal(t, "city at night", got.Prompt)
	assert.Equal(t, []string{"https://a/ref.png"}, got.Images)
	assert.Equal(t, "2K", got.Size)

	p.generate = func(context.Context, string, seedreamRequest) ([]string, error) {
		return nil, errors.New("quota exceeded")
	}
	outcome, err = p.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, "quota exceeded", outcome.ErrorMessage)

	_, err = p.ParseWebhook([]byte(`{}`))
	assert.ErrorIs(t, err, ErrWebhookUnsupported)

	_, err = NewSeedream("", "").Submit(context.Background(), job, "")
	assert.Error(t, err)
}
