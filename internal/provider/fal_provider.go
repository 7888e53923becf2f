package provider

import (
	"context"
)

// falProvider fal.ai 队列模型的公共部分
type falProvider struct {
	id    string
	queue *falQueue
}

func (p *falProvider) ID() string {
	return p.id
}

func (p *falProvider) Labels() StatusLabels {
	return DefaultLabels
}

func (p *falProvider) Submit(ctx context.Context, job *Job, callbackURL string) (*Submission, error) {
	return p.queue.submit(ctx, p.id, job.Model, job.Input, callbackURL)
}

func (p *falProvider) ParseWebhook(body []byte) (*Outcome, error) {
	return parseFalWebhook(body)
}

func (p *falProvider) Poll(ctx context.Context, requestID, model string) (*Outcome, error) {
	return p.queue.poll(ctx, p.id, requestID, model)
}
