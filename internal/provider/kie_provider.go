package provider

import (
	"context"
)

// kieJobProvider Kie Jobs 接口上的模型（sora2、wan25），状态词为 waiting/processing/success/fail
type kieJobProvider struct {
	id     string
	client *kieClient
}

func (p *kieJobProvider) ID() string {
	return p.id
}

func (p *kieJobProvider) Labels() StatusLabels {
	return KieJobLabels
}

func (p *kieJobProvider) Submit(ctx context.Context, job *Job, callbackURL string) (*Submission, error) {
	return p.client.createJob(ctx, p.id, job.Model, job.Input, callbackURL)
}

func (p *kieJobProvider) ParseWebhook(body []byte) (*Outcome, error) {
	return parseKieJobCallback(body)
}

func (p *kieJobProvider) Poll(ctx context.Context, requestID, _ string) (*Outcome, error) {
	return p.client.jobInfo(ctx, p.id, requestID)
}
