package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mediagen/internal/config"

	"github.com/sirupsen/logrus"
)

// Registry 按 id 查找 Provider
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewEmptyRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewRegistry 根据配置注册供应商，缺少密钥的供应商不注册
func NewRegistry(cfg config.Config) *Registry {
	registry := NewEmptyRegistry()
	timeout := time.Duration(cfg.VendorTimeoutSecs) * time.Second

	if strings.TrimSpace(cfg.FalAPIKey) != "" {
		queue := newFalQueue(cfg.FalAPIKey, cfg.FalQueueBaseURL, timeout)
		registry.Register(NewNanoBanana(queue))
		registry.Register(NewUpscaler(queue))
	} else {
		logrus.WithField("vendor", falVendor).Warn("provider_vendor_disabled")
	}

	if strings.TrimSpace(cfg.KieAPIKey) != "" {
		client := newKieClient(cfg.KieAPIKey, cfg.KieBaseURL, timeout)
		registry.Register(NewVeo3(client))
		registry.Register(NewSora2(client))
		registry.Register(NewWan25(client))
	} else {
		logrus.WithField("vendor", kieVendor).Warn("provider_vendor_disabled")
	}

	if strings.TrimSpace(cfg.VolcengineAPIKey) != "" {
		registry.Register(NewSeedream(cfg.VolcengineAPIKey, cfg.SeedreamModel))
	} else {
		logrus.WithField("vendor", "volcengine").Warn("provider_vendor_disabled")
	}

	logrus.WithField("providers", registry.IDs()).Info("provider_registry_ready")
	return registry
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", id)
	}
	return p, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List 返回按 id 排序的供应商描述
func (r *Registry) List() []Descriptor {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.providers[id].Describe())
	}
	return out
}
