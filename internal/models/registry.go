// Package models holds the per-domain optimization models and their
// accuracy bookkeeping. Exactly one live model exists per domain; loading a
// new payload supersedes the previous one atomically under the registry
// lock. Models live for the process lifetime and are mutated only by the
// engine's learning step.
package models

import (
	"fmt"
	"sync"
	"time"

	"evocore/internal/patch"
)

// DefaultAlpha is the exponential-moving-average weight for accuracy
// updates: accuracy' = alpha*accuracy + (1-alpha)*improvement.
const DefaultAlpha = 0.9

// Model is one versioned optimization model. Payload is opaque; the version
// counter increments on every load or update.
type Model struct {
	Domain         patch.Domain
	Payload        []byte
	Size           uint32
	Version        uint32
	LastUpdated    time.Time
	InferenceCount uint64
	Accuracy       float64 // 0..1, exponentially weighted
}

type Registry struct {
	mu     sync.RWMutex
	alpha  float64
	models [patch.DomainCount]Model
}

func NewRegistry() *Registry {
	return NewRegistryWithAlpha(DefaultAlpha)
}

func NewRegistryWithAlpha(alpha float64) *Registry {
	r := &Registry{alpha: alpha}
	for i := range r.models {
		r.models[i].Domain = patch.Domain(i)
	}
	return r
}

// Load installs a new payload for the domain, superseding the previous one.
// Version increments; inference count and accuracy reset, since the new
// payload has no track record yet.
func (r *Registry) Load(domain patch.Domain, payload []byte) error {
	if domain < 0 || int(domain) >= patch.DomainCount {
		return fmt.Errorf("unknown model domain %d", domain)
	}
	if len(payload) == 0 {
		return fmt.Errorf("model payload for %s is empty", domain)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := &r.models[domain]
	m.Payload = append([]byte(nil), payload...)
	m.Size = uint32(len(payload))
	m.Version++
	m.LastUpdated = time.Now()
	m.InferenceCount = 0
	m.Accuracy = 0
	return nil
}

// Generate bumps the domain model's version without replacing the payload,
// marking a regeneration from accumulated history.
func (r *Registry) Generate(domain patch.Domain) error {
	if domain < 0 || int(domain) >= patch.DomainCount {
		return fmt.Errorf("unknown model domain %d", domain)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := &r.models[domain]
	m.Version++
	m.LastUpdated = time.Now()
	return nil
}

// RecordInference increments the domain's inference counter. Called once per
// analysis pass per domain touched.
func (r *Registry) RecordInference(domain patch.Domain) {
	if domain < 0 || int(domain) >= patch.DomainCount {
		return
	}
	r.mu.Lock()
	r.models[domain].InferenceCount++
	r.mu.Unlock()
}

// UpdateAccuracy folds one measured outcome into the domain's accuracy.
// A reverted optimization contributes nothing and decays the accuracy
// toward zero.
func (r *Registry) UpdateAccuracy(domain patch.Domain, actualImprovement float64, reverted bool) {
	if domain < 0 || int(domain) >= patch.DomainCount {
		return
	}
	r.mu.Lock()
	m := &r.models[domain]
	if reverted {
		m.Accuracy = r.alpha * m.Accuracy
	} else {
		m.Accuracy = r.alpha*m.Accuracy + (1-r.alpha)*actualImprovement
	}
	r.mu.Unlock()
}

// SetAccuracy seeds a domain's accuracy, e.g. when restoring an operator
// supplied prior.
func (r *Registry) SetAccuracy(domain patch.Domain, accuracy float64) {
	if domain < 0 || int(domain) >= patch.DomainCount {
		return
	}
	r.mu.Lock()
	r.models[domain].Accuracy = accuracy
	r.mu.Unlock()
}

// Model returns a deep copy of the domain's model.
func (r *Registry) Model(domain patch.Domain) (Model, error) {
	if domain < 0 || int(domain) >= patch.DomainCount {
		return Model{}, fmt.Errorf("unknown model domain %d", domain)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.models[domain]
	m.Payload = append([]byte(nil), m.Payload...)
	return m, nil
}

// Accuracies returns the current accuracy per domain, for telemetry.
func (r *Registry) Accuracies() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]float64, patch.DomainCount)
	for i := range r.models {
		out[r.models[i].Domain.String()] = r.models[i].Accuracy
	}
	return out
}
