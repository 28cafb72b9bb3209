package governance

import (
	"sync/atomic"

	"pricegov/internal/models"
)

// GuardrailProvider hands out immutable guardrail snapshots. Every decision
// reads exactly one snapshot, so a concurrent config change can never split a
// single evaluation.
type GuardrailProvider struct {
	v atomic.Pointer[models.GuardrailConfig]
}

func NewGuardrailProvider(cfg models.GuardrailConfig) *GuardrailProvider {
	p := &GuardrailProvider{}
	p.v.Store(&cfg)
	return p
}

// Snapshot returns the current config by value.
func (p *GuardrailProvider) Snapshot() models.GuardrailConfig {
	return *p.v.Load()
}

// Update replaces the config. Decisions already in flight keep the snapshot
// they read.
func (p *GuardrailProvider) Update(cfg models.GuardrailConfig) {
	p.v.Store(&cfg)
}
