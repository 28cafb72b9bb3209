// Package connector defines the per-source market-data contract and the
// connectors shipped with the pipeline.
package connector

import (
	"context"
	"fmt"
	"time"
)

// Quote is one observation returned by a source.
type Quote struct {
	OurPrice        float64
	CompetitorPrice float64
	ObservedAt      time.Time
}

// Connector fetches up to depth quotes for one SKU in one market. A failure
// is scoped to the source: the coordinator records it and keeps going with
// the other sources.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, sku, market string, depth int) ([]Quote, error)
}

// SourceError wraps a single-source failure with its source name.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Registry resolves configured source names to connectors.
type Registry struct {
	byName map[string]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{byName: make(map[string]Connector)}
	for _, c := range connectors {
		r.byName[c.Name()] = c
	}
	return r
}

// Lookup returns the connector for a source name.
func (r *Registry) Lookup(name string) (Connector, bool) {
	c, ok := r.byName[name]
	return c, ok
}
