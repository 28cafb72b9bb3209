// Package store persists ingestion jobs, market ticks, the decision log, and
// pricing records. Two implementations exist: Postgres for production and an
// in-memory store for tests and local runs.
package store

import (
	"context"
	"errors"

	"pricegov/internal/models"
)

var (
	// ErrNotFound is returned when a job, decision, or pricing row is absent.
	ErrNotFound = errors.New("store: not found")
	// ErrStateConflict is returned when a guarded transition matches no row,
	// i.e. the entity is already past the expected state.
	ErrStateConflict = errors.New("store: state conflict")
)

// UpdateDecisionParams carries a forward-only decision transition. The update
// only applies while the record is still at RECEIVED; terminal records are
// immutable.
type UpdateDecisionParams struct {
	ProposalID string
	State      string
	BasePrice  float64
	DeltaPct   float64
	MarginPct  float64
	Reason     string
}

// Store is the shared persistence surface for the coordinator and the
// governance agent.
type Store interface {
	CreateJob(ctx context.Context, job models.IngestionJob) error
	MarkJobRunning(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID, status string, tickCount int) error
	GetJob(ctx context.Context, jobID string) (models.IngestionJob, error)
	AppendJobAudit(ctx context.Context, jobID, event, detail string) error

	InsertTick(ctx context.Context, tick models.MarketTick) error

	// InsertDecision inserts a RECEIVED record if none exists for the
	// proposal. It reports whether the insert happened; false means the
	// proposal was already seen and must not be processed again.
	InsertDecision(ctx context.Context, rec models.DecisionRecord) (bool, error)
	UpdateDecision(ctx context.Context, p UpdateDecisionParams) error
	GetDecision(ctx context.Context, proposalID string) (models.DecisionRecord, error)

	UpsertPricing(ctx context.Context, rec models.PricingRecord) error
	GetPricing(ctx context.Context, productID string) (models.PricingRecord, error)
	// CompareAndSwapPrice sets the product's price to next only if it still
	// equals expected, reporting whether the swap happened.
	CompareAndSwapPrice(ctx context.Context, productID string, expected, next float64) (bool, error)

	Close()
}
