package models

import (
	"time"
)

// IngestionJob statuses persisted in the store. Transitions are monotonic:
// queued -> running -> done|failed, terminal at done/failed.
const (
	JobQueued  = "QUEUED"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
	JobFailed  = "FAILED"
)

// DecisionRecord states. Forward-only: a record starts at RECEIVED and ends
// in exactly one terminal state. APPROVED belongs to the manual-approval path
// and is never written by the auto-apply flow.
const (
	DecisionReceived    = "RECEIVED"
	DecisionApproved    = "APPROVED"
	DecisionRejected    = "REJECTED"
	DecisionAppliedAuto = "APPLIED_AUTO"
	DecisionApplyFailed = "APPLY_FAILED"
	DecisionStale       = "STALE"
)

// TerminalDecision reports whether a decision state accepts no further
// transitions.
func TerminalDecision(state string) bool {
	switch state {
	case DecisionRejected, DecisionAppliedAuto, DecisionApplyFailed, DecisionStale:
		return true
	}
	return false
}

// IngestionJob tracks one market-data collection request through to its
// terminal outcome. Rows are retained forever for audit.
type IngestionJob struct {
	JobID       string     `json:"job_id"`
	RequestID   string     `json:"request_id"`
	SKU         string     `json:"sku"`
	Market      string     `json:"market"`
	Sources     []string   `json:"sources"`
	Depth       int        `json:"depth"`
	Status      string     `json:"status"`
	TickCount   int        `json:"tick_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MarketTick is an immutable observation of our price versus a competitor's,
// attributed to the source that produced it.
type MarketTick struct {
	SKU             string    `json:"sku"`
	Market          string    `json:"market"`
	OurPrice        float64   `json:"our_price"`
	CompetitorPrice float64   `json:"competitor_price"`
	Source          string    `json:"source"`
	ObservedAt      time.Time `json:"observed_at"`
}

// PriceProposal is produced by the external optimizer and consumed at most
// once in effect, keyed by ProposalID.
type PriceProposal struct {
	ProposalID    string  `json:"proposal_id"`
	ProductID     string  `json:"product_id"`
	PreviousPrice float64 `json:"previous_price"`
	ProposedPrice float64 `json:"proposed_price"`
	Algorithm     string  `json:"algorithm"`
	Reason        string  `json:"reason"`
}

// DecisionRecord is the durable per-proposal audit record. Every proposal
// yields exactly one, and its state only moves forward.
type DecisionRecord struct {
	ProposalID          string    `json:"proposal_id"`
	State               string    `json:"state"`
	BasePriceAtDecision float64   `json:"base_price_at_decision"`
	DeltaPct            float64   `json:"delta_pct"`
	MarginPct           float64   `json:"margin_pct"`
	Actor               string    `json:"actor"`
	Reason              string    `json:"reason"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// GuardrailConfig is read as an immutable snapshot per decision, so a single
// proposal is always evaluated against one consistent set of thresholds.
type GuardrailConfig struct {
	AutoApply bool    `json:"auto_apply"`
	MinMargin float64 `json:"min_margin"`
	MaxDelta  float64 `json:"max_delta"`
}

// PricingRecord holds the live price for a product. CurrentPrice is mutated
// only by a successful compare-and-swap inside the governance agent.
type PricingRecord struct {
	ProductID    string    `json:"product_id"`
	CurrentPrice float64   `json:"current_price"`
	Cost         float64   `json:"cost"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobAudit is a simple audit row describing a job transition.
type JobAudit struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
