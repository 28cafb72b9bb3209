// Package governance consumes price proposals, enforces guardrails, and
// applies approved changes to the live price under optimistic concurrency.
// Every proposal ends in exactly one terminal decision state, written to the
// decision log before any externally observable side effect.
package governance

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"pricegov/internal/bus"
	"pricegov/internal/events"
	"pricegov/internal/models"
	"pricegov/internal/obs"
	"pricegov/internal/store"
	"pricegov/internal/telemetry"
	"pricegov/internal/worker"
)

const actorAuto = "governance-agent"

// Options bound the compare-and-swap retry loop. Retries cover transient
// persistence contention only; a clean swap miss is terminal STALE and is
// never retried.
type Options struct {
	CASMaxAttempts int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (o Options) withDefaults() Options {
	if o.CASMaxAttempts <= 0 {
		o.CASMaxAttempts = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 50 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Second
	}
	return o
}

// Agent is the governance execution agent.
type Agent struct {
	bus        *bus.Bus
	store      store.Store
	guardrails *GuardrailProvider
	pool       *worker.Pool
	opts       Options
}

func New(b *bus.Bus, st store.Store, gp *GuardrailProvider, pool *worker.Pool, opts Options) *Agent {
	return &Agent{bus: b, store: st, guardrails: gp, pool: pool, opts: opts.withDefaults()}
}

// Register subscribes the agent on the bus; proposals are handed to the
// worker pool so the publisher is never blocked on persistence.
func (a *Agent) Register() {
	a.bus.Subscribe(events.TopicPriceProposal, func(_ context.Context, env events.Envelope) {
		prop, ok := env.Payload.(events.Proposal)
		if !ok {
			obs.Logger.Error("unexpected payload type on proposal topic", "correlation_id", env.CorrelationID)
			return
		}
		if !a.pool.Submit(func(ctx context.Context) { a.Process(ctx, prop) }) {
			obs.Logger.Warn("proposal dropped, worker pool saturated", "proposal_id", prop.ProposalID)
		}
	})
}

// Process runs the per-proposal state machine:
// RECEIVED -> REJECTED | STALE | APPLIED_AUTO | APPLY_FAILED.
func (a *Agent) Process(ctx context.Context, prop events.Proposal) {
	now := time.Now().UTC()
	inserted, err := a.store.InsertDecision(ctx, models.DecisionRecord{
		ProposalID: prop.ProposalID,
		State:      models.DecisionReceived,
		Actor:      actorAuto,
		Reason:     prop.Reason,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		obs.Logger.Error("decision receipt failed", "proposal_id", prop.ProposalID, "error", err)
		return
	}
	if !inserted {
		// Redelivery of a proposal we already own. At-most-once processing
		// means we stop here, whatever state the record is in.
		obs.Logger.Info("duplicate proposal ignored", "proposal_id", prop.ProposalID)
		return
	}
	telemetry.Decisions.WithLabelValues(models.DecisionReceived).Inc()

	snap := a.guardrails.Snapshot()
	if !snap.AutoApply {
		// Manual-approval path: the record stays at RECEIVED for an operator.
		obs.Logger.Info("auto-apply disabled, proposal left for manual review", "proposal_id", prop.ProposalID)
		return
	}

	// The proposal's previous_price is advisory only; the decision always
	// reads the live price.
	pricing, err := a.store.GetPricing(ctx, prop.ProductID)
	if err != nil {
		a.fail(ctx, prop, 0, 0, 0, fmt.Sprintf("pricing record not found: %v", err))
		return
	}
	basePrice := pricing.CurrentPrice
	if basePrice <= 0 {
		a.fail(ctx, prop, basePrice, 0, 0, fmt.Sprintf("base price %.4f is not positive", basePrice))
		return
	}
	deltaPct := math.Abs(prop.ProposedPrice-basePrice) / basePrice
	marginPct := (prop.ProposedPrice - pricing.Cost) / prop.ProposedPrice

	if deltaPct > snap.MaxDelta {
		a.reject(ctx, prop, basePrice, deltaPct, marginPct,
			fmt.Sprintf("delta %.4f exceeds max_delta %.4f", deltaPct, snap.MaxDelta))
		return
	}
	if marginPct < snap.MinMargin {
		a.reject(ctx, prop, basePrice, deltaPct, marginPct,
			fmt.Sprintf("margin %.4f below min_margin %.4f", marginPct, snap.MinMargin))
		return
	}

	a.apply(ctx, prop, basePrice, deltaPct, marginPct)
}

// apply runs the atomic swap with bounded retries. Only persistence errors
// retry; each attempt re-reads the base price and nothing else. A swap miss
// is the normal STALE outcome.
func (a *Agent) apply(ctx context.Context, prop events.Proposal, basePrice, deltaPct, marginPct float64) {
	var lastErr error
	for attempt := 1; attempt <= a.opts.CASMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				a.fail(ctx, prop, basePrice, deltaPct, marginPct, fmt.Sprintf("apply cancelled: %v", ctx.Err()))
				return
			case <-time.After(backoffWithJitter(a.opts.BackoffInitial, a.opts.BackoffMax, attempt-1)):
			}
			pricing, err := a.store.GetPricing(ctx, prop.ProductID)
			if err != nil {
				lastErr = err
				continue
			}
			basePrice = pricing.CurrentPrice
		}

		swapped, err := a.store.CompareAndSwapPrice(ctx, prop.ProductID, basePrice, prop.ProposedPrice)
		if err != nil {
			lastErr = err
			continue
		}
		if !swapped {
			a.transition(ctx, prop, models.DecisionStale, basePrice, deltaPct, marginPct,
				fmt.Sprintf("price changed concurrently, expected %.4f", basePrice))
			a.alert(ctx, "warning", "proposal_stale", prop.ProposalID,
				fmt.Sprintf("proposal %s for %s went stale", prop.ProposalID, prop.ProductID))
			return
		}

		// Commit the terminal state before announcing the change; the
		// update event is only ever observed after the decision is durable.
		if err := a.transition(ctx, prop, models.DecisionAppliedAuto, basePrice, deltaPct, marginPct, prop.Reason); err != nil {
			// The price is already swapped; the record still has to leave
			// RECEIVED, so fall back to APPLY_FAILED with the error on it.
			a.fail(ctx, prop, basePrice, deltaPct, marginPct,
				fmt.Sprintf("price applied but decision write failed: %v", err))
			return
		}
		if err := a.bus.Publish(ctx, events.PriceUpdate{
			ProposalID: prop.ProposalID,
			ProductID:  prop.ProductID,
			FinalPrice: prop.ProposedPrice,
		}); err != nil {
			obs.Logger.Error("publish price update failed", "proposal_id", prop.ProposalID, "error", err)
		}
		return
	}

	a.fail(ctx, prop, basePrice, deltaPct, marginPct, fmt.Sprintf("apply exhausted retries: %v", lastErr))
}

func (a *Agent) reject(ctx context.Context, prop events.Proposal, basePrice, deltaPct, marginPct float64, reason string) {
	a.transition(ctx, prop, models.DecisionRejected, basePrice, deltaPct, marginPct, reason)
	a.alert(ctx, "info", "proposal_rejected", prop.ProposalID,
		fmt.Sprintf("proposal %s for %s rejected: %s", prop.ProposalID, prop.ProductID, reason))
}

func (a *Agent) fail(ctx context.Context, prop events.Proposal, basePrice, deltaPct, marginPct float64, reason string) {
	a.transition(ctx, prop, models.DecisionApplyFailed, basePrice, deltaPct, marginPct, reason)
	a.alert(ctx, "error", "apply_failed", prop.ProposalID,
		fmt.Sprintf("proposal %s for %s failed to apply: %s", prop.ProposalID, prop.ProductID, reason))
}

func (a *Agent) transition(ctx context.Context, prop events.Proposal, state string, basePrice, deltaPct, marginPct float64, reason string) error {
	err := a.store.UpdateDecision(ctx, store.UpdateDecisionParams{
		ProposalID: prop.ProposalID,
		State:      state,
		BasePrice:  basePrice,
		DeltaPct:   deltaPct,
		MarginPct:  marginPct,
		Reason:     reason,
	})
	if err != nil {
		obs.Logger.Error("decision transition failed",
			"proposal_id", prop.ProposalID, "state", state, "error", err)
		return err
	}
	telemetry.Decisions.WithLabelValues(state).Inc()
	obs.Logger.Info("decision recorded",
		"proposal_id", prop.ProposalID, "state", state, "reason", reason)
	return nil
}

func (a *Agent) alert(ctx context.Context, severity, kind, ref, message string) {
	if err := a.bus.Publish(ctx, events.Alert{Severity: severity, Kind: kind, Message: message, Ref: ref}); err != nil {
		obs.Logger.Warn("publish alert failed", "ref", ref, "error", err)
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
