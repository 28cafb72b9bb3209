package governance

import (
	"context"
	"testing"
	"time"

	"pricegov/internal/bus"
	"pricegov/internal/events"
	"pricegov/internal/models"
	"pricegov/internal/store"
	"pricegov/internal/worker"
)

func TestBackoffWithJitter(t *testing.T) {
	base := 50 * time.Millisecond
	max := 400 * time.Millisecond

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}

func TestProposalViaBusIsProcessedOffDispatchPath(t *testing.T) {
	st := store.NewMemory()
	if err := st.UpsertPricing(context.Background(), models.PricingRecord{ProductID: "SKU1", CurrentPrice: 100, Cost: 90}); err != nil {
		t.Fatalf("seed pricing: %v", err)
	}

	b := bus.New(nil)
	pool := worker.NewPool(2, 8)
	pool.Start(context.Background())
	defer pool.Stop()

	agent := New(b, st, NewGuardrailProvider(models.GuardrailConfig{AutoApply: true, MinMargin: 0.12, MaxDelta: 0.10}), pool, Options{})
	agent.Register()

	err := b.Publish(context.Background(), events.Proposal{
		ProposalID:    "prop-bus",
		ProductID:     "SKU1",
		PreviousPrice: 100,
		ProposedPrice: 108,
		Algorithm:     "match-competitor",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, err := st.GetDecision(context.Background(), "prop-bus"); err == nil && models.TerminalDecision(rec.State) {
			if rec.State != models.DecisionAppliedAuto {
				t.Fatalf("expected APPLIED_AUTO, got %s (%s)", rec.State, rec.Reason)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("proposal never reached a terminal decision")
}
