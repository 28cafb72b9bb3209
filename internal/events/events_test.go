package events

import (
	"errors"
	"testing"
	"time"
)

func TestFetchRequestValidate(t *testing.T) {
	req := FetchRequest{
		RequestID: "req-1",
		SKU:       "SKU1",
		Market:    "us",
		Sources:   []string{"alpha"},
		Depth:     3,
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	bad := req
	bad.Sources = nil
	err := bad.Validate()
	if err == nil {
		t.Fatalf("expected validation error for empty sources")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Field != "sources" {
		t.Fatalf("expected sources field, got %q", verr.Field)
	}

	bad = req
	bad.Depth = 0
	if bad.Validate() == nil {
		t.Fatalf("expected validation error for zero depth")
	}
}

func TestProposalValidate(t *testing.T) {
	prop := Proposal{
		ProposalID:    "prop-1",
		ProductID:     "SKU1",
		PreviousPrice: 100,
		ProposedPrice: 108,
		Algorithm:     "match-competitor",
	}
	if err := prop.Validate(); err != nil {
		t.Fatalf("valid proposal rejected: %v", err)
	}

	bad := prop
	bad.ProposedPrice = 0
	if bad.Validate() == nil {
		t.Fatalf("expected validation error for non-positive price")
	}
}

func TestPayloadTopics(t *testing.T) {
	cases := []struct {
		payload Payload
		topic   Topic
	}{
		{FetchRequest{}, TopicMarketFetchRequest},
		{FetchAck{}, TopicMarketFetchAck},
		{FetchDone{}, TopicMarketFetchDone},
		{Tick{}, TopicMarketTick},
		{Proposal{}, TopicPriceProposal},
		{PriceUpdate{}, TopicPriceUpdate},
		{Alert{}, TopicAlert},
	}
	for _, c := range cases {
		if c.payload.Topic() != c.topic {
			t.Fatalf("expected topic %s, got %s", c.topic, c.payload.Topic())
		}
	}
}

func TestTickValidate(t *testing.T) {
	tick := Tick{
		SKU:             "SKU1",
		Market:          "us",
		OurPrice:        100,
		CompetitorPrice: 98,
		Source:          "alpha",
		ObservedAt:      time.Now(),
	}
	if err := tick.Validate(); err != nil {
		t.Fatalf("valid tick rejected: %v", err)
	}
	tick.ObservedAt = time.Time{}
	if tick.Validate() == nil {
		t.Fatalf("expected validation error for zero observed_at")
	}
}
