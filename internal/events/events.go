// Package events defines the bus topics and their payload schemas. Each topic
// carries exactly one payload type; payloads are validated at the bus boundary
// before an event is accepted.
package events

import (
	"fmt"
	"time"
)

// Topic names a channel with a fixed payload schema.
type Topic string

const (
	TopicMarketFetchRequest Topic = "MARKET_FETCH_REQUEST"
	TopicMarketFetchAck     Topic = "MARKET_FETCH_ACK"
	TopicMarketFetchDone    Topic = "MARKET_FETCH_DONE"
	TopicMarketTick         Topic = "MARKET_TICK"
	TopicPriceProposal      Topic = "PRICE_PROPOSAL"
	TopicPriceUpdate        Topic = "PRICE_UPDATE"
	TopicAlert              Topic = "ALERT"
)

// Payload is implemented by every topic payload. The topic is derived from
// the payload type, so a payload can never be published on the wrong topic.
type Payload interface {
	Topic() Topic
	CorrelationID() string
	Validate() error
}

// Envelope is the record accepted by the bus and mirrored to the journal.
// Envelopes are immutable after publish.
type Envelope struct {
	Topic         Topic     `json:"topic"`
	Payload       Payload   `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
}

// ValidationError reports a malformed payload, rejected synchronously to the
// publisher.
type ValidationError struct {
	Topic Topic
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s: %s", e.Topic, e.Field, e.Msg)
}

func invalid(topic Topic, field, msg string) error {
	return &ValidationError{Topic: topic, Field: field, Msg: msg}
}

// FetchRequest asks the coordinator to collect market data for one SKU.
type FetchRequest struct {
	RequestID string   `json:"request_id"`
	SKU       string   `json:"sku"`
	Market    string   `json:"market"`
	Sources   []string `json:"sources"`
	URLs      []string `json:"urls,omitempty"`
	Depth     int      `json:"depth"`
}

func (FetchRequest) Topic() Topic            { return TopicMarketFetchRequest }
func (p FetchRequest) CorrelationID() string { return p.RequestID }

func (p FetchRequest) Validate() error {
	switch {
	case p.RequestID == "":
		return invalid(p.Topic(), "request_id", "required")
	case p.SKU == "":
		return invalid(p.Topic(), "sku", "required")
	case p.Market == "":
		return invalid(p.Topic(), "market", "required")
	case len(p.Sources) == 0:
		return invalid(p.Topic(), "sources", "at least one source required")
	case p.Depth <= 0:
		return invalid(p.Topic(), "depth", "must be positive")
	}
	return nil
}

// FetchAck acknowledges that a fetch request produced a tracked job.
type FetchAck struct {
	RequestID string `json:"request_id"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (FetchAck) Topic() Topic            { return TopicMarketFetchAck }
func (p FetchAck) CorrelationID() string { return p.RequestID }

func (p FetchAck) Validate() error {
	switch {
	case p.RequestID == "":
		return invalid(p.Topic(), "request_id", "required")
	case p.JobID == "":
		return invalid(p.Topic(), "job_id", "required")
	case p.Status == "":
		return invalid(p.Topic(), "status", "required")
	}
	return nil
}

// FetchDone reports the terminal outcome of an ingestion job.
type FetchDone struct {
	RequestID string `json:"request_id"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	TickCount int    `json:"tick_count"`
}

func (FetchDone) Topic() Topic            { return TopicMarketFetchDone }
func (p FetchDone) CorrelationID() string { return p.RequestID }

func (p FetchDone) Validate() error {
	switch {
	case p.RequestID == "":
		return invalid(p.Topic(), "request_id", "required")
	case p.JobID == "":
		return invalid(p.Topic(), "job_id", "required")
	case p.Status == "":
		return invalid(p.Topic(), "status", "required")
	case p.TickCount < 0:
		return invalid(p.Topic(), "tick_count", "must not be negative")
	}
	return nil
}

// Tick republishes one ingested market observation.
type Tick struct {
	SKU             string    `json:"sku"`
	Market          string    `json:"market"`
	OurPrice        float64   `json:"our_price"`
	CompetitorPrice float64   `json:"competitor_price"`
	Source          string    `json:"source"`
	ObservedAt      time.Time `json:"observed_at"`
}

func (Tick) Topic() Topic            { return TopicMarketTick }
func (p Tick) CorrelationID() string { return p.SKU }

func (p Tick) Validate() error {
	switch {
	case p.SKU == "":
		return invalid(p.Topic(), "sku", "required")
	case p.Market == "":
		return invalid(p.Topic(), "market", "required")
	case p.Source == "":
		return invalid(p.Topic(), "source", "required")
	case p.CompetitorPrice <= 0:
		return invalid(p.Topic(), "competitor_price", "must be positive")
	case p.ObservedAt.IsZero():
		return invalid(p.Topic(), "observed_at", "required")
	}
	return nil
}

// Proposal carries a price change suggested by the external optimizer.
type Proposal struct {
	ProposalID    string  `json:"proposal_id"`
	ProductID     string  `json:"product_id"`
	PreviousPrice float64 `json:"previous_price"`
	ProposedPrice float64 `json:"proposed_price"`
	Algorithm     string  `json:"algorithm"`
	Reason        string  `json:"reason"`
}

func (Proposal) Topic() Topic            { return TopicPriceProposal }
func (p Proposal) CorrelationID() string { return p.ProposalID }

func (p Proposal) Validate() error {
	switch {
	case p.ProposalID == "":
		return invalid(p.Topic(), "proposal_id", "required")
	case p.ProductID == "":
		return invalid(p.Topic(), "product_id", "required")
	case p.ProposedPrice <= 0:
		return invalid(p.Topic(), "proposed_price", "must be positive")
	case p.Algorithm == "":
		return invalid(p.Topic(), "algorithm", "required")
	}
	return nil
}

// PriceUpdate announces a committed price change. Published only after the
// decision record and the new price are durable.
type PriceUpdate struct {
	ProposalID string  `json:"proposal_id"`
	ProductID  string  `json:"product_id"`
	FinalPrice float64 `json:"final_price"`
}

func (PriceUpdate) Topic() Topic            { return TopicPriceUpdate }
func (p PriceUpdate) CorrelationID() string { return p.ProposalID }

func (p PriceUpdate) Validate() error {
	switch {
	case p.ProposalID == "":
		return invalid(p.Topic(), "proposal_id", "required")
	case p.ProductID == "":
		return invalid(p.Topic(), "product_id", "required")
	case p.FinalPrice <= 0:
		return invalid(p.Topic(), "final_price", "must be positive")
	}
	return nil
}

// Alert is consumed by an external notification collaborator.
type Alert struct {
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Ref      string `json:"ref,omitempty"`
}

func (Alert) Topic() Topic            { return TopicAlert }
func (p Alert) CorrelationID() string { return p.Ref }

func (p Alert) Validate() error {
	switch {
	case p.Severity == "":
		return invalid(p.Topic(), "severity", "required")
	case p.Kind == "":
		return invalid(p.Topic(), "kind", "required")
	case p.Message == "":
		return invalid(p.Topic(), "message", "required")
	}
	return nil
}
