package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// quoteResponse is the wire shape expected from a source endpoint.
type quoteResponse struct {
	Quotes []struct {
		OurPrice        float64 `json:"our_price"`
		CompetitorPrice float64 `json:"competitor_price"`
		ObservedAt      string  `json:"observed_at"`
	} `json:"quotes"`
}

// HTTP fetches quotes from a per-source REST endpoint.
type HTTP struct {
	name   string
	client *resty.Client
}

// NewHTTP builds a connector for one source base URL.
func NewHTTP(name, baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)
	return &HTTP{name: name, client: client}
}

func (h *HTTP) Name() string { return h.name }

// Fetch issues GET /quotes?sku=&market=&depth= and maps the response.
func (h *HTTP) Fetch(ctx context.Context, sku, market string, depth int) ([]Quote, error) {
	var body quoteResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sku":    sku,
			"market": market,
			"depth":  fmt.Sprintf("%d", depth),
		}).
		SetResult(&body).
		Get("/quotes")
	if err != nil {
		return nil, &SourceError{Source: h.name, Err: err}
	}
	if resp.IsError() {
		return nil, &SourceError{Source: h.name, Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	quotes := make([]Quote, 0, len(body.Quotes))
	for _, q := range body.Quotes {
		observed := time.Now().UTC()
		if q.ObservedAt != "" {
			if t, err := time.Parse(time.RFC3339, q.ObservedAt); err == nil {
				observed = t
			}
		}
		quotes = append(quotes, Quote{
			OurPrice:        q.OurPrice,
			CompetitorPrice: q.CompetitorPrice,
			ObservedAt:      observed,
		})
		if len(quotes) == depth {
			break
		}
	}
	return quotes, nil
}

// Static serves fixture quotes; used in local runs and tests.
type Static struct {
	name   string
	quotes []Quote
	err    error
}

func NewStatic(name string, quotes []Quote) *Static {
	return &Static{name: name, quotes: quotes}
}

// NewFailingStatic always fails; used to exercise per-source isolation.
func NewFailingStatic(name string, err error) *Static {
	return &Static{name: name, err: err}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Fetch(_ context.Context, _, _ string, depth int) ([]Quote, error) {
	if s.err != nil {
		return nil, &SourceError{Source: s.name, Err: s.err}
	}
	if depth > len(s.quotes) {
		depth = len(s.quotes)
	}
	out := make([]Quote, depth)
	copy(out, s.quotes[:depth])
	return out, nil
}
