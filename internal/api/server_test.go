package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pricegov/internal/bus"
	"pricegov/internal/events"
	"pricegov/internal/governance"
	"pricegov/internal/models"
	"pricegov/internal/ratelimit"
	"pricegov/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Memory, *bus.Bus) {
	t.Helper()
	st := store.NewMemory()
	b := bus.New(nil)
	gp := governance.NewGuardrailProvider(models.GuardrailConfig{AutoApply: true, MinMargin: 0.12, MaxDelta: 0.10})
	return New(b, st, gp, nil), st, b
}

func TestPostProposalPublishesAndAccepts(t *testing.T) {
	srv, _, b := newTestServer(t)

	received := make(chan events.Proposal, 1)
	b.Subscribe(events.TopicPriceProposal, func(_ context.Context, env events.Envelope) {
		received <- env.Payload.(events.Proposal)
	})

	body := `{"proposal_id":"prop-1","product_id":"SKU1","previous_price":100,"proposed_price":108,"algorithm":"match-competitor","reason":"undercut"}`
	req := httptest.NewRequest(http.MethodPost, "/proposals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case prop := <-received:
		if prop.ProposalID != "prop-1" || prop.ProposedPrice != 108 {
			t.Fatalf("unexpected proposal on bus: %+v", prop)
		}
	case <-time.After(time.Second):
		t.Fatalf("proposal never reached the bus")
	}
}

func TestPostProposalValidationFailureIs400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"proposal_id":"","product_id":"SKU1","proposed_price":108,"algorithm":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/proposals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid payload, got %d", rec.Code)
	}
}

func TestPostFetchRequestValidationFailureIs400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"request_id":"req-1","sku":"SKU1","market":"us","sources":[],"depth":2}`
	req := httptest.NewRequest(http.MethodPost, "/fetch-requests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty sources, got %d", rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetDecisionRoundTrip(t *testing.T) {
	srv, st, _ := newTestServer(t)
	_, err := st.InsertDecision(context.Background(), models.DecisionRecord{
		ProposalID: "prop-9", State: models.DecisionRejected, Actor: "governance-agent",
		Reason: "delta too large", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed decision: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/decisions/prop-9", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got models.DecisionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != models.DecisionRejected || got.Reason != "delta too large" {
		t.Fatalf("unexpected decision: %+v", got)
	}
}

func TestGuardrailsUpdateRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"auto_apply":false,"min_margin":0.2,"max_delta":0.05}`
	req := httptest.NewRequest(http.MethodPut, "/guardrails", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/guardrails", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var cfg models.GuardrailConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.AutoApply || cfg.MinMargin != 0.2 || cfg.MaxDelta != 0.05 {
		t.Fatalf("guardrails not updated: %+v", cfg)
	}
}

func TestPutGuardrailsRejectsNegativeThresholds(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"auto_apply":true,"min_margin":-0.1,"max_delta":0.05}`
	req := httptest.NewRequest(http.MethodPut, "/guardrails", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRateLimitedProposalGets429WithRetryAfter(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	st := store.NewMemory()
	b := bus.New(nil)
	gp := governance.NewGuardrailProvider(models.GuardrailConfig{AutoApply: true, MinMargin: 0.12, MaxDelta: 0.10})
	limiter := ratelimit.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 2, 1, time.Minute)
	srv := New(b, st, gp, limiter)

	body := `{"proposal_id":"prop-rl","product_id":"SKU1","previous_price":100,"proposed_price":108,"algorithm":"match-competitor","reason":"undercut"}`
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/proposals", strings.NewReader(body))
		req.Header.Set("X-Tenant-ID", "acme")
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := post(); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := post()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the bucket drained, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("429 response missing Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Fatalf("429 response missing X-RateLimit-Remaining header")
	}

	// A fetch request costs two tokens, so a fresh tenant with the same
	// bucket size drains it in one call.
	fetch := `{"request_id":"req-rl","sku":"SKU1","market":"us","sources":["alpha"],"depth":1}`
	req := httptest.NewRequest(http.MethodPost, "/fetch-requests", strings.NewReader(fetch))
	req.Header.Set("X-Tenant-ID", "globex")
	frec := httptest.NewRecorder()
	srv.Router().ServeHTTP(frec, req)
	if frec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for fresh tenant, got %d: %s", frec.Code, frec.Body.String())
	}
	req = httptest.NewRequest(http.MethodPost, "/fetch-requests", strings.NewReader(fetch))
	req.Header.Set("X-Tenant-ID", "globex")
	frec = httptest.NewRecorder()
	srv.Router().ServeHTTP(frec, req)
	if frec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for drained tenant, got %d", frec.Code)
	}
}
