// Package api exposes the ingest/ops HTTP surface. It publishes external
// facts (fetch requests, proposals) onto the bus and serves read-only views
// of jobs, decisions, and pricing.
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pricegov/internal/bus"
	"pricegov/internal/events"
	"pricegov/internal/governance"
	"pricegov/internal/models"
	"pricegov/internal/ratelimit"
	"pricegov/internal/store"
	"pricegov/internal/telemetry"
)

// Per-request token costs. A fetch request fans out to every configured
// source, so it is charged more than a single proposal.
const (
	costFetchRequest = 2
	costProposal     = 1
)

// Server wires the HTTP handlers.
type Server struct {
	bus        *bus.Bus
	store      store.Store
	guardrails *governance.GuardrailProvider
	limiter    *ratelimit.Limiter
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(b *bus.Bus, st store.Store, gp *governance.GuardrailProvider, limiter *ratelimit.Limiter) *Server {
	return &Server{bus: b, store: st, guardrails: gp, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/fetch-requests", s.handleFetchRequest)
	r.Post("/proposals", s.handleProposal)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/decisions/{id}", s.handleGetDecision)
	r.Get("/pricing/{id}", s.handleGetPricing)
	r.Get("/guardrails", s.handleGetGuardrails)
	r.Put("/guardrails", s.handlePutGuardrails)
	return r
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, cost int) bool {
	if s.limiter == nil {
		return true
	}
	dec, err := s.limiter.Allow(r.Context(), tenantFromRequest(r), cost)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatFloat(dec.Remaining, 'f', 2, 64))
	if !dec.Allowed {
		telemetry.RateLimitRejects.Inc()
		if dec.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(dec.RetryAfter.Seconds()))))
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

// handleFetchRequest accepts a market fetch request and publishes it. The
// coordinator picks it up asynchronously; 202 means accepted, not done.
func (s *Server) handleFetchRequest(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, costFetchRequest) {
		return
	}
	var req events.FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.bus.Publish(r.Context(), req); err != nil {
		var verr *events.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": req.RequestID})
}

// handleProposal accepts an optimizer proposal and publishes it.
func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, costProposal) {
		return
	}
	var prop events.Proposal
	if err := json.NewDecoder(r.Body).Decode(&prop); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.bus.Publish(r.Context(), prop); err != nil {
		var verr *events.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"proposal_id": prop.ProposalID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetDecision(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetPricing(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetGuardrails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guardrails.Snapshot())
}

// handlePutGuardrails swaps the guardrail config. Decisions in flight keep
// the snapshot they already read.
func (s *Server) handlePutGuardrails(w http.ResponseWriter, r *http.Request) {
	var cfg models.GuardrailConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if cfg.MinMargin < 0 || cfg.MaxDelta < 0 {
		http.Error(w, "thresholds must not be negative", http.StatusBadRequest)
		return
	}
	s.guardrails.Update(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
