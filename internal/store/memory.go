package store

import (
	"context"
	"sync"
	"time"

	"pricegov/internal/models"
)

// Memory implements Store in process memory. It mirrors the transition guards
// of the Postgres implementation and is used by tests and local runs.
type Memory struct {
	mu        sync.RWMutex
	jobs      map[string]models.IngestionJob
	ticks     []models.MarketTick
	decisions map[string]models.DecisionRecord
	pricing   map[string]models.PricingRecord
	audits    []models.JobAudit
}

func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]models.IngestionJob),
		decisions: make(map[string]models.DecisionRecord),
		pricing:   make(map[string]models.PricingRecord),
	}
}

func (s *Memory) Close() {}

func (s *Memory) CreateJob(_ context.Context, job models.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return ErrStateConflict
	}
	s.jobs[job.JobID] = job
	return nil
}

func (s *Memory) MarkJobRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.JobQueued {
		return ErrStateConflict
	}
	job.Status = models.JobRunning
	s.jobs[jobID] = job
	return nil
}

func (s *Memory) CompleteJob(_ context.Context, jobID, status string, tickCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.JobRunning {
		return ErrStateConflict
	}
	now := time.Now().UTC()
	job.Status = status
	job.TickCount = tickCount
	job.CompletedAt = &now
	s.jobs[jobID] = job
	return nil
}

func (s *Memory) GetJob(_ context.Context, jobID string) (models.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return models.IngestionJob{}, ErrNotFound
	}
	return job, nil
}

func (s *Memory) AppendJobAudit(_ context.Context, jobID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, models.JobAudit{JobID: jobID, Event: event, Detail: detail, Recorded: time.Now().UTC()})
	return nil
}

func (s *Memory) InsertTick(_ context.Context, tick models.MarketTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tick)
	return nil
}

func (s *Memory) InsertDecision(_ context.Context, rec models.DecisionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[rec.ProposalID]; ok {
		return false, nil
	}
	s.decisions[rec.ProposalID] = rec
	return true, nil
}

func (s *Memory) UpdateDecision(_ context.Context, p UpdateDecisionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.decisions[p.ProposalID]
	if !ok {
		return ErrNotFound
	}
	if rec.State != models.DecisionReceived {
		return ErrStateConflict
	}
	rec.State = p.State
	rec.BasePriceAtDecision = p.BasePrice
	rec.DeltaPct = p.DeltaPct
	rec.MarginPct = p.MarginPct
	rec.Reason = p.Reason
	rec.UpdatedAt = time.Now().UTC()
	s.decisions[p.ProposalID] = rec
	return nil
}

func (s *Memory) GetDecision(_ context.Context, proposalID string) (models.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.decisions[proposalID]
	if !ok {
		return models.DecisionRecord{}, ErrNotFound
	}
	return rec, nil
}

// UpsertPricing seeds or refreshes a pricing row. An existing row keeps its
// current price; only the compare-and-swap mutates it.
func (s *Memory) UpsertPricing(_ context.Context, rec models.PricingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pricing[rec.ProductID]
	if ok {
		existing.Cost = rec.Cost
		existing.UpdatedAt = time.Now().UTC()
		s.pricing[rec.ProductID] = existing
		return nil
	}
	rec.UpdatedAt = time.Now().UTC()
	s.pricing[rec.ProductID] = rec
	return nil
}

func (s *Memory) GetPricing(_ context.Context, productID string) (models.PricingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.pricing[productID]
	if !ok {
		return models.PricingRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *Memory) CompareAndSwapPrice(_ context.Context, productID string, expected, next float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pricing[productID]
	if !ok {
		return false, ErrNotFound
	}
	if rec.CurrentPrice != expected {
		return false, nil
	}
	rec.CurrentPrice = next
	rec.UpdatedAt = time.Now().UTC()
	s.pricing[productID] = rec
	return true, nil
}

// SetPrice force-sets a price outside the compare-and-swap path. Test helper
// for simulating an external price change.
func (s *Memory) SetPrice(productID string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.pricing[productID]
	rec.ProductID = productID
	rec.CurrentPrice = price
	rec.UpdatedAt = time.Now().UTC()
	s.pricing[productID] = rec
}

// Ticks returns a copy of all ingested ticks. Test helper.
func (s *Memory) Ticks() []models.MarketTick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MarketTick, len(s.ticks))
	copy(out, s.ticks)
	return out
}

// Audits returns a copy of all job audit rows. Test helper.
func (s *Memory) Audits() []models.JobAudit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.JobAudit, len(s.audits))
	copy(out, s.audits)
	return out
}
