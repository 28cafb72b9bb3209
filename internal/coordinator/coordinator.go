// Package coordinator turns market fetch requests into tracked ingestion
// jobs, drives the per-source connectors, and emits progress events.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricegov/internal/bus"
	"pricegov/internal/connector"
	"pricegov/internal/dedup"
	"pricegov/internal/events"
	"pricegov/internal/models"
	"pricegov/internal/obs"
	"pricegov/internal/store"
	"pricegov/internal/telemetry"
	"pricegov/internal/worker"
)

// Coordinator subscribes to MARKET_FETCH_REQUEST and owns the job lifecycle
// QUEUED -> RUNNING -> DONE|FAILED. Connector failures never escape it;
// callers observe only job-level outcomes.
type Coordinator struct {
	bus      *bus.Bus
	store    store.Store
	dedup    dedup.Store
	registry *connector.Registry
	pool     *worker.Pool
}

func New(b *bus.Bus, st store.Store, dd dedup.Store, reg *connector.Registry, pool *worker.Pool) *Coordinator {
	return &Coordinator{bus: b, store: st, dedup: dd, registry: reg, pool: pool}
}

// Register subscribes the coordinator on the bus. The bus handler only hands
// the request to the worker pool; all I/O happens off the dispatch path.
func (c *Coordinator) Register() {
	c.bus.Subscribe(events.TopicMarketFetchRequest, func(_ context.Context, env events.Envelope) {
		req, ok := env.Payload.(events.FetchRequest)
		if !ok {
			obs.Logger.Error("unexpected payload type on fetch-request topic", "correlation_id", env.CorrelationID)
			return
		}
		if !c.pool.Submit(func(ctx context.Context) { c.process(ctx, req) }) {
			obs.Logger.Warn("fetch request dropped, worker pool saturated", "request_id", req.RequestID)
		}
	})
}

// process runs one fetch request end to end.
func (c *Coordinator) process(ctx context.Context, req events.FetchRequest) {
	first, err := c.dedup.Mark(ctx, req.RequestID)
	if err != nil {
		obs.Logger.Error("dedup check failed", "request_id", req.RequestID, "error", err)
		return
	}
	if !first {
		// Redelivery. No second job, no second ack.
		telemetry.DuplicateFetches.Inc()
		obs.Logger.Info("duplicate fetch request ignored", "request_id", req.RequestID)
		return
	}

	job := models.IngestionJob{
		JobID:     uuid.New().String(),
		RequestID: req.RequestID,
		SKU:       req.SKU,
		Market:    req.Market,
		Sources:   req.Sources,
		Depth:     req.Depth,
		Status:    models.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		obs.Logger.Error("create job failed", "request_id", req.RequestID, "error", err)
		return
	}
	_ = c.store.AppendJobAudit(ctx, job.JobID, "queued", fmt.Sprintf("request_id=%s sku=%s market=%s", req.RequestID, req.SKU, req.Market))

	if err := c.store.MarkJobRunning(ctx, job.JobID); err != nil {
		// Leave the job QUEUED with an audit row. Publishing a FAILED event
		// for a job the store still shows as QUEUED would make the outcome
		// unexplainable from the job record.
		obs.Logger.Error("mark job running failed", "job_id", job.JobID, "error", err)
		_ = c.store.AppendJobAudit(ctx, job.JobID, "start_failed", fmt.Sprintf("error=%v", err))
		return
	}
	if err := c.bus.Publish(ctx, events.FetchAck{
		RequestID: req.RequestID,
		JobID:     job.JobID,
		Status:    models.JobRunning,
	}); err != nil {
		obs.Logger.Error("publish ack failed", "job_id", job.JobID, "error", err)
	}

	tickCount := c.collect(ctx, job, req)
	c.finish(ctx, job, tickCount)
}

// collect fans out to every configured source concurrently. Each source
// failure is recorded on its own; the rest keep going.
func (c *Coordinator) collect(ctx context.Context, job models.IngestionJob, req events.FetchRequest) int {
	var (
		mu        sync.Mutex
		tickCount int
		wg        sync.WaitGroup
	)

	for _, source := range req.Sources {
		conn, ok := c.registry.Lookup(source)
		if !ok {
			telemetry.ConnectorErrors.WithLabelValues(source).Inc()
			_ = c.store.AppendJobAudit(ctx, job.JobID, "source_failed", fmt.Sprintf("source=%s error=unknown source", source))
			obs.Logger.Warn("unknown source requested", "job_id", job.JobID, "source", source)
			continue
		}

		wg.Add(1)
		go func(conn connector.Connector) {
			defer wg.Done()
			quotes, err := conn.Fetch(ctx, req.SKU, req.Market, req.Depth)
			if err != nil {
				telemetry.ConnectorErrors.WithLabelValues(conn.Name()).Inc()
				_ = c.store.AppendJobAudit(ctx, job.JobID, "source_failed", fmt.Sprintf("source=%s error=%v", conn.Name(), err))
				obs.Logger.Warn("connector failed", "job_id", job.JobID, "source", conn.Name(), "error", err)
				return
			}
			for _, q := range quotes {
				tick := models.MarketTick{
					SKU:             req.SKU,
					Market:          req.Market,
					OurPrice:        q.OurPrice,
					CompetitorPrice: q.CompetitorPrice,
					Source:          conn.Name(),
					ObservedAt:      q.ObservedAt,
				}
				if err := c.store.InsertTick(ctx, tick); err != nil {
					obs.Logger.Error("persist tick failed", "job_id", job.JobID, "source", conn.Name(), "error", err)
					continue
				}
				telemetry.TicksIngested.Inc()
				mu.Lock()
				tickCount++
				mu.Unlock()
				if err := c.bus.Publish(ctx, events.Tick{
					SKU:             tick.SKU,
					Market:          tick.Market,
					OurPrice:        tick.OurPrice,
					CompetitorPrice: tick.CompetitorPrice,
					Source:          tick.Source,
					ObservedAt:      tick.ObservedAt,
				}); err != nil {
					obs.Logger.Warn("publish tick failed", "job_id", job.JobID, "error", err)
				}
			}
		}(conn)
	}
	wg.Wait()
	return tickCount
}

// finish writes the terminal status and publishes MARKET_FETCH_DONE. DONE
// requires at least one tick; a tickless job failed.
func (c *Coordinator) finish(ctx context.Context, job models.IngestionJob, tickCount int) {
	status := models.JobDone
	if tickCount == 0 {
		status = models.JobFailed
	}
	if err := c.store.CompleteJob(ctx, job.JobID, status, tickCount); err != nil {
		obs.Logger.Error("complete job failed", "job_id", job.JobID, "error", err)
	}
	_ = c.store.AppendJobAudit(ctx, job.JobID, "completed", fmt.Sprintf("status=%s tick_count=%d", status, tickCount))
	telemetry.JobsCompleted.WithLabelValues(status).Inc()

	if err := c.bus.Publish(ctx, events.FetchDone{
		RequestID: job.RequestID,
		JobID:     job.JobID,
		Status:    status,
		TickCount: tickCount,
	}); err != nil {
		obs.Logger.Error("publish done failed", "job_id", job.JobID, "error", err)
	}
}
