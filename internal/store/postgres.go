package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricegov/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Postgres) CreateJob(ctx context.Context, job models.IngestionJob) error {
	sourcesJSON, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ingestion_jobs (job_id, request_id, sku, market, sources, depth, status, tick_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`, job.JobID, job.RequestID, job.SKU, job.Market, sourcesJSON, job.Depth, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// MarkJobRunning transitions a job from QUEUED to RUNNING. The status guard
// in the WHERE clause keeps the lifecycle monotonic.
func (s *Postgres) MarkJobRunning(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs SET status = $2 WHERE job_id = $1 AND status = $3
	`, jobID, models.JobRunning, models.JobQueued)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// CompleteJob records the terminal status and tick count. Only a RUNNING job
// can complete.
func (s *Postgres) CompleteJob(ctx context.Context, jobID, status string, tickCount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs
		SET status = $2, tick_count = $3, completed_at = NOW()
		WHERE job_id = $1 AND status = $4
	`, jobID, status, tickCount, models.JobRunning)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

func (s *Postgres) GetJob(ctx context.Context, jobID string) (models.IngestionJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, request_id, sku, market, sources, depth, status, tick_count, created_at, completed_at
		FROM ingestion_jobs WHERE job_id = $1
	`, jobID)

	var job models.IngestionJob
	var sourcesJSON []byte
	var completed pgtype.Timestamptz
	err := row.Scan(&job.JobID, &job.RequestID, &job.SKU, &job.Market, &sourcesJSON, &job.Depth, &job.Status, &job.TickCount, &job.CreatedAt, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.IngestionJob{}, ErrNotFound
	}
	if err != nil {
		return models.IngestionJob{}, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(sourcesJSON, &job.Sources); err != nil {
		return models.IngestionJob{}, fmt.Errorf("unmarshal sources: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return job, nil
}

func (s *Postgres) AppendJobAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_audit (job_id, event, detail, ts) VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

func (s *Postgres) InsertTick(ctx context.Context, tick models.MarketTick) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO market_ticks (sku, market, our_price, competitor_price, source, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tick.SKU, tick.Market, tick.OurPrice, tick.CompetitorPrice, tick.Source, tick.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}
	return nil
}

// InsertDecision is the idempotent-receipt primitive: ON CONFLICT DO NOTHING
// plus RowsAffected tells the caller whether this delivery was the first.
func (s *Postgres) InsertDecision(ctx context.Context, rec models.DecisionRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO decision_log (proposal_id, state, base_price_at_decision, delta_pct, margin_pct, actor, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (proposal_id) DO NOTHING
	`, rec.ProposalID, rec.State, rec.BasePriceAtDecision, rec.DeltaPct, rec.MarginPct, rec.Actor, rec.Reason, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert decision: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) UpdateDecision(ctx context.Context, p UpdateDecisionParams) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE decision_log
		SET state = $2, base_price_at_decision = $3, delta_pct = $4, margin_pct = $5, reason = $6, updated_at = NOW()
		WHERE proposal_id = $1 AND state = $7
	`, p.ProposalID, p.State, p.BasePrice, p.DeltaPct, p.MarginPct, p.Reason, models.DecisionReceived)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

func (s *Postgres) GetDecision(ctx context.Context, proposalID string) (models.DecisionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT proposal_id, state, base_price_at_decision, delta_pct, margin_pct, actor, reason, created_at, updated_at
		FROM decision_log WHERE proposal_id = $1
	`, proposalID)

	var rec models.DecisionRecord
	err := row.Scan(&rec.ProposalID, &rec.State, &rec.BasePriceAtDecision, &rec.DeltaPct, &rec.MarginPct, &rec.Actor, &rec.Reason, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DecisionRecord{}, ErrNotFound
	}
	if err != nil {
		return models.DecisionRecord{}, fmt.Errorf("scan decision: %w", err)
	}
	return rec, nil
}

func (s *Postgres) UpsertPricing(ctx context.Context, rec models.PricingRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pricing (product_id, current_price, cost, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE SET cost = EXCLUDED.cost, updated_at = EXCLUDED.updated_at
	`, rec.ProductID, rec.CurrentPrice, rec.Cost, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert pricing: %w", err)
	}
	return nil
}

func (s *Postgres) GetPricing(ctx context.Context, productID string) (models.PricingRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT product_id, current_price, cost, updated_at FROM pricing WHERE product_id = $1
	`, productID)

	var rec models.PricingRecord
	err := row.Scan(&rec.ProductID, &rec.CurrentPrice, &rec.Cost, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PricingRecord{}, ErrNotFound
	}
	if err != nil {
		return models.PricingRecord{}, fmt.Errorf("scan pricing: %w", err)
	}
	return rec, nil
}

// CompareAndSwapPrice applies the optimistic-concurrency write: the expected
// price sits in the WHERE clause, so a concurrent change makes this a no-op
// reported through the swapped flag.
func (s *Postgres) CompareAndSwapPrice(ctx context.Context, productID string, expected, next float64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pricing SET current_price = $3, updated_at = NOW()
		WHERE product_id = $1 AND current_price = $2
	`, productID, expected, next)
	if err != nil {
		return false, fmt.Errorf("compare-and-swap price: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
