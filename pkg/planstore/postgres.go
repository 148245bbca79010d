package planstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kmrl/induction/pkg/domain"
)

// Postgres is a PlanSink backed by a single plans table, keyed by
// depot and keeping the full decision/move payload as JSON — the
// planning surface has no relational query needs of its own, so a
// wide column avoids a schema per §3 structure change. Grounded on the
// teacher's internal/ledger, which drives database/sql directly with
// numbered placeholders rather than an ORM.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens dsn and verifies connectivity with Ping.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the plans table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS induction_plans (
			depot_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create induction_plans table: %w", err)
	}
	return nil
}

// SavePlan upserts the latest plan for plan.DepotID.
func (p *Postgres) SavePlan(ctx context.Context, plan *domain.InductionPlan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO induction_plans (depot_id, plan_id, generated_at, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (depot_id) DO UPDATE
		SET plan_id = $2, generated_at = $3, payload = $4, updated_at = $5`,
		plan.DepotID, plan.ID, plan.GeneratedAt, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlan fetches the latest plan for depotID.
func (p *Postgres) GetPlan(ctx context.Context, depotID string) (*domain.InductionPlan, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM induction_plans WHERE depot_id = $1`, depotID,
	).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no plan saved for depot %q", depotID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plan: %w", err)
	}

	var plan domain.InductionPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &plan, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
