package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofroom/proofroom/internal/domain/pricing"
)

const selectActivePolicySQL = `SELECT id, studio_id, price_per_unit, bulk_discount_threshold, bulk_discount_percent
	FROM pricing_policies WHERE studio_id = $1 AND active = TRUE`

var _ pricing.Repository = (*PolicyRepository)(nil)

// PolicyRepository implements pricing.Repository backed by PostgreSQL.
// Superseded policy versions stay in the table with active = FALSE for audit;
// a partial unique index guarantees at most one active row per studio.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

// NewPolicyRepository returns a PolicyRepository that uses the given pool.
func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

// ActiveForStudio returns the studio's active policy, or
// pricing.ErrNoActivePolicy when the studio has not configured pricing.
func (r *PolicyRepository) ActiveForStudio(ctx context.Context, studioID string) (*pricing.Policy, error) {
	rows, err := r.pool.Query(ctx, selectActivePolicySQL, studioID)
	if err != nil {
		return nil, fmt.Errorf("getting policy for studio %q: %w", studioID, err)
	}

	policy, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (pricing.Policy, error) {
		var (
			p         pricing.Policy
			threshold int32
		)
		err := row.Scan(&p.ID, &p.StudioID, &p.PricePerUnit, &threshold, &p.BulkPercent)
		p.BulkThreshold = int(threshold)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrNoActivePolicy
		}
		return nil, fmt.Errorf("getting policy for studio %q: %w", studioID, err)
	}
	return &policy, nil
}
