package approvals

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotient-erp/quotient/internal/platform/db"
	"github.com/quotient-erp/quotient/internal/shared"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Store backed by the approval_chains and
// approval_steps tables.
func NewRepository(pool *pgxpool.Pool) Store {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Chain, error) {
	conn := db.Conn(ctx, r.pool)
	var chain Chain
	err := conn.QueryRow(ctx, `
		SELECT id, quotation_id, revision_version, verdict, version, created_at
		FROM approval_chains WHERE id = $1`, id).
		Scan(&chain.ID, &chain.QuotationID, &chain.RevisionVersion, &chain.Verdict, &chain.Version, &chain.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	rows, err := conn.Query(ctx, `
		SELECT step_index, roles, decision, decider_id, comment, decided_at
		FROM approval_steps WHERE chain_id = $1 ORDER BY ord ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var step Step
		if err := rows.Scan(&step.Index, &step.Roles, &step.Decision, &step.DeciderID, &step.Comment, &step.DecidedAt); err != nil {
			return nil, err
		}
		chain.Steps = append(chain.Steps, step)
	}
	return &chain, rows.Err()
}

func (r *repository) Create(ctx context.Context, chain Chain) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		_, err := conn.Exec(ctx, `
			INSERT INTO approval_chains (id, quotation_id, revision_version, verdict, version, created_at)
			VALUES ($1, $2, $3, $4, 1, NOW())`,
			chain.ID, chain.QuotationID, chain.RevisionVersion, chain.Verdict)
		if err != nil {
			return fmt.Errorf("insert chain: %w", err)
		}
		for ord, step := range chain.Steps {
			_, err := conn.Exec(ctx, `
				INSERT INTO approval_steps (chain_id, ord, step_index, roles, decision, decider_id, comment, decided_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				chain.ID, ord, step.Index, step.Roles, step.Decision, step.DeciderID, step.Comment, step.DecidedAt)
			if err != nil {
				return fmt.Errorf("insert step %d: %w", ord, err)
			}
		}
		return nil
	})
}

func (r *repository) Update(ctx context.Context, chain Chain, expectedVersion int64) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		tag, err := conn.Exec(ctx, `
			UPDATE approval_chains SET verdict = $2, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $3`,
			chain.ID, chain.Verdict, expectedVersion)
		if err != nil {
			return fmt.Errorf("update chain: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConcurrentModification
		}
		for ord, step := range chain.Steps {
			_, err := conn.Exec(ctx, `
				UPDATE approval_steps SET decision = $3, decider_id = $4, comment = $5, decided_at = $6
				WHERE chain_id = $1 AND ord = $2`,
				chain.ID, ord, step.Decision, step.DeciderID, step.Comment, step.DecidedAt)
			if err != nil {
				return fmt.Errorf("update step %d: %w", ord, err)
			}
		}
		return nil
	})
}
