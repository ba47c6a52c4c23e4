package revisions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotient-erp/quotient/internal/platform/db"
	"github.com/quotient-erp/quotient/internal/shared"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Store backed by the revisions table. Writes
// participate in any transaction carried by the context.
func NewRepository(pool *pgxpool.Pool) Store {
	return &repository{pool: pool}
}

func (r *repository) Latest(ctx context.Context, quotationID int64) (*Revision, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT quotation_id, version, content, content_hash, change_summary, author_id, created_at
		FROM revisions WHERE quotation_id = $1
		ORDER BY version DESC LIMIT 1`, quotationID)
	return scanRevision(row)
}

func (r *repository) Insert(ctx context.Context, rev Revision) error {
	content, err := json.Marshal(rev.Content)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO revisions (quotation_id, version, content, content_hash, change_summary, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		rev.QuotationID, rev.Version, content, rev.ContentHash, rev.ChangeSummary, rev.AuthorID)
	return err
}

func (r *repository) Get(ctx context.Context, quotationID int64, version int) (*Revision, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT quotation_id, version, content, content_hash, change_summary, author_id, created_at
		FROM revisions WHERE quotation_id = $1 AND version = $2`, quotationID, version)
	return scanRevision(row)
}

func (r *repository) List(ctx context.Context, quotationID int64) ([]Revision, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT quotation_id, version, content, content_hash, change_summary, author_id, created_at
		FROM revisions WHERE quotation_id = $1 ORDER BY version ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revs []Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revs = append(revs, *rev)
	}
	return revs, rows.Err()
}

func scanRevision(row pgx.Row) (*Revision, error) {
	var rev Revision
	var content []byte
	err := row.Scan(&rev.QuotationID, &rev.Version, &content, &rev.ContentHash,
		&rev.ChangeSummary, &rev.AuthorID, &rev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(content, &rev.Content); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot v%d: %w", rev.Version, err)
	}
	return &rev, nil
}
