package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotient-erp/quotient/internal/platform/db"
	"github.com/quotient-erp/quotient/internal/revisions"
	"github.com/quotient-erp/quotient/internal/shared"
)

// Repository persists quotation head records.
type Repository interface {
	// RunInTx executes fn atomically; nested store calls through the same
	// context join the transaction.
	RunInTx(ctx context.Context, fn func(context.Context) error) error
	Create(ctx context.Context, q Quotation) (int64, error)
	Get(ctx context.Context, id int64) (*Quotation, error)
	List(ctx context.Context, req ListRequest) ([]Quotation, int, error)
	// UpdateState conditionally writes status, pointers and content under
	// the quotation's optimistic version, bumping it. Returns
	// shared.ErrConcurrentModification on mismatch.
	UpdateState(ctx context.Context, q Quotation, expectedVersion int64) error
	ListExpirable(ctx context.Context, cutoff time.Time) ([]int64, error)
	GenerateNumber(ctx context.Context, at time.Time) (string, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Repository backed by the quotations table.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const quotationColumns = `id, doc_number, client_ref, currency, status, content,
	current_revision, current_chain_id, version, valid_until, rejection_reason,
	created_by, created_at, updated_at`

func (r *repository) Create(ctx context.Context, q Quotation) (int64, error) {
	content, err := json.Marshal(q.Snapshot())
	if err != nil {
		return 0, fmt.Errorf("marshal content: %w", err)
	}
	var id int64
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO quotations (doc_number, client_ref, currency, status, content,
			current_revision, current_chain_id, version, valid_until, rejection_reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10, NOW(), NOW())
		RETURNING id`,
		q.DocNumber, q.ClientRef, q.Currency, q.Status, content,
		q.CurrentRevision, q.CurrentChainID, q.ValidUntil, q.RejectionReason, q.CreatedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quotation: %w", err)
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Quotation, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
	return scanQuotation(row)
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Quotation, int, error) {
	conn := db.Conn(ctx, r.pool)

	where := "WHERE 1=1"
	var args []any
	if req.Status != nil {
		args = append(args, *req.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if req.ClientRef != nil {
		args = append(args, *req.ClientRef)
		where += fmt.Sprintf(" AND client_ref = $%d", len(args))
	}

	var total int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM quotations "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(req.Page, req.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf("SELECT %s FROM quotations %s ORDER BY id DESC LIMIT $%d OFFSET $%d",
		quotationColumns, where, len(args)-1, len(args))

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var quotes []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, total, rows.Err()
}

func (r *repository) UpdateState(ctx context.Context, q Quotation, expectedVersion int64) error {
	content, err := json.Marshal(q.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE quotations SET status = $2, content = $3, current_revision = $4,
			current_chain_id = $5, valid_until = $6, rejection_reason = $7,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $8`,
		q.ID, q.Status, content, q.CurrentRevision, q.CurrentChainID,
		q.ValidUntil, q.RejectionReason, expectedVersion)
	if err != nil {
		return fmt.Errorf("update quotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (r *repository) ListExpirable(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id FROM quotations
		WHERE status IN ($1, $2) AND valid_until IS NOT NULL AND valid_until < $3
		ORDER BY id`, StatusSent, StatusViewed, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GenerateNumber allocates the next document number for the month of at,
// formatted QT-YYMM-SEQ.
func (r *repository) GenerateNumber(ctx context.Context, at time.Time) (string, error) {
	var seq int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq`, "QT", at.Format("200601")).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("QT-%s-%04d", at.Format("0601"), seq), nil
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	var content []byte
	err := row.Scan(&q.ID, &q.DocNumber, &q.ClientRef, &q.Currency, &q.Status, &content,
		&q.CurrentRevision, &q.CurrentChainID, &q.Version, &q.ValidUntil, &q.RejectionReason,
		&q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	var snap revisions.Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	q.Items = snap.Items
	q.DocDiscount = snap.DocDiscount
	q.DocTaxRate = snap.DocTaxRate
	q.Totals = snap.Totals
	return &q, nil
}
