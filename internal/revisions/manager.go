package revisions

import (
	"context"
	"errors"
	"fmt"

	"github.com/quotient-erp/quotient/internal/shared"
)

// Store persists revisions. Inserts only; revisions are never updated or
// deleted.
type Store interface {
	Latest(ctx context.Context, quotationID int64) (*Revision, error)
	Insert(ctx context.Context, rev Revision) error
	Get(ctx context.Context, quotationID int64, version int) (*Revision, error)
	List(ctx context.Context, quotationID int64) ([]Revision, error)
}

// Target carries the facts about the owning quotation that the manager needs
// to decide whether a snapshot may be written.
type Target struct {
	QuotationID int64
	Archived    bool
}

// Manager allocates revision versions and enforces snapshot idempotence.
type Manager struct {
	store Store
}

// NewManager constructs a Manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Create writes a new revision for the target unless the proposed snapshot
// is content-identical to the latest one, in which case the existing
// revision is returned and created is false. Repeated no-op saves therefore
// never produce duplicate versions.
func (m *Manager) Create(ctx context.Context, target Target, snap Snapshot, summary string, authorID int64) (*Revision, bool, error) {
	return m.create(ctx, target, snap, summary, authorID, false)
}

// ForceCreate writes a new revision even when the snapshot is
// content-identical to the latest one. Used for administrative overrides
// such as reopening, where the audit trail must record a fresh version.
func (m *Manager) ForceCreate(ctx context.Context, target Target, snap Snapshot, summary string, authorID int64) (*Revision, error) {
	rev, _, err := m.create(ctx, target, snap, summary, authorID, true)
	return rev, err
}

func (m *Manager) create(ctx context.Context, target Target, snap Snapshot, summary string, authorID int64, force bool) (*Revision, bool, error) {
	if target.Archived {
		return nil, false, ErrQuotationArchived
	}

	hash := snap.Hash()
	latest, err := m.store.Latest(ctx, target.QuotationID)
	switch {
	case err == nil:
		if !force && latest.ContentHash == hash {
			return latest, false, nil
		}
	case errors.Is(err, shared.ErrNotFound):
		latest = nil
	default:
		return nil, false, fmt.Errorf("revisions: latest: %w", err)
	}

	version := 1
	if latest != nil {
		version = latest.Version + 1
	}
	rev := Revision{
		QuotationID:   target.QuotationID,
		Version:       version,
		Content:       snap,
		ContentHash:   hash,
		ChangeSummary: summary,
		AuthorID:      authorID,
	}
	if err := m.store.Insert(ctx, rev); err != nil {
		return nil, false, fmt.Errorf("revisions: insert v%d: %w", version, err)
	}
	return &rev, true, nil
}

// Get returns one historical revision.
func (m *Manager) Get(ctx context.Context, quotationID int64, version int) (*Revision, error) {
	return m.store.Get(ctx, quotationID, version)
}

// List returns all revisions of a quotation in version order.
func (m *Manager) List(ctx context.Context, quotationID int64) ([]Revision, error) {
	return m.store.List(ctx, quotationID)
}
