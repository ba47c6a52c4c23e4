// Package quotations drives the quotation lifecycle: status transitions,
// approval gating, revisioning and total computation, committed atomically
// per transition.
package quotations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotient-erp/quotient/internal/pricing"
	"github.com/quotient-erp/quotient/internal/revisions"
)

// Status is the lifecycle state of a quotation. PendingApproval and Approved
// are internal approval sub-states that precede the client-facing
// Sent/Viewed/Accepted/... set.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusSent            Status = "SENT"
	StatusViewed          Status = "VIEWED"
	StatusAccepted        Status = "ACCEPTED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
	StatusArchived        Status = "ARCHIVED"
)

// Quotation is the persisted head record. It points at its current revision
// and approval chain by id and never embeds them; revisions and chains hold
// only an immutable back-reference to the quotation id.
type Quotation struct {
	ID              int64              `json:"id"`
	DocNumber       string             `json:"doc_number"`
	ClientRef       string             `json:"client_ref"`
	Currency        string             `json:"currency"`
	Status          Status             `json:"status"`
	Items           []pricing.LineItem `json:"items"`
	DocDiscount     *pricing.Discount  `json:"doc_discount,omitempty"`
	DocTaxRate      *decimal.Decimal   `json:"doc_tax_rate,omitempty"`
	Totals          pricing.Totals     `json:"totals"`
	CurrentRevision int                `json:"current_revision"`
	CurrentChainID  *uuid.UUID         `json:"current_chain_id,omitempty"`
	Version         int64              `json:"version"`
	ValidUntil      *time.Time         `json:"valid_until,omitempty"`
	RejectionReason *string            `json:"rejection_reason,omitempty"`
	CreatedBy       int64              `json:"created_by"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Snapshot returns the quotation's current content as a revision snapshot.
func (q *Quotation) Snapshot() revisions.Snapshot {
	return revisions.Snapshot{
		Items:       q.Items,
		DocDiscount: q.DocDiscount,
		DocTaxRate:  q.DocTaxRate,
		Totals:      q.Totals,
	}
}

// RevisionTarget returns the manager target for this quotation.
func (q *Quotation) RevisionTarget() revisions.Target {
	return revisions.Target{QuotationID: q.ID, Archived: q.Status == StatusArchived}
}
