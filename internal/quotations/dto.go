package quotations

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotient-erp/quotient/internal/approvals"
	"github.com/quotient-erp/quotient/internal/pricing"
)

// ItemRequest is one quotation line in a create/update payload.
type ItemRequest struct {
	Description string            `json:"description" validate:"required"`
	Quantity    decimal.Decimal   `json:"quantity" validate:"required"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	TaxRate     decimal.Decimal   `json:"tax_rate"`
	Discount    *pricing.Discount `json:"discount,omitempty"`
}

// CreateQuotationRequest opens a new quotation in Draft.
type CreateQuotationRequest struct {
	ClientRef   string            `json:"client_ref" validate:"required"`
	Currency    string            `json:"currency" validate:"required,len=3"`
	Items       []ItemRequest     `json:"items" validate:"required,min=1,dive"`
	DocDiscount *pricing.Discount `json:"doc_discount,omitempty"`
	DocTaxRate  *decimal.Decimal  `json:"doc_tax_rate,omitempty"`
}

// UpdateItemsRequest replaces the draft working copy. Version is the
// caller's last-known optimistic version.
type UpdateItemsRequest struct {
	Version     int64             `json:"version" validate:"required"`
	Items       []ItemRequest     `json:"items" validate:"required,min=1,dive"`
	DocDiscount *pricing.Discount `json:"doc_discount,omitempty"`
	DocTaxRate  *decimal.Decimal  `json:"doc_tax_rate,omitempty"`
}

// SubmitRequest moves a draft into approval with the given chain steps.
type SubmitRequest struct {
	Version int64                `json:"version" validate:"required"`
	Steps   []approvals.StepSpec `json:"steps" validate:"required,min=1,dive"`
}

// DecisionRequest records one approver's decision.
type DecisionRequest struct {
	StepIndex int    `json:"step_index" validate:"gte=0"`
	Decision  string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Comment   string `json:"comment"`
}

// SendRequest dispatches an approved quotation to the client.
type SendRequest struct {
	Version    int64      `json:"version" validate:"required"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// RejectRequest records a client rejection.
type RejectRequest struct {
	Version int64  `json:"version" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

// VersionedRequest carries only the optimistic version, for accept, archive
// and reopen.
type VersionedRequest struct {
	Version int64 `json:"version" validate:"required"`
}

// ListRequest filters and paginates the quotation listing.
type ListRequest struct {
	Status    *Status
	ClientRef *string
	Page      int
	PerPage   int
}
