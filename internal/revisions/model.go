// Package revisions creates and retrieves immutable snapshots of a
// quotation's content. Versions for a quotation are gapless and strictly
// increasing, starting at 1; a written revision is never mutated.
package revisions

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/quotient-erp/quotient/internal/pricing"
)

// ErrQuotationArchived is returned for mutations against an archived
// quotation. It is fatal for the call.
var ErrQuotationArchived = errors.New("quotation is archived")

// Snapshot is the full content of a quotation at one point in time.
type Snapshot struct {
	Items       []pricing.LineItem `json:"items"`
	DocDiscount *pricing.Discount  `json:"doc_discount,omitempty"`
	DocTaxRate  *decimal.Decimal   `json:"doc_tax_rate,omitempty"`
	Totals      pricing.Totals     `json:"totals"`
}

// Hash returns the hex blake2b-256 digest of the canonical JSON encoding of
// the snapshot. Equal content always produces equal hashes.
func (s Snapshot) Hash() string {
	data, err := json.Marshal(s)
	if err != nil {
		// Snapshot contains only marshalable fields; a failure here is a
		// programming error.
		panic(err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Revision is one immutable snapshot of a quotation.
type Revision struct {
	QuotationID   int64     `json:"quotation_id"`
	Version       int       `json:"version"`
	Content       Snapshot  `json:"content"`
	ContentHash   string    `json:"content_hash"`
	ChangeSummary string    `json:"change_summary"`
	AuthorID      int64     `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
}
