// Package approvals evaluates ordered and parallel approval steps into an
// aggregate chain verdict gating quotation transitions.
package approvals

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quotient-erp/quotient/internal/shared"
)

var (
	// ErrInvalidStepState is returned when the targeted step cannot accept
	// a decision in its current state.
	ErrInvalidStepState = errors.New("step is not pending")
	// ErrStaleChain is returned for decisions against a superseded chain.
	// Retryable after refetching the quotation's current chain.
	ErrStaleChain = errors.New("approval chain superseded")
)

// Decision is the state of a single approval step.
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionSkipped  Decision = "SKIPPED"
)

// Verdict is the aggregate state of a chain.
type Verdict string

const (
	VerdictPending    Verdict = "PENDING"
	VerdictApproved   Verdict = "APPROVED"
	VerdictRejected   Verdict = "REJECTED"
	VerdictSuperseded Verdict = "SUPERSEDED"
)

// Step is one required sign-off. Steps sharing an index are parallel and all
// of them must approve before the chain advances past that index.
type Step struct {
	Index     int        `json:"index"`
	Roles     []string   `json:"roles"`
	Decision  Decision   `json:"decision"`
	DeciderID *int64     `json:"decider_id,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Chain is an ordered set of steps created against exactly one revision
// version. Prior decisions never carry forward to a new revision's chain.
type Chain struct {
	ID              uuid.UUID `json:"id"`
	QuotationID     int64     `json:"quotation_id"`
	RevisionVersion int       `json:"revision_version"`
	Steps           []Step    `json:"steps"`
	Verdict         Verdict   `json:"verdict"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
}

// StepSpec describes one step when building a new chain.
type StepSpec struct {
	Index int      `json:"index" validate:"gte=0"`
	Roles []string `json:"roles" validate:"required,min=1,dive,required"`
}

// NewChain builds a pending chain from specs, sorted by step index.
func NewChain(quotationID int64, revisionVersion int, specs []StepSpec) (*Chain, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one approval step required", shared.ErrValidation)
	}
	sorted := append([]StepSpec(nil), specs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	steps := make([]Step, 0, len(sorted))
	for _, spec := range sorted {
		if len(spec.Roles) == 0 {
			return nil, fmt.Errorf("%w: step %d has no required roles", shared.ErrValidation, spec.Index)
		}
		steps = append(steps, Step{
			Index:    spec.Index,
			Roles:    append([]string(nil), spec.Roles...),
			Decision: DecisionPending,
		})
	}
	return &Chain{
		ID:              uuid.New(),
		QuotationID:     quotationID,
		RevisionVersion: revisionVersion,
		Steps:           steps,
		Verdict:         VerdictPending,
	}, nil
}
