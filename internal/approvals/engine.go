package approvals

import (
	"fmt"
	"time"

	"github.com/quotient-erp/quotient/internal/shared"
)

// Outcome reports the aggregate result of applying a decision.
type Outcome struct {
	Verdict          Verdict
	RejectionComment string
}

// Terminal reports whether the outcome ended the chain.
func (o Outcome) Terminal() bool {
	return o.Verdict == VerdictApproved || o.Verdict == VerdictRejected
}

// activeIndex returns the lowest step index that still has a pending step,
// or -1 when none remain.
func activeIndex(steps []Step) int {
	active := -1
	for _, step := range steps {
		if step.Decision != DecisionPending {
			continue
		}
		if active == -1 || step.Index < active {
			active = step.Index
		}
	}
	return active
}

func rolesIntersect(required, held []string) bool {
	for _, r := range required {
		for _, h := range held {
			if r == h {
				return true
			}
		}
	}
	return false
}

// Apply records a decision on the pending step at stepIndex whose required
// roles intersect the approver's roles, then recomputes the aggregate
// verdict. A rejection short-circuits the chain: every still-pending step is
// marked skipped. Decision arrival order does not affect the final verdict.
func (c *Chain) Apply(stepIndex int, approverID int64, approverRoles []string, decision Decision, comment string, now time.Time) (Outcome, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return Outcome{}, fmt.Errorf("%w: decision must be %s or %s", shared.ErrValidation, DecisionApproved, DecisionRejected)
	}
	switch c.Verdict {
	case VerdictSuperseded:
		return Outcome{}, ErrStaleChain
	case VerdictApproved, VerdictRejected:
		return Outcome{}, fmt.Errorf("%w: chain already %s", ErrInvalidStepState, c.Verdict)
	}

	active := activeIndex(c.Steps)
	if stepIndex != active {
		return Outcome{}, fmt.Errorf("%w: step index %d is not active (active: %d)", ErrInvalidStepState, stepIndex, active)
	}

	target := -1
	sawPending := false
	for i, step := range c.Steps {
		if step.Index != stepIndex || step.Decision != DecisionPending {
			continue
		}
		sawPending = true
		if rolesIntersect(step.Roles, approverRoles) {
			target = i
			break
		}
	}
	if !sawPending {
		return Outcome{}, fmt.Errorf("%w: no pending step at index %d", ErrInvalidStepState, stepIndex)
	}
	if target == -1 {
		return Outcome{}, fmt.Errorf("%w: approver roles do not match step requirements", shared.ErrUnauthorized)
	}

	step := &c.Steps[target]
	step.Decision = decision
	step.DeciderID = &approverID
	step.Comment = comment
	decidedAt := now
	step.DecidedAt = &decidedAt

	if decision == DecisionRejected {
		for i := range c.Steps {
			if c.Steps[i].Decision == DecisionPending {
				c.Steps[i].Decision = DecisionSkipped
			}
		}
		c.Verdict = VerdictRejected
		return Outcome{Verdict: VerdictRejected, RejectionComment: comment}, nil
	}

	c.Verdict = evaluate(c.Steps)
	return Outcome{Verdict: c.Verdict}, nil
}

// evaluate computes the aggregate verdict from step decisions: approved iff
// every step is approved, rejected as soon as any step is rejected.
func evaluate(steps []Step) Verdict {
	allApproved := true
	for _, step := range steps {
		switch step.Decision {
		case DecisionRejected:
			return VerdictRejected
		case DecisionApproved:
		default:
			allApproved = false
		}
	}
	if allApproved {
		return VerdictApproved
	}
	return VerdictPending
}
