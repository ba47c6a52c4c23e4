package approvals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quotient-erp/quotient/internal/identity"
	"github.com/quotient-erp/quotient/internal/shared"
)

// Store persists approval chains with optimistic version guards.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Chain, error)
	Create(ctx context.Context, chain Chain) error
	// Update writes the chain's verdict and steps conditionally on
	// expectedVersion and bumps the version. It returns
	// shared.ErrConcurrentModification on a version mismatch.
	Update(ctx context.Context, chain Chain, expectedVersion int64) error
}

// Service applies approval decisions. It reports outcomes to the caller and
// never contacts notification systems.
type Service struct {
	store  Store
	roles  identity.RoleProvider
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, roles identity.RoleProvider, logger *slog.Logger) *Service {
	return &Service{store: store, roles: roles, logger: logger, now: time.Now}
}

// CreateChain persists a fresh pending chain for a revision.
func (s *Service) CreateChain(ctx context.Context, quotationID int64, revisionVersion int, specs []StepSpec) (*Chain, error) {
	chain, err := NewChain(quotationID, revisionVersion, specs)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, *chain); err != nil {
		return nil, fmt.Errorf("approvals: create chain: %w", err)
	}
	return chain, nil
}

// Get loads a chain by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Chain, error) {
	return s.store.Get(ctx, id)
}

// submitDecisionAttempts bounds how often a decision is re-applied after a
// version race. Distinct-step races converge on the first re-read; the bound
// only caps pathological contention.
const submitDecisionAttempts = 3

// SubmitDecision records one approver's decision on a chain step. Each
// attempt re-reads the full chain under its version guard before recomputing
// the aggregate verdict; when the conditional write loses a version race the
// decision is re-applied against the fresh chain, so two concurrent
// decisions on distinct parallel steps both succeed. A race on the same
// step resolves on re-apply instead (the step is no longer pending).
func (s *Service) SubmitDecision(ctx context.Context, chainID uuid.UUID, stepIndex int, approverID int64, decision Decision, comment string) (*Chain, Outcome, error) {
	roles, err := s.roles.RolesFor(ctx, approverID)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("approvals: resolve roles: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < submitDecisionAttempts; attempt++ {
		chain, err := s.store.Get(ctx, chainID)
		if err != nil {
			return nil, Outcome{}, fmt.Errorf("approvals: get chain: %w", err)
		}

		expected := chain.Version
		outcome, err := chain.Apply(stepIndex, approverID, roles, decision, comment, s.now())
		if err != nil {
			return nil, Outcome{}, err
		}

		if err := s.store.Update(ctx, *chain, expected); err != nil {
			if errors.Is(err, shared.ErrConcurrentModification) {
				lastErr = err
				continue
			}
			return nil, Outcome{}, err
		}
		chain.Version = expected + 1

		s.logger.Info("approval decision recorded",
			slog.String("chain_id", chainID.String()),
			slog.Int("step_index", stepIndex),
			slog.Int64("approver_id", approverID),
			slog.String("decision", string(decision)),
			slog.String("verdict", string(chain.Verdict)))
		return chain, outcome, nil
	}
	return nil, Outcome{}, fmt.Errorf("approvals: submit decision: %w", lastErr)
}

// Supersede cancels a still-pending chain, typically because a new revision
// replaced the one it was created against. Chains already terminal are left
// untouched.
func (s *Service) Supersede(ctx context.Context, chainID uuid.UUID) error {
	chain, err := s.store.Get(ctx, chainID)
	if err != nil {
		return fmt.Errorf("approvals: get chain: %w", err)
	}
	if chain.Verdict != VerdictPending {
		return nil
	}
	expected := chain.Version
	chain.Verdict = VerdictSuperseded
	if err := s.store.Update(ctx, *chain, expected); err != nil {
		return err
	}
	s.logger.Info("approval chain superseded", slog.String("chain_id", chainID.String()))
	return nil
}
