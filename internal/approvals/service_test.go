package approvals

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotient-erp/quotient/internal/shared"
)

type fakeChainStore struct {
	chains map[uuid.UUID]Chain
}

func newFakeChainStore() *fakeChainStore {
	return &fakeChainStore{chains: make(map[uuid.UUID]Chain)}
}

func (f *fakeChainStore) Get(ctx context.Context, id uuid.UUID) (*Chain, error) {
	chain, ok := f.chains[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := chain
	cp.Steps = append([]Step(nil), chain.Steps...)
	return &cp, nil
}

func (f *fakeChainStore) Create(ctx context.Context, chain Chain) error {
	chain.Version = 1
	f.chains[chain.ID] = chain
	return nil
}

func (f *fakeChainStore) Update(ctx context.Context, chain Chain, expectedVersion int64) error {
	current, ok := f.chains[chain.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	chain.Version = expectedVersion + 1
	f.chains[chain.ID] = chain
	return nil
}

type staticRoles map[int64][]string

func (r staticRoles) RolesFor(ctx context.Context, userID int64) ([]string, error) {
	return r[userID], nil
}

func newTestService(store Store) *Service {
	return NewService(store, staticRoles{
		10: {"legal"},
		11: {"finance"},
		12: {"director"},
	}, slog.Default())
}

func TestSubmitDecisionDrivesChainToApproval(t *testing.T) {
	store := newFakeChainStore()
	svc := newTestService(store)
	ctx := context.Background()

	chain, err := svc.CreateChain(ctx, 1, 1, []StepSpec{
		{Index: 0, Roles: []string{"legal"}},
		{Index: 0, Roles: []string{"finance"}},
	})
	require.NoError(t, err)

	_, outcome, err := svc.SubmitDecision(ctx, chain.ID, 0, 10, DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictPending, outcome.Verdict)

	_, outcome, err = svc.SubmitDecision(ctx, chain.ID, 0, 11, DecisionApproved, "lgtm")
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, outcome.Verdict)
}

func TestSubmitDecisionUnauthorizedApprover(t *testing.T) {
	store := newFakeChainStore()
	svc := newTestService(store)
	ctx := context.Background()

	chain, err := svc.CreateChain(ctx, 1, 1, []StepSpec{{Index: 0, Roles: []string{"legal"}}})
	require.NoError(t, err)

	_, _, err = svc.SubmitDecision(ctx, chain.ID, 0, 12, DecisionApproved, "")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestSubmitDecisionVersionConflictSurfaces(t *testing.T) {
	store := newFakeChainStore()
	svc := newTestService(store)
	ctx := context.Background()

	chain, err := svc.CreateChain(ctx, 1, 1, []StepSpec{
		{Index: 0, Roles: []string{"legal"}},
		{Index: 0, Roles: []string{"finance"}},
	})
	require.NoError(t, err)

	// Simulate a concurrent writer bumping the version before this
	// service's next read.
	stale, err := store.Get(ctx, chain.ID)
	require.NoError(t, err)
	bumped := *stale
	require.NoError(t, store.Update(ctx, bumped, stale.Version))

	_, _, err = svc.SubmitDecision(ctx, chain.ID, 0, 10, DecisionApproved, "")
	// The service re-reads before writing, so the decision lands on the
	// fresh version and succeeds.
	require.NoError(t, err)
}

func TestSubmitDecisionOnSupersededChain(t *testing.T) {
	store := newFakeChainStore()
	svc := newTestService(store)
	ctx := context.Background()

	chain, err := svc.CreateChain(ctx, 1, 1, []StepSpec{{Index: 0, Roles: []string{"legal"}}})
	require.NoError(t, err)
	require.NoError(t, svc.Supersede(ctx, chain.ID))

	_, _, err = svc.SubmitDecision(ctx, chain.ID, 0, 10, DecisionApproved, "")
	assert.ErrorIs(t, err, ErrStaleChain)
}

func TestSupersedeIsNoOpOnTerminalChain(t *testing.T) {
	store := newFakeChainStore()
	svc := newTestService(store)
	ctx := context.Background()

	chain, err := svc.CreateChain(ctx, 1, 1, []StepSpec{{Index: 0, Roles: []string{"legal"}}})
	require.NoError(t, err)
	_, _, err = svc.SubmitDecision(ctx, chain.ID, 0, 10, DecisionRejected, "no")
	require.NoError(t, err)

	require.NoError(t, svc.Supersede(ctx, chain.ID))
	got, err := svc.Get(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, VerdictRejected, got.Verdict, "terminal verdict preserved")
}

// interleavingStore commits a competing write between the service's read of
// the chain and its conditional update, once.
type interleavingStore struct {
	*fakeChainStore
	interleave func()
	fired      bool
}

func (s *interleavingStore) Update(ctx context.Context, chain Chain, expectedVersion int64) error {
	if !s.fired && s.interleave != nil {
		s.fired = true
		s.interleave()
	}
	return s.fakeChainStore.Update(ctx, chain, expectedVersion)
}

func TestConcurrentParallelDecisionsBothLand(t *testing.T) {
	base := newFakeChainStore()
	store := &interleavingStore{fakeChainStore: base}
	svc := newTestService(store)
	sibling := newTestService(base)
	ctx := context.Background()

	chain, err := svc.CreateChain(ctx, 1, 1, []StepSpec{
		{Index: 0, Roles: []string{"legal"}},
		{Index: 0, Roles: []string{"finance"}},
	})
	require.NoError(t, err)

	// The finance approver lands on the sibling parallel step after this
	// call has read the chain but before its conditional write.
	store.interleave = func() {
		_, _, err := sibling.SubmitDecision(ctx, chain.ID, 0, 11, DecisionApproved, "budget ok")
		require.NoError(t, err)
	}

	_, outcome, err := svc.SubmitDecision(ctx, chain.ID, 0, 10, DecisionApproved, "terms ok")
	require.NoError(t, err, "decisions on distinct parallel steps must compose")
	assert.Equal(t, VerdictApproved, outcome.Verdict, "aggregate reflects both decisions")

	got, err := svc.Get(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, got.Verdict)
	for _, step := range got.Steps {
		assert.Equal(t, DecisionApproved, step.Decision)
	}
}
