package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotient-erp/quotient/internal/approvals"
	"github.com/quotient-erp/quotient/internal/pricing"
	"github.com/quotient-erp/quotient/internal/revisions"
	"github.com/quotient-erp/quotient/internal/shared"
)

// ============================================================================
// IN-MEMORY FAKES
// ============================================================================

type fakeRepo struct {
	quotes map[int64]Quotation
	nextID int64
	seq    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{quotes: make(map[int64]Quotation), nextID: 1}
}

func (f *fakeRepo) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (f *fakeRepo) Create(ctx context.Context, q Quotation) (int64, error) {
	q.ID = f.nextID
	q.Version = 1
	f.quotes[q.ID] = q
	f.nextID++
	return q.ID, nil
}

func (f *fakeRepo) Get(ctx context.Context, id int64) (*Quotation, error) {
	q, ok := f.quotes[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := q
	cp.Items = append([]pricing.LineItem(nil), q.Items...)
	return &cp, nil
}

func (f *fakeRepo) List(ctx context.Context, req ListRequest) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range f.quotes {
		if req.Status != nil && q.Status != *req.Status {
			continue
		}
		out = append(out, q)
	}
	return out, len(out), nil
}

func (f *fakeRepo) UpdateState(ctx context.Context, q Quotation, expectedVersion int64) error {
	current, ok := f.quotes[q.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	q.Version = expectedVersion + 1
	f.quotes[q.ID] = q
	return nil
}

func (f *fakeRepo) ListExpirable(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	for id, q := range f.quotes {
		if (q.Status == StatusSent || q.Status == StatusViewed) && q.ValidUntil != nil && q.ValidUntil.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeRepo) GenerateNumber(ctx context.Context, at time.Time) (string, error) {
	f.seq++
	return fmt.Sprintf("QT-%s-%04d", at.Format("0601"), f.seq), nil
}

type fakeRevisionStore struct {
	revs map[int64][]revisions.Revision
}

func (f *fakeRevisionStore) Latest(ctx context.Context, quotationID int64) (*revisions.Revision, error) {
	revs := f.revs[quotationID]
	if len(revs) == 0 {
		return nil, shared.ErrNotFound
	}
	rev := revs[len(revs)-1]
	return &rev, nil
}

func (f *fakeRevisionStore) Insert(ctx context.Context, rev revisions.Revision) error {
	f.revs[rev.QuotationID] = append(f.revs[rev.QuotationID], rev)
	return nil
}

func (f *fakeRevisionStore) Get(ctx context.Context, quotationID int64, version int) (*revisions.Revision, error) {
	for _, rev := range f.revs[quotationID] {
		if rev.Version == version {
			return &rev, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeRevisionStore) List(ctx context.Context, quotationID int64) ([]revisions.Revision, error) {
	return append([]revisions.Revision(nil), f.revs[quotationID]...), nil
}

type fakeChainStore struct {
	chains map[uuid.UUID]approvals.Chain
}

func (f *fakeChainStore) Get(ctx context.Context, id uuid.UUID) (*approvals.Chain, error) {
	chain, ok := f.chains[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := chain
	cp.Steps = append([]approvals.Step(nil), chain.Steps...)
	return &cp, nil
}

func (f *fakeChainStore) Create(ctx context.Context, chain approvals.Chain) error {
	chain.Version = 1
	f.chains[chain.ID] = chain
	return nil
}

func (f *fakeChainStore) Update(ctx context.Context, chain approvals.Chain, expectedVersion int64) error {
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

// ============================================================================
// FIXTURE
// ============================================================================

const (
	salesManagerID = int64(10)
	financeID      = int64(11)
	creatorID      = int64(5)
	clientID       = int64(99)
)

var adminActor = shared.Actor{ID: 1, Admin: true}

type fixture struct {
	svc  *Service
	repo *fakeRepo
	revs *fakeRevisionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	revStore := &fakeRevisionStore{revs: make(map[int64][]revisions.Revision)}
	chainStore := &fakeChainStore{chains: make(map[uuid.UUID]approvals.Chain)}
	roles := staticRoles{salesManagerID: {"sales_manager"}, financeID: {"finance"}}

	svc := NewService(
		repo,
		revisions.NewManager(revStore),
		approvals.NewService(chainStore, roles, slog.Default()),
		nil,
		slog.Default(),
		Config{DefaultValidity: 30 * 24 * time.Hour},
	)
	return &fixture{svc: svc, repo: repo, revs: revStore}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func createReq() CreateQuotationRequest {
	return CreateQuotationRequest{
		ClientRef: "ACME-2026-001",
		Currency:  "EUR",
		Items: []ItemRequest{
			{Description: "widget", Quantity: dec("2"), UnitPrice: dec("100"), TaxRate: dec("10")},
		},
	}
}

func twoSteps() []approvals.StepSpec {
	return []approvals.StepSpec{
		{Index: 0, Roles: []string{"sales_manager"}},
		{Index: 1, Roles: []string{"finance"}},
	}
}

func (f *fixture) createDraft(t *testing.T) *Quotation {
	t.Helper()
	q, _, err := f.svc.Create(context.Background(), createReq(), creatorID)
	require.NoError(t, err)
	return q
}

func (f *fixture) toApproved(t *testing.T) *Quotation {
	t.Helper()
	ctx := context.Background()
	q := f.createDraft(t)
	q, _, err := f.svc.SubmitForApproval(ctx, q.ID, SubmitRequest{Version: q.Version, Steps: twoSteps()}, creatorID)
	require.NoError(t, err)
	_, _, err = f.svc.SubmitApprovalDecision(ctx, q.ID, DecisionRequest{StepIndex: 0, Decision: "APPROVED"}, salesManagerID)
	require.NoError(t, err)
	q2, _, err := f.svc.SubmitApprovalDecision(ctx, q.ID, DecisionRequest{StepIndex: 1, Decision: "APPROVED"}, financeID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, q2.Status)
	return q2
}

func (f *fixture) toSent(t *testing.T) *Quotation {
	t.Helper()
	q := f.toApproved(t)
	q, _, err := f.svc.Send(context.Background(), q.ID, SendRequest{Version: q.Version}, creatorID)
	require.NoError(t, err)
	return q
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateOpensDraftWithFirstRevision(t *testing.T) {
	f := newFixture(t)
	q, events, err := f.svc.Create(context.Background(), createReq(), creatorID)
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, q.Status)
	assert.Equal(t, 1, q.CurrentRevision)
	assert.NotEmpty(t, q.DocNumber)
	assert.Equal(t, "200", q.Totals.Subtotal.String())
	assert.Equal(t, "20", q.Totals.TaxAmount.String())
	assert.Equal(t, "220", q.Totals.GrandTotal.String())

	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].Type)

	revs, err := f.svc.GetRevisionHistory(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, 1, revs[0].Version)
}

func TestCreateRejectsUnknownCurrency(t *testing.T) {
	f := newFixture(t)
	req := createReq()
	req.Currency = "XQZ"
	_, _, err := f.svc.Create(context.Background(), req, creatorID)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateDraftItemsRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	q := f.createDraft(t)

	updated, events, err := f.svc.UpdateDraftItems(context.Background(), q.ID, UpdateItemsRequest{
		Version: q.Version,
		Items:   []ItemRequest{{Description: "widget", Quantity: dec("3"), UnitPrice: dec("50")}},
	}, creatorID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, "150", updated.Totals.GrandTotal.String())

	// Draft edits mutate the working copy without a new revision.
	revs, _ := f.svc.GetRevisionHistory(context.Background(), q.ID)
	assert.Len(t, revs, 1)
}

func TestUpdateItemsOutsideDraftFails(t *testing.T) {
	f := newFixture(t)
	q := f.toSent(t)

	_, _, err := f.svc.UpdateDraftItems(context.Background(), q.ID, UpdateItemsRequest{
		Version: q.Version,
		Items:   []ItemRequest{{Description: "widget", Quantity: dec("1"), UnitPrice: dec("1")}},
	}, creatorID)
	assert.ErrorIs(t, err, ErrInvalidStateForEdit)

	got, _ := f.svc.Get(context.Background(), q.ID)
	assert.Equal(t, StatusSent, got.Status, "state unchanged after failed edit")
}

func TestConcurrentDraftEditsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	q := f.createDraft(t)
	ctx := context.Background()

	req := UpdateItemsRequest{
		Version: q.Version,
		Items:   []ItemRequest{{Description: "widget", Quantity: dec("1"), UnitPrice: dec("5")}},
	}
	_, _, err := f.svc.UpdateDraftItems(ctx, q.ID, req, creatorID)
	require.NoError(t, err)

	// Second writer still holds the old version.
	_, _, err = f.svc.UpdateDraftItems(ctx, q.ID, req, creatorID)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
}

func TestSubmitForApprovalCreatesRevisionAndChain(t *testing.T) {
	f := newFixture(t)
	q := f.createDraft(t)

	// Drift the working copy so submission snapshots a second revision.
	q, _, err := f.svc.UpdateDraftItems(context.Background(), q.ID, UpdateItemsRequest{
		Version: q.Version,
		Items:   []ItemRequest{{Description: "widget", Quantity: dec("4"), UnitPrice: dec("25")}},
	}, creatorID)
	require.NoError(t, err)

	submitted, events, err := f.svc.SubmitForApproval(context.Background(), q.ID, SubmitRequest{Version: q.Version, Steps: twoSteps()}, creatorID)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingApproval, submitted.Status)
	assert.Equal(t, 2, submitted.CurrentRevision)
	require.NotNil(t, submitted.CurrentChainID)
	require.Len(t, events, 1)
	assert.Equal(t, EventSubmitted, events[0].Type)
}

func TestSubmitFromNonDraftFails(t *testing.T) {
	f := newFixture(t)
	q := f.toApproved(t)

	_, _, err := f.svc.SubmitForApproval(context.Background(), q.ID, SubmitRequest{Version: q.Version, Steps: twoSteps()}, creatorID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestChainRejectionReturnsQuotationToDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.createDraft(t)
	q, _, err := f.svc.SubmitForApproval(ctx, q.ID, SubmitRequest{Version: q.Version, Steps: twoSteps()}, creatorID)
	require.NoError(t, err)

	_, _, err = f.svc.SubmitApprovalDecision(ctx, q.ID, DecisionRequest{StepIndex: 0, Decision: "APPROVED"}, salesManagerID)
	require.NoError(t, err)

	rejected, events, err := f.svc.SubmitApprovalDecision(ctx, q.ID, DecisionRequest{StepIndex: 1, Decision: "REJECTED", Comment: "margin too thin"}, financeID)
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "margin too thin", *rejected.RejectionReason)
	require.Len(t, events, 1)
	assert.Equal(t, EventApprovalRejected, events[0].Type)
}

func TestDecisionByUnauthorizedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.createDraft(t)
	q, _, err := f.svc.SubmitForApproval(ctx, q.ID, SubmitRequest{Version: q.Version, Steps: twoSteps()}, creatorID)
	require.NoError(t, err)

	_, _, err = f.svc.SubmitApprovalDecision(ctx, q.ID, DecisionRequest{StepIndex: 0, Decision: "APPROVED"}, clientID)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestSendStampsDeadlineAndReusesRevision(t *testing.T) {
	f := newFixture(t)
	q := f.toApproved(t)
	ctx := context.Background()

	sent, events, err := f.svc.Send(ctx, q.ID, SendRequest{Version: q.Version}, creatorID)
	require.NoError(t, err)

	assert.Equal(t, StatusSent, sent.Status)
	require.NotNil(t, sent.ValidUntil)
	require.Len(t, events, 1)
	assert.Equal(t, EventSent, events[0].Type)

	// No edits happened since submission: the submit-time revision is
	// reused, not duplicated.
	revs, _ := f.svc.GetRevisionHistory(ctx, q.ID)
	assert.Len(t, revs, 1)
	assert.Equal(t, revs[len(revs)-1].Version, sent.CurrentRevision)
}

func TestClientViewIsIdempotent(t *testing.T) {
	f := newFixture(t)
	q := f.toSent(t)
	ctx := context.Background()

	viewed, events, err := f.svc.RecordClientView(ctx, q.ID, clientID)
	require.NoError(t, err)
	assert.Equal(t, StatusViewed, viewed.Status)
	require.Len(t, events, 1)

	again, events, err := f.svc.RecordClientView(ctx, q.ID, clientID)
	require.NoError(t, err)
	assert.Equal(t, StatusViewed, again.Status)
	assert.Empty(t, events, "repeat view emits nothing")
}

func TestAcceptFromViewed(t *testing.T) {
	f := newFixture(t)
	q := f.toSent(t)
	ctx := context.Background()

	viewed, _, err := f.svc.RecordClientView(ctx, q.ID, clientID)
	require.NoError(t, err)

	accepted, events, err := f.svc.Accept(ctx, q.ID, viewed.Version, clientID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	require.Len(t, events, 1)
	assert.Equal(t, EventAccepted, events[0].Type)
}

func TestRejectRecordsReason(t *testing.T) {
	f := newFixture(t)
	q := f.toSent(t)

	rejected, events, err := f.svc.Reject(context.Background(), q.ID, q.Version, "went with a competitor", clientID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "went with a competitor", *rejected.RejectionReason)
	require.Len(t, events, 1)
	assert.Equal(t, EventRejected, events[0].Type)
}

func TestUndefinedEdgeLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	q := f.createDraft(t)

	_, _, err := f.svc.Accept(context.Background(), q.ID, q.Version, clientID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := f.svc.Get(context.Background(), q.ID)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, q.Version, got.Version, "no version bump on refused transition")
}

func TestReopenAcceptedQuotation(t *testing.T) {
	f := newFixture(t)
	q := f.toSent(t)
	ctx := context.Background()

	accepted, _, err := f.svc.Accept(ctx, q.ID, q.Version, clientID)
	require.NoError(t, err)

	reopened, events, err := f.svc.Reopen(ctx, q.ID, accepted.Version, adminActor)
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, reopened.Status)
	assert.Nil(t, reopened.ValidUntil)
	require.Len(t, events, 1)
	assert.Equal(t, EventReopened, events[0].Type)

	revs, err := f.svc.GetRevisionHistory(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, revs, 2, "reopen forces a fresh revision")
	assert.Equal(t, "reopened", revs[len(revs)-1].ChangeSummary)
	assert.Equal(t, revs[len(revs)-1].Version, reopened.CurrentRevision)

	// Prior revision remains retrievable.
	prior, err := f.svc.GetRevision(ctx, q.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, prior.Version)
}

func TestReopenRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	q := f.toSent(t)
	ctx := context.Background()
	accepted, _, err := f.svc.Accept(ctx, q.ID, q.Version, clientID)
	require.NoError(t, err)

	_, _, err = f.svc.Reopen(ctx, q.ID, accepted.Version, shared.Actor{ID: clientID})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestArchivePreservesHistory(t *testing.T) {
	f := newFixture(t)
	q := f.createDraft(t)
	ctx := context.Background()

	archived, events, err := f.svc.Archive(ctx, q.ID, q.Version, adminActor)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)
	require.Len(t, events, 1)
	assert.Equal(t, EventArchived, events[0].Type)

	revs, err := f.svc.GetRevisionHistory(ctx, q.ID)
	require.NoError(t, err)
	assert.Len(t, revs, 1)

	// Archived quotations refuse further mutation.
	_, _, err = f.svc.UpdateDraftItems(ctx, q.ID, UpdateItemsRequest{
		Version: archived.Version,
		Items:   []ItemRequest{{Description: "x", Quantity: dec("1"), UnitPrice: dec("1")}},
	}, creatorID)
	assert.ErrorIs(t, err, revisions.ErrQuotationArchived)
}

func TestEvaluateExpired(t *testing.T) {
	f := newFixture(t)
	q := f.toSent(t)
	ctx := context.Background()

	// Not yet expired.
	events, err := f.svc.EvaluateExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	// Push the deadline into the past.
	past := time.Now().Add(-time.Hour)
	stored := f.repo.quotes[q.ID]
	stored.ValidUntil = &past
	f.repo.quotes[q.ID] = stored

	events, err = f.svc.EvaluateExpired(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventExpired, events[0].Type)

	got, _ := f.svc.Get(ctx, q.ID)
	assert.Equal(t, StatusExpired, got.Status)
}
