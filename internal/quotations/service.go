package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/text/currency"

	"github.com/quotient-erp/quotient/internal/approvals"
	"github.com/quotient-erp/quotient/internal/pricing"
	"github.com/quotient-erp/quotient/internal/revisions"
	"github.com/quotient-erp/quotient/internal/shared"
)

// Config carries service-level settings.
type Config struct {
	// DefaultValidity is the validity window applied at send time when the
	// request does not provide a deadline.
	DefaultValidity time.Duration
}

// Service orchestrates the quotation lifecycle. Every mutating operation is
// a single commit point: totals are recomputed, the revision manager is
// consulted, and status plus revision/chain pointers are persisted
// atomically under the quotation's optimistic version. Domain events are
// returned to the caller, never dispatched from here.
type Service struct {
	repo   Repository
	revs   *revisions.Manager
	chains *approvals.Service
	audit  *shared.AuditLogger
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, revs *revisions.Manager, chains *approvals.Service, audit *shared.AuditLogger, logger *slog.Logger, cfg Config) *Service {
	if cfg.DefaultValidity <= 0 {
		cfg.DefaultValidity = 30 * 24 * time.Hour
	}
	return &Service{
		repo:   repo,
		revs:   revs,
		chains: chains,
		audit:  audit,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Create opens a new quotation in Draft together with its first revision.
func (s *Service) Create(ctx context.Context, req CreateQuotationRequest, actorID int64) (*Quotation, []Event, error) {
	if _, err := currency.ParseISO(req.Currency); err != nil {
		return nil, nil, fmt.Errorf("%w: unknown currency %q", shared.ErrValidation, req.Currency)
	}
	items := toLineItems(req.Items)
	totals, err := pricing.DocumentTotals(items, req.DocDiscount, req.DocTaxRate)
	if err != nil {
		return nil, nil, err
	}

	q := Quotation{
		ClientRef:       req.ClientRef,
		Currency:        req.Currency,
		Status:          StatusDraft,
		Items:           items,
		DocDiscount:     req.DocDiscount,
		DocTaxRate:      req.DocTaxRate,
		Totals:          totals,
		CurrentRevision: 1,
		CreatedBy:       actorID,
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		number, err := s.repo.GenerateNumber(ctx, s.now())
		if err != nil {
			return fmt.Errorf("generate doc number: %w", err)
		}
		q.DocNumber = number

		id, err := s.repo.Create(ctx, q)
		if err != nil {
			return err
		}
		q.ID = id

		if _, _, err := s.revs.Create(ctx, q.RevisionTarget(), q.Snapshot(), "created", actorID); err != nil {
			return err
		}
		return s.recordAudit(ctx, actorID, "quotation.create", q.ID, nil)
	})
	if err != nil {
		return nil, nil, err
	}

	created, err := s.repo.Get(ctx, q.ID)
	if err != nil {
		return nil, nil, err
	}
	return created, []Event{newEvent(created, actorID, s.now(), EventCreated, nil)}, nil
}

// UpdateDraftItems replaces the working copy's items and document-level
// rules. Edits are permitted only in Draft and do not create a revision; the
// working copy is snapshotted on the next committing transition.
func (s *Service) UpdateDraftItems(ctx context.Context, id int64, req UpdateItemsRequest, actorID int64) (*Quotation, []Event, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if q.Status != StatusDraft {
		if q.Status == StatusArchived {
			return nil, nil, revisions.ErrQuotationArchived
		}
		return nil, nil, fmt.Errorf("%w: status is %s", ErrInvalidStateForEdit, q.Status)
	}

	items := toLineItems(req.Items)
	totals, err := pricing.DocumentTotals(items, req.DocDiscount, req.DocTaxRate)
	if err != nil {
		return nil, nil, err
	}
	q.Items = items
	q.DocDiscount = req.DocDiscount
	q.DocTaxRate = req.DocTaxRate
	q.Totals = totals

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateState(ctx, *q, req.Version); err != nil {
			return err
		}
		return s.recordAudit(ctx, actorID, "quotation.update_items", q.ID, nil)
	})
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	// no events: draft edits are not client-visible
	return updated, nil, nil
}

// SubmitForApproval snapshots the working copy, supersedes any pending
// chain, creates a fresh chain against the new revision and moves the
// quotation to PendingApproval.
func (s *Service) SubmitForApproval(ctx context.Context, id int64, req SubmitRequest, actorID int64) (*Quotation, []Event, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	next, err := nextStatus(q.Status, triggerSubmit)
	if err != nil {
		return nil, nil, err
	}
	if len(q.Items) == 0 {
		return nil, nil, fmt.Errorf("%w: quotation has no items", shared.ErrValidation)
	}
	totals, err := pricing.DocumentTotals(q.Items, q.DocDiscount, q.DocTaxRate)
	if err != nil {
		return nil, nil, err
	}
	q.Totals = totals

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		rev, _, err := s.revs.Create(ctx, q.RevisionTarget(), q.Snapshot(), "submitted for approval", actorID)
		if err != nil {
			return err
		}
		if q.CurrentChainID != nil {
			if err := s.chains.Supersede(ctx, *q.CurrentChainID); err != nil {
				return err
			}
		}
		chain, err := s.chains.CreateChain(ctx, q.ID, rev.Version, req.Steps)
		if err != nil {
			return err
		}

		q.Status = next
		q.CurrentRevision = rev.Version
		q.CurrentChainID = &chain.ID
		q.RejectionReason = nil
		if err := s.repo.UpdateState(ctx, *q, req.Version); err != nil {
			return err
		}
		return s.recordAudit(ctx, actorID, "quotation.submit", q.ID, map[string]any{"revision": rev.Version})
	})
	if err != nil {
		return nil, nil, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, []Event{newEvent(updated, actorID, s.now(), EventSubmitted, nil)}, nil
}

// SubmitApprovalDecision records one approver's decision on the current
// chain. When the decision completes the chain, the quotation transitions in
// the same commit: Approved on chain approval, back to Draft with the
// rejecting step's comment on rejection.
func (s *Service) SubmitApprovalDecision(ctx context.Context, id int64, req DecisionRequest, actorID int64) (*Quotation, []Event, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if q.Status != StatusPendingApproval || q.CurrentChainID == nil {
		return nil, nil, fmt.Errorf("%w: quotation is not awaiting approval (status %s)", ErrInvalidTransition, q.Status)
	}

	var events []Event
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		_, outcome, err := s.chains.SubmitDecision(ctx, *q.CurrentChainID, req.StepIndex, actorID, approvals.Decision(req.Decision), req.Comment)
		if err != nil {
			return err
		}
		if !outcome.Terminal() {
			return s.recordAudit(ctx, actorID, "quotation.decision", q.ID, map[string]any{"decision": req.Decision, "step": req.StepIndex})
		}

		var trig trigger
		var eventType EventType
		var meta map[string]any
		if outcome.Verdict == approvals.VerdictApproved {
			trig, eventType = triggerChainApproved, EventApproved
		} else {
			trig, eventType = triggerChainRejected, EventApprovalRejected
			q.RejectionReason = &outcome.RejectionComment
			meta = map[string]any{"reason": outcome.RejectionComment}
		}
		next, err := nextStatus(q.Status, trig)
		if err != nil {
			return err
		}
		q.Status = next
		if err := s.repo.UpdateState(ctx, *q, q.Version); err != nil {
			return err
		}
		events = append(events, newEvent(q, actorID, s.now(), eventType, meta))
		return s.recordAudit(ctx, actorID, "quotation.decision", q.ID, map[string]any{"decision": req.Decision, "step": req.StepIndex, "verdict": string(outcome.Verdict)})
	})
	if err != nil {
		return nil, nil, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, events, nil
}

// Send moves an approved quotation to Sent, stamping the validity deadline
// and snapshotting a revision if the working copy drifted. Sending twice
// with no intervening edits reuses the existing revision.
func (s *Service) Send(ctx context.Context, id int64, req SendRequest, actorID int64) (*Quotation, []Event, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	next, err := nextStatus(q.Status, triggerSend)
	if err != nil {
		return nil, nil, err
	}

	validUntil := s.now().Add(s.cfg.DefaultValidity)
	if req.ValidUntil != nil {
		if req.ValidUntil.Before(s.now()) {
			return nil, nil, fmt.Errorf("%w: valid_until is in the past", shared.ErrValidation)
		}
		validUntil = *req.ValidUntil
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		rev, _, err := s.revs.Create(ctx, q.RevisionTarget(), q.Snapshot(), "sent to client", actorID)
		if err != nil {
			return err
		}
		q.Status = next
		q.CurrentRevision = rev.Version
		q.ValidUntil = &validUntil
		if err := s.repo.UpdateState(ctx, *q, req.Version); err != nil {
			return err
		}
		return s.recordAudit(ctx, actorID, "quotation.send", q.ID, map[string]any{"valid_until": validUntil})
	})
	if err != nil {
		return nil, nil, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	meta := map[string]any{"doc_number": updated.DocNumber, "valid_until": validUntil.Format(time.RFC3339)}
	return updated, []Event{newEvent(updated, actorID, s.now(), EventSent, meta)}, nil
}

// RecordClientView marks a sent quotation as viewed. Viewing an already
// viewed quotation is a no-op.
func (s *Service) RecordClientView(ctx context.Context, id int64, actorID int64) (*Quotation, []Event, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if q.Status == StatusViewed {
		return q, nil, nil
	}
	next, err := nextStatus(q.Status, triggerClientView)
	if err != nil {
		return nil, nil, err
	}
	q.Status = next

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateState(ctx, *q, q.Version); err != nil {
			return err
		}
		return s.recordAudit(ctx, actorID, "quotation.view", q.ID, nil)
	})
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, []Event{newEvent(updated, actorID, s.now(), EventViewed, nil)}, nil
}

// Accept marks the quotation accepted by the client. Terminal.
func (s *Service) Accept(ctx context.Context, id int64, expectedVersion int64, actorID int64) (*Quotation, []Event, error) {
	return s.simpleTransition(ctx, id, expectedVersion, actorID, triggerAccept, EventAccepted, "quotation.accept", nil)
}

// Reject marks the quotation rejected by the client with a reason. Terminal.
func (s *Service) Reject(ctx context.Context, id int64, expectedVersion int64, reason string, actorID int64) (*Quotation, []Event, error) {
	mutate := func(q *Quotation) {
		q.RejectionReason = &reason
	}
	return s.simpleTransition(ctx, id, expectedVersion, actorID, triggerReject, EventRejected, "quotation.reject", mutate)
}

// Archive removes a non-terminal quotation from circulation while keeping
// every revision and chain for audit. Administrative.
func (s *Service) Archive(ctx context.Context, id int64, expectedVersion int64, actor shared.Actor) (*Quotation, []Event, error) {
	if !actor.Admin {
		return nil, nil, fmt.Errorf("%w: archive requires an administrator", shared.ErrUnauthorized)
	}
	return s.simpleTransition(ctx, id, expectedVersion, actor.ID, triggerArchive, EventArchived, "quotation.archive", nil)
}

// Reopen returns a concluded quotation to Draft under administrative
// override, recording a fresh "reopened" revision so that the override
// itself is part of the audit trail. Prior revisions stay retrievable.
func (s *Service) Reopen(ctx context.Context, id int64, expectedVersion int64, actor shared.Actor) (*Quotation, []Event, error) {
	if !actor.Admin {
		return nil, nil, fmt.Errorf("%w: reopen requires an administrator", shared.ErrUnauthorized)
	}
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	next, err := nextStatus(q.Status, triggerReopen)
	if err != nil {
		return nil, nil, err
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		rev, err := s.revs.ForceCreate(ctx, q.RevisionTarget(), q.Snapshot(), "reopened", actor.ID)
		if err != nil {
			return err
		}
		if q.CurrentChainID != nil {
			if err := s.chains.Supersede(ctx, *q.CurrentChainID); err != nil {
				return err
			}
		}
		q.Status = next
		q.CurrentRevision = rev.Version
		q.ValidUntil = nil
		q.RejectionReason = nil
		if err := s.repo.UpdateState(ctx, *q, expectedVersion); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor.ID, "quotation.reopen", q.ID, map[string]any{"revision": rev.Version})
	})
	if err != nil {
		return nil, nil, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, []Event{newEvent(updated, actor.ID, s.now(), EventReopened, nil)}, nil
}

// EvaluateExpired transitions quotations whose validity deadline has passed
// to Expired. Driven by the external scheduler; a quotation that loses its
// version race here is picked up by the next sweep.
func (s *Service) EvaluateExpired(ctx context.Context) ([]Event, error) {
	ids, err := s.repo.ListExpirable(ctx, s.now())
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, id := range ids {
		q, err := s.repo.Get(ctx, id)
		if err != nil {
			s.logger.Warn("expiry sweep: load failed", slog.Int64("quotation_id", id), slog.Any("error", err))
			continue
		}
		next, err := nextStatus(q.Status, triggerExpire)
		if err != nil {
			continue
		}
		q.Status = next
		err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.repo.UpdateState(ctx, *q, q.Version); err != nil {
				return err
			}
			return s.recordAudit(ctx, 0, "quotation.expire", q.ID, nil)
		})
		if err != nil {
			s.logger.Warn("expiry sweep: transition failed", slog.Int64("quotation_id", id), slog.Any("error", err))
			continue
		}
		events = append(events, newEvent(q, 0, s.now(), EventExpired, nil))
	}
	return events, nil
}

// Get loads one quotation.
func (s *Service) Get(ctx context.Context, id int64) (*Quotation, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of quotations.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Quotation, int, error) {
	return s.repo.List(ctx, req)
}

// GetRevisionHistory returns every revision of a quotation in version order.
func (s *Service) GetRevisionHistory(ctx context.Context, id int64) ([]revisions.Revision, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.revs.List(ctx, id)
}

// GetRevision returns one historical revision.
func (s *Service) GetRevision(ctx context.Context, id int64, version int) (*revisions.Revision, error) {
	return s.revs.Get(ctx, id, version)
}

// simpleTransition drives a pointer-preserving status change.
func (s *Service) simpleTransition(ctx context.Context, id, expectedVersion, actorID int64, trig trigger, eventType EventType, auditAction string, mutate func(*Quotation)) (*Quotation, []Event, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	next, err := nextStatus(q.Status, trig)
	if err != nil {
		return nil, nil, err
	}
	q.Status = next
	if mutate != nil {
		mutate(q)
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateState(ctx, *q, expectedVersion); err != nil {
			return err
		}
		return s.recordAudit(ctx, actorID, auditAction, q.ID, nil)
	})
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, []Event{newEvent(updated, actorID, s.now(), eventType, nil)}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, quotationID int64, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "quotation",
		EntityID: strconv.FormatInt(quotationID, 10),
		Meta:     meta,
	})
}

func toLineItems(items []ItemRequest) []pricing.LineItem {
	out := make([]pricing.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, pricing.LineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TaxRate:     item.TaxRate,
			Discount:    item.Discount,
		})
	}
	return out
}
