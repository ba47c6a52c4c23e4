package quotations

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quotient-erp/quotient/internal/approvals"
	"github.com/quotient-erp/quotient/internal/platform/httpx"
	"github.com/quotient-erp/quotient/internal/pricing"
	"github.com/quotient-erp/quotient/internal/revisions"
	"github.com/quotient-erp/quotient/internal/shared"
)

// Handler exposes the quotation lifecycle over HTTP.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	dispatcher Dispatcher
	validate   *validator.Validate
}

// NewHandler constructs a Handler. dispatcher may be nil, in which case
// emitted events are dropped after logging.
func NewHandler(logger *slog.Logger, service *Service, dispatcher Dispatcher) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		dispatcher: dispatcher,
		validate:   validator.New(),
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateQuotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.Create(r.Context(), req, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	req := ListRequest{}
	if status := r.URL.Query().Get("status"); status != "" {
		s := Status(status)
		req.Status = &s
	}
	if ref := r.URL.Query().Get("client_ref"); ref != "" {
		req.ClientRef = &ref
	}
	req.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	req.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	quotes, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotations": quotes,
		"pagination": shared.NewPagination(req.Page, req.PerPage, total),
	})
}

func (h *Handler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req UpdateItemsRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.UpdateDraftItems(r.Context(), id, req, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.SubmitForApproval(r.Context(), id, req, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.SubmitApprovalDecision(r.Context(), id, req, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.Send(r.Context(), id, req, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.RecordClientView(r.Context(), id, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req VersionedRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.Accept(r.Context(), id, req.Version, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.Reject(r.Context(), id, req.Version, req.Reason, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req VersionedRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.Archive(r.Context(), id, req.Version, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req VersionedRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	q, events, err := h.service.Reopen(r.Context(), id, req.Version, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.forward(r, events)
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Revisions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	revs, err := h.service.GetRevisionHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revisions": revs})
}

func (h *Handler) Revision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid revision version")
		return
	}
	rev, err := h.service.GetRevision(r.Context(), id, version)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rev)
}

func (h *Handler) quotationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// forward hands emitted domain events to the notification dispatcher.
// Dispatch failures are logged, never surfaced: the transition has already
// committed.
func (h *Handler) forward(r *http.Request, events []Event) {
	if len(events) == 0 {
		return
	}
	if h.dispatcher == nil {
		h.logger.Debug("no dispatcher configured, dropping events", slog.Int("count", len(events)))
		return
	}
	if err := h.dispatcher.Dispatch(r.Context(), events); err != nil {
		h.logger.Error("dispatch events", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidStateForEdit),
		errors.Is(err, revisions.ErrQuotationArchived),
		errors.Is(err, pricing.ErrDiscountExceedsSubtotal),
		errors.Is(err, approvals.ErrInvalidStepState):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid State", err.Error())
	case errors.Is(err, approvals.ErrStaleChain):
		httpx.Problem(w, http.StatusConflict, "Stale Chain", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
