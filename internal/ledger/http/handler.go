// Package ledgerhttp exposes the tenant ledger over JSON HTTP endpoints.
package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rentdesk/rentdesk/internal/auth"
	"github.com/rentdesk/rentdesk/internal/ledger"
	"github.com/rentdesk/rentdesk/internal/platform/httpx"
	"github.com/rentdesk/rentdesk/internal/shared"
)

// IdempotencyHeader carries the client's submission key for payments.
const IdempotencyHeader = "Idempotency-Key"

type ledgerService interface {
	ListActiveTenants(ctx context.Context) ([]ledger.Tenant, error)
	ListArchivedTenants(ctx context.Context) ([]ledger.Tenant, error)
	GetTenant(ctx context.Context, id int64) (ledger.TenantDetail, error)
	UpdateTenant(ctx context.Context, input ledger.UpdateTenantInput) (ledger.Tenant, error)
	MoveIn(ctx context.Context, input ledger.MoveInInput) (ledger.Tenancy, error)
	ReassignUnit(ctx context.Context, input ledger.ReassignInput) (ledger.Tenancy, error)
	MoveOut(ctx context.Context, input ledger.MoveOutInput) (ledger.Tenancy, error)

	ListPayments(ctx context.Context, filter ledger.PaymentFilter) ([]ledger.Payment, error)
	AddPayment(ctx context.Context, input ledger.AddPaymentInput) (ledger.PaymentResult, error)
	EditPayment(ctx context.Context, input ledger.EditPaymentInput) (ledger.EditResult, error)
	Receipt(ctx context.Context, paymentID int64) (ledger.Receipt, error)

	ListUnits(ctx context.Context, filter ledger.UnitFilter) ([]ledger.Unit, error)
	CreateUnit(ctx context.Context, input ledger.CreateUnitInput) (ledger.Unit, error)
	UpdateUnit(ctx context.Context, input ledger.UpdateUnitInput) (ledger.Unit, error)
	RetireUnit(ctx context.Context, id int64) (ledger.Unit, error)
	RestoreUnit(ctx context.Context, id int64) (ledger.Unit, error)

	Dashboard(ctx context.Context) (ledger.Dashboard, error)
	RunAccrualSweep(ctx context.Context, force bool) (ledger.SweepRun, error)
}

// ReceiptRenderer produces printable receipts.
type ReceiptRenderer interface {
	RenderReceipt(ctx context.Context, rec ledger.Receipt) ([]byte, error)
}

// Handler wires ledger endpoints. Authentication runs upstream; the handler
// only enforces roles.
type Handler struct {
	logger   *slog.Logger
	service  ledgerService
	receipts ReceiptRenderer
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// WithReceiptRenderer enables PDF receipts.
func (h *Handler) WithReceiptRenderer(renderer ReceiptRenderer) *Handler {
	h.receipts = renderer
	return h
}

// MountRoutes registers ledger routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	adminOnly := auth.RequireRole(shared.RoleAdmin)

	r.Get("/dashboard", h.dashboard)

	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", h.listTenants)
		r.Get("/archive", h.listArchivedTenants)
		r.Get("/{id}", h.getTenant)
		r.Patch("/{id}", h.updateTenant)
		r.Post("/{id}/reassign", h.reassignUnit)
		r.Post("/{id}/move-out", h.moveOut)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.listPayments)
		r.Post("/", h.addPayment)
		r.Put("/{id}", h.editPayment)
		r.Get("/{id}/receipt", h.receipt)
		r.Get("/{id}/receipt.pdf", h.receiptPDF)
	})

	r.Route("/units", func(r chi.Router) {
		r.Get("/", h.listUnits)
		r.Post("/{id}/move-in", h.moveIn)
		r.Group(func(r chi.Router) {
			r.Use(adminOnly)
			r.Post("/", h.createUnit)
			r.Put("/{id}", h.updateUnit)
			r.Post("/{id}/retire", h.retireUnit)
			r.Post("/{id}/restore", h.restoreUnit)
		})
	})

	r.With(adminOnly).Post("/sweeps", h.runSweep)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDashboard(d))
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.ListActiveTenants(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTenants(tenants))
}

func (h *Handler) listArchivedTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.ListArchivedTenants(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTenants(tenants))
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tenantDetailResponse{
		Tenant:   toTenant(detail.Tenant),
		Unit:     toUnit(detail.Unit),
		Payments: toPayments(detail.Payments),
	})
}

func (h *Handler) updateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateTenantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var p fieldParser
	input := ledger.UpdateTenantInput{
		TenantID:  id,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Balance:   p.optionalDecimal("balance", req.Balance),
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	tenant, err := h.service.UpdateTenant(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTenant(tenant))
}

func (h *Handler) reassignUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reassignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	tenancy, err := h.service.ReassignUnit(r.Context(), ledger.ReassignInput{TenantID: id, UnitID: req.UnitID})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTenancy(tenancy))
}

func (h *Handler) moveOut(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req moveOutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var p fieldParser
	input := ledger.MoveOutInput{
		TenantID:     id,
		MoveOutDate:  p.date("move_out_date", req.MoveOutDate),
		FinalBalance: p.optionalDecimal("final_balance", req.FinalBalance),
		Reason:       strings.TrimSpace(req.Reason),
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	tenancy, err := h.service.MoveOut(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTenancy(tenancy))
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var p fieldParser
	filter := ledger.PaymentFilter{
		Archived: q.Get("archived") == "true",
		From:     p.date("from", q.Get("from")),
	}
	if raw := q.Get("tenant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			p.fail("tenant_id", "must be a positive integer")
		}
		filter.TenantID = id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			p.fail("limit", "must be a positive integer")
		}
		filter.Limit = limit
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPayments(payments))
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	var req addPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var p fieldParser
	input := ledger.AddPaymentInput{
		TenantID:       req.TenantID,
		UnitID:         req.UnitID,
		Amount:         p.decimal("amount", req.Amount),
		PaidOn:         p.date("paid_on", req.PaidOn),
		ProofURL:       strings.TrimSpace(req.ProofURL),
		RecordedBy:     actorSubject(r),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.service.AddPayment(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResult(res))
}

func (h *Handler) editPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req editPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var p fieldParser
	input := ledger.EditPaymentInput{
		PaymentID: id,
		Amount:    p.decimal("amount", req.Amount),
		PaidOn:    p.date("paid_on", req.PaidOn),
		ProofURL:  strings.TrimSpace(req.ProofURL),
		EditedBy:  actorSubject(r),
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.service.EditPayment(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, editResultResponse{
		Payment: toPayment(res.Payment),
		Tenant:  toTenant(res.Tenant),
		Delta:   res.Delta.StringFixed(2),
	})
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Receipt(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) receiptPDF(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Receipts Unavailable", "pdf rendering is not configured")
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Receipt(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	pdf, err := h.receipts.RenderReceipt(r.Context(), rec)
	if err != nil {
		h.logger.Error("render receipt", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Render Failed", "receipt could not be rendered")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=receipt-%s.pdf", rec.Reference))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.ListUnits(r.Context(), ledger.UnitFilter{Status: ledger.UnitStatus(r.URL.Query().Get("status"))})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]unitResponse, 0, len(units))
	for _, u := range units {
		out = append(out, toUnit(u))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) moveIn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req moveInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var p fieldParser
	input := ledger.MoveInInput{
		UnitID:         id,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Email:          strings.TrimSpace(req.Email),
		Phone:          strings.TrimSpace(req.Phone),
		MoveInDate:     p.date("move_in_date", req.MoveInDate),
		InitialBalance: p.optionalDecimal("initial_balance", req.InitialBalance),
		CreatedBy:      actorSubject(r),
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	tenancy, err := h.service.MoveIn(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTenancy(tenancy))
}

func (h *Handler) createUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var p fieldParser
	input := ledger.CreateUnitInput{
		Number:      strings.TrimSpace(req.Number),
		Price:       p.decimal("price", req.Price),
		Description: strings.TrimSpace(req.Description),
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	unit, err := h.service.CreateUnit(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUnit(unit))
}

func (h *Handler) updateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req unitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var p fieldParser
	input := ledger.UpdateUnitInput{
		UnitID:      id,
		Number:      strings.TrimSpace(req.Number),
		Price:       p.decimal("price", req.Price),
		Description: strings.TrimSpace(req.Description),
	}
	if err := p.err(); err != nil {
		h.respondError(w, r, err)
		return
	}
	unit, err := h.service.UpdateUnit(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUnit(unit))
}

func (h *Handler) retireUnit(w http.ResponseWriter, r *http.Request) {
	h.unitAvailability(w, r, h.service.RetireUnit)
}

func (h *Handler) restoreUnit(w http.ResponseWriter, r *http.Request) {
	h.unitAvailability(w, r, h.service.RestoreUnit)
}

func (h *Handler) unitAvailability(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64) (ledger.Unit, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	unit, err := apply(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUnit(unit))
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	run, err := h.service.RunAccrualSweep(r.Context(), force)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if len(run.Result.Failures) > 0 {
		status = http.StatusMultiStatus
		h.logger.Warn("accrual sweep partially applied",
			slog.Int("charged", run.Result.Charged),
			slog.Int("failed", len(run.Result.Failures)))
	}
	httpx.JSON(w, status, toSweep(run))
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func actorSubject(r *http.Request) string {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return actor.Subject
	}
	return ""
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var fields httpx.FieldErrors
	switch {
	case errors.As(err, &fields):
		httpx.RespondError(w, err)
	case errors.Is(err, ledger.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrDuplicateSubmission):
		httpx.Problem(w, http.StatusConflict, "Duplicate Submission", err.Error())
	case errors.Is(err, ledger.ErrConflict),
		errors.Is(err, ledger.ErrTenantInactive),
		errors.Is(err, ledger.ErrUnitNotAvailable),
		errors.Is(err, ledger.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, httpx.ErrValidation), errors.Is(err, ledger.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("ledger request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
