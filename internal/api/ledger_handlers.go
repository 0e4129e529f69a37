package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/artisan/internal/middleware"
	"github.com/onnwee/artisan/internal/trust"
	"github.com/onnwee/artisan/internal/validate"
)

// LedgerHandlers serves the write side of the reputation ledger.
type LedgerHandlers struct {
	ledger trust.Ledger
	logger *slog.Logger
}

// NewLedgerHandlers creates a new LedgerHandlers instance.
func NewLedgerHandlers(ledger trust.Ledger, logger *slog.Logger) *LedgerHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerHandlers{ledger: ledger, logger: logger}
}

// EdgeResponse is returned after a fulfillment or endorsement.
// Recorded is false when reputation edges are switched off.
type EdgeResponse struct {
	SellerID string         `json:"sellerId"`
	FromID   string         `json:"fromId"`
	Kind     trust.EdgeKind `json:"kind"`
	Recorded bool           `json:"recorded"`
}

// CreateDisputeRequest is the body of POST /v1/sellers/{id}/disputes.
type CreateDisputeRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// RecordFulfillment handles POST /v1/sellers/{id}/fulfillments.
// The authenticated user is the buyer confirming delivery.
func (h *LedgerHandlers) RecordFulfillment(w http.ResponseWriter, r *http.Request) {
	h.recordEdge(w, r, trust.EdgeOrderFulfilled)
}

// RecordEndorsement handles POST /v1/sellers/{id}/endorsements.
func (h *LedgerHandlers) RecordEndorsement(w http.ResponseWriter, r *http.Request) {
	h.recordEdge(w, r, trust.EdgeEndorsement)
}

func (h *LedgerHandlers) recordEdge(w http.ResponseWriter, r *http.Request, kind trust.EdgeKind) {
	ctx := r.Context()
	sellerID, ok := pathID(w, r)
	if !ok {
		return
	}
	fromID := middleware.GetUserID(ctx)

	var err error
	switch kind {
	case trust.EdgeOrderFulfilled:
		err = h.ledger.RecordFulfillment(ctx, fromID, sellerID)
	default:
		err = h.ledger.RecordEndorsement(ctx, fromID, sellerID)
	}
	if err != nil {
		h.writeLedgerError(w, r, err, "Failed to record reputation edge")
		return
	}

	writeJSON(w, r, http.StatusAccepted, EdgeResponse{
		SellerID: sellerID,
		FromID:   fromID,
		Kind:     kind,
		Recorded: h.ledger.Enabled(),
	})
}

// RecordDispute handles POST /v1/sellers/{id}/disputes.
func (h *LedgerHandlers) RecordDispute(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CreateDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	orderID, err := validate.EntityID(req.OrderID)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "orderId: "+err.Error())
		return
	}
	reason, err := validate.DisputeReason(req.Reason)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "reason: "+err.Error())
		return
	}

	d, err := h.ledger.RecordDispute(r.Context(), sellerID, orderID, reason)
	if err != nil {
		h.writeLedgerError(w, r, err, "Failed to record dispute")
		return
	}

	h.logger.InfoContext(r.Context(), "dispute recorded",
		"dispute_id", d.ID,
		"seller_id", sellerID,
		"order_id", orderID,
		"filed_by", middleware.GetUserID(r.Context()))
	writeJSON(w, r, http.StatusCreated, d)
}

// ResolveDispute handles POST /v1/disputes/{id}/resolve. Admin only.
func (h *LedgerHandlers) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.ledger.ResolveDispute(r.Context(), disputeID)
	if err != nil {
		h.writeLedgerError(w, r, err, "Failed to resolve dispute")
		return
	}

	h.logger.InfoContext(r.Context(), "dispute resolved",
		"dispute_id", d.ID,
		"seller_id", d.SellerID,
		"resolved_by", middleware.GetUserID(r.Context()))
	writeJSON(w, r, http.StatusOK, d)
}

// writeLedgerError maps ledger sentinel errors onto the error envelope.
func (h *LedgerHandlers) writeLedgerError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, trust.ErrSelfEdge):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeSelfEdge, "Sellers cannot record reputation for themselves")
	case errors.Is(err, trust.ErrEmptyUserID), errors.Is(err, trust.ErrInvalidEdgeKind):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, trust.ErrDisputeNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Dispute not found")
	case errors.Is(err, trust.ErrOrderNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Order not found for seller")
	case errors.Is(err, trust.ErrDisputeResolved):
		WriteError(w, ctx, http.StatusConflict, ErrCodeDisputeResolved, "Dispute already resolved")
	default:
		h.logger.ErrorContext(ctx, "ledger write failed", "error", err, "path", r.URL.Path)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, fallback)
	}
}

// pathID validates the {id} path value, writing a 400 when it is invalid.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := validate.EntityID(r.PathValue("id"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid id: "+err.Error())
		return "", false
	}
	return id, true
}
